// Package devserver is a self-contained development backend for arclink.
//
// It serves the auth endpoints the client consumes (create, refresh,
// logout, current user), a small protected chat resource, and the chat
// channel at /ws/chat/{chat_id}/. Access credentials are PASETO v4.public
// tokens with a short lifetime; refresh tokens are opaque, rotated on
// use and travel only in an HttpOnly cookie. All state is in memory.
package devserver
