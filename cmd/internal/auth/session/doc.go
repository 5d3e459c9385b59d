// Package session is the client half of the session architecture.
//
// An APIClient talks to the auth endpoints (create, refresh, destroy, me)
// and owns the cookie jar that carries the HttpOnly refresh cookie. The
// Coordinator collapses concurrent refresh triggers into one network call.
// The Gateway is an http.RoundTripper that attaches the bearer credential
// and replays a request exactly once after a successful refresh. The
// Manager restores a stored session on start and owns the logout path.
//
// Access tokens are opaque here; expiry is enforced by the server and
// observed only through 401 responses.
package session
