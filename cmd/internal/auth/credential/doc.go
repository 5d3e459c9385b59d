// Package credential holds the client's short-lived access credential.
//
// The access token is opaque: it is attached to requests and never parsed.
// Alongside it the store keeps a refresh-capability marker. The long-lived
// refresh secret itself is delivered by the server as an HttpOnly cookie and
// is never part of this state.
//
// Reads are served from memory. Writes go through to an optional durable
// Backend; backend failures are logged and the Keeper keeps working from
// memory so a broken disk or cache never breaks the session.
package credential
