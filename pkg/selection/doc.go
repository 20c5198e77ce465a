// Package selection stores the sessions that tie a presented candidate
// list to the document it will be linked with.
//
// A session is keyed by the id of the list message. Take is an atomic
// read-and-delete: when two replies race for the same list, exactly one
// receives the session and the other sees ErrSessionNotFound.
//
// Sessions are never expired automatically; orphans stay until resolved
// or removed with `docrelay sessions delete`.
package selection
