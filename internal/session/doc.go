// Package session is the caller-facing gateway session.
//
// A Session composes a request id allocator, a callback registry, a
// dispatcher and a connection manager. It knows nothing about payload
// shapes: callers build field lists and parse the fields handed to their
// handlers.
package session
