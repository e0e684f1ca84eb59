// Package dispatch delivers decoded inbound events to registered handlers.
//
// The dispatcher looks up the handler for each event's key, invokes it
// with panics and errors contained, and completes pending requests when
// their terminal event passes through. Events for the same key are always
// delivered in arrival order. With Workers > 0, events are sharded by key
// onto FIFO queues so unrelated keys can be handled in parallel.
package dispatch
