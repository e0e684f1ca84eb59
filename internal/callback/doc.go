// Package callback holds the handler bindings for a gateway session.
//
// Inbound events are keyed either by a named push-event kind ("tickPrice",
// "error", "managedAccounts") or by the numeric request id that solicited
// them. The Registry maps keys to caller-supplied handlers and tracks
// in-flight requests that still expect a terminal "end" event.
package callback
