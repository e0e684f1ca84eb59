// Package metrics provides Prometheus metrics for a gateway session.
//
// Key metrics:
//   - Connection state and connect attempts
//   - Inbound message and dispatch outcome counts
//   - Handler latency and pending request gauge
//   - Outbound send counts
//
// A nil *Collector is a valid no-op receiver, so components never need to
// nil-check before recording.
package metrics
