// Package heartbeat probes gateway liveness.
//
// The Prober:
//   - Sends reqCurrentTime on a fixed interval while connected
//   - Binds the currentTime push event to record replies
//   - Reports a probe that goes unanswered past its timeout as stale
//
// TCP keepalive does not notice a gateway that accepts frames but has
// stopped answering; the probe does.
package heartbeat
