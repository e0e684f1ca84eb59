// Package reqid issues request identifiers for a gateway session.
//
// Identifiers correlate an outbound request with the inbound events that
// answer it. Within one session an identifier is never handed out twice:
// the counter only moves forward, and it refuses to wrap on overflow.
package reqid
