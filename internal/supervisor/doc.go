// Package supervisor reconnects a session that dropped on its own.
//
// The session core never reconnects by itself. A Supervisor watches for
// read loop faults, reconnects with exponential backoff and then runs the
// caller's OnReconnect hooks so subscriptions can be re-issued.
package supervisor
