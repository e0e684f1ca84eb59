// Package connection implements the session's connection lifecycle.
//
// The Manager:
//   - Dials the gateway through a transport.Dialer and runs the handshake
//   - Moves through Disconnected, Connecting, Connected and Closing
//   - Runs the single inbound read loop and hands decoded messages to the
//     dispatcher
//   - Serializes outbound frames
//   - Notifies pending requests when the session ends
//
// Reconnection is not automatic; see the supervisor package.
package connection
