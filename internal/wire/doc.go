// Package wire implements the gateway's framing, handshake and inbound
// message decoding.
//
// Every message on the stream is a frame: a 4-byte big-endian payload
// length followed by the payload. A payload is a sequence of
// NUL-terminated ASCII fields whose first field is the numeric message id.
//
// The decoder turns payloads into callback.Message values using a Table
// that maps message ids to event names, the index of the request id field
// for request-scoped messages, and whether the message ends its request.
package wire
