// Package transport opens the byte stream a session runs over.
//
// A Dialer returns a net.Conn to the gateway. TCPDialer connects
// directly, SSHDialer forwards through an SSH bastion, and
// WebSocketDialer reaches a gateway exposed behind a WebSocket bridge
// that carries the framed stream in binary messages.
package transport
