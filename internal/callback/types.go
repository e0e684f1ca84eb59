package callback

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrSessionTerminated is delivered to pending request handlers when the
// session ends before their terminal event arrives.
var ErrSessionTerminated = errors.New("session terminated")

// Key identifies a binding. Exactly one of Event or ReqID is meaningful:
// request keys have an empty Event.
type Key struct {
	Event string
	ReqID int64
}

// EventKey returns the key for a named push event.
func EventKey(name string) Key {
	return Key{Event: name}
}

// RequestKey returns the key for events answering request id.
func RequestKey(id int64) Key {
	return Key{ReqID: id}
}

// IsRequest reports whether k is a request-id key.
func (k Key) IsRequest() bool {
	return k.Event == ""
}

// String returns "event:<name>" or "req:<id>".
func (k Key) String() string {
	if k.IsRequest() {
		return "req:" + strconv.FormatInt(k.ReqID, 10)
	}
	return "event:" + k.Event
}

// Message is one decoded inbound event.
type Message struct {
	Key        Key
	Name       string   // message kind, e.g. "accountSummary"
	Fields     []string // raw protocol fields, including the message id
	End        bool     // terminal event for a request id
	Err        error    // set on synthetic terminal notifications
	ReceivedAt time.Time
}

// Handler is invoked by the dispatcher for a matching inbound event.
// Handlers run on the session's dispatch goroutine and should not block;
// long work belongs on the handler's own goroutine.
type Handler func(ctx context.Context, msg Message) error

// Pending is an in-flight request awaiting its terminal event.
type Pending struct {
	ID       int64
	Handler  Handler
	IssuedAt time.Time
}
