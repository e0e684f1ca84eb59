package wire

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rickgao/gwsession/internal/callback"
)

// Decoder turns a frame payload into a dispatchable message.
type Decoder interface {
	Decode(payload []byte) (callback.Message, error)
}

// Route describes how one inbound message id is keyed.
type Route struct {
	// Name is the event name handlers register for push messages.
	Name string

	// ReqIDField is the field index holding the request id. Zero means
	// the message is a push event.
	ReqIDField int

	// End marks the message as the last one for its request id.
	End bool

	// PushIfNoID keys the message as a push event when the request id is
	// not positive.
	PushIfNoID bool
}

// Table maps message ids to routes.
type Table map[int]Route

// TableDecoder decodes payloads using a Table.
type TableDecoder struct {
	table Table
	now   func() time.Time
}

// NewDecoder returns a decoder over table. A nil table uses DefaultTable.
func NewDecoder(table Table) *TableDecoder {
	if table == nil {
		table = DefaultTable()
	}
	return &TableDecoder{table: table, now: time.Now}
}

// Decode keys the payload by its route. Message.Fields holds every field,
// including the message id at index 0.
func (d *TableDecoder) Decode(payload []byte) (callback.Message, error) {
	fields := Split(payload)
	if len(fields) == 0 {
		return callback.Message{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return callback.Message{}, fmt.Errorf("%w: message id %q", ErrMalformed, fields[0])
	}

	msg := callback.Message{
		Fields:     fields,
		ReceivedAt: d.now(),
	}

	route, ok := d.table[id]
	if !ok {
		msg.Name = "msg_" + fields[0]
		msg.Key = callback.EventKey(msg.Name)
		return msg, nil
	}
	msg.Name = route.Name

	if route.ReqIDField == 0 {
		msg.Key = callback.EventKey(route.Name)
		return msg, nil
	}

	if route.ReqIDField >= len(fields) {
		return callback.Message{}, fmt.Errorf("%w: %s missing request id field %d", ErrMalformed, route.Name, route.ReqIDField)
	}
	reqID, err := strconv.ParseInt(fields[route.ReqIDField], 10, 64)
	if err != nil {
		return callback.Message{}, fmt.Errorf("%w: %s request id %q", ErrMalformed, route.Name, fields[route.ReqIDField])
	}

	if reqID <= 0 && route.PushIfNoID {
		msg.Key = callback.EventKey(route.Name)
		return msg, nil
	}

	msg.Key = callback.RequestKey(reqID)
	msg.End = route.End
	return msg, nil
}
