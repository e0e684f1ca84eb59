package wire

import (
	"errors"
	"testing"

	"github.com/rickgao/gwsession/internal/callback"
)

func TestTableDecoderDecode(t *testing.T) {
	dec := NewDecoder(nil)

	tests := []struct {
		name     string
		fields   []string
		wantKey  callback.Key
		wantName string
		wantEnd  bool
	}{
		{
			name:     "push event",
			fields:   []string{"9", "1", "100"},
			wantKey:  callback.EventKey("nextValidId"),
			wantName: "nextValidId",
		},
		{
			name:     "request scoped",
			fields:   []string{"63", "1", "5", "DU123", "NetLiquidation", "1000", "USD"},
			wantKey:  callback.RequestKey(5),
			wantName: "accountSummary",
		},
		{
			name:     "end marker",
			fields:   []string{"64", "1", "5"},
			wantKey:  callback.RequestKey(5),
			wantName: "accountSummaryEnd",
			wantEnd:  true,
		},
		{
			name:     "error for request",
			fields:   []string{"4", "2", "7", "200", "No security definition"},
			wantKey:  callback.RequestKey(7),
			wantName: "error",
		},
		{
			name:     "broadcast error",
			fields:   []string{"4", "2", "-1", "2104", "Market data farm connection is OK"},
			wantKey:  callback.EventKey("error"),
			wantName: "error",
		},
		{
			name:     "unknown id",
			fields:   []string{"999", "x"},
			wantKey:  callback.EventKey("msg_999"),
			wantName: "msg_999",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := dec.Decode(EncodeFields(tt.fields...))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if msg.Key != tt.wantKey {
				t.Errorf("Key = %v, want %v", msg.Key, tt.wantKey)
			}
			if msg.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", msg.Name, tt.wantName)
			}
			if msg.End != tt.wantEnd {
				t.Errorf("End = %v, want %v", msg.End, tt.wantEnd)
			}
			if len(msg.Fields) != len(tt.fields) {
				t.Errorf("len(Fields) = %d, want %d", len(msg.Fields), len(tt.fields))
			}
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt is zero")
			}
		})
	}
}

func TestTableDecoderMalformed(t *testing.T) {
	dec := NewDecoder(nil)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"non numeric id", EncodeFields("abc")},
		{"missing req id", EncodeFields("64", "1")},
		{"bad req id", EncodeFields("64", "1", "five")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dec.Decode(tt.payload); !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestCustomTable(t *testing.T) {
	dec := NewDecoder(Table{
		500: {Name: "custom", ReqIDField: 1, End: true},
	})

	msg, err := dec.Decode(EncodeFields("500", "33"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Key != callback.RequestKey(33) || !msg.End {
		t.Errorf("Decode() = %v end=%v, want req:33 end=true", msg.Key, msg.End)
	}

	// Ids outside a custom table are not routed by the default one.
	msg, err = dec.Decode(EncodeFields("9", "1", "1"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Name != "msg_9" {
		t.Errorf("Name = %q, want msg_9", msg.Name)
	}
}
