package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestClientHello(t *testing.T) {
	got := ClientHello(MinClientVersion, MaxClientVersion, "")

	if !bytes.HasPrefix(got, []byte("API\x00")) {
		t.Fatalf("ClientHello() = %q, missing API prefix", got)
	}

	payload, err := ReadFrame(bytes.NewReader(got[4:]), 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(payload) != "v100..187" {
		t.Errorf("version payload = %q, want %q", payload, "v100..187")
	}
}

func TestClientHelloOptions(t *testing.T) {
	got := ClientHello(100, 150, "+PACEAPI")
	payload, err := ReadFrame(bytes.NewReader(got[4:]), 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(payload) != "v100..150 +PACEAPI" {
		t.Errorf("version payload = %q, want %q", payload, "v100..150 +PACEAPI")
	}
}

func TestParseServerHello(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    ServerHello
		wantErr bool
	}{
		{
			name:    "valid",
			payload: EncodeFields("176", "20240315 09:30:00 EST"),
			want:    ServerHello{Version: 176, ConnectionTime: "20240315 09:30:00 EST"},
		},
		{name: "one field", payload: EncodeFields("176"), wantErr: true},
		{name: "non numeric", payload: EncodeFields("abc", "t"), wantErr: true},
		{name: "too old", payload: EncodeFields("76", "t"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServerHello(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("ParseServerHello() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServerHello() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseServerHello() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStartAPI(t *testing.T) {
	got := Split(StartAPI(12, ""))
	want := []string{"71", "2", "12", ""}
	if len(got) != len(want) {
		t.Fatalf("StartAPI() fields = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseNextValidID(t *testing.T) {
	id, err := ParseNextValidID([]string{"9", "1", "100"})
	if err != nil {
		t.Fatalf("ParseNextValidID() error = %v", err)
	}
	if id != 100 {
		t.Errorf("ParseNextValidID() = %d, want 100", id)
	}

	if _, err := ParseNextValidID([]string{"9", "1"}); !errors.Is(err, ErrMalformed) {
		t.Errorf("short message error = %v, want ErrMalformed", err)
	}
}

func TestParseManagedAccounts(t *testing.T) {
	got := ParseManagedAccounts([]string{"15", "1", "DU123, DU456,"})
	if len(got) != 2 || got[0] != "DU123" || got[1] != "DU456" {
		t.Errorf("ParseManagedAccounts() = %q, want [DU123 DU456]", got)
	}
}
