package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported client protocol versions.
const (
	MinClientVersion = 100
	MaxClientVersion = 187
)

// Inbound message ids the session core interprets itself.
const (
	MsgError          = 4
	MsgNextValidID    = 9
	MsgManagedAccts   = 15
	startAPIMessageID = "71"
	startAPIVersion   = "2"
)

var apiPrefix = []byte("API\x00")

// ClientHello returns the bytes a client writes first: the API prefix
// followed by a frame advertising the supported version range. The
// version string is not NUL-terminated. options, when non-empty, is
// appended after a space (e.g. "+PACEAPI").
func ClientHello(minVersion, maxVersion int, options string) []byte {
	v := fmt.Sprintf("v%d..%d", minVersion, maxVersion)
	if options != "" {
		v += " " + options
	}

	buf := make([]byte, 0, len(apiPrefix)+headerSize+len(v))
	buf = append(buf, apiPrefix...)
	return AppendFrame(buf, []byte(v))
}

// ServerHello is the gateway's reply to ClientHello.
type ServerHello struct {
	Version        int
	ConnectionTime string
}

// ParseServerHello decodes the first frame sent by the gateway.
func ParseServerHello(payload []byte) (ServerHello, error) {
	fields := Split(payload)
	if len(fields) < 2 {
		return ServerHello{}, fmt.Errorf("%w: server hello has %d fields", ErrMalformed, len(fields))
	}

	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return ServerHello{}, fmt.Errorf("%w: server version %q", ErrMalformed, fields[0])
	}
	if v < MinClientVersion {
		return ServerHello{}, fmt.Errorf("%w: server version %d below minimum %d", ErrMalformed, v, MinClientVersion)
	}

	return ServerHello{Version: v, ConnectionTime: fields[1]}, nil
}

// StartAPI returns the payload that completes the client side of the
// handshake.
func StartAPI(clientID int, capabilities string) []byte {
	return EncodeFields(startAPIMessageID, startAPIVersion, strconv.Itoa(clientID), capabilities)
}

// ParseNextValidID extracts the id from a nextValidId message.
func ParseNextValidID(fields []string) (int64, error) {
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: nextValidId has %d fields", ErrMalformed, len(fields))
	}
	id, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: nextValidId %q", ErrMalformed, fields[2])
	}
	return id, nil
}

// ParseManagedAccounts extracts the account list from a managedAccts
// message.
func ParseManagedAccounts(fields []string) []string {
	if len(fields) < 3 {
		return nil
	}

	var accounts []string
	for _, a := range strings.Split(fields[2], ",") {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}
	return accounts
}
