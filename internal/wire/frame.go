package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds inbound frames when no limit is configured.
const DefaultMaxFrameSize = 16 << 20

const headerSize = 4

// Errors
var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrMalformed     = errors.New("malformed message")
)

// ReadFrame reads one length-prefixed frame from r and returns its
// payload. A non-positive max uses DefaultMaxFrameSize.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// AppendFrame appends the framed payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload as one frame using a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := AppendFrame(make([]byte, 0, headerSize+len(payload)), payload)
	_, err := w.Write(buf)
	return err
}

// EncodeFields builds a payload from fields, terminating each with NUL.
func EncodeFields(fields ...string) []byte {
	size := 0
	for _, f := range fields {
		size += len(f) + 1
	}

	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = append(buf, f...)
		buf = append(buf, 0)
	}
	return buf
}

// Split returns the NUL-terminated fields of payload. Empty fields inside
// the payload are kept; a payload without a trailing NUL keeps its final
// field.
func Split(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}

	parts := bytes.Split(payload, []byte{0})
	if len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}

	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = string(p)
	}
	return fields
}
