// Package ev decodes and encodes the binary event format written by the
// instrumentation library.
//
// # Wire Format
//
// Every event starts with a packed 12-byte header:
//
//	offset  size  field
//	0       1     flags     (low nibble: payload size - 1, 0x10: jumbo)
//	1       1     model     (ASCII model id, e.g. 'O')
//	2       1     category  (ASCII)
//	3       1     value     (ASCII or small int)
//	4       8     clock     (uint64, little-endian, nanoseconds)
//
// A low nibble of zero means the event carries no payload. Any other value n
// means a payload of n+1 bytes follows the header, which covers the 2..16
// byte range with four bits.
//
// Jumbo events set the 0x10 flag, keep the low nibble at zero and are followed
// by a uint32 little-endian length and that many payload bytes.
//
// Decoded events are views: Payload aliases the buffer the event was decoded
// from and is only valid as long as that buffer is.
package ev

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size in bytes of the fixed event header.
	HeaderSize = 12

	// FlagJumbo marks an event with a variable-length payload.
	FlagJumbo = 0x10

	// MaxPayload is the largest payload a normal (non-jumbo) event can carry.
	MaxPayload = 16

	// MinPayload is the smallest non-empty payload of a normal event.
	MinPayload = 2

	sizeMask     = 0x0f
	jumboLenSize = 4
)

// Event is a decoded event. It is immutable once decoded.
type Event struct {
	Flags    byte
	Model    byte
	Category byte
	Value    byte
	Clock    uint64

	// Payload aliases the source buffer. For jumbo events it excludes the
	// 4-byte length prefix.
	Payload []byte

	// Size is the total encoded size: header, length prefix and payload.
	Size int
}

// Jumbo reports whether the event carries a variable-length payload.
func (e *Event) Jumbo() bool {
	return e.Flags&FlagJumbo != 0
}

// MCV returns the model, category and value bytes as a 3-character string,
// the usual way events are named ("OHx", "KO[", ...).
func (e *Event) MCV() string {
	return string([]byte{e.Model, e.Category, e.Value})
}

// String renders the event for diagnostics.
func (e *Event) String() string {
	return fmt.Sprintf("%s clock=%d payload=%d", e.MCV(), e.Clock, len(e.Payload))
}

// MalformedError reports an event whose framing cannot be decoded.
type MalformedError struct {
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed event at offset %d: %s", e.Offset, e.Reason)
}

// PayloadSize returns the number of payload bytes that follow the header of
// the event at buf[off:], including the jumbo length prefix. The header must
// already be present.
func PayloadSize(buf []byte, off int) (int, error) {
	if off < 0 || off+HeaderSize > len(buf) {
		return 0, &MalformedError{Offset: off, Reason: "truncated header"}
	}

	flags := buf[off]
	nibble := int(flags & sizeMask)

	if flags&FlagJumbo != 0 {
		if nibble != 0 {
			return 0, &MalformedError{Offset: off, Reason: "jumbo event with a normal payload size"}
		}
		lenOff := off + HeaderSize
		if lenOff+jumboLenSize > len(buf) {
			return 0, &MalformedError{Offset: off, Reason: "truncated jumbo length"}
		}
		n := binary.LittleEndian.Uint32(buf[lenOff:])
		return jumboLenSize + int(n), nil
	}

	if nibble == 0 {
		return 0, nil
	}
	return nibble + 1, nil
}

// Decode decodes the event starting at buf[off:].
func Decode(buf []byte, off int) (Event, error) {
	psize, err := PayloadSize(buf, off)
	if err != nil {
		return Event{}, err
	}

	size := HeaderSize + psize
	if size < HeaderSize || off+size > len(buf) {
		return Event{}, &MalformedError{
			Offset: off,
			Reason: fmt.Sprintf("event of %d bytes exceeds buffer of %d bytes", size, len(buf)-off),
		}
	}

	e := Event{
		Flags:    buf[off],
		Model:    buf[off+1],
		Category: buf[off+2],
		Value:    buf[off+3],
		Clock:    binary.LittleEndian.Uint64(buf[off+4:]),
		Size:     size,
	}

	start := off + HeaderSize
	if e.Jumbo() {
		start += jumboLenSize
	}
	// Cap the capacity so appends by callers cannot scribble over the
	// next event in the buffer.
	e.Payload = buf[start : off+size : off+size]

	return e, nil
}

// SizeAt returns the encoded size of the event at buf[off:] without decoding
// it fully.
func SizeAt(buf []byte, off int) (int, error) {
	psize, err := PayloadSize(buf, off)
	if err != nil {
		return 0, err
	}
	if off+HeaderSize+psize > len(buf) {
		return 0, &MalformedError{Offset: off, Reason: "payload exceeds buffer"}
	}
	return HeaderSize + psize, nil
}

// ClockAt reads the raw clock of the event at buf[off:].
func ClockAt(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off+4:])
}

// Is reports whether the event at buf[off:] has the given model, category
// and value.
func Is(buf []byte, off int, model, category, value byte) bool {
	return buf[off+1] == model && buf[off+2] == category && buf[off+3] == value
}
