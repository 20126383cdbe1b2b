package ev

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PayloadError reports a payload too short for the requested field.
type PayloadError struct {
	MCV    string
	Offset int
	Want   int
	Have   int
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("event %s: payload of %d bytes has no %d-byte field at offset %d",
		e.MCV, e.Have, e.Want, e.Offset)
}

func (e *Event) field(off, size int) ([]byte, error) {
	if off < 0 || off+size > len(e.Payload) {
		return nil, &PayloadError{MCV: e.MCV(), Offset: off, Want: size, Have: len(e.Payload)}
	}
	return e.Payload[off : off+size], nil
}

// Int32 returns the i-th 4-byte little-endian signed argument.
func (e *Event) Int32(i int) (int32, error) {
	b, err := e.field(i*4, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// Uint32 returns the i-th 4-byte little-endian unsigned argument.
func (e *Event) Uint32(i int) (uint32, error) {
	b, err := e.field(i*4, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Int64At returns the 8-byte little-endian signed value at byte offset off.
func (e *Event) Int64At(off int) (int64, error) {
	b, err := e.field(off, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// Label returns the NUL-terminated string starting at byte offset off. A
// missing terminator takes the rest of the payload.
func (e *Event) Label(off int) (string, error) {
	if off < 0 || off > len(e.Payload) {
		return "", &PayloadError{MCV: e.MCV(), Offset: off, Want: 1, Have: len(e.Payload)}
	}
	b := e.Payload[off:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// Args encodes 32-bit arguments as a little-endian payload.
func Args(args ...int32) []byte {
	buf := make([]byte, 0, 4*len(args))
	for _, a := range args {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(a))
	}
	return buf
}
