package ev

import (
	"encoding/binary"
	"fmt"
)

// Append encodes a normal event and appends it to dst. The payload must be
// empty or between MinPayload and MaxPayload bytes.
func Append(dst []byte, model, category, value byte, clock uint64, payload []byte) ([]byte, error) {
	n := len(payload)
	if n != 0 && (n < MinPayload || n > MaxPayload) {
		return dst, fmt.Errorf("payload of %d bytes: must be 0 or %d..%d", n, MinPayload, MaxPayload)
	}

	var flags byte
	if n > 0 {
		flags = byte(n-1) & sizeMask
	}

	dst = appendHeader(dst, flags, model, category, value, clock)
	return append(dst, payload...), nil
}

// AppendJumbo encodes a jumbo event with a variable-length payload.
func AppendJumbo(dst []byte, model, category, value byte, clock uint64, payload []byte) []byte {
	dst = appendHeader(dst, FlagJumbo, model, category, value, clock)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// AppendEvent re-encodes a decoded event, preserving its jumbo flag.
func AppendEvent(dst []byte, e *Event) ([]byte, error) {
	if e.Jumbo() {
		return AppendJumbo(dst, e.Model, e.Category, e.Value, e.Clock, e.Payload), nil
	}
	return Append(dst, e.Model, e.Category, e.Value, e.Clock, e.Payload)
}

func appendHeader(dst []byte, flags, model, category, value byte, clock uint64) []byte {
	dst = append(dst, flags, model, category, value)
	return binary.LittleEndian.AppendUint64(dst, clock)
}

// MustParseMCV splits a 3-character event name into its model, category and
// value bytes. It panics on names of the wrong length.
func MustParseMCV(mcv string) (model, category, value byte) {
	if len(mcv) != 3 {
		panic(fmt.Sprintf("ev: bad event name %q", mcv))
	}
	return mcv[0], mcv[1], mcv[2]
}
