package ev

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_NoPayload(t *testing.T) {
	buf, err := Append(nil, 'O', 'H', 'p', 1234, nil)
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize)

	e, err := Decode(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "OHp", e.MCV())
	assert.Equal(t, uint64(1234), e.Clock)
	assert.Empty(t, e.Payload)
	assert.Equal(t, HeaderSize, e.Size)
	assert.False(t, e.Jumbo())
}

func TestDecode_PayloadSizes(t *testing.T) {
	for n := MinPayload; n <= MaxPayload; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i + 1)
		}

		buf, err := Append(nil, 'V', 'T', 'x', 7, payload)
		require.NoError(t, err)
		assert.Equal(t, byte(n-1), buf[0], "flags nibble encodes size-1")

		e, err := Decode(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, payload, e.Payload)
		assert.Equal(t, HeaderSize+n, e.Size)
	}
}

func TestAppend_RejectsBadPayloadSize(t *testing.T) {
	_, err := Append(nil, 'O', 'H', 'x', 1, []byte{1})
	assert.Error(t, err)

	_, err = Append(nil, 'O', 'H', 'x', 1, make([]byte, MaxPayload+1))
	assert.Error(t, err)
}

func TestDecode_Jumbo(t *testing.T) {
	label := []byte("a rather long task type label\x00")
	buf := AppendJumbo(nil, 'V', 'Y', 'c', 99, label)

	e, err := Decode(buf, 0)
	require.NoError(t, err)
	assert.True(t, e.Jumbo())
	assert.Equal(t, label, e.Payload)
	assert.Equal(t, HeaderSize+4+len(label), e.Size)

	s, err := e.Label(0)
	require.NoError(t, err)
	assert.Equal(t, "a rather long task type label", s)
}

func TestDecode_Sequence(t *testing.T) {
	var buf []byte
	buf, _ = Append(buf, 'O', 'H', 'x', 10, Args(3))
	buf = AppendJumbo(buf, 'V', 'Y', 'c', 20, []byte("x\x00"))
	buf, _ = Append(buf, 'O', 'H', 'e', 30, nil)

	var clocks []uint64
	for off := 0; off < len(buf); {
		e, err := Decode(buf, off)
		require.NoError(t, err)
		clocks = append(clocks, e.Clock)
		off += e.Size
	}
	assert.Equal(t, []uint64{10, 20, 30}, clocks)
}

func TestDecode_Malformed(t *testing.T) {
	good, err := Append(nil, 'O', 'H', 'x', 10, Args(1, 2))
	require.NoError(t, err)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"truncated header", good[:HeaderSize-1]},
		{"truncated payload", good[:len(good)-1]},
		{"jumbo with size nibble", func() []byte {
			b := AppendJumbo(nil, 'V', 'Y', 'c', 1, []byte("ab"))
			b[0] |= 0x03
			return b
		}()},
		{"jumbo without length", func() []byte {
			b := AppendJumbo(nil, 'V', 'Y', 'c', 1, nil)
			return b[:HeaderSize+2]
		}()},
		{"jumbo length past end", func() []byte {
			b := AppendJumbo(nil, 'V', 'Y', 'c', 1, []byte("abcd"))
			binary.LittleEndian.PutUint32(b[HeaderSize:], 1000)
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf, 0)
			require.Error(t, err)
			var me *MalformedError
			assert.ErrorAs(t, err, &me)
		})
	}
}

func TestEvent_PayloadAccessors(t *testing.T) {
	buf, err := Append(nil, 'O', 'A', 'r', 5, Args(-1, 42))
	require.NoError(t, err)
	e, err := Decode(buf, 0)
	require.NoError(t, err)

	cpu, err := e.Int32(0)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), cpu)

	tid, err := e.Uint32(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), tid)

	_, err = e.Int32(2)
	var pe *PayloadError
	assert.ErrorAs(t, err, &pe)
}

func TestAppendEvent_RoundTripsBytes(t *testing.T) {
	var buf []byte
	buf, _ = Append(buf, 'K', 'O', '[', 100, nil)
	buf = AppendJumbo(buf, 'V', 'Y', 'c', 200, []byte("label\x00"))

	var out []byte
	for off := 0; off < len(buf); {
		e, err := Decode(buf, off)
		require.NoError(t, err)
		out, err = AppendEvent(out, &e)
		require.NoError(t, err)
		off += e.Size
	}
	assert.Equal(t, buf, out)
}
