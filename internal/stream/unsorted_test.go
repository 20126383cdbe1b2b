package stream

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ovniemu/internal/ev"
)

type stamped struct {
	mcv   string
	clock uint64
}

func encode(t *testing.T, evs []stamped) []byte {
	t.Helper()
	var buf []byte
	for _, e := range evs {
		m, c, v := ev.MustParseMCV(e.mcv)
		var err error
		buf, err = ev.Append(buf, m, c, v, e.clock, nil)
		require.NoError(t, err)
	}
	return buf
}

func decodeAll(t *testing.T, buf []byte) []stamped {
	t.Helper()
	var out []stamped
	for off := 0; off < len(buf); {
		e, err := ev.Decode(buf, off)
		require.NoError(t, err)
		out = append(out, stamped{e.MCV(), e.Clock})
		off += e.Size
	}
	return out
}

func withoutMarkers(evs []stamped) []uint64 {
	var clocks []uint64
	for _, e := range evs {
		if e.mcv == "OU[" || e.mcv == "OU]" {
			continue
		}
		clocks = append(clocks, e.clock)
	}
	return clocks
}

func TestRepair_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := 40 + rng.Intn(60)
		clocks := make([]uint64, n)
		for i := range clocks {
			clocks[i] = uint64(100 + 10*i)
		}

		a := 5 + rng.Intn(n/3)
		b := a + 1 + rng.Intn(n/3)

		// Some prefix events leak into the bad span to force interleaving.
		var prefix, bad []uint64
		for i := 0; i < a; i++ {
			if i > 0 && rng.Intn(4) == 0 {
				bad = append(bad, clocks[i])
			} else {
				prefix = append(prefix, clocks[i])
			}
		}
		bad = append(bad, clocks[a:b]...)
		rng.Shuffle(len(bad), func(i, j int) { bad[i], bad[j] = bad[j], bad[i] })

		var evs []stamped
		for _, c := range prefix {
			evs = append(evs, stamped{"OHp", c})
		}
		evs = append(evs, stamped{"OU[", prefix[len(prefix)-1]})
		for _, c := range bad {
			evs = append(evs, stamped{"OHr", c})
		}
		evs = append(evs, stamped{"OU]", clocks[b-1]})
		for _, c := range clocks[b:] {
			evs = append(evs, stamped{"OHp", c})
		}

		buf := encode(t, evs)
		size := len(buf)

		regions, err := Repair(buf, DefaultWindow)
		require.NoError(t, err)
		assert.Equal(t, 1, regions)
		assert.Len(t, buf, size)

		got := decodeAll(t, buf)
		assert.Len(t, got, len(evs))
		assert.Equal(t, clocks, withoutMarkers(got), "round %d", round)
		assert.NoError(t, CheckSorted(buf))
	}
}

func TestRepair_StableOnEqualClocks(t *testing.T) {
	buf := encode(t, []stamped{
		{"OHx", 10},
		{"OU[", 10},
		{"OHc", 30},
		{"OHp", 10},
		{"OHr", 10},
		{"OU]", 30},
	})

	_, err := Repair(buf, DefaultWindow)
	require.NoError(t, err)

	got := decodeAll(t, buf)
	names := make([]string, len(got))
	for i, e := range got {
		names[i] = e.mcv
	}
	// Good events win ties, bad events keep their relative order.
	assert.Equal(t, []string{"OHx", "OU[", "OHp", "OHr", "OHc", "OU]"}, names)
}

func TestRepair_RegionAtStreamStart(t *testing.T) {
	buf := encode(t, []stamped{
		{"OU[", 50},
		{"OHp", 40},
		{"OHx", 5},
		{"OU]", 60},
	})

	_, err := Repair(buf, 4)
	require.NoError(t, err)

	got := decodeAll(t, buf)
	clocks := make([]uint64, len(got))
	for i, e := range got {
		clocks[i] = e.clock
	}
	assert.True(t, sort.SliceIsSorted(clocks, func(i, j int) bool { return clocks[i] < clocks[j] }))
	assert.Equal(t, "OHx", got[0].mcv)
}

func TestRepair_RegionTooLarge(t *testing.T) {
	buf := encode(t, []stamped{
		{"OHx", 10},
		{"OHp", 20},
		{"OHr", 30},
		{"OHp", 40},
		{"OU[", 40},
		{"OHr", 15},
		{"OU]", 50},
	})

	_, err := Repair(buf, 3)
	var re *RegionError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Ordering())
	assert.Contains(t, re.Error(), "within the last 3 events")
}

func TestRepair_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		evs    []stamped
		reason string
	}{
		{"nested", []stamped{{"OU[", 1}, {"OU[", 2}, {"OU]", 3}}, "nested"},
		{"unmatched end", []stamped{{"OHx", 1}, {"OU]", 2}}, "without begin"},
		{"unterminated", []stamped{{"OU[", 1}, {"OHx", 2}}, "missing end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Repair(encode(t, tt.evs), DefaultWindow)
			var re *RegionError
			require.ErrorAs(t, err, &re)
			assert.Contains(t, re.Reason, tt.reason)
		})
	}
}

func TestRepair_NoRegions(t *testing.T) {
	evs := []stamped{{"OHx", 1}, {"OHp", 2}, {"OHe", 3}}
	buf := encode(t, evs)

	n, err := Repair(buf, DefaultWindow)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, evs, decodeAll(t, buf))
}

func TestCheckSorted(t *testing.T) {
	assert.NoError(t, CheckSorted(encode(t, []stamped{{"OHx", 1}, {"OHp", 1}, {"OHr", 2}})))

	err := CheckSorted(encode(t, []stamped{{"OHx", 5}, {"OHp", 3}}))
	var se *SortError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint64(5), se.Prev)
	assert.Equal(t, uint64(3), se.Clock)
	assert.Equal(t, ev.HeaderSize, se.Offset)
}

func TestCountRegions(t *testing.T) {
	n, err := CountRegions(encode(t, []stamped{{"OU[", 1}, {"OU]", 2}, {"OU[", 3}, {"OU]", 4}}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
