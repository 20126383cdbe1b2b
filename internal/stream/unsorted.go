package stream

import (
	"fmt"
	"sort"

	"github.com/roach88/ovniemu/internal/ev"
)

// DefaultWindow is the default number of in-order events remembered to find
// where an unsorted region belongs.
const DefaultWindow = 10000

// Unsorted region markers.
const (
	markerModel    = 'O'
	markerCategory = 'U'
	markerBegin    = '['
	markerEnd      = ']'
)

// RegionError reports an unsorted region that cannot be repaired.
type RegionError struct {
	Stream string
	Offset int
	Reason string
}

func (e *RegionError) Error() string {
	if e.Stream != "" {
		return fmt.Sprintf("stream %s: unsorted region at offset %d: %s", e.Stream, e.Offset, e.Reason)
	}
	return fmt.Sprintf("unsorted region at offset %d: %s", e.Offset, e.Reason)
}

// Ordering marks region errors as ordering anomalies.
func (e *RegionError) Ordering() bool { return true }

// ring remembers the offsets of the last in-order events.
type ring struct {
	offs    []int
	head    int // oldest slot
	n       int
	dropped bool
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{offs: make([]int, size)}
}

func (r *ring) push(off int) {
	if r.n < len(r.offs) {
		r.offs[(r.head+r.n)%len(r.offs)] = off
		r.n++
		return
	}
	r.offs[r.head] = off
	r.head = (r.head + 1) % len(r.offs)
	r.dropped = true
}

// at returns the i-th oldest offset.
func (r *ring) at(i int) int {
	return r.offs[(r.head+i)%len(r.offs)]
}

// truncate keeps only the k oldest offsets.
func (r *ring) truncate(k int) {
	r.n = k
}

// Repair reorders, in place, every region of buf delimited by begin/end
// unsorted markers so that the whole buffer is sorted by clock. Events with
// equal clocks keep their relative order. It returns the number of repaired
// regions.
//
// The region is sorted and merged with the preceding in-order events, going
// back at most window events. A region that belongs further back than that
// cannot be repaired and yields a *RegionError.
func Repair(buf []byte, window int) (int, error) {
	r := newRing(window)
	badStart := -1
	beginOff := 0
	regions := 0

	for off := 0; off < len(buf); {
		size, err := ev.SizeAt(buf, off)
		if err != nil {
			return regions, err
		}

		switch {
		case ev.Is(buf, off, markerModel, markerCategory, markerBegin):
			if badStart >= 0 {
				return regions, &RegionError{Offset: off, Reason: fmt.Sprintf("nested begin marker, region opened at %d", beginOff)}
			}
			r.push(off)
			beginOff = off
			badStart = off + size

		case ev.Is(buf, off, markerModel, markerCategory, markerEnd):
			if badStart < 0 {
				return regions, &RegionError{Offset: off, Reason: "end marker without begin"}
			}
			if err := r.merge(buf, badStart, off); err != nil {
				return regions, err
			}
			regions++
			badStart = -1
			r.push(off)

		default:
			if badStart < 0 {
				r.push(off)
			}
		}

		off += size
	}

	if badStart >= 0 {
		return regions, &RegionError{Offset: beginOff, Reason: "missing end marker"}
	}
	return regions, nil
}

// merge sorts the bad span [badStart, end) into the in-order events before
// it, rewriting buf and the ring.
func (r *ring) merge(buf []byte, badStart, end int) error {
	bad, err := offsets(buf, badStart, end)
	if err != nil {
		return err
	}
	if len(bad) == 0 {
		return nil
	}

	sort.SliceStable(bad, func(i, j int) bool {
		return ev.ClockAt(buf, bad[i]) < ev.ClockAt(buf, bad[j])
	})
	first := ev.ClockAt(buf, bad[0])

	// Most recent in-order event older than the whole region.
	i0 := -1
	for i := r.n - 1; i >= 0; i-- {
		if ev.ClockAt(buf, r.at(i)) < first {
			i0 = i
			break
		}
	}

	var start, keep int
	switch {
	case i0 >= 0:
		start, keep = r.at(i0), i0
	case !r.dropped:
		// Everything seen so far is newer: the region goes first.
		start, keep = 0, 0
	default:
		return &RegionError{
			Offset: badStart,
			Reason: fmt.Sprintf("no event older than clock %d within the last %d events", first, len(r.offs)),
		}
	}

	good, err := offsets(buf, start, badStart)
	if err != nil {
		return err
	}

	scratch := make([]byte, 0, end-start)
	i, j := 0, 0
	for i < len(good) && j < len(bad) {
		if ev.ClockAt(buf, bad[j]) < ev.ClockAt(buf, good[i]) {
			scratch = appendAt(scratch, buf, bad[j])
			j++
		} else {
			scratch = appendAt(scratch, buf, good[i])
			i++
		}
	}
	for ; i < len(good); i++ {
		scratch = appendAt(scratch, buf, good[i])
	}
	for ; j < len(bad); j++ {
		scratch = appendAt(scratch, buf, bad[j])
	}

	if len(scratch) != end-start {
		return fmt.Errorf("unsorted region at %d: merged %d bytes, expected %d", badStart, len(scratch), end-start)
	}
	copy(buf[start:end], scratch)

	r.truncate(keep)
	for off := start; off < end; {
		size, _ := ev.SizeAt(buf, off)
		r.push(off)
		off += size
	}
	return nil
}

func offsets(buf []byte, start, end int) ([]int, error) {
	var offs []int
	for off := start; off < end; {
		size, err := ev.SizeAt(buf, off)
		if err != nil {
			return nil, err
		}
		offs = append(offs, off)
		off += size
	}
	return offs, nil
}

func appendAt(dst, buf []byte, off int) []byte {
	size, _ := ev.SizeAt(buf, off)
	return append(dst, buf[off:off+size]...)
}

// SortError reports the first event of a buffer that goes back in time.
type SortError struct {
	Offset int
	Prev   uint64
	Clock  uint64
}

func (e *SortError) Error() string {
	return fmt.Sprintf("event at offset %d has clock %d, previous event has %d", e.Offset, e.Clock, e.Prev)
}

// CheckSorted verifies that the events of buf have non-decreasing clocks.
func CheckSorted(buf []byte) error {
	var prev uint64
	for off := 0; off < len(buf); {
		size, err := ev.SizeAt(buf, off)
		if err != nil {
			return err
		}
		clock := ev.ClockAt(buf, off)
		if off > 0 && clock < prev {
			return &SortError{Offset: off, Prev: prev, Clock: clock}
		}
		prev = clock
		off += size
	}
	return nil
}

// CountRegions returns the number of begin markers in buf.
func CountRegions(buf []byte) (int, error) {
	n := 0
	for off := 0; off < len(buf); {
		size, err := ev.SizeAt(buf, off)
		if err != nil {
			return n, err
		}
		if ev.Is(buf, off, markerModel, markerCategory, markerBegin) {
			n++
		}
		off += size
	}
	return n, nil
}
