package channel

import (
	"errors"
)

// Bay owns the dirty list shared by all channels of a run.
//
// Channels join the dirty list the first time they change in a step, in that
// order, and never twice. Flush drains the list.
type Bay struct {
	time     int64
	dirty    []*Channel
	channels []*Channel
}

// NewBay returns an empty bay.
func NewBay() *Bay {
	return &Bay{}
}

// Add connects ch to the bay. Flushed records go to sink, tagged with row.
func (b *Bay) Add(ch *Channel, sink Sink, row int) {
	ch.bay = b
	ch.sink = sink
	ch.row = row
	b.channels = append(b.channels, ch)
	if ch.dirty != Clean {
		b.dirty = append(b.dirty, ch)
	}
}

// Channels returns every channel added to the bay, in insertion order.
func (b *Bay) Channels() []*Channel { return b.channels }

// SetTime sets the time stamped on the next flushed records and on enable
// transitions.
func (b *Bay) SetTime(t int64) { b.time = t }

// Time returns the current bay time.
func (b *Bay) Time() int64 { return b.time }

// Pending returns the dirty channels in the order they became dirty.
func (b *Bay) Pending() []*Channel { return b.dirty }

func (b *Bay) enqueue(ch *Channel) {
	b.dirty = append(b.dirty, ch)
}

// Flush emits every dirty channel once and empties the dirty list. All
// channels are flushed even when some fail; the errors are joined.
func (b *Bay) Flush() error {
	var errs []error
	for i, ch := range b.dirty {
		if err := ch.flush(b.time); err != nil {
			errs = append(errs, err)
		}
		b.dirty[i] = nil
	}
	b.dirty = b.dirty[:0]
	return errors.Join(errs...)
}
