// Package player merges the event streams of a trace into one global,
// clock-ordered sequence.
//
// The player keeps every active stream in a min-heap keyed by the corrected
// clock of its head event. Each call to Next pops the earliest stream, hands
// out its head event, advances it and pushes it back while it still has
// events. Ties between streams are broken by stream index so that a replay
// of the same trace always produces the same order.
//
// The merge is the single point where time across threads and hosts is
// established, so residual disorder is detected here: an event older than
// the previously emitted one is a backwards jump. Jumps are logged and
// counted; in strict mode the first one aborts the replay with an
// *OrderError.
package player

import (
	"container/heap"
	"fmt"
	"log/slog"

	"github.com/roach88/ovniemu/internal/ev"
	"github.com/roach88/ovniemu/internal/stream"
)

// Step is one event of the merged sequence.
type Step struct {
	// Event is a copy of the stream head. Its payload still aliases the
	// stream buffer.
	Event ev.Event

	// Clock is the corrected clock of the event.
	Clock int64

	// Stream is the index of the source stream in the slice given to New.
	Stream int
}

// OrderError reports a backwards jump in strict mode.
type OrderError struct {
	Stream string
	Clock  int64
	Prev   int64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("backwards jump in stream %s: clock %d after %d (%d ns)",
		e.Stream, e.Clock, e.Prev, e.Prev-e.Clock)
}

// Ordering marks the error as an ordering anomaly.
func (e *OrderError) Ordering() bool { return true }

// Option configures a Player.
type Option func(*Player)

// WithStrict makes backwards jumps fatal.
func WithStrict(strict bool) Option {
	return func(p *Player) {
		p.strict = strict
	}
}

// WithLogger sets the logger used for jump warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		p.logger = logger
	}
}

// Player is the k-way merge over the streams of a trace.
type Player struct {
	streams []*stream.Stream
	h       streamHeap

	strict bool
	logger *slog.Logger

	started bool
	last    int64
	jumps   int
}

// New primes every stream with its first event and builds the heap. Empty
// streams are skipped.
func New(streams []*stream.Stream, opts ...Option) (*Player, error) {
	p := &Player{
		streams: streams,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.h = make(streamHeap, 0, len(streams))
	for i, s := range streams {
		ok, err := s.Advance()
		if err != nil {
			return nil, err
		}
		if ok {
			p.h = append(p.h, entry{clock: s.Clock(), index: i})
		}
	}
	heap.Init(&p.h)

	return p, nil
}

// Next returns the globally earliest pending event. It returns false once
// every stream is exhausted.
func (p *Player) Next() (Step, bool, error) {
	if p.h.Len() == 0 {
		return Step{}, false, nil
	}

	top := heap.Pop(&p.h).(entry)
	s := p.streams[top.index]

	step := Step{
		Event:  *s.Head(),
		Clock:  top.clock,
		Stream: top.index,
	}

	if p.started && step.Clock < p.last {
		p.jumps++
		if p.strict {
			return step, false, &OrderError{Stream: s.Name(), Clock: step.Clock, Prev: p.last}
		}
		p.logger.Warn("backwards jump in time",
			"stream", s.Name(),
			"clock", step.Clock,
			"prev", p.last,
			"delta", p.last-step.Clock,
			"mcv", step.Event.MCV())
	}
	p.started = true
	p.last = step.Clock

	ok, err := s.Advance()
	if err != nil {
		return step, false, err
	}
	if ok {
		heap.Push(&p.h, entry{clock: s.Clock(), index: top.index})
	}

	return step, true, nil
}

// Jumps returns the number of backwards jumps seen so far.
func (p *Player) Jumps() int { return p.jumps }

// Active returns the number of streams with pending events.
func (p *Player) Active() int { return p.h.Len() }

// Progress returns the fraction of event bytes consumed over all streams.
func (p *Player) Progress() float64 {
	var done, total int64
	for _, s := range p.streams {
		done += s.Progress()
		total += s.Size()
	}
	if total == 0 {
		return 1
	}
	return float64(done) / float64(total)
}

type entry struct {
	clock int64
	index int
}

type streamHeap []entry

func (h streamHeap) Len() int { return len(h) }

func (h streamHeap) Less(i, j int) bool {
	if h[i].clock != h[j].clock {
		return h[i].clock < h[j].clock
	}
	return h[i].index < h[j].index
}

func (h streamHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *streamHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *streamHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
