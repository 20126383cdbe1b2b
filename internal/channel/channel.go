// Package channel implements the state cells that the emulator renders.
//
// A Channel is a small stack of int64 values attached to one thread or CPU.
// Interpreters mutate channels with Enable, Disable, Set, Push, Pop and
// Signal while they process one event. Any mutation marks the channel dirty
// and queues it, once, on the Bay it belongs to. After every event the Bay is
// flushed: each dirty channel emits exactly one coalesced record (two for a
// punctual signal) and becomes clean again.
//
// # Duplicate Policy
//
// Channels declare what happens when a flush would emit the value that was
// already emitted last, while the channel stayed enabled:
//
//	DupReject  logic error, detects nested transitions of the same state
//	DupAllow   the record is emitted again
//	DupSkip    the record is suppressed
//
// Enable and disable transitions always emit. A repeated ValueBad is always
// suppressed.
//
// # Sentinels
//
// Some values are reserved: ValueBad is read from disabled channels and
// marks state that could not be reconstructed, ValueTooManyThreads marks a
// CPU channel that tracks more than one thread.
package channel

import (
	"fmt"
)

// MaxStack is the maximum depth of a channel stack.
const MaxStack = 128

// Reserved channel values.
const (
	ValueNull           int64 = 0
	ValueBad            int64 = 666
	ValueTooManyThreads int64 = 777
)

// Dirty describes why a channel needs to be emitted.
type Dirty uint8

const (
	Clean Dirty = iota
	DirtyActive
	DirtyValue
)

// Dup is the duplicate emission policy of a channel.
type Dup uint8

const (
	DupReject Dup = iota
	DupAllow
	DupSkip
)

// ParseDup converts a declared policy name.
func ParseDup(s string) (Dup, error) {
	switch s {
	case "", "reject":
		return DupReject, nil
	case "allow":
		return DupAllow, nil
	case "skip":
		return DupSkip, nil
	}
	return 0, fmt.Errorf("unknown duplicate policy %q", s)
}

func (d Dup) String() string {
	switch d {
	case DupAllow:
		return "allow"
	case DupSkip:
		return "skip"
	}
	return "reject"
}

// Config holds the declared, immutable properties of a channel.
type Config struct {
	// Type is the record type id written for this channel.
	Type int

	// Dup is the duplicate emission policy.
	Dup Dup
}

// Channel is a stack-valued state cell.
type Channel struct {
	name string
	cfg  Config

	stack []int64

	enabled bool
	since   int64
	dirty   Dirty

	pulse    int64
	hasPulse bool

	last        int64
	lastEnabled bool
	emitted     bool

	bay  *Bay
	sink Sink
	row  int
	hook func(*Channel)
}

// New returns a disabled channel with a stack of depth 1 holding ValueNull.
func New(name string, cfg Config) *Channel {
	ch := &Channel{
		name:  name,
		cfg:   cfg,
		stack: make([]int64, 1, 4),
	}
	return ch
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Config returns the declared channel properties.
func (c *Channel) Config() Config { return c.cfg }

// Row returns the output row the channel emits to.
func (c *Channel) Row() int { return c.row }

// Enabled reports whether the channel is enabled.
func (c *Channel) Enabled() bool { return c.enabled }

// Since returns the bay time of the last enable or disable transition.
func (c *Channel) Since() int64 { return c.since }

// Dirty returns the pending emission state.
func (c *Channel) Dirty() Dirty { return c.dirty }

// Depth returns the stack depth.
func (c *Channel) Depth() int { return len(c.stack) }

// SetHook registers fn to run whenever the channel goes from clean to dirty.
func (c *Channel) SetHook(fn func(*Channel)) { c.hook = fn }

func (c *Channel) errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Chan: c, Msg: fmt.Sprintf(format, args...)}
}

func (c *Channel) markDirty(kind Dirty) {
	if c.dirty == Clean {
		if c.bay != nil {
			c.bay.enqueue(c)
		}
		if c.hook != nil {
			c.hook(c)
		}
	}
	if kind > c.dirty {
		c.dirty = kind
	}
}

func (c *Channel) now() int64 {
	if c.bay == nil {
		return 0
	}
	return c.bay.time
}

// Enable enables a disabled channel.
func (c *Channel) Enable() error {
	if c.enabled {
		return c.errorf(CodeEnabled, "already enabled")
	}
	c.enabled = true
	c.since = c.now()
	c.markDirty(DirtyActive)
	return nil
}

// Disable disables an enabled channel. The stack is kept.
func (c *Channel) Disable() error {
	if !c.enabled {
		return c.errorf(CodeDisabled, "already disabled")
	}
	c.enabled = false
	c.since = c.now()
	c.markDirty(DirtyActive)
	return nil
}

// Set replaces the top of the stack. A value already set during this step is
// overwritten.
func (c *Channel) Set(v int64) error {
	if !c.enabled {
		return c.errorf(CodeDisabled, "cannot set %d: channel disabled", v)
	}
	if len(c.stack) == 0 {
		c.stack = append(c.stack, ValueNull)
	}
	c.stack[len(c.stack)-1] = v
	c.markDirty(DirtyValue)
	return nil
}

// Push pushes v on the stack. The channel must be clean.
func (c *Channel) Push(v int64) error {
	if !c.enabled {
		return c.errorf(CodeDisabled, "cannot push %d: channel disabled", v)
	}
	if c.dirty != Clean {
		return c.errorf(CodeDirty, "cannot push %d: channel already modified in this step", v)
	}
	if len(c.stack) >= MaxStack {
		return c.errorf(CodeStackFull, "cannot push %d: stack full (%d)", v, MaxStack)
	}
	c.stack = append(c.stack, v)
	c.markDirty(DirtyValue)
	return nil
}

// Pop removes the top of the stack, which must equal expected.
func (c *Channel) Pop(expected int64) (int64, error) {
	if c.enabled && len(c.stack) > 0 && c.stack[len(c.stack)-1] != expected {
		return 0, c.errorf(CodeMismatch, "pop: expected %d on top, found %d", expected, c.stack[len(c.stack)-1])
	}
	return c.PopAny()
}

// PopAny removes and returns the top of the stack.
func (c *Channel) PopAny() (int64, error) {
	if !c.enabled {
		return 0, c.errorf(CodeDisabled, "cannot pop: channel disabled")
	}
	if len(c.stack) == 0 {
		return 0, c.errorf(CodeStackEmpty, "cannot pop: stack empty")
	}
	v := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	c.markDirty(DirtyValue)
	return v, nil
}

// Signal records a punctual value, emitted at flush time right before the
// current top.
func (c *Channel) Signal(v int64) error {
	if !c.enabled {
		return c.errorf(CodeDisabled, "cannot signal %d: channel disabled", v)
	}
	if c.hasPulse {
		return c.errorf(CodePulse, "cannot signal %d: pulse %d already pending", v, c.pulse)
	}
	c.pulse = v
	c.hasPulse = true
	c.markDirty(DirtyValue)
	return nil
}

// Read returns the top of the stack, ValueNull for an empty stack and
// ValueBad for a disabled channel.
func (c *Channel) Read() int64 {
	if !c.enabled {
		return ValueBad
	}
	return c.top()
}

func (c *Channel) top() int64 {
	if len(c.stack) == 0 {
		return ValueNull
	}
	return c.stack[len(c.stack)-1]
}

// Pulse returns the pending punctual value, if any.
func (c *Channel) Pulse() (int64, bool) { return c.pulse, c.hasPulse }

// MarkBad makes the channel show ValueBad from now on, enabling it if
// needed. It never fails.
func (c *Channel) MarkBad() {
	if !c.enabled {
		c.enabled = true
		c.since = c.now()
		c.markDirty(DirtyActive)
	}
	if len(c.stack) == 0 {
		c.stack = append(c.stack, ValueNull)
	}
	c.stack[len(c.stack)-1] = ValueBad
	c.hasPulse = false
	c.markDirty(DirtyValue)
}

// assign copies v into the top when it differs, enabling the channel first.
// It only dirties the channel on an actual change.
func (c *Channel) assign(v int64) {
	if !c.enabled {
		c.enabled = true
		c.since = c.now()
		c.markDirty(DirtyActive)
	}
	if len(c.stack) == 0 {
		c.stack = append(c.stack, ValueNull)
	}
	if c.stack[len(c.stack)-1] == v {
		return
	}
	c.stack[len(c.stack)-1] = v
	c.markDirty(DirtyValue)
}

// flush emits the pending state and clears the dirty flag.
func (c *Channel) flush(time int64) error {
	defer func() {
		c.dirty = Clean
		c.hasPulse = false
		c.lastEnabled = c.enabled
		c.emitted = true
	}()

	if !c.enabled {
		c.last = ValueNull
		return c.emit(time, ValueNull)
	}

	v := c.top()
	if c.hasPulse {
		if err := c.emit(time, c.pulse); err != nil {
			return err
		}
		c.last = v
		return c.emit(time, v)
	}

	if c.emitted && c.lastEnabled && v == c.last {
		if v == ValueBad {
			return nil
		}
		switch c.cfg.Dup {
		case DupSkip:
			return nil
		case DupReject:
			return c.errorf(CodeDuplicate, "duplicated value %d", v)
		}
	}

	c.last = v
	return c.emit(time, v)
}

func (c *Channel) emit(time, v int64) error {
	if c.sink == nil {
		return nil
	}
	return c.sink.Emit(Record{Row: c.row, Time: time, Type: c.cfg.Type, Value: v})
}

func (c *Channel) String() string {
	return fmt.Sprintf("%s(enabled=%t depth=%d top=%d)", c.name, c.enabled, len(c.stack), c.top())
}
