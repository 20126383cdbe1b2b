package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/roach88/ovniemu/internal/ev"
	"github.com/roach88/ovniemu/internal/metadata"
	"github.com/roach88/ovniemu/internal/stream"
)

// TraceBuilder writes a synthetic trace directory for tests.
//
//	b := testutil.NewTrace(t)
//	b.Proc("node1", 100, metadata.ProcMeta{CPUs: []metadata.CPU{{Index: 0}}})
//	b.Thread("node1", 100, 101).At(100, "OHx", 0).At(200, "OHe")
//	tr := b.Write()
type TraceBuilder struct {
	tb      testing.TB
	dir     string
	clock   *DeterministicClock
	procs   map[string]string
	streams []*StreamBuilder
}

// NewTrace creates a builder rooted in a fresh temporary directory. Clocks
// handed out by StreamBuilder.Next start at 100 and advance by 10.
func NewTrace(tb testing.TB) *TraceBuilder {
	return &TraceBuilder{
		tb:    tb,
		dir:   tb.TempDir(),
		clock: NewDeterministicClock(100, 10),
		procs: make(map[string]string),
	}
}

// Dir returns the trace directory.
func (b *TraceBuilder) Dir() string { return b.dir }

// Proc creates a process directory with its metadata document.
func (b *TraceBuilder) Proc(host string, pid int, meta metadata.ProcMeta) *TraceBuilder {
	b.tb.Helper()
	dir := filepath.Join(b.dir, "loom."+host, "proc."+strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		b.tb.Fatalf("create %s: %v", dir, err)
	}
	if err := metadata.WriteProcMeta(dir, meta); err != nil {
		b.tb.Fatalf("write metadata of %s: %v", dir, err)
	}
	b.procs[procKey(host, pid)] = dir
	return b
}

// Thread returns the stream of a thread of a process created with Proc.
func (b *TraceBuilder) Thread(host string, pid, tid int) *StreamBuilder {
	b.tb.Helper()
	dir, ok := b.procs[procKey(host, pid)]
	if !ok {
		b.tb.Fatalf("thread %d: no process %d on %s", tid, pid, host)
	}
	s := &StreamBuilder{
		tb:    b.tb,
		path:  filepath.Join(dir, fmt.Sprintf("thread.%d.obs", tid)),
		clock: b.clock,
	}
	b.streams = append(b.streams, s)
	return s
}

// Write writes every stream file and loads the trace back.
func (b *TraceBuilder) Write() *metadata.Trace {
	b.tb.Helper()
	for _, s := range b.streams {
		if err := os.WriteFile(s.path, s.Bytes(), 0o644); err != nil {
			b.tb.Fatalf("write %s: %v", s.path, err)
		}
	}
	tr, err := metadata.Load(b.dir)
	if err != nil {
		b.tb.Fatalf("load trace: %v", err)
	}
	return tr
}

func procKey(host string, pid int) string {
	return host + "/" + strconv.Itoa(pid)
}

// StreamBuilder accumulates the events of one thread.
type StreamBuilder struct {
	tb    testing.TB
	path  string
	clock *DeterministicClock
	buf   []byte
}

// At appends an event at clock with 32-bit arguments as payload.
func (s *StreamBuilder) At(clock int64, mcv string, args ...int32) *StreamBuilder {
	s.tb.Helper()
	var payload []byte
	if len(args) > 0 {
		payload = ev.Args(args...)
	}
	return s.Raw(clock, mcv, payload)
}

// Next appends an event at the next clock of the shared trace clock.
func (s *StreamBuilder) Next(mcv string, args ...int32) *StreamBuilder {
	s.tb.Helper()
	return s.At(s.clock.Next(), mcv, args...)
}

// Raw appends an event with an arbitrary payload. Payloads that do not fit
// a normal event are written as jumbo events.
func (s *StreamBuilder) Raw(clock int64, mcv string, payload []byte) *StreamBuilder {
	s.tb.Helper()
	m, c, v := ev.MustParseMCV(mcv)
	if len(payload) == 1 || len(payload) > ev.MaxPayload {
		s.buf = ev.AppendJumbo(s.buf, m, c, v, uint64(clock), payload)
		return s
	}
	var err error
	s.buf, err = ev.Append(s.buf, m, c, v, uint64(clock), payload)
	if err != nil {
		s.tb.Fatalf("%s: %v", mcv, err)
	}
	return s
}

// Path returns the file the stream is written to.
func (s *StreamBuilder) Path() string { return s.path }

// Bytes returns the stream file image: header followed by the events.
func (s *StreamBuilder) Bytes() []byte {
	return append(stream.AppendHeader(nil), s.buf...)
}
