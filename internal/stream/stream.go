// Package stream reads the per-thread event streams of a trace.
//
// A stream file is a small header (the "ovni" magic and a version) followed by
// a flat concatenation of events. Files are memory-mapped at load time and
// never copied: the events handed to callers alias the mapping.
//
// Streams are mapped privately (copy-on-write) so that the unsorted-region
// repair pass can reorder events in memory without touching the file. The
// sort command uses OpenShared to persist the repair instead.
//
// A Stream is a finite, non-restartable cursor: every Advance decodes the
// event under the cursor into the head and moves forward. Once the cursor
// reaches the end of the buffer the stream becomes inactive.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/roach88/ovniemu/internal/ev"
)

const (
	// Magic identifies a stream file.
	Magic = "ovni"

	// Version is the only stream format version understood.
	Version = 1

	// HeaderSize is the size of the file header preceding the events.
	HeaderSize = 8
)

// ErrBadHeader is returned for files without a valid stream header.
var ErrBadHeader = errors.New("bad stream header")

// Stream is a cursor over the events of one thread.
type Stream struct {
	name string
	data []byte // whole file, header included
	buf  []byte // events only

	unmap func() error

	off    int
	head   ev.Event
	active bool

	// offset is added to every raw clock (clock synchronization).
	offset int64
}

// Open maps the stream file at path privately. Writes to the returned
// stream's buffer (unsorted-region repair) are never written back.
func Open(path string) (*Stream, error) {
	return open(path, os.O_RDONLY, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
}

// OpenShared maps the stream file at path read-write and shared, so Repair
// rewrites the file in place.
func OpenShared(path string) (*Stream, error) {
	return open(path, os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func open(path string, flag, prot, mapFlags int) (*Stream, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat stream %s: %w", path, err)
	}
	size := info.Size()
	if size < HeaderSize {
		return nil, fmt.Errorf("stream %s: %w: file too small (%d bytes)", path, ErrBadHeader, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, mapFlags)
	if err != nil {
		if mapFlags == unix.MAP_SHARED {
			return nil, fmt.Errorf("mmap stream %s: %w", path, err)
		}
		// Some filesystems cannot be mapped; loading is equivalent for a
		// private mapping.
		slog.Debug("mmap failed, loading stream", "path", path, "error", err)
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		return newStream(path, data, nil)
	}

	s, err := newStream(path, data, func() error { return unix.Munmap(data) })
	if err != nil {
		unix.Munmap(data)
		return nil, err
	}
	return s, nil
}

// FromBytes builds a stream over an in-memory file image (header included).
func FromBytes(name string, data []byte) (*Stream, error) {
	return newStream(name, data, nil)
}

func newStream(name string, data []byte, unmap func() error) (*Stream, error) {
	if err := checkHeader(data); err != nil {
		return nil, fmt.Errorf("stream %s: %w", name, err)
	}
	return &Stream{
		name:   name,
		data:   data,
		buf:    data[HeaderSize:],
		unmap:  unmap,
		active: true,
	}, nil
}

func checkHeader(data []byte) error {
	if len(data) < HeaderSize {
		return ErrBadHeader
	}
	if string(data[:4]) != Magic {
		return fmt.Errorf("%w: magic %q", ErrBadHeader, data[:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrBadHeader, v)
	}
	return nil
}

// AppendHeader appends a stream file header to dst.
func AppendHeader(dst []byte) []byte {
	dst = append(dst, Magic...)
	return binary.LittleEndian.AppendUint32(dst, Version)
}

// Close releases the mapping. Events obtained from the stream must not be
// used afterwards.
func (s *Stream) Close() error {
	s.active = false
	if s.unmap == nil {
		return nil
	}
	err := s.unmap()
	s.unmap = nil
	s.buf = nil
	s.data = nil
	return err
}

// Name returns the path or name the stream was opened with.
func (s *Stream) Name() string { return s.name }

// Events returns the event region of the stream buffer.
func (s *Stream) Events() []byte { return s.buf }

// SetOffset sets the clock offset in nanoseconds applied to every event.
func (s *Stream) SetOffset(ns int64) { s.offset = ns }

// Offset returns the clock offset in nanoseconds.
func (s *Stream) Offset() int64 { return s.offset }

// Active reports whether the stream can still produce events.
func (s *Stream) Active() bool { return s.active }

// Advance decodes the event under the cursor into the head and moves the
// cursor past it. It returns false once the stream is exhausted, at which
// point the stream is inactive and has no head.
func (s *Stream) Advance() (bool, error) {
	if s.off >= len(s.buf) {
		s.active = false
		s.head = ev.Event{}
		return false, nil
	}

	e, err := ev.Decode(s.buf, s.off)
	if err != nil {
		s.active = false
		return false, fmt.Errorf("stream %s: %w", s.name, err)
	}

	s.head = e
	s.off += e.Size
	return true, nil
}

// Head returns the last event decoded by Advance.
func (s *Stream) Head() *ev.Event { return &s.head }

// Clock returns the corrected clock of the head event.
func (s *Stream) Clock() int64 {
	return int64(s.head.Clock) + s.offset
}

// Progress returns the number of event bytes consumed so far.
func (s *Stream) Progress() int64 { return int64(s.off) }

// Size returns the number of event bytes in the stream.
func (s *Stream) Size() int64 { return int64(len(s.buf)) }
