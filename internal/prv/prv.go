// Package prv writes emulation output as Paraver traces.
//
// A trace is a header line followed by one state record per line:
//
//	#Paraver (19/01/38 at 03:14):00000000000000012345_ns:0:1:1(4:1)
//	2:0:1:1:1:0:1:101
//	2:0:1:1:1:30:45:1
//
// Record lines are 2:0:1:1:<row>:<time>:<type>:<value>. The duration and
// the row count in the header are only known when the run ends, so the
// header is written with a fixed-width duration and rewritten by Close.
package prv

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/roach88/ovniemu/internal/channel"
)

const headerFormat = "#Paraver (19/01/38 at 03:14):%020d_ns:0:1:1(%d:1)\n"

// Writer writes the records of one trace file. It implements channel.Sink.
//
// Records must be emitted in non-decreasing time order.
//
// Thread-safety: Emit and Close are safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	w       *bufio.Writer
	header  int
	rows    int
	last    int64
	records int64
	closed  bool
}

// Create creates the trace file at path, truncating it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	w := &Writer{path: path, f: f, w: bufio.NewWriterSize(f, 1<<20)}

	n, err := fmt.Fprintf(w.w, headerFormat, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("write header of %s: %w", path, err)
	}
	w.header = n
	return w, nil
}

// Path returns the file the writer writes to.
func (w *Writer) Path() string { return w.path }

// Emit writes one record.
func (w *Writer) Emit(r channel.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("write %s: writer closed", w.path)
	}
	if r.Time < w.last {
		return fmt.Errorf("write %s: record at %d after %d", w.path, r.Time, w.last)
	}
	w.last = r.Time
	w.records++
	if _, err := fmt.Fprintf(w.w, "2:0:1:1:%d:%d:%d:%d\n", r.Row, r.Time, r.Type, r.Value); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

// SetRows sets the row count written in the header by Close.
func (w *Writer) SetRows(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = n
}

// Records returns the number of records written so far.
func (w *Writer) Records() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Close flushes the records, rewrites the header with the final duration
// and row count and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	header := fmt.Sprintf(headerFormat, w.last, w.rows)
	if len(header) != w.header {
		// The row count grew wider than the placeholder.
		w.f.Close()
		return w.rewrite(header)
	}
	if _, err := w.f.WriteAt([]byte(header), 0); err != nil {
		w.f.Close()
		return fmt.Errorf("rewrite header of %s: %w", w.path, err)
	}
	return w.f.Close()
}

// rewrite replaces the header line with one of a different length.
func (w *Writer) rewrite(header string) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("rewrite header of %s: %w", w.path, err)
	}
	out := append([]byte(header), data[w.header:]...)
	if err := os.WriteFile(w.path, out, 0o644); err != nil {
		return fmt.Errorf("rewrite header of %s: %w", w.path, err)
	}
	return nil
}
