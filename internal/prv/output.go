package prv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/ovniemu/internal/system"
)

// Output file names inside the output directory.
const (
	ThreadTrace = "thread.prv"
	CPUTrace    = "cpu.prv"
	ThreadRows  = "thread.row"
	CPURows     = "cpu.row"
	Config      = "paraver.pcf"
)

// Output is the pair of traces of a run: one row per thread and one row per
// CPU.
type Output struct {
	Dir    string
	Thread *Writer
	CPU    *Writer
}

// CreateOutput creates dir if needed and the two trace files in it.
func CreateOutput(dir string) (*Output, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	th, err := Create(filepath.Join(dir, ThreadTrace))
	if err != nil {
		return nil, err
	}
	cpu, err := Create(filepath.Join(dir, CPUTrace))
	if err != nil {
		th.Close()
		return nil, err
	}
	return &Output{Dir: dir, Thread: th, CPU: cpu}, nil
}

// Finish writes the row name files and the event type configuration for
// sys and closes both traces.
func (o *Output) Finish(sys *system.System, labels map[int]string) error {
	o.Thread.SetRows(len(sys.Threads))
	o.CPU.SetRows(len(sys.CPUs))

	errs := []error{
		WriteRows(filepath.Join(o.Dir, ThreadRows), "THREAD", ThreadNames(sys)),
		WriteRows(filepath.Join(o.Dir, CPURows), "CPU", CPUNames(sys)),
		WriteConfig(filepath.Join(o.Dir, Config), labels),
	}
	errs = append(errs, o.Close())
	return errors.Join(errs...)
}

// Close closes both traces.
func (o *Output) Close() error {
	return errors.Join(o.Thread.Close(), o.CPU.Close())
}

// ThreadNames returns the row names of the threads of sys in row order.
func ThreadNames(sys *system.System) []string {
	names := make([]string, len(sys.Threads))
	for i, th := range sys.Threads {
		names[i] = fmt.Sprintf("TH %s.%d.%d", th.Proc.Loom.Host, th.Proc.PID, th.TID)
	}
	return names
}

// CPUNames returns the row names of the CPUs of sys in row order.
func CPUNames(sys *system.System) []string {
	names := make([]string, len(sys.CPUs))
	for i, cpu := range sys.CPUs {
		if cpu.Virtual {
			names[i] = fmt.Sprintf("vCPU %s", cpu.Loom.Host)
		} else {
			names[i] = fmt.Sprintf("CPU %s.%d", cpu.Loom.Host, cpu.Index)
		}
	}
	return names
}

// WriteRows writes a row name file: a LEVEL line followed by one name per
// row.
func WriteRows(path, level string, names []string) error {
	return writeFile(path, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintf(w, "LEVEL %s SIZE %d\n", level, len(names)); err != nil {
			return err
		}
		for _, name := range names {
			if _, err := fmt.Fprintln(w, name); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteConfig writes the event type labels, sorted by type.
func WriteConfig(path string, labels map[int]string) error {
	types := make([]int, 0, len(labels))
	for t := range labels {
		types = append(types, t)
	}
	sort.Ints(types)

	return writeFile(path, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintln(w, "EVENT_TYPE"); err != nil {
			return err
		}
		for _, t := range types {
			if _, err := fmt.Fprintf(w, "0 %-4d %s\n", t, labels[t]); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeFile(path string, fill func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
