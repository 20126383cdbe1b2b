// Package metadata discovers the layout of a trace directory.
//
// A trace is a directory tree written by the instrumentation library:
//
//	<trace>/loom.<host>/proc.<pid>/metadata.json
//	<trace>/loom.<host>/proc.<pid>/thread.<tid>[.obs]
//
// Each process directory carries a JSON document with the application id,
// the MPI rank and, for one process per loom, the list of CPUs of the node.
// Looms, processes and threads are returned sorted (host, pid, tid) so that
// every later stage sees the same order on every run.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Version is the metadata format version understood.
const Version = 2

// MetaFile is the name of the per-process metadata document.
const MetaFile = "metadata.json"

// CPU describes one physical CPU of a loom.
type CPU struct {
	Index int `json:"index"`
	PhyID int `json:"phyid"`
}

// ProcMeta is the content of a process metadata document.
type ProcMeta struct {
	Version int   `json:"version"`
	AppID   int   `json:"app_id"`
	Rank    int   `json:"rank"`
	NRanks  int   `json:"nranks"`
	CPUs    []CPU `json:"cpus,omitempty"`
}

// Thread is one thread stream file.
type Thread struct {
	TID  int
	Path string
}

// Proc is one process directory.
type Proc struct {
	PID     int
	Dir     string
	Meta    ProcMeta
	Threads []Thread
}

// Loom is one node directory.
type Loom struct {
	Host  string
	Dir   string
	CPUs  []CPU
	Procs []Proc
}

// Trace is a discovered trace directory.
type Trace struct {
	Dir   string
	Looms []Loom
}

// NThreads returns the number of thread streams in the trace.
func (t *Trace) NThreads() int {
	n := 0
	for _, l := range t.Looms {
		for _, p := range l.Procs {
			n += len(p.Threads)
		}
	}
	return n
}

// Load scans dir for looms, processes and threads.
func Load(dir string) (*Trace, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read trace dir: %w", err)
	}

	tr := &Trace{Dir: dir}
	for _, e := range entries {
		host, ok := strings.CutPrefix(e.Name(), "loom.")
		if !ok || !e.IsDir() {
			continue
		}
		loom, err := loadLoom(filepath.Join(dir, e.Name()), host)
		if err != nil {
			return nil, err
		}
		tr.Looms = append(tr.Looms, *loom)
	}

	if len(tr.Looms) == 0 {
		return nil, fmt.Errorf("no loom.* directories in %s", dir)
	}
	sort.Slice(tr.Looms, func(i, j int) bool { return tr.Looms[i].Host < tr.Looms[j].Host })
	return tr, nil
}

func loadLoom(dir, host string) (*Loom, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read loom %s: %w", host, err)
	}

	loom := &Loom{Host: host, Dir: dir}
	cpus := make(map[int]CPU)
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), "proc.")
		if !ok || !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("loom %s: bad process directory %q", host, e.Name())
		}
		proc, err := loadProc(filepath.Join(dir, e.Name()), pid)
		if err != nil {
			return nil, fmt.Errorf("loom %s: %w", host, err)
		}
		for _, c := range proc.Meta.CPUs {
			if prev, dup := cpus[c.Index]; dup && prev.PhyID != c.PhyID {
				return nil, fmt.Errorf("loom %s: cpu %d has phyid %d and %d", host, c.Index, prev.PhyID, c.PhyID)
			}
			cpus[c.Index] = c
		}
		loom.Procs = append(loom.Procs, *proc)
	}

	sort.Slice(loom.Procs, func(i, j int) bool { return loom.Procs[i].PID < loom.Procs[j].PID })
	for _, c := range cpus {
		loom.CPUs = append(loom.CPUs, c)
	}
	sort.Slice(loom.CPUs, func(i, j int) bool { return loom.CPUs[i].Index < loom.CPUs[j].Index })
	return loom, nil
}

func loadProc(dir string, pid int) (*Proc, error) {
	meta, err := ReadProcMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("proc %d: %w", pid, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read proc %d: %w", pid, err)
	}

	proc := &Proc{PID: pid, Dir: dir, Meta: *meta}
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), "thread.")
		if !ok || e.IsDir() {
			continue
		}
		tid, err := strconv.Atoi(strings.TrimSuffix(rest, ".obs"))
		if err != nil {
			return nil, fmt.Errorf("proc %d: bad thread file %q", pid, e.Name())
		}
		proc.Threads = append(proc.Threads, Thread{TID: tid, Path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(proc.Threads, func(i, j int) bool { return proc.Threads[i].TID < proc.Threads[j].TID })
	return proc, nil
}

// ReadProcMeta parses a process metadata document.
func ReadProcMeta(path string) (*ProcMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta ProcMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if meta.Version != Version {
		return nil, fmt.Errorf("%s: unsupported metadata version %d", path, meta.Version)
	}
	return &meta, nil
}

// WriteProcMeta writes a process metadata document into dir.
func WriteProcMeta(dir string, meta ProcMeta) error {
	if meta.Version == 0 {
		meta.Version = Version
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetaFile), data, 0o644)
}
