// Package clkoff loads the per-host clock offset table used to align the
// clocks of different nodes.
//
// The table is plain text. Blank lines, lines starting with '#' and lines
// whose samples are not numbers (headers) are skipped. Every other line holds
// a hostname followed by one or more offset samples in nanoseconds:
//
//	# hostname  offset samples...
//	node1       0
//	node2       -1520.5  -1498  -1503
//
// The offset of a host is the median of its samples, rounded to the nearest
// nanosecond.
package clkoff

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrMissingHost is returned by Lookup for hosts not in the table.
var ErrMissingHost = errors.New("host not in clock offset table")

// Table maps hostnames to clock offsets in nanoseconds.
type Table struct {
	offsets map[string]int64
	hosts   []string
}

// Load reads a table from the file at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open clock offset table: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a table from r.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{offsets: make(map[string]int64)}

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("clock offset table line %d: expected host and samples", line)
		}

		samples := make([]float64, 0, len(fields)-1)
		header := false
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				header = true
				break
			}
			samples = append(samples, v)
		}
		if header {
			continue
		}

		host := fields[0]
		if _, dup := t.offsets[host]; dup {
			return nil, fmt.Errorf("clock offset table line %d: duplicate host %q", line, host)
		}
		t.offsets[host] = median(samples)
		t.hosts = append(t.hosts, host)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read clock offset table: %w", err)
	}
	return t, nil
}

func median(samples []float64) int64 {
	sort.Float64s(samples)
	n := len(samples)
	m := samples[n/2]
	if n%2 == 0 {
		m = (samples[n/2-1] + samples[n/2]) / 2
	}
	return int64(math.Round(m))
}

// Lookup returns the offset of host.
func (t *Table) Lookup(host string) (int64, error) {
	off, ok := t.offsets[host]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingHost, host)
	}
	return off, nil
}

// Hosts returns the hosts in file order.
func (t *Table) Hosts() []string { return t.hosts }

// Len returns the number of hosts.
func (t *Table) Len() int { return len(t.hosts) }
