package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/roach88/ovniemu/internal/ev"
	"github.com/roach88/ovniemu/internal/metadata"
	"github.com/roach88/ovniemu/internal/stream"
)

// WriteTrace writes the trace described by the scenario under dir and loads
// it back.
func WriteTrace(dir string, s *Scenario) (*metadata.Trace, error) {
	for _, l := range s.Looms {
		cpus := make([]metadata.CPU, len(l.CPUs))
		for i, c := range l.CPUs {
			cpus[i] = metadata.CPU{Index: c, PhyID: c}
		}

		for _, p := range l.Procs {
			procDir := filepath.Join(dir, "loom."+l.Host, "proc."+strconv.Itoa(p.PID))
			if err := os.MkdirAll(procDir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", procDir, err)
			}
			meta := metadata.ProcMeta{AppID: p.AppID, Rank: p.Rank, NRanks: p.NRanks, CPUs: cpus}
			if err := metadata.WriteProcMeta(procDir, meta); err != nil {
				return nil, fmt.Errorf("write metadata of %s: %w", procDir, err)
			}

			for _, th := range p.Threads {
				data, err := encodeStream(th.Events)
				if err != nil {
					return nil, fmt.Errorf("thread %d: %w", th.TID, err)
				}
				path := filepath.Join(procDir, fmt.Sprintf("thread.%d.obs", th.TID))
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return nil, fmt.Errorf("write %s: %w", path, err)
				}
			}
		}
	}
	return metadata.Load(dir)
}

func encodeStream(events []EventSpec) ([]byte, error) {
	buf := stream.AppendHeader(nil)
	for _, e := range events {
		m, c, v := e.MCV[0], e.MCV[1], e.MCV[2]
		payload := e.Payload()
		if len(payload) == 1 || len(payload) > ev.MaxPayload {
			buf = ev.AppendJumbo(buf, m, c, v, uint64(e.Clock), payload)
			continue
		}
		var err error
		if buf, err = ev.Append(buf, m, c, v, uint64(e.Clock), payload); err != nil {
			return nil, fmt.Errorf("event %d %s: %w", e.Clock, e.MCV, err)
		}
	}
	return buf, nil
}
