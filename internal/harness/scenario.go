package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ovniemu/internal/ev"
)

// Scenario defines an emulation test scenario: a synthetic trace, the run
// options and the assertions on the emitted records.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Linter runs the emulator in linter mode.
	Linter bool `yaml:"linter,omitempty"`

	// Models lists extra CUE model tables, relative to the scenario file.
	Models []string `yaml:"models,omitempty"`

	// Offsets is a clock offset table, in the clkoff text format.
	Offsets string `yaml:"offsets,omitempty"`

	// Looms describes the trace.
	Looms []LoomSpec `yaml:"looms"`

	// Expect validates the outcome of the run.
	Expect Expect `yaml:"expect"`

	// Assertions validate the emitted records.
	// Supported types: record, no_record, record_count
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Golden lists the record types kept in the golden snapshot. Empty
	// keeps every record.
	Golden []int `yaml:"golden,omitempty"`
}

// LoomSpec is one node of the synthetic trace.
type LoomSpec struct {
	Host  string     `yaml:"host"`
	CPUs  []int      `yaml:"cpus"`
	Procs []ProcSpec `yaml:"procs"`
}

// ProcSpec is one process.
type ProcSpec struct {
	PID     int          `yaml:"pid"`
	AppID   int          `yaml:"app_id"`
	Rank    int          `yaml:"rank"`
	NRanks  int          `yaml:"nranks"`
	Threads []ThreadSpec `yaml:"threads"`
}

// ThreadSpec is one thread and its stream, in file order.
type ThreadSpec struct {
	TID    int         `yaml:"tid"`
	Events []EventSpec `yaml:"events"`
}

// EventSpec is one event. In YAML it is either a string
// "<clock> <mcv> [args...]" or a mapping with clock, mcv, args and label.
// A label is appended to the arguments NUL-terminated.
type EventSpec struct {
	Clock int64   `yaml:"clock"`
	MCV   string  `yaml:"mcv"`
	Args  []int32 `yaml:"args,omitempty"`
	Label string  `yaml:"label,omitempty"`
}

// UnmarshalYAML accepts both event forms.
func (e *EventSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return e.parse(node.Value)
	}
	type plain EventSpec
	return node.Decode((*plain)(e))
}

func (e *EventSpec) parse(s string) error {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return fmt.Errorf("event %q: expected clock and mcv", s)
	}
	clock, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return fmt.Errorf("event %q: bad clock: %w", s, err)
	}
	e.Clock = clock
	e.MCV = fields[1]
	for _, f := range fields[2:] {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return fmt.Errorf("event %q: bad argument %q", s, f)
		}
		e.Args = append(e.Args, int32(v))
	}
	return nil
}

// Payload returns the encoded arguments and label.
func (e *EventSpec) Payload() []byte {
	var payload []byte
	if len(e.Args) > 0 {
		payload = ev.Args(e.Args...)
	}
	if e.Label != "" {
		payload = append(payload, e.Label...)
		payload = append(payload, 0)
	}
	return payload
}

// Expect specifies the expected outcome of the run.
type Expect struct {
	// Code is the expected error code of a failed run (e.g. "LOGIC").
	// Empty means the run must succeed.
	Code string `yaml:"code,omitempty"`

	// Error is a substring of the expected error message.
	Error string `yaml:"error,omitempty"`

	// Stats are checked only when set.
	Events   *int64 `yaml:"events,omitempty"`
	Warnings *int64 `yaml:"warnings,omitempty"`
	Regions  *int   `yaml:"regions,omitempty"`
	Jumps    *int   `yaml:"jumps,omitempty"`
}

// Assertion validates the emitted records.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record": the record is emitted
	// - "no_record": the record is never emitted
	// - "record_count": records of a type are emitted exactly Count times
	Type string `yaml:"type"`

	// Kind selects the thread or cpu records.
	Kind string `yaml:"kind"`

	// Record is a record as row:time:type:value (record, no_record).
	Record string `yaml:"record,omitempty"`

	// RecordType and Count are used by record_count.
	RecordType int `yaml:"record_type,omitempty"`
	Count      int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertRecord      = "record"
	AssertNoRecord    = "no_record"
	AssertRecordCount = "record_count"
)

// Record kinds.
const (
	KindThread = "thread"
	KindCPU    = "cpu"
)

// LoadScenario loads and validates a scenario from a YAML file. Model paths
// are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos)
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, m := range scenario.Models {
		if !filepath.IsAbs(m) {
			scenario.Models[i] = filepath.Join(base, m)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Looms) == 0 {
		return fmt.Errorf("looms list is required and must be non-empty")
	}

	for _, m := range s.Models {
		if _, err := os.Stat(m); os.IsNotExist(err) {
			return fmt.Errorf("model file not found: %s", m)
		}
	}

	hosts := make(map[string]bool)
	for i, l := range s.Looms {
		if l.Host == "" {
			return fmt.Errorf("looms[%d]: host is required", i)
		}
		if hosts[l.Host] {
			return fmt.Errorf("looms[%d]: duplicate host %q", i, l.Host)
		}
		hosts[l.Host] = true
		if len(l.Procs) == 0 {
			return fmt.Errorf("looms[%d]: procs list is required", i)
		}
		for j, p := range l.Procs {
			if p.PID <= 0 {
				return fmt.Errorf("looms[%d].procs[%d]: pid must be positive", i, j)
			}
			for k, th := range p.Threads {
				if th.TID <= 0 {
					return fmt.Errorf("looms[%d].procs[%d].threads[%d]: tid must be positive", i, j, k)
				}
				for n, e := range th.Events {
					if len(e.MCV) != 3 {
						return fmt.Errorf("looms[%d].procs[%d].threads[%d].events[%d]: mcv %q must have 3 characters", i, j, k, n, e.MCV)
					}
				}
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Kind != KindThread && a.Kind != KindCPU {
		return fmt.Errorf("assertions[%d]: kind must be %q or %q", index, KindThread, KindCPU)
	}

	switch a.Type {
	case AssertRecord, AssertNoRecord:
		if strings.Count(a.Record, ":") != 3 {
			return fmt.Errorf("assertions[%d]: record must be row:time:type:value for %s", index, a.Type)
		}
	case AssertRecordCount:
		if a.RecordType <= 0 {
			return fmt.Errorf("assertions[%d]: record_type is required for record_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
