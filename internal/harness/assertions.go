package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/ovniemu/internal/channel"
)

// maxShown bounds the records printed by a failed assertion.
const maxShown = 20

// AssertionError is returned when an assertion fails.
// It includes the emitted records to help debug the failure.
type AssertionError struct {
	Type     string           // Assertion type for categorization
	Expected string           // Human-readable expected outcome
	Actual   string           // Human-readable actual outcome
	Records  []channel.Record // Records of the asserted kind
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Records) > 0 {
		fmt.Fprintf(&buf, "\nRecords:\n")
		for i, r := range e.Records {
			if i == maxShown {
				fmt.Fprintf(&buf, "  ... %d more\n", len(e.Records)-maxShown)
				break
			}
			fmt.Fprintf(&buf, "  %s\n", r)
		}
	}
	return buf.String()
}

// evaluateAssertion dispatches to the appropriate assertion function.
func evaluateAssertion(r *Result, a Assertion) error {
	records := r.Records(a.Kind)
	switch a.Type {
	case AssertRecord:
		return assertRecord(records, a)
	case AssertNoRecord:
		return assertNoRecord(records, a)
	case AssertRecordCount:
		return assertRecordCount(records, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func contains(records []channel.Record, want string) bool {
	for _, rec := range records {
		if rec.String() == want {
			return true
		}
	}
	return false
}

// assertRecord checks that the record was emitted.
func assertRecord(records []channel.Record, a Assertion) error {
	if contains(records, a.Record) {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecord,
		Expected: fmt.Sprintf("%s record %s", a.Kind, a.Record),
		Actual:   "not emitted",
		Records:  records,
	}
}

// assertNoRecord checks that the record was never emitted.
func assertNoRecord(records []channel.Record, a Assertion) error {
	if !contains(records, a.Record) {
		return nil
	}
	return &AssertionError{
		Type:     AssertNoRecord,
		Expected: fmt.Sprintf("no %s record %s", a.Kind, a.Record),
		Actual:   "emitted",
		Records:  records,
	}
}

// assertRecordCount checks the number of records of one type.
func assertRecordCount(records []channel.Record, a Assertion) error {
	count := 0
	for _, rec := range records {
		if rec.Type == a.RecordType {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecordCount,
		Expected: fmt.Sprintf("%d %s records of type %d", a.Count, a.Kind, a.RecordType),
		Actual:   fmt.Sprintf("%d records", count),
		Records:  records,
	}
}
