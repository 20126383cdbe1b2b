package channel

import (
	"errors"
	"fmt"
)

// Record is one emitted channel value.
type Record struct {
	Row   int
	Time  int64
	Type  int
	Value int64
}

// String renders the record as row:time:type:value.
func (r Record) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", r.Row, r.Time, r.Type, r.Value)
}

// Sink consumes emitted records.
type Sink interface {
	Emit(Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record) error

// Emit calls f(r).
func (f SinkFunc) Emit(r Record) error { return f(r) }

// MultiSink emits every record to all sinks.
type MultiSink []Sink

// Emit forwards r to every sink.
func (m MultiSink) Emit(r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps records in memory.
type Recorder struct {
	Records []Record
}

// Emit appends r.
func (r *Recorder) Emit(rec Record) error {
	r.Records = append(r.Records, rec)
	return nil
}

// Strings renders the recorded records.
func (r *Recorder) Strings() []string {
	out := make([]string, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.String()
	}
	return out
}

// Reset drops the recorded records.
func (r *Recorder) Reset() { r.Records = r.Records[:0] }
