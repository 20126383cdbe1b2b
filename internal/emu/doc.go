// Package emu replays a trace through the models and emits the channel
// records of every thread and CPU.
//
// ARCHITECTURE:
//
// Three phases, each traced with an otel span:
//
// Load (emu.load):
// Streams are mapped and their unsorted regions repaired concurrently, at
// most WithLoadLimit at a time. The system is then built from the trace
// metadata, clock offsets are applied per loom and one interpreter is
// registered per model.
//
// Run (emu.run):
// A single goroutine pulls the merged event sequence from the player. Each
// event is dispatched to its model, the touched CPUs are re-aggregated and
// every dirty channel is flushed at the output time of the event.
//
// Finish (emu.finish):
// Leftover stacked values and running tasks are reported and the model
// finishers run.
//
// Output time:
// The output time of an event is its corrected clock minus the clock of the
// first event. It never decreases; a tolerated backwards jump keeps the
// previous time.
//
// Error policy:
// See Error. Outside linter mode a run only stops on errors that make the
// output meaningless.
package emu
