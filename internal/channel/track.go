package channel

import "fmt"

// Track selects which threads a CPU channel mirrors.
type Track uint8

const (
	// TrackNone channels are driven by hand.
	TrackNone Track = iota

	// TrackRunning mirrors the thread running on the CPU.
	TrackRunning

	// TrackActive mirrors the thread running, cooling or warming on the CPU.
	TrackActive
)

// ParseTrack converts a declared tracking mode name.
func ParseTrack(s string) (Track, error) {
	switch s {
	case "", "none":
		return TrackNone, nil
	case "running":
		return TrackRunning, nil
	case "active":
		return TrackActive, nil
	}
	return 0, fmt.Errorf("unknown tracking mode %q", s)
}

func (t Track) String() string {
	switch t {
	case TrackRunning:
		return "running"
	case TrackActive:
		return "active"
	}
	return "none"
}

// Aggregate makes cpu reflect the candidate thread channels:
//
//	0 threads   cpu disabled
//	1 thread    cpu enabled, copy of the thread value
//	2+ threads  cpu enabled, ValueTooManyThreads
//
// The cpu channel only becomes dirty when what it shows changes, so
// aggregating twice over the same threads emits nothing new. A single
// disabled thread channel is inconsistent: cpu shows ValueBad and an
// *Error with CodeInconsistent is returned.
func Aggregate(cpu *Channel, threads []*Channel) error {
	switch len(threads) {
	case 0:
		if cpu.enabled {
			return cpu.Disable()
		}
		return nil

	case 1:
		th := threads[0]
		if !th.enabled {
			cpu.assign(ValueBad)
			return cpu.errorf(CodeInconsistent, "tracked thread channel %s is disabled", th.name)
		}
		cpu.assign(th.top())
		if v, ok := th.Pulse(); ok && !cpu.hasPulse {
			cpu.pulse = v
			cpu.hasPulse = true
			cpu.markDirty(DirtyValue)
		}
		return nil

	default:
		cpu.assign(ValueTooManyThreads)
		return nil
	}
}
