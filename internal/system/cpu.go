package system

import (
	"strconv"

	"github.com/roach88/ovniemu/internal/channel"
)

// CPU is a physical CPU of a loom, or the loom's virtual CPU.
type CPU struct {
	Index   int
	PhyID   int
	Virtual bool
	Loom    *Loom
	Row     int

	// Chans has one channel per layout slot, nil for thread-only slots.
	Chans []*channel.Channel

	// Threads assigned to the CPU, in assignment order.
	threads []*Thread
	pending bool
}

// Label returns the index of the CPU, or "v" for the virtual CPU.
func (c *CPU) Label() string {
	if c.Virtual {
		return "v"
	}
	return strconv.Itoa(c.Index)
}

// Threads returns the threads assigned to the CPU.
func (c *CPU) Threads() []*Thread { return c.threads }

// Running returns the assigned threads in the Running state.
func (c *CPU) Running() []*Thread {
	return c.filter(func(th *Thread) bool { return th.State == Running })
}

// Active returns the assigned threads that are running, cooling or warming.
func (c *CPU) Active() []*Thread {
	return c.filter(func(th *Thread) bool { return th.State.Active() })
}

func (c *CPU) filter(keep func(*Thread) bool) []*Thread {
	var out []*Thread
	for _, th := range c.threads {
		if keep(th) {
			out = append(out, th)
		}
	}
	return out
}

func (c *CPU) add(th *Thread) {
	c.threads = append(c.threads, th)
}

func (c *CPU) remove(th *Thread) bool {
	for i, t := range c.threads {
		if t == th {
			copy(c.threads[i:], c.threads[i+1:])
			c.threads[len(c.threads)-1] = nil
			c.threads = c.threads[:len(c.threads)-1]
			return true
		}
	}
	return false
}
