package gate

import (
	"github.com/brentp/intintmap"
	"github.com/dm-vev/tickcore/server/perf/monitor"
)

// CoalescerUninitPanicMessage is the panic raised when a nil Coalescer is used.
const CoalescerUninitPanicMessage = "perf/gate: Coalescer used before initialisation"

// CoalescerConfig holds the parameters for the tick coalescer.
type CoalescerConfig struct {
	// Monitor receives the coalesced-work counter. May be nil.
	Monitor *monitor.Monitor
	// Enabled toggles coalescing. When false every schedule proceeds.
	Enabled bool
}

// Coalescer prevents the same position from being scheduled for identical
// work more than once within a single tick. It has zero cross-tick memory by
// design: Reset clears the whole set at every tick boundary. Synchronous
// tick regime only, so the set needs no locking.
type Coalescer struct {
	mon     *monitor.Monitor
	enabled bool

	scheduled *intintmap.Map
}

// NewCoalescer creates a Coalescer from the configuration.
func NewCoalescer(c CoalescerConfig) *Coalescer {
	return &Coalescer{
		mon:       c.Monitor,
		enabled:   c.Enabled,
		scheduled: intintmap.New(tableSizeHint, tableFillFactor),
	}
}

func (c *Coalescer) check() {
	if c == nil {
		panic(CoalescerUninitPanicMessage)
	}
}

// ShouldTick reports whether the position should be scheduled, recording it
// if it was not already scheduled this tick.
func (c *Coalescer) ShouldTick(block int64) bool {
	c.check()
	if !c.enabled {
		return true
	}
	if _, seen := c.scheduled.Get(block); seen {
		c.mon.Inc(monitor.TickCoalesced)
		return false
	}
	c.scheduled.Put(block, 1)
	return true
}

// Reset clears the scheduled set. Must be called once per tick, before any
// ShouldTick calls for that tick.
func (c *Coalescer) Reset() {
	c.check()
	if !c.enabled || c.scheduled.Size() == 0 {
		return
	}
	c.scheduled = intintmap.New(tableSizeHint, tableFillFactor)
}

// ScheduledPositions returns the number of unique positions admitted this
// tick.
func (c *Coalescer) ScheduledPositions() int {
	c.check()
	return c.scheduled.Size()
}
