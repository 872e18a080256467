// Package gate implements the two duplicate-work gates of the performance
// layer: a cross-tick debounce store that suppresses re-fires of a
// position-bound effect inside a minimum interval, and a tick-scoped
// coalescer that deduplicates identical work scheduled within one tick.
package gate

import (
	"sync"

	"github.com/brentp/intintmap"
	"github.com/dm-vev/tickcore/server/perf/monitor"
)

// DebounceUninitPanicMessage is the panic raised when a nil Debounce is used.
const DebounceUninitPanicMessage = "perf/gate: Debounce used before initialisation"

const (
	defaultMinInterval     = 2
	defaultStaleness       = 200
	defaultCleanupInterval = 1200

	tableSizeHint   = 1024
	tableFillFactor = 0.6
)

// DebounceConfig holds the tunable parameters for the debounce store.
type DebounceConfig struct {
	// Monitor receives the suppressed-fire counter. May be nil.
	Monitor *monitor.Monitor
	// Enabled toggles debouncing. When false every fire proceeds.
	Enabled bool
	// MinInterval is the minimum number of ticks between fires at the same
	// position. Defaults to 2.
	MinInterval int64
	// Staleness is the age in ticks past which an entry may be evicted
	// during cleanup. It is raised to MinInterval if configured lower, so
	// cleanup can never evict an entry still inside its debounce window.
	// Defaults to 200.
	Staleness int64
	// CleanupInterval is the minimum number of ticks between cleanup passes.
	// Defaults to 1200.
	CleanupInterval int64
}

func (c DebounceConfig) withDefaults() DebounceConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = defaultMinInterval
	}
	if c.Staleness <= 0 {
		c.Staleness = defaultStaleness
	}
	if c.Staleness < c.MinInterval {
		c.Staleness = c.MinInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

// Debounce suppresses re-fires of a position-bound effect faster than the
// minimum interval. Unlike the tick-scoped components it deliberately keeps
// state across ticks; memory is bounded by the periodic cleanup instead of a
// tick-boundary reset. The store is in the shared regime: async pool workers
// may consult it, so the table is mutex-guarded.
type Debounce struct {
	mon     *monitor.Monitor
	enabled bool

	minInterval     int64
	staleness       int64
	cleanupInterval int64

	mu              sync.Mutex
	lastFire        *intintmap.Map
	lastCleanupTick int64
}

// NewDebounce creates a Debounce from the configuration.
func NewDebounce(c DebounceConfig) *Debounce {
	c = c.withDefaults()
	return &Debounce{
		mon:             c.Monitor,
		enabled:         c.Enabled,
		minInterval:     c.MinInterval,
		staleness:       c.Staleness,
		cleanupInterval: c.CleanupInterval,
		lastFire:        intintmap.New(tableSizeHint, tableFillFactor),
	}
}

func (d *Debounce) check() {
	if d == nil {
		panic(DebounceUninitPanicMessage)
	}
}

// ShouldFire reports whether the effect at the block position may fire at
// the tick, recording the fire if so. The first observation of a position
// always fires.
func (d *Debounce) ShouldFire(block int64, tick int64) bool {
	d.check()
	if !d.enabled {
		return true
	}
	d.mu.Lock()
	last, seen := d.lastFire.Get(block)
	if seen && tick-last < d.minInterval {
		d.mu.Unlock()
		d.mon.Inc(monitor.ObserverDebounced)
		return false
	}
	d.lastFire.Put(block, tick)
	d.mu.Unlock()
	return true
}

// Cleanup removes entries whose last fire is older than the staleness
// window. It is amortized: calls return immediately unless CleanupInterval
// ticks have elapsed since the previous pass.
func (d *Debounce) Cleanup(tick int64) {
	d.check()
	if !d.enabled {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if tick-d.lastCleanupTick < d.cleanupInterval {
		return
	}
	d.lastCleanupTick = tick

	threshold := tick - d.staleness
	fresh := intintmap.New(tableSizeHint, tableFillFactor)
	for kv := range d.lastFire.Items() {
		if kv[1] >= threshold {
			fresh.Put(kv[0], kv[1])
		}
	}
	d.lastFire = fresh
}

// TrackedPositions returns the number of positions currently in the store.
func (d *Debounce) TrackedPositions() int {
	d.check()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFire.Size()
}
