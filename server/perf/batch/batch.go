// Package batch merges spatially clustered detonations queued during a tick
// into fewer, power-combined explosion calls applied at tick end.
package batch

import (
	"math"

	"github.com/dm-vev/tickcore/server/perf/monitor"
	"github.com/go-gl/mathgl/mgl64"
)

// UninitPanicMessage is the panic raised when a nil Batcher is used.
const UninitPanicMessage = "perf/batch: Batcher used before initialisation"

const defaultGroupRadius = 4.0

// ApplyFunc executes one resolved explosion. It is invoked synchronously
// during Flush and is the only point where the batcher touches world state.
type ApplyFunc func(pos mgl64.Vec3, power float32)

// Config holds the tunable parameters for the batcher.
type Config struct {
	// Monitor receives the batched-detonation counter. May be nil.
	Monitor *monitor.Monitor
	// Enabled toggles batching. When false, Enqueue is a no-op and Flush
	// applies nothing.
	Enabled bool
	// GroupRadius is the clustering radius in blocks. Defaults to 4.
	GroupRadius float64
}

func (c Config) withDefaults() Config {
	if c.GroupRadius <= 0 {
		c.GroupRadius = defaultGroupRadius
	}
	return c
}

type pending struct {
	pos   mgl64.Vec3
	power float32
}

// Batcher queues detonations for one tick. It belongs to the synchronous
// tick regime: enqueues and the flush happen on the host tick goroutine.
type Batcher struct {
	mon      *monitor.Monitor
	enabled  bool
	radiusSq float64

	queue []pending
}

// New creates a Batcher from the configuration.
func New(c Config) *Batcher {
	c = c.withDefaults()
	return &Batcher{
		mon:      c.Monitor,
		enabled:  c.Enabled,
		radiusSq: c.GroupRadius * c.GroupRadius,
		queue:    make([]pending, 0, 64),
	}
}

func (b *Batcher) check() {
	if b == nil {
		panic(UninitPanicMessage)
	}
}

// Enqueue queues a detonation for batch processing at tick end.
func (b *Batcher) Enqueue(pos mgl64.Vec3, power float32) {
	b.check()
	if !b.enabled {
		return
	}
	b.queue = append(b.queue, pending{pos: pos, power: power})
}

// Pending returns the number of detonations queued this tick.
func (b *Batcher) Pending() int {
	b.check()
	return len(b.queue)
}

// Flush resolves the queued detonations and applies the result. Must be
// called exactly once per tick, after all enqueues for that tick.
//
// Clustering is single-pass greedy: an arbitrary remaining item seeds a
// cluster that absorbs every remaining item within the group radius. Two
// far-apart items chained through a third may or may not merge depending on
// seed order; explosion visuals tolerate approximate grouping. A merged
// cluster applies at the arithmetic-mean position with combined power
// sqrt(sum of squares), deliberately sub-additive so n simultaneous unit
// explosions never produce an n-fold blast.
//
// The queue is cleared unconditionally, including when batching is disabled
// or the queue was empty, so nothing leaks into the next tick.
func (b *Batcher) Flush(apply ApplyFunc) {
	b.check()
	remaining := b.queue
	b.queue = b.queue[:0]
	if !b.enabled || len(remaining) == 0 {
		return
	}

	for len(remaining) > 0 {
		seed := remaining[0]
		remaining = remaining[1:]

		sum := seed.pos
		powerSumSq := float64(seed.power) * float64(seed.power)
		size := 1

		kept := remaining[:0]
		for _, other := range remaining {
			if other.pos.Sub(seed.pos).LenSqr() <= b.radiusSq {
				sum = sum.Add(other.pos)
				powerSumSq += float64(other.power) * float64(other.power)
				size++
				continue
			}
			kept = append(kept, other)
		}
		remaining = kept

		if size == 1 {
			apply(seed.pos, seed.power)
			continue
		}
		apply(sum.Mul(1/float64(size)), float32(math.Sqrt(powerSumSq)))
		b.mon.Add(monitor.DetonationsBatched, int64(size-1))
	}
}
