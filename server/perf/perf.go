// Package perf ties the tick performance layer together: the density
// throttler, detonation batcher, debounce and coalesce gates, async offload
// pools, hopper cache and the monitor they report into, owned as explicitly
// constructed instances by a single coordinator.
//
// The host loop drives the layer once per tick: TickStart before game logic
// runs, the component gates during it, and TickEnd after the last enqueue.
package perf

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dm-vev/tickcore/server/perf/batch"
	"github.com/dm-vev/tickcore/server/perf/gate"
	"github.com/dm-vev/tickcore/server/perf/hopper"
	"github.com/dm-vev/tickcore/server/perf/internal/tickguard"
	"github.com/dm-vev/tickcore/server/perf/monitor"
	"github.com/dm-vev/tickcore/server/perf/pool"
	"github.com/dm-vev/tickcore/server/perf/throttle"
)

// Acceleration describes the vector capability resolved once at startup.
// Call sites needing wide math consult this enum instead of probing at
// runtime.
type Acceleration uint8

const (
	// AccelerationScalar means no wide vector units were assumed.
	AccelerationScalar Acceleration = iota
	// AccelerationVector means the architecture carries usable 128-bit or
	// wider vector units.
	AccelerationVector
)

// String returns the name of the acceleration level.
func (a Acceleration) String() string {
	if a == AccelerationVector {
		return "vector"
	}
	return "scalar"
}

func detectAcceleration() Acceleration {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return AccelerationVector
	default:
		return AccelerationScalar
	}
}

// defaultShutdownGrace bounds Close when the caller's context carries no
// deadline of its own.
const defaultShutdownGrace = 5 * time.Second

// Core owns every component of the performance layer. It is constructed by
// New and handed to call sites by reference; there are no package-level
// singletons and no static accessors.
type Core struct {
	conf Config

	mon       *monitor.Monitor
	throttler *throttle.Throttler
	batcher   *batch.Batcher
	debounce  *gate.Debounce
	coalescer *gate.Coalescer
	tracker   *pool.Tracker
	spawner   *pool.Spawner
	hoppers   *hopper.Cache

	accel Acceleration

	inlineMu     sync.Mutex
	inlineSpawns []pool.SpawnResult
}

// New constructs the performance layer. Any component rejecting its
// configuration aborts construction: the layer refuses to start rather than
// run partially configured.
func New(c Config) (*Core, error) {
	c = c.withDefaults()
	core := &Core{conf: c, accel: detectAcceleration()}

	core.mon = monitor.New(monitor.Config{Log: c.Log, ReportInterval: c.ReportInterval})

	c.Throttle.Log = c.Log
	c.Throttle.Monitor = core.mon
	th, err := throttle.New(c.Throttle)
	if err != nil {
		return nil, fmt.Errorf("perf: %w", err)
	}
	core.throttler = th

	core.batcher = batch.New(batch.Config{
		Monitor:     core.mon,
		Enabled:     c.Batch.Enabled,
		GroupRadius: c.Batch.GroupRadius,
	})

	c.Debounce.Monitor = core.mon
	core.debounce = gate.NewDebounce(c.Debounce)

	c.Coalesce.Monitor = core.mon
	core.coalescer = gate.NewCoalescer(c.Coalesce)

	if c.AsyncTracking {
		c.Tracker.Log = c.Log
		c.Tracker.Monitor = core.mon
		core.tracker = pool.NewTracker(c.Tracker)
	}
	if c.AsyncSpawning {
		c.Spawner.Log = c.Log
		c.Spawner.Monitor = core.mon
		core.spawner = pool.NewSpawner(c.Spawner)
	}

	c.Hopper.Monitor = core.mon
	core.hoppers = hopper.New(c.Hopper)

	c.Log.Info("performance layer initialised", "acceleration", core.accel.String())
	return core, nil
}

// TickStart resets the tick-scoped components. The host loop calls it once
// per tick before any game logic consults the gates.
func (c *Core) TickStart(tick int64) {
	c.coalescer.Reset()
	c.throttler.ResetCounts()
	c.debounce.Cleanup(tick)
}

// TickEnd flushes the detonation batcher through apply, checks hotspot
// alerts and advances the monitor, returning the periodic report when one is
// due. The host loop calls it once per tick after the last enqueue.
func (c *Core) TickEnd(tick int64, apply batch.ApplyFunc) []monitor.Report {
	c.batcher.Flush(apply)
	c.throttler.CheckAlerts(tick)
	return c.mon.Tick()
}

// Status is a point-in-time view of the layer's live state, for host status
// commands and debug overlays.
type Status struct {
	// HotspotChunks is the number of chunks at or above the soft density
	// threshold this tick.
	HotspotChunks int
	// DebouncedPositions is the number of positions in the debounce store.
	DebouncedPositions int
	// ScheduledPositions is the number of unique positions the coalescer
	// admitted this tick.
	ScheduledPositions int
	// PendingDetonations is the number of detonations queued for the next
	// flush.
	PendingDetonations int
	// TrackerQueue and SpawnerQueue are the queued, not yet started task
	// counts of the async pools. 0 when the pool is disabled.
	TrackerQueue, SpawnerQueue int
	// PendingSpawns is the number of completed, not yet drained spawn
	// results.
	PendingSpawns int
}

// Status collects the live state of every component. It tolerates a zero
// Core: components that were never constructed contribute zero values, their
// guard panics converted by tickguard instead of crashing the status probe.
func (c *Core) Status() Status {
	var s Status
	s.HotspotChunks, _ = tickguard.Value(func() int { return len(c.throttler.Hotspots()) })
	s.DebouncedPositions, _ = tickguard.Value(func() int { return c.debounce.TrackedPositions() })
	s.ScheduledPositions, _ = tickguard.Value(func() int { return c.coalescer.ScheduledPositions() })
	s.PendingDetonations, _ = tickguard.Value(func() int { return c.batcher.Pending() })
	if c.tracker != nil {
		s.TrackerQueue = c.tracker.QueueLen()
	}
	if c.spawner != nil {
		s.SpawnerQueue = c.spawner.QueueLen()
		s.PendingSpawns = c.spawner.PendingResults()
	} else {
		c.inlineMu.Lock()
		s.PendingSpawns = len(c.inlineSpawns)
		c.inlineMu.Unlock()
	}
	return s
}

// Monitor returns the timing/counter registry.
func (c *Core) Monitor() *monitor.Monitor { return c.mon }

// Throttle returns the redstone density throttler.
func (c *Core) Throttle() *throttle.Throttler { return c.throttler }

// Batch returns the detonation batcher.
func (c *Core) Batch() *batch.Batcher { return c.batcher }

// Debounce returns the observer debounce store.
func (c *Core) Debounce() *gate.Debounce { return c.debounce }

// Coalescer returns the tick coalescer.
func (c *Core) Coalescer() *gate.Coalescer { return c.coalescer }

// Hoppers returns the container state cache.
func (c *Core) Hoppers() *hopper.Cache { return c.hoppers }

// Acceleration returns the vector capability resolved at startup.
func (c *Core) Acceleration() Acceleration { return c.accel }

// TrackEntity submits an entity broadcast task to the tracking pool, or runs
// it inline when async tracking is disabled or the entity type requires
// synchronous tracking in compat mode.
func (c *Core) TrackEntity(entityType string, task func()) {
	if c.tracker == nil {
		task()
		return
	}
	c.tracker.Track(entityType, task)
}

// RequiresSyncTracking reports whether the entity type is forced onto
// synchronous tracking. Always false when async tracking is disabled, since
// everything then runs synchronously anyway.
func (c *Core) RequiresSyncTracking(entityType string) bool {
	if c.tracker == nil {
		return false
	}
	return c.tracker.RequiresSync(entityType)
}

// SubmitSpawnEval schedules the async phase of a spawn job. With async
// spawning disabled the evaluation runs inline and the result is parked for
// the next DrainSpawnResults, preserving the two-phase contract.
func (c *Core) SubmitSpawnEval(job pool.SpawnJob) {
	if c.spawner == nil {
		res := pool.SpawnResult{Job: job.ID, Candidates: job.Eval()}
		c.inlineMu.Lock()
		c.inlineSpawns = append(c.inlineSpawns, res)
		c.inlineMu.Unlock()
		return
	}
	c.spawner.SubmitEval(job)
}

// DrainSpawnResults applies completed spawn evaluations. The host calls it
// on the main loop goroutine; entity creation side effects belong here and
// nowhere else.
func (c *Core) DrainSpawnResults(apply func(pool.SpawnResult)) {
	if c.spawner == nil {
		c.inlineMu.Lock()
		drained := c.inlineSpawns
		c.inlineSpawns = nil
		c.inlineMu.Unlock()
		for _, res := range drained {
			apply(res)
		}
		return
	}
	c.spawner.DrainResults(apply)
}

// Close shuts the async pools down: intake stops, in-flight work gets the
// grace period to finish, and the rest is abandoned. Close is idempotent and
// applies a 5 second grace period when ctx carries no deadline.
func (c *Core) Close(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownGrace)
		defer cancel()
	}
	var err error
	if c.tracker != nil {
		if e := c.tracker.Shutdown(ctx); e != nil {
			err = e
		}
	}
	if c.spawner != nil {
		if e := c.spawner.Shutdown(ctx); e != nil {
			err = e
		}
	}
	return err
}
