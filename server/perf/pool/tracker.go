package pool

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dm-vev/tickcore/server/perf/monitor"
)

const (
	defaultTrackerQueue   = 4096
	defaultTrackerDivisor = 4
)

// npcPatterns are the entity type name fragments that mark an entity as
// NPC-like. Consumers of NPC tracking data require same-thread visibility
// with the main loop, so compat mode forces these back to synchronous
// execution.
var npcPatterns = [...]string{"NPC", "Citizens", "FancyNpc", "ZNpc"}

// TrackerConfig holds the parameters for the entity tracking pool.
type TrackerConfig struct {
	// Log is the logger the pool reports through. Defaults to slog.Default().
	Log *slog.Logger
	// Monitor receives tracking timings and the overflow counter. May be nil.
	Monitor *monitor.Monitor
	// Threads overrides the worker count. 0 derives it from available
	// parallelism: NumCPU / ThreadDivisor, minimum 1.
	Threads int
	// ThreadDivisor is the divisor applied to NumCPU when Threads is 0.
	// Defaults to 4 (a quarter of the cores).
	ThreadDivisor int
	// CompatMode forces NPC-like entity categories back onto synchronous
	// execution.
	CompatMode bool
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.ThreadDivisor <= 0 {
		c.ThreadDivisor = defaultTrackerDivisor
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU() / c.ThreadDivisor
		if c.Threads < 1 {
			c.Threads = 1
		}
	}
	return c
}

// Tracker runs entity broadcast work off the main tick goroutine.
type Tracker struct {
	*Pool
	compatMode bool

	// classified memoises RequiresSync verdicts by the xxhash of the entity
	// type name, so steady-state classification is one map probe.
	classified sync.Map // map[uint64]bool
}

// NewTracker creates the entity tracking pool.
func NewTracker(c TrackerConfig) *Tracker {
	c = c.withDefaults()
	mon := c.Monitor
	t := &Tracker{compatMode: c.CompatMode}
	t.Pool = New(Config{
		Log:        c.Log,
		Name:       "entity-tracker",
		Workers:    c.Threads,
		QueueSize:  defaultTrackerQueue,
		OnOverflow: func() { mon.Inc(monitor.TrackerOverflow) },
		Wrap: func(task func()) {
			defer mon.Measure(monitor.EntityTracking)()
			task()
		},
	})
	c.Log.Info("async entity tracker initialised", "threads", c.Threads, "compatMode", c.CompatMode)
	return t
}

// RequiresSync reports whether an entity type name must be tracked
// synchronously on the main loop. Always false outside compat mode.
func (t *Tracker) RequiresSync(entityType string) bool {
	if !t.compatMode {
		return false
	}
	h := xxhash.Sum64String(entityType)
	if v, ok := t.classified.Load(h); ok {
		return v.(bool)
	}
	needsSync := false
	for _, pat := range npcPatterns {
		if strings.Contains(entityType, pat) {
			needsSync = true
			break
		}
	}
	t.classified.Store(h, needsSync)
	return needsSync
}

// Track submits an entity broadcast task, honouring compat mode: work for
// NPC-like entity types runs on the calling goroutine.
func (t *Tracker) Track(entityType string, task func()) {
	if t.RequiresSync(entityType) {
		task()
		return
	}
	t.Submit(task)
}
