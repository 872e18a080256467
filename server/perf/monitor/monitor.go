// Package monitor implements the concurrent timing and counter registry that
// every other component of the performance layer reports into. Categories are
// created on first use and may be written from the main tick goroutine and
// from async pool workers at the same time.
package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Well-known counter categories. Components report through these so the
// periodic report has stable names.
const (
	RedstoneThrottled  = "redstone-throttled"
	ObserverDebounced  = "observer-debounced"
	TickCoalesced      = "tick-coalesced"
	DetonationsBatched = "detonations-batched"
	TrackerOverflow    = "tracker-overflow"
	SpawnerOverflow    = "spawner-overflow"
	HopperSkips        = "hopper-skips"
)

// Well-known timing categories.
const (
	Entities       = "entities"
	Blocks         = "blocks"
	Chunks         = "chunks"
	Redstone       = "redstone"
	EntityTracking = "entity-tracking"
	MobSpawning    = "mob-spawning"
	TickTotal      = "tick-total"
)

// Config holds the tunable parameters for the monitor. The zero value is
// usable; defaults are applied by withDefaults.
type Config struct {
	// Log is the logger the monitor reports through. Defaults to
	// slog.Default().
	Log *slog.Logger
	// ReportInterval is the number of host ticks between periodic report
	// drains. A value of 0 disables periodic reporting without disabling
	// recording.
	ReportInterval int
}

func (c Config) withDefaults() Config {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.ReportInterval < 0 {
		c.ReportInterval = 0
	}
	return c
}

// Monitor aggregates timings and counters across goroutines. All recording
// methods are safe for concurrent use.
type Monitor struct {
	log            *slog.Logger
	reportInterval int

	timings  sync.Map // map[string]*timing
	counters sync.Map // map[string]*atomic.Int64

	ticksSinceReport int
}

// New creates a Monitor from the configuration.
func New(c Config) *Monitor {
	c = c.withDefaults()
	return &Monitor{log: c.Log, reportInterval: c.ReportInterval}
}

// timing is the concurrent accumulator behind a single timing category. The
// three fields are updated independently; each is individually consistent.
type timing struct {
	total atomic.Int64
	max   atomic.Int64
	count atomic.Int64
}

func (t *timing) record(nanos int64) {
	t.total.Add(nanos)
	t.count.Add(1)
	for {
		cur := t.max.Load()
		if nanos <= cur || t.max.CompareAndSwap(cur, nanos) {
			return
		}
	}
}

// Timing is an immutable snapshot of a timing category.
type Timing struct {
	Total time.Duration
	Max   time.Duration
	Count int64
}

// Avg returns the mean duration of the window, or 0 if nothing was recorded.
func (t Timing) Avg() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// Report is one category's drained window, produced by Tick.
type Report struct {
	Category string
	Timing   Timing
	Counter  int64
}

func (m *Monitor) timing(category string) *timing {
	if v, ok := m.timings.Load(category); ok {
		return v.(*timing)
	}
	v, _ := m.timings.LoadOrStore(category, &timing{})
	return v.(*timing)
}

func (m *Monitor) counter(name string) *atomic.Int64 {
	if v, ok := m.counters.Load(name); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.counters.LoadOrStore(name, &atomic.Int64{})
	return v.(*atomic.Int64)
}

// Record adds a measurement to the category. Safe from any goroutine. A nil
// monitor drops the measurement, so components may run without one.
func (m *Monitor) Record(category string, d time.Duration) {
	if m == nil {
		return
	}
	m.timing(category).record(int64(d))
}

// Measure starts a measurement and returns the function that stops and
// records it, for use as `defer m.Measure(category)()`.
func (m *Monitor) Measure(category string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.Record(category, time.Since(start))
	}
}

// Inc increments a counter category by one.
func (m *Monitor) Inc(name string) {
	m.Add(name, 1)
}

// Add increments a counter category by n.
func (m *Monitor) Add(name string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.counter(name).Add(n)
}

// Counter returns the current value of a counter category.
func (m *Monitor) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	if v, ok := m.counters.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Snapshot returns the current window of a timing category without resetting
// it. An unknown category yields the zero Timing.
func (m *Monitor) Snapshot(category string) Timing {
	if m == nil {
		return Timing{}
	}
	v, ok := m.timings.Load(category)
	if !ok {
		return Timing{}
	}
	t := v.(*timing)
	return Timing{
		Total: time.Duration(t.total.Load()),
		Max:   time.Duration(t.max.Load()),
		Count: t.count.Load(),
	}
}

// SnapshotAndReset drains a timing category: it returns the window and zeroes
// the accumulator for the next one. Measurements recorded concurrently land
// in either the returned window or the next, never both and never neither.
func (m *Monitor) SnapshotAndReset(category string) Timing {
	if m == nil {
		return Timing{}
	}
	v, ok := m.timings.Load(category)
	if !ok {
		return Timing{}
	}
	t := v.(*timing)
	return Timing{
		Total: time.Duration(t.total.Swap(0)),
		Max:   time.Duration(t.max.Swap(0)),
		Count: t.count.Swap(0),
	}
}

// CounterSnapshotAndReset drains a counter category.
func (m *Monitor) CounterSnapshotAndReset(name string) int64 {
	if m == nil {
		return 0
	}
	if v, ok := m.counters.Load(name); ok {
		return v.(*atomic.Int64).Swap(0)
	}
	return 0
}

// Tick advances the monitor's internal tick counter. Once ReportInterval
// ticks have elapsed it drains every category and returns the report, sorted
// by category name; otherwise it returns nil. Must be called from the host
// tick goroutine only.
func (m *Monitor) Tick() []Report {
	if m == nil || m.reportInterval <= 0 {
		return nil
	}
	m.ticksSinceReport++
	if m.ticksSinceReport < m.reportInterval {
		return nil
	}
	m.ticksSinceReport = 0
	return m.Drain()
}

// Drain performs a full drain-and-reset pass over every known category,
// regardless of the report cadence.
func (m *Monitor) Drain() []Report {
	if m == nil {
		return nil
	}
	byName := make(map[string]*Report)
	get := func(name string) *Report {
		r, ok := byName[name]
		if !ok {
			r = &Report{Category: name}
			byName[name] = r
		}
		return r
	}
	m.timings.Range(func(k, _ any) bool {
		name := k.(string)
		get(name).Timing = m.SnapshotAndReset(name)
		return true
	})
	m.counters.Range(func(k, _ any) bool {
		name := k.(string)
		get(name).Counter = m.CounterSnapshotAndReset(name)
		return true
	})
	out := make([]Report, 0, len(byName))
	for _, r := range byName {
		if r.Timing.Count == 0 && r.Counter == 0 {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Log writes a drained report through the monitor's logger. The host may use
// this directly or format reports itself.
func (m *Monitor) Log(reports []Report) {
	if m == nil || len(reports) == 0 {
		return
	}
	for _, r := range reports {
		if r.Timing.Count > 0 {
			m.log.Info("perf report",
				"category", r.Category,
				"avg", r.Timing.Avg(),
				"max", r.Timing.Max,
				"count", r.Timing.Count,
			)
		}
		if r.Counter > 0 {
			m.log.Info("perf counter", "category", r.Category, "value", r.Counter)
		}
	}
}
