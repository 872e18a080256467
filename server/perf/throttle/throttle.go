// Package throttle bounds per-chunk work by converting observed update
// density into a tick-skip divisor. Updates in over-dense chunks are let
// through at a reduced, fairly staggered rate instead of being dropped
// outright.
package throttle

import (
	"errors"
	"log/slog"

	"github.com/brentp/intintmap"
	"github.com/dm-vev/tickcore/server/perf/key"
	"github.com/dm-vev/tickcore/server/perf/monitor"
)

// UninitPanicMessage is the panic raised when a nil Throttler is used.
// Density protection is safety-critical, so use before initialisation fails
// loudly rather than silently allowing or denying updates.
const UninitPanicMessage = "perf/throttle: Throttler used before initialisation"

var errThresholdOrder = errors.New("perf/throttle: thresholds must satisfy 0 < soft < hard < critical")

const (
	defaultAlertInterval = 1200

	countsSizeHint   = 1024
	countsFillFactor = 0.6
)

// Config holds the tunable parameters for the throttler. Thresholds are
// updates per chunk per tick.
type Config struct {
	// Log is the logger hotspot alerts are reported through. Defaults to
	// slog.Default().
	Log *slog.Logger
	// Monitor receives the suppressed-update counter. May be nil.
	Monitor *monitor.Monitor
	// Enabled toggles the throttler. When false every gate proceeds.
	Enabled bool
	// Soft, Hard and Critical are the density thresholds mapping to tick
	// divisors 2, 4 and 8. Below Soft the divisor is 1.
	Soft, Hard, Critical int
	// AlertInterval is the minimum number of ticks between hotspot log
	// warnings. Defaults to 1200 (one minute).
	AlertInterval int64
}

func (c Config) withDefaults() Config {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.AlertInterval <= 0 {
		c.AlertInterval = defaultAlertInterval
	}
	return c
}

// Throttler tracks per-chunk update density for the current tick. It belongs
// to the synchronous tick regime: a single writer per tick, no locking on
// the counter map, and a ResetCounts call at every tick boundary.
type Throttler struct {
	log     *slog.Logger
	mon     *monitor.Monitor
	enabled bool

	soft, hard, critical int
	alertInterval        int64

	counts        *intintmap.Map
	lastAlertTick int64
}

// New creates a Throttler. It returns an error if the thresholds are not
// strictly ordered; a misconfigured throttler must refuse to start rather
// than protect nothing.
func New(c Config) (*Throttler, error) {
	c = c.withDefaults()
	if c.Enabled && (c.Soft <= 0 || c.Hard <= c.Soft || c.Critical <= c.Hard) {
		return nil, errThresholdOrder
	}
	t := &Throttler{
		log:           c.Log,
		mon:           c.Monitor,
		enabled:       c.Enabled,
		soft:          c.Soft,
		hard:          c.Hard,
		critical:      c.Critical,
		alertInterval: c.AlertInterval,
		counts:        intintmap.New(countsSizeHint, countsFillFactor),
	}
	if t.enabled {
		t.log.Info("redstone chunk throttle enabled", "soft", t.soft, "hard", t.hard, "critical", t.critical)
	}
	return t, nil
}

func (t *Throttler) check() {
	if t == nil {
		panic(UninitPanicMessage)
	}
}

// ResetCounts clears the per-chunk counters. Called exactly once per tick,
// before any TrackUpdate or ShouldUpdate calls for that tick.
func (t *Throttler) ResetCounts() {
	t.check()
	if !t.enabled || t.counts.Size() == 0 {
		return
	}
	t.counts = intintmap.New(countsSizeHint, countsFillFactor)
}

// TrackUpdate counts an update in the chunk. It is called unconditionally,
// including for updates that will themselves be throttled, so the density
// measurement stays accurate under suppression.
func (t *Throttler) TrackUpdate(chunk int64) {
	t.check()
	if !t.enabled {
		return
	}
	n, _ := t.counts.Get(chunk)
	t.counts.Put(chunk, n+1)
}

// TickDivisor returns 1, 2, 4 or 8 depending on the chunk's current-tick
// update count against the three thresholds.
func (t *Throttler) TickDivisor(chunk int64) int {
	t.check()
	if !t.enabled {
		return 1
	}
	n, _ := t.counts.Get(chunk)
	switch {
	case n >= int64(t.critical):
		return 8
	case n >= int64(t.hard):
		return 4
	case n >= int64(t.soft):
		return 2
	default:
		return 1
	}
}

// ShouldUpdate reports whether an update at the block position should
// proceed. In a throttled chunk each position is allowed through at a rate
// of 1/divisor, on ticks determined by its stagger hash, so no position is
// permanently starved or permanently favoured.
func (t *Throttler) ShouldUpdate(chunk, block int64, tick int64) bool {
	t.check()
	if !t.enabled {
		return true
	}
	divisor := t.TickDivisor(chunk)
	if divisor == 1 {
		return true
	}
	if (tick+key.Stagger(block))%int64(divisor) != 0 {
		t.mon.Inc(monitor.RedstoneThrottled)
		return false
	}
	return true
}

// Hotspots returns every chunk at or above the soft threshold with its
// current-tick update count.
func (t *Throttler) Hotspots() map[int64]int {
	t.check()
	if !t.enabled {
		return nil
	}
	hot := make(map[int64]int)
	for kv := range t.counts.Items() {
		if kv[1] >= int64(t.soft) {
			hot[kv[0]] = int(kv[1])
		}
	}
	return hot
}

// ChunkStats describes one chunk's density state for reporting.
type ChunkStats struct {
	UpdateCount int
	TickDivisor int
}

// ChunkStats returns the density state of a single chunk.
func (t *Throttler) ChunkStats(chunk int64) ChunkStats {
	t.check()
	if !t.enabled {
		return ChunkStats{TickDivisor: 1}
	}
	n, _ := t.counts.Get(chunk)
	return ChunkStats{UpdateCount: int(n), TickDivisor: t.TickDivisor(chunk)}
}

// CheckAlerts logs a rate-limited warning when hotspot chunks are present.
func (t *Throttler) CheckAlerts(tick int64) {
	t.check()
	if !t.enabled || tick-t.lastAlertTick < t.alertInterval {
		return
	}
	var critical, hard, soft int
	for _, n := range t.Hotspots() {
		switch {
		case n >= t.critical:
			critical++
		case n >= t.hard:
			hard++
		default:
			soft++
		}
	}
	if critical == 0 && hard == 0 {
		return
	}
	t.log.Warn("redstone hotspots detected",
		"critical", critical, "hard", hard, "soft", soft,
		"chunks", critical+hard+soft,
	)
	t.lastAlertTick = tick
}
