package throttle

import (
	"testing"

	"github.com/dm-vev/tickcore/server/perf/key"
	"github.com/dm-vev/tickcore/server/perf/monitor"
)

func newEnabled(t *testing.T, mon *monitor.Monitor) *Throttler {
	t.Helper()
	th, err := New(Config{Monitor: mon, Enabled: true, Soft: 64, Hard: 150, Critical: 300})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return th
}

func trackN(th *Throttler, chunk int64, n int) {
	for i := 0; i < n; i++ {
		th.TrackUpdate(chunk)
	}
}

func TestNewRejectsUnorderedThresholds(t *testing.T) {
	cases := []Config{
		{Enabled: true, Soft: 0, Hard: 150, Critical: 300},
		{Enabled: true, Soft: 64, Hard: 64, Critical: 300},
		{Enabled: true, Soft: 64, Hard: 150, Critical: 150},
	}
	for _, c := range cases {
		if _, err := New(c); err == nil {
			t.Fatalf("expected error for thresholds %d/%d/%d", c.Soft, c.Hard, c.Critical)
		}
	}
	// Disabled throttlers do not validate thresholds: full bypass needs no
	// configuration at all.
	if _, err := New(Config{}); err != nil {
		t.Fatalf("disabled throttler should construct, got %v", err)
	}
}

func TestBelowSoftThresholdNeverThrottles(t *testing.T) {
	th := newEnabled(t, nil)
	chunk := key.Chunk(0, 0)
	trackN(th, chunk, 63)
	if d := th.TickDivisor(chunk); d != 1 {
		t.Fatalf("expected divisor 1 below soft threshold, got %d", d)
	}
	for tick := int64(0); tick < 100; tick++ {
		if !th.ShouldUpdate(chunk, key.Block(5, 64, 5), tick) {
			t.Fatalf("update throttled below soft threshold at tick %d", tick)
		}
	}
}

func TestDivisorTiers(t *testing.T) {
	th := newEnabled(t, nil)
	chunk := key.Chunk(1, 1)

	trackN(th, chunk, 64)
	if d := th.TickDivisor(chunk); d != 2 {
		t.Fatalf("expected divisor 2 at soft threshold, got %d", d)
	}
	trackN(th, chunk, 150-64)
	if d := th.TickDivisor(chunk); d != 4 {
		t.Fatalf("expected divisor 4 at hard threshold, got %d", d)
	}
	trackN(th, chunk, 300-150)
	if d := th.TickDivisor(chunk); d != 8 {
		t.Fatalf("expected divisor 8 at critical threshold, got %d", d)
	}
}

func TestCriticalChunkAllowsExactlyOneEighth(t *testing.T) {
	th := newEnabled(t, nil)
	chunk := key.Chunk(2, 2)
	block := key.Block(40, 70, 40)

	allowed := 0
	const ticks = 800
	for tick := int64(0); tick < ticks; tick++ {
		th.ResetCounts()
		trackN(th, chunk, 300)
		if th.ShouldUpdate(chunk, block, tick) {
			allowed++
		}
	}
	// The stagger term is constant per position, so a fixed position at
	// divisor 8 proceeds on exactly every 8th tick.
	if allowed != ticks/8 {
		t.Fatalf("expected %d allowed updates out of %d, got %d", ticks/8, ticks, allowed)
	}
}

func TestStaggerSpreadsPositionsAcrossTicks(t *testing.T) {
	th := newEnabled(t, nil)
	chunk := key.Chunk(3, 3)
	trackN(th, chunk, 300)

	allowedAtTick0 := 0
	const positions = 256
	for i := 0; i < positions; i++ {
		if th.ShouldUpdate(chunk, key.Block(i, 64, i*3), 0) {
			allowedAtTick0++
		}
	}
	// Roughly 1/8 of positions should be due on any single tick; all or
	// none would mean the stagger hash is not spreading.
	if allowedAtTick0 == 0 || allowedAtTick0 == positions {
		t.Fatalf("stagger did not spread positions: %d/%d allowed on one tick", allowedAtTick0, positions)
	}
}

func TestResetCountsDropsAllDensity(t *testing.T) {
	th := newEnabled(t, nil)
	chunk := key.Chunk(4, 4)
	trackN(th, chunk, 500)
	th.ResetCounts()
	th.TrackUpdate(chunk)
	if d := th.TickDivisor(chunk); d != 1 {
		t.Fatalf("expected divisor 1 after reset with a single update, got %d", d)
	}
	if stats := th.ChunkStats(chunk); stats.UpdateCount != 1 {
		t.Fatalf("expected count 1 after reset, got %d", stats.UpdateCount)
	}
}

func TestHotspots(t *testing.T) {
	th := newEnabled(t, nil)
	quiet, busy := key.Chunk(5, 5), key.Chunk(6, 6)
	trackN(th, quiet, 10)
	trackN(th, busy, 200)

	hot := th.Hotspots()
	if len(hot) != 1 {
		t.Fatalf("expected exactly one hotspot, got %d", len(hot))
	}
	if hot[busy] != 200 {
		t.Fatalf("expected hotspot count 200, got %d", hot[busy])
	}
}

func TestSuppressionReportsCounter(t *testing.T) {
	mon := monitor.New(monitor.Config{})
	th := newEnabled(t, mon)
	chunk := key.Chunk(7, 7)
	block := key.Block(100, 64, 100)
	trackN(th, chunk, 300)

	suppressed := 0
	for tick := int64(0); tick < 8; tick++ {
		if !th.ShouldUpdate(chunk, block, tick) {
			suppressed++
		}
	}
	if suppressed != 7 {
		t.Fatalf("expected 7 suppressions over one divisor cycle, got %d", suppressed)
	}
	if got := mon.Counter(monitor.RedstoneThrottled); got != 7 {
		t.Fatalf("expected throttled counter 7, got %d", got)
	}
}

func TestDisabledThrottlerBypasses(t *testing.T) {
	th, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunk := key.Chunk(8, 8)
	trackN(th, chunk, 10_000)
	if d := th.TickDivisor(chunk); d != 1 {
		t.Fatalf("expected divisor 1 when disabled, got %d", d)
	}
	if !th.ShouldUpdate(chunk, key.Block(1, 1, 1), 3) {
		t.Fatal("disabled throttler must always allow updates")
	}
}

func TestUseBeforeInitPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r != UninitPanicMessage {
			t.Fatalf("expected uninitialised panic, got %v", r)
		}
	}()
	var th *Throttler
	th.ShouldUpdate(0, 0, 0)
}
