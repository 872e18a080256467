package perf

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dm-vev/tickcore/server/perf/key"
	"github.com/dm-vev/tickcore/server/perf/monitor"
	"github.com/dm-vev/tickcore/server/perf/pool"
	"github.com/dm-vev/tickcore/server/perf/throttle"
	"github.com/go-gl/mathgl/mgl64"
)

func newCore(t *testing.T, c Config) *Core {
	t.Helper()
	core, err := New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { core.Close(context.Background()) })
	return core
}

func TestNewRefusesBadThrottleConfig(t *testing.T) {
	_, err := New(Config{
		Throttle: throttle.Config{Enabled: true, Soft: 100, Hard: 50, Critical: 25},
	})
	if err == nil {
		t.Fatal("expected construction to abort on invalid thresholds")
	}
}

func TestFullBypassConfigProceedsEverywhere(t *testing.T) {
	core := newCore(t, Config{})

	core.TickStart(1)
	chunk := key.Chunk(0, 0)
	block := key.Block(1, 64, 1)
	core.Throttle().TrackUpdate(chunk)
	if !core.Throttle().ShouldUpdate(chunk, block, 1) {
		t.Fatal("bypass throttler must allow updates")
	}
	if !core.Debounce().ShouldFire(block, 1) || !core.Debounce().ShouldFire(block, 1) {
		t.Fatal("bypass debounce must allow fires")
	}
	if !core.Coalescer().ShouldTick(block) || !core.Coalescer().ShouldTick(block) {
		t.Fatal("bypass coalescer must admit schedules")
	}

	ran := false
	core.TrackEntity("CitizensNPC", func() { ran = true })
	if !ran {
		t.Fatal("disabled tracking pool must run tasks inline")
	}

	core.SubmitSpawnEval(pool.NewSpawnJob(func() []pool.SpawnCandidate {
		return []pool.SpawnCandidate{{Block: block, Type: "zombie"}}
	}))
	applied := 0
	core.DrainSpawnResults(func(pool.SpawnResult) { applied++ })
	if applied != 1 {
		t.Fatal("disabled spawn pool must still complete the two-phase contract")
	}

	if reports := core.TickEnd(1, func(mgl64.Vec3, float32) {
		t.Fatal("bypass batcher must not apply explosions")
	}); reports != nil {
		t.Fatalf("report interval 0 must not produce reports, got %v", reports)
	}
}

func TestStatusToleratesUninitialisedCore(t *testing.T) {
	var core Core
	if got := core.Status(); got != (Status{}) {
		t.Fatalf("uninitialised core must report a zero status, got %+v", got)
	}
}

func TestStatusReportsLiveState(t *testing.T) {
	conf := DefaultConfig().Config(slog.Default())
	conf.Throttle.Soft, conf.Throttle.Hard, conf.Throttle.Critical = 2, 4, 8
	core := newCore(t, conf)

	core.TickStart(0)
	chunk := key.Chunk(0, 0)
	for p := 0; p < 4; p++ {
		block := key.Block(p, 64, 0)
		core.Coalescer().ShouldTick(block)
		core.Debounce().ShouldFire(block, 0)
		core.Throttle().TrackUpdate(chunk)
	}
	core.Batch().Enqueue(mgl64.Vec3{0, 64, 0}, 4)

	s := core.Status()
	if s.HotspotChunks != 1 {
		t.Fatalf("expected 1 hotspot chunk, got %d", s.HotspotChunks)
	}
	if s.ScheduledPositions != 4 || s.DebouncedPositions != 4 {
		t.Fatalf("expected 4 scheduled and 4 debounced positions, got %d and %d",
			s.ScheduledPositions, s.DebouncedPositions)
	}
	if s.PendingDetonations != 1 {
		t.Fatalf("expected 1 pending detonation, got %d", s.PendingDetonations)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	core := newCore(t, Config{AsyncTracking: true, AsyncSpawning: true})
	if err := core.Close(context.Background()); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := core.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestUserConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.toml")

	// First read creates the file with defaults.
	created, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig (create): %v", err)
	}
	if created != DefaultConfig() {
		t.Fatal("created config does not match defaults")
	}

	created.Redstone.SoftThreshold = 32
	created.TNT.GroupRadius = 8
	if err := WriteConfig(path, created); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	loaded, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig (load): %v", err)
	}
	if loaded != created {
		t.Fatalf("config did not round trip: %+v != %+v", loaded, created)
	}
}

func TestDefaultConfigConstructs(t *testing.T) {
	conf := DefaultConfig().Config(slog.Default())
	core := newCore(t, conf)
	if core.Acceleration().String() == "" {
		t.Fatal("acceleration must resolve to a named level")
	}
}

func TestEndToEndThousandTicks(t *testing.T) {
	conf := DefaultConfig().Config(slog.Default())
	conf.ReportInterval = 0 // counters accumulate for the whole run
	conf.Throttle.Soft, conf.Throttle.Hard, conf.Throttle.Critical = 8, 16, 32
	core := newCore(t, conf)

	const (
		ticks     = 1000
		chunks    = 4
		perChunk  = 40 // well above the critical threshold
		tntEvery  = 50
		debouncer = 10
	)

	var (
		tracked   int64
		proceeded int64
		explosion atomic.Int64
		spawns    atomic.Int64
	)
	for tick := int64(0); tick < ticks; tick++ {
		core.TickStart(tick)

		for ci := 0; ci < chunks; ci++ {
			chunk := key.Chunk(int32(ci), 0)
			for p := 0; p < perChunk; p++ {
				block := key.Block(ci*16+p%16, 64, p/16)
				if !core.Coalescer().ShouldTick(block) {
					continue
				}
				core.Throttle().TrackUpdate(chunk)
				tracked++
				if core.Throttle().ShouldUpdate(chunk, block, tick) {
					proceeded++
				}
			}
		}

		core.Debounce().ShouldFire(key.Block(500, 64, 500), tick)
		if tick%debouncer == 0 {
			core.SubmitSpawnEval(pool.NewSpawnJob(func() []pool.SpawnCandidate {
				return []pool.SpawnCandidate{{Block: key.Block(600, 64, 600), Type: "zombie"}}
			}))
		}
		core.DrainSpawnResults(func(pool.SpawnResult) { spawns.Add(1) })
		core.TrackEntity("zombie", func() {})

		if tick%tntEvery == 0 {
			core.Batch().Enqueue(mgl64.Vec3{0, 64, 0}, 4)
			core.Batch().Enqueue(mgl64.Vec3{1, 64, 1}, 4)
		}
		core.TickEnd(tick, func(mgl64.Vec3, float32) { explosion.Add(1) })
	}

	throttled := core.Monitor().Counter(monitor.RedstoneThrottled)
	if throttled+proceeded != tracked {
		t.Fatalf("throttled (%d) + proceeded (%d) != tracked (%d)", throttled, proceeded, tracked)
	}
	if throttled == 0 {
		t.Fatal("expected dense chunks to be throttled at these thresholds")
	}
	if explosion.Load() != ticks/tntEvery {
		t.Fatalf("expected %d merged explosions, got %d", ticks/tntEvery, explosion.Load())
	}

	// Tick-scoped structures retain nothing once the next tick boundary
	// resets them.
	core.TickStart(ticks)
	if got := core.Coalescer().ScheduledPositions(); got != 0 {
		t.Fatalf("coalescer retained %d positions across a reset", got)
	}
	if hot := core.Throttle().Hotspots(); len(hot) != 0 {
		t.Fatalf("throttler retained %d hotspot chunks across a reset", len(hot))
	}
	if stats := core.Throttle().ChunkStats(key.Chunk(0, 0)); stats.UpdateCount != 0 || stats.TickDivisor != 1 {
		t.Fatalf("throttler retained density across a reset: %+v", stats)
	}

	if err := core.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	// The async spawn jobs all completed by shutdown; drain whatever the
	// loop had not picked up yet.
	core.DrainSpawnResults(func(pool.SpawnResult) { spawns.Add(1) })
	if got := spawns.Load(); got != ticks/debouncer {
		t.Fatalf("expected %d spawn results, got %d", ticks/debouncer, got)
	}
}
