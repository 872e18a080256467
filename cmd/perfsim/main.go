// Command perfsim drives the performance layer with a synthetic workload: a
// handful of dense redstone chunks, a TNT cannon volley every second and a
// steady stream of entity tracking and spawn evaluation work. It prints the
// monitor's drained report at the end of the run.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/dm-vev/tickcore/server/perf"
	"github.com/dm-vev/tickcore/server/perf/key"
	"github.com/dm-vev/tickcore/server/perf/monitor"
	"github.com/dm-vev/tickcore/server/perf/pool"
	"github.com/go-gl/mathgl/mgl64"
)

func main() {
	confPath := flag.String("config", "perfsim.toml", "path to the configuration file")
	ticks := flag.Int64("ticks", 1200, "number of ticks to simulate")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	uc, err := perf.ReadConfig(*confPath)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}
	conf := uc.Config(log)
	conf.ReportInterval = 0 // drained once at the end of the run

	core, err := perf.New(conf)
	if err != nil {
		log.Error("start performance layer", "err", err)
		os.Exit(1)
	}

	run(core, *ticks)

	core.Monitor().Log(core.Monitor().Drain())
	status := core.Status()
	log.Info("final state",
		"debounced_positions", status.DebouncedPositions,
		"tracker_queue", status.TrackerQueue,
		"spawner_queue", status.SpawnerQueue,
		"pending_spawns", status.PendingSpawns,
	)
	if err := core.Close(context.Background()); err != nil {
		log.Warn("shutdown", "err", err)
	}
}

func run(core *perf.Core, ticks int64) {
	const (
		denseChunks = 3
		updates     = 120 // per dense chunk per tick, far past critical
	)
	explosions := 0
	for tick := int64(0); tick < ticks; tick++ {
		stop := core.Monitor().Measure(monitor.TickTotal)
		core.TickStart(tick)

		for ci := int32(0); ci < denseChunks; ci++ {
			chunk := key.Chunk(ci, 0)
			for p := 0; p < updates; p++ {
				block := key.Block(int(ci)*16+p%16, 64, p/16)
				if !core.Coalescer().ShouldTick(block) {
					continue
				}
				if !core.Debounce().ShouldFire(block, tick) {
					continue
				}
				core.Throttle().TrackUpdate(chunk)
				core.Throttle().ShouldUpdate(chunk, block, tick)
			}
		}

		core.TrackEntity("zombie", func() {})
		core.TrackEntity("CitizensNPC", func() {})
		if tick%20 == 0 {
			// A small cannon volley, all within grouping range.
			for i := 0; i < 8; i++ {
				core.Batch().Enqueue(mgl64.Vec3{float64(i % 3), 64, float64(i / 3)}, 4)
			}
			core.SubmitSpawnEval(pool.NewSpawnJob(func() []pool.SpawnCandidate {
				return []pool.SpawnCandidate{{Block: key.Block(200, 64, 200), Type: "zombie"}}
			}))
		}
		core.DrainSpawnResults(func(pool.SpawnResult) {})

		core.TickEnd(tick, func(mgl64.Vec3, float32) { explosions++ })
		stop()
	}
	slog.Info("simulation finished", "ticks", ticks, "explosions", explosions)
}
