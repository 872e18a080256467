package pool

import (
	"log/slog"
	"sync"

	"github.com/dm-vev/tickcore/server/perf/monitor"
	"github.com/google/uuid"
)

const (
	defaultSpawnerWorkers = 2
	defaultSpawnerQueue   = 1024
)

// SpawnCandidate is one eligible spawn position computed by the async phase.
type SpawnCandidate struct {
	// Block is the packed position of the candidate.
	Block int64
	// Type names the entity type to create.
	Type string
}

// SpawnJob is a unit of two-phase spawn evaluation. Eval runs asynchronously
// against an immutable snapshot of world state captured by the caller; it
// must not touch live world state.
type SpawnJob struct {
	ID   uuid.UUID
	Eval func() []SpawnCandidate
}

// NewSpawnJob wraps an evaluation function with a fresh job identity.
func NewSpawnJob(eval func() []SpawnCandidate) SpawnJob {
	return SpawnJob{ID: uuid.New(), Eval: eval}
}

// SpawnResult is the completed async phase of a job, ready for the
// main-thread creation phase.
type SpawnResult struct {
	Job        uuid.UUID
	Candidates []SpawnCandidate
}

// SpawnerConfig holds the parameters for the mob spawn pool.
type SpawnerConfig struct {
	// Log is the logger the pool reports through. Defaults to slog.Default().
	Log *slog.Logger
	// Monitor receives spawn timings and the overflow counter. May be nil.
	Monitor *monitor.Monitor
	// Workers overrides the worker count. The pool is deliberately small;
	// defaults to 2.
	Workers int
}

func (c SpawnerConfig) withDefaults() SpawnerConfig {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Workers <= 0 || c.Workers > defaultSpawnerWorkers {
		c.Workers = defaultSpawnerWorkers
	}
	return c
}

// Spawner computes spawn candidates asynchronously and hands completed
// results back to the main loop. Entity creation and its side effects happen
// only in DrainResults, on the caller's goroutine: phase 2 of a job never
// starts before phase 1 of that job has completed, and never runs off the
// main thread.
type Spawner struct {
	*Pool

	mu      sync.Mutex
	results []SpawnResult
}

// NewSpawner creates the mob spawn pool.
func NewSpawner(c SpawnerConfig) *Spawner {
	c = c.withDefaults()
	mon := c.Monitor
	s := &Spawner{}
	s.Pool = New(Config{
		Log:        c.Log,
		Name:       "mob-spawner",
		Workers:    c.Workers,
		QueueSize:  defaultSpawnerQueue,
		OnOverflow: func() { mon.Inc(monitor.SpawnerOverflow) },
		Wrap: func(task func()) {
			defer mon.Measure(monitor.MobSpawning)()
			task()
		},
	})
	c.Log.Info("async mob spawner initialised", "workers", c.Workers)
	return s
}

// SubmitEval schedules the async phase of a job. The result is parked until
// the main loop drains it.
func (s *Spawner) SubmitEval(job SpawnJob) {
	s.Submit(func() {
		candidates := job.Eval()
		s.mu.Lock()
		s.results = append(s.results, SpawnResult{Job: job.ID, Candidates: candidates})
		s.mu.Unlock()
	})
}

// DrainResults applies every completed result and clears the parked set.
// Called by the host on the main loop goroutine once per tick. Results of
// jobs still in their async phase are not visible and will be drained on a
// later tick.
func (s *Spawner) DrainResults(apply func(SpawnResult)) {
	s.mu.Lock()
	drained := s.results
	s.results = nil
	s.mu.Unlock()
	for _, res := range drained {
		apply(res)
	}
}

// PendingResults returns the number of completed, not yet drained results.
func (s *Spawner) PendingResults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
