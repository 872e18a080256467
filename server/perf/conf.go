package perf

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/dm-vev/tickcore/server/perf/gate"
	"github.com/dm-vev/tickcore/server/perf/hopper"
	"github.com/dm-vev/tickcore/server/perf/pool"
	"github.com/dm-vev/tickcore/server/perf/throttle"
	"github.com/pelletier/go-toml"
)

// Config contains the options for constructing the performance layer. Each
// component's configuration is carried verbatim; New injects the shared
// logger and monitor into every component, so the Log and Monitor fields of
// the sub-configurations may be left nil.
type Config struct {
	// Log is the Logger used by every component. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// ReportInterval is the number of ticks between periodic monitor report
	// drains. 0 disables periodic reporting without disabling recording.
	ReportInterval int
	// Throttle configures the redstone density throttler.
	Throttle throttle.Config
	// Batch configures the detonation batcher.
	Batch BatchConfig
	// Debounce configures the observer debounce store.
	Debounce gate.DebounceConfig
	// Coalesce configures the tick coalescer.
	Coalesce gate.CoalescerConfig
	// AsyncTracking enables the entity tracking pool. When false the pool is
	// not constructed and tracking work runs inline on the host.
	AsyncTracking bool
	// Tracker configures the async entity tracking pool.
	Tracker pool.TrackerConfig
	// AsyncSpawning enables the mob spawn pool, with the same bypass
	// behaviour as AsyncTracking.
	AsyncSpawning bool
	// Spawner configures the async mob spawn pool.
	Spawner pool.SpawnerConfig
	// Hopper configures the container state cache.
	Hopper hopper.Config
}

// BatchConfig mirrors batch.Config without the injected monitor, keeping the
// user-facing surface of Config to plain settings.
type BatchConfig struct {
	Enabled     bool
	GroupRadius float64
}

// UserConfig is the flat, serialisable form of Config, suitable for TOML
// persistence. DefaultConfig returns a UserConfig with the stock defaults;
// UserConfig.Config converts it to a runtime Config.
type UserConfig struct {
	Monitoring struct {
		// ReportInterval is the report cadence in ticks. 6000 is five
		// minutes; 0 disables periodic reports.
		ReportInterval int `toml:"report_interval"`
	} `toml:"monitoring"`
	Redstone struct {
		ThrottleEnabled   bool  `toml:"throttle_enabled"`
		SoftThreshold     int   `toml:"soft_threshold"`
		HardThreshold     int   `toml:"hard_threshold"`
		CriticalThreshold int   `toml:"critical_threshold"`
		AlertInterval     int64 `toml:"alert_interval"`

		DebounceEnabled     bool  `toml:"debounce_enabled"`
		DebounceMinInterval int64 `toml:"debounce_min_interval"`
		DebounceStaleness   int64 `toml:"debounce_staleness"`

		CoalesceEnabled bool `toml:"coalesce_enabled"`
	} `toml:"redstone"`
	TNT struct {
		BatchingEnabled bool    `toml:"batching_enabled"`
		GroupRadius     float64 `toml:"group_radius"`
	} `toml:"tnt"`
	Entities struct {
		AsyncTracking  bool `toml:"async_tracking"`
		TrackerThreads int  `toml:"tracker_threads"`
		CompatMode     bool `toml:"compat_mode"`
		AsyncSpawning  bool `toml:"async_spawning"`
		SpawnerWorkers int  `toml:"spawner_workers"`
	} `toml:"entities"`
	Hoppers struct {
		SkipEmpty       bool `toml:"skip_empty"`
		SkipFull        bool `toml:"skip_full"`
		CacheContainers bool `toml:"cache_containers"`
	} `toml:"hoppers"`
}

// DefaultConfig returns a UserConfig with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Monitoring.ReportInterval = 6000
	c.Redstone.ThrottleEnabled = true
	c.Redstone.SoftThreshold = 64
	c.Redstone.HardThreshold = 150
	c.Redstone.CriticalThreshold = 300
	c.Redstone.AlertInterval = 1200
	c.Redstone.DebounceEnabled = true
	c.Redstone.DebounceMinInterval = 2
	c.Redstone.DebounceStaleness = 200
	c.Redstone.CoalesceEnabled = true
	c.TNT.BatchingEnabled = true
	c.TNT.GroupRadius = 4.0
	c.Entities.AsyncTracking = true
	c.Entities.CompatMode = false
	c.Entities.AsyncSpawning = true
	c.Hoppers.SkipEmpty = true
	c.Hoppers.SkipFull = true
	c.Hoppers.CacheContainers = true
	return c
}

// Config converts the user configuration to a runtime Config. Validation of
// component settings happens in New; invalid settings abort startup there.
func (uc UserConfig) Config(log *slog.Logger) Config {
	conf := Config{
		Log:            log,
		ReportInterval: uc.Monitoring.ReportInterval,
		Throttle: throttle.Config{
			Enabled:       uc.Redstone.ThrottleEnabled,
			Soft:          uc.Redstone.SoftThreshold,
			Hard:          uc.Redstone.HardThreshold,
			Critical:      uc.Redstone.CriticalThreshold,
			AlertInterval: uc.Redstone.AlertInterval,
		},
		Batch: BatchConfig{
			Enabled:     uc.TNT.BatchingEnabled,
			GroupRadius: uc.TNT.GroupRadius,
		},
		Debounce: gate.DebounceConfig{
			Enabled:     uc.Redstone.DebounceEnabled,
			MinInterval: uc.Redstone.DebounceMinInterval,
			Staleness:   uc.Redstone.DebounceStaleness,
		},
		Coalesce:      gate.CoalescerConfig{Enabled: uc.Redstone.CoalesceEnabled},
		AsyncTracking: uc.Entities.AsyncTracking,
		Tracker: pool.TrackerConfig{
			Threads:    uc.Entities.TrackerThreads,
			CompatMode: uc.Entities.CompatMode,
		},
		AsyncSpawning: uc.Entities.AsyncSpawning,
		Spawner:       pool.SpawnerConfig{Workers: uc.Entities.SpawnerWorkers},
		Hopper: hopper.Config{
			SkipEmpty:       uc.Hoppers.SkipEmpty,
			SkipFull:        uc.Hoppers.SkipFull,
			CacheContainers: uc.Hoppers.CacheContainers,
		},
	}
	return conf
}

// ReadConfig reads a UserConfig from the file at path. If the file does not
// exist it is created with the default configuration first, matching the
// behaviour an operator expects on first start.
func ReadConfig(path string) (UserConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return UserConfig{}, fmt.Errorf("read config: %w", err)
		}
		c := DefaultConfig()
		if err := WriteConfig(path, c); err != nil {
			return UserConfig{}, err
		}
		return c, nil
	}
	c := DefaultConfig()
	if err := toml.Unmarshal(data, &c); err != nil {
		return UserConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// WriteConfig writes a UserConfig to the file at path.
func WriteConfig(path string, c UserConfig) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}
