// Package hopper implements the long-lived advisory cache of container state
// consulted by hopper transfer logic: fullness/emptiness flags that let a
// hopper skip transfer probes until a change signal arrives, and a
// non-owning reference cache that avoids repeated block entity lookups.
package hopper

import (
	"sync"

	"github.com/dm-vev/tickcore/server/perf/monitor"
	"github.com/segmentio/fasthash/fnv1a"
)

// UninitPanicMessage is the panic raised when a nil Cache is used.
const UninitPanicMessage = "perf/hopper: Cache used before initialisation"

const (
	shardCount = 16

	defaultShardCapacity = 4096
)

// Container is the non-owning view of a cached container. The cache never
// owns the container and must tolerate it disappearing: Valid reports
// whether the underlying block entity still exists.
type Container interface {
	Valid() bool
}

// Config holds the tunable parameters for the cache.
type Config struct {
	// Monitor receives the skipped-probe counter. May be nil.
	Monitor *monitor.Monitor
	// SkipEmpty enables skipping pull probes against confirmed-empty sources.
	SkipEmpty bool
	// SkipFull enables skipping push probes against confirmed-full
	// destinations.
	SkipFull bool
	// CacheContainers enables the container reference cache.
	CacheContainers bool
	// ShardCapacity bounds each shard of the reference cache. Inserting past
	// the bound evicts the oldest entry. Defaults to 4096.
	ShardCapacity int
}

func (c Config) withDefaults() Config {
	if c.ShardCapacity <= 0 {
		c.ShardCapacity = defaultShardCapacity
	}
	return c
}

type entry struct {
	container Container
	seq       uint64
}

type shard struct {
	mu sync.RWMutex

	// Advisory transfer state. Missing means unknown; probes then proceed.
	sourceHasItems map[int64]bool
	destHasRoom    map[int64]bool

	containers map[int64]entry
	seq        uint64
}

// Cache is the shared-regime container state cache. Both the main loop and
// async workers read and write it, so state is split across sharded locks
// picked by a hash of the packed position.
type Cache struct {
	mon *monitor.Monitor

	skipEmpty       bool
	skipFull        bool
	cacheContainers bool
	shardCapacity   int

	shards [shardCount]shard
}

// New creates a Cache from the configuration.
func New(c Config) *Cache {
	c = c.withDefaults()
	h := &Cache{
		mon:             c.Monitor,
		skipEmpty:       c.SkipEmpty,
		skipFull:        c.SkipFull,
		cacheContainers: c.CacheContainers,
		shardCapacity:   c.ShardCapacity,
	}
	for i := range h.shards {
		h.shards[i].sourceHasItems = make(map[int64]bool)
		h.shards[i].destHasRoom = make(map[int64]bool)
		h.shards[i].containers = make(map[int64]entry)
	}
	return h
}

func (h *Cache) check() {
	if h == nil {
		panic(UninitPanicMessage)
	}
}

func (h *Cache) shard(block int64) *shard {
	return &h.shards[fnv1a.HashUint64(uint64(block))%shardCount]
}

// MarkChanged signals that a container's contents changed. Pending "empty"
// and "full" verdicts for the position are discarded so the next probe runs.
func (h *Cache) MarkChanged(block int64) {
	h.check()
	s := h.shard(block)
	s.mu.Lock()
	s.sourceHasItems[block] = true
	s.destHasRoom[block] = true
	s.mu.Unlock()
}

// SkipPull reports whether a pull probe against the source position can be
// skipped because the source was confirmed empty since the last change
// signal.
func (h *Cache) SkipPull(block int64) bool {
	h.check()
	if !h.skipEmpty {
		return false
	}
	s := h.shard(block)
	s.mu.RLock()
	hasItems, known := s.sourceHasItems[block]
	s.mu.RUnlock()
	if known && !hasItems {
		h.mon.Inc(monitor.HopperSkips)
		return true
	}
	return false
}

// MarkEmpty records a failed pull probe: the source is confirmed empty until
// the next change signal.
func (h *Cache) MarkEmpty(block int64) {
	h.check()
	if !h.skipEmpty {
		return
	}
	s := h.shard(block)
	s.mu.Lock()
	s.sourceHasItems[block] = false
	s.mu.Unlock()
}

// SkipPush reports whether a push probe against the destination position can
// be skipped because the destination was confirmed full since the last
// change signal.
func (h *Cache) SkipPush(block int64) bool {
	h.check()
	if !h.skipFull {
		return false
	}
	s := h.shard(block)
	s.mu.RLock()
	hasRoom, known := s.destHasRoom[block]
	s.mu.RUnlock()
	if known && !hasRoom {
		h.mon.Inc(monitor.HopperSkips)
		return true
	}
	return false
}

// MarkFull records a failed push probe: the destination is confirmed full
// until the next change signal.
func (h *Cache) MarkFull(block int64) {
	h.check()
	if !h.skipFull {
		return
	}
	s := h.shard(block)
	s.mu.Lock()
	s.destHasRoom[block] = false
	s.mu.Unlock()
}

// StoreContainer caches a container reference for the position. When the
// shard is at capacity the oldest entry is evicted first.
func (h *Cache) StoreContainer(block int64, c Container) {
	h.check()
	if !h.cacheContainers || c == nil {
		return
	}
	s := h.shard(block)
	s.mu.Lock()
	if _, ok := s.containers[block]; !ok && len(s.containers) >= h.shardCapacity {
		oldestKey := int64(0)
		oldestSeq := uint64(0)
		first := true
		for k, e := range s.containers {
			if first || e.seq < oldestSeq {
				oldestKey, oldestSeq, first = k, e.seq, false
			}
		}
		delete(s.containers, oldestKey)
	}
	s.seq++
	s.containers[block] = entry{container: c, seq: s.seq}
	s.mu.Unlock()
}

// LoadContainer returns the cached container for the position. An entry
// whose container reports itself gone is dropped lazily and treated as a
// miss; a vanished container is the expected steady state, never an error.
func (h *Cache) LoadContainer(block int64) (Container, bool) {
	h.check()
	if !h.cacheContainers {
		return nil, false
	}
	s := h.shard(block)
	s.mu.RLock()
	e, ok := s.containers[block]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.container.Valid() {
		s.mu.Lock()
		// Re-check under the write lock; another goroutine may have stored a
		// fresh reference in the meantime.
		if cur, ok := s.containers[block]; ok && cur.seq == e.seq {
			delete(s.containers, block)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.container, true
}

// Remove drops all cached state for the position. Called when the container
// block is removed from the world.
func (h *Cache) Remove(block int64) {
	h.check()
	s := h.shard(block)
	s.mu.Lock()
	delete(s.sourceHasItems, block)
	delete(s.destHasRoom, block)
	delete(s.containers, block)
	s.mu.Unlock()
}

// Clear drops every cached entry. Called on world unload.
func (h *Cache) Clear() {
	h.check()
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.Lock()
		s.sourceHasItems = make(map[int64]bool)
		s.destHasRoom = make(map[int64]bool)
		s.containers = make(map[int64]entry)
		s.mu.Unlock()
	}
}

// Len returns the number of cached container references.
func (h *Cache) Len() int {
	h.check()
	n := 0
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.RLock()
		n += len(s.containers)
		s.mu.RUnlock()
	}
	return n
}
