package nsu

import (
	"container/list"
	"sync"
	"time"

	"github.com/cuemby/nsu-agent/pkg/metrics"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// recentlyStoppedEntry is one FIFO slot: a container id and the epoch at
// which it becomes GC-eligible.
type recentlyStoppedEntry struct {
	id     types.ContainerID
	expiry time.Time
}

// RecentlyStoppedCache is the insertion-ordered ContainerId -> expiry
// mapping that suppresses duplicate completion notices and "no such
// container" noise. Because every entry is stamped with now+D for a
// process-wide, fixed D, insertion order is also expiry order, so GC can
// walk from the oldest end and stop at the first still-live expiry.
type RecentlyStoppedCache struct {
	retention time.Duration

	mu      sync.Mutex
	order   *list.List
	byID    map[types.ContainerID]*list.Element
}

// NewRecentlyStoppedCache creates a cache with the given fixed retention
// window. retention must be non-negative (nsuconfig.Config.Validate
// enforces this at startup).
func NewRecentlyStoppedCache(retention time.Duration) *RecentlyStoppedCache {
	return &RecentlyStoppedCache{
		retention: retention,
		order:     list.New(),
		byID:      make(map[types.ContainerID]*list.Element),
	}
}

// Add inserts id with expiry now+retention, unless it is already present
// (re-adding would violate the monotonic-expiry invariant GC relies on).
func (c *RecentlyStoppedCache) Add(id types.ContainerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[id]; exists {
		return
	}

	entry := &recentlyStoppedEntry{id: id, expiry: time.Now().Add(c.retention)}
	el := c.order.PushBack(entry)
	c.byID[id] = el
	metrics.RecentlyStoppedCacheSize.Set(float64(len(c.byID)))
}

// Contains reports whether id is currently held in the cache.
func (c *RecentlyStoppedCache) Contains(id types.ContainerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byID[id]
	return ok
}

// GCFunc reports whether id is eligible for removal beyond its expiry
// having passed: the container must no longer be live and its
// application must be stopped.
type GCFunc func(id types.ContainerID) (stillGCEligible bool)

// GC walks the cache from the oldest entry and removes entries whose
// expiry has passed and whose eligible callback returns true, stopping at
// the first entry that is not yet expired (insertion order is expiry
// order under a fixed retention).
func (c *RecentlyStoppedCache) GC(eligible GCFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for el := c.order.Front(); el != nil; {
		entry := el.Value.(*recentlyStoppedEntry)
		if now.Before(entry.expiry) {
			// Insertion order is expiry order under a fixed retention, so
			// everything after this point is also still live.
			break
		}
		next := el.Next()
		if eligible(entry.id) {
			c.order.Remove(el)
			delete(c.byID, entry.id)
		}
		el = next
	}
	metrics.RecentlyStoppedCacheSize.Set(float64(len(c.byID)))
}

// Len returns the number of entries currently held.
func (c *RecentlyStoppedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
