package resolver

import (
	"container/list"
	"sync"
	"time"
)

// entryKey identifies a directory entry by its parent inode and basename,
// exactly the lookup the metadata store's directory_entry table serves.
type entryKey struct {
	parentID uint64
	name     string
}

// PathCache caches resolved (parentID, name) -> childID lookups so that
// repeated path resolution doesn't re-hit the metadata store for every
// component of every path. It is invalidated eagerly by the resolver on
// every mutating directory operation rather than relying on the TTL alone.
type PathCache struct {
	mu         sync.Mutex
	capacity   int
	ttl        time.Duration
	items      map[entryKey]*list.Element
	evictList  *list.List
	hits       uint64
	misses     uint64
}

type cacheEntry struct {
	key       entryKey
	childID   uint64
	kind      uint8
	expiresAt time.Time
}

// NewPathCache creates a cache holding up to capacity entries, each valid
// for ttl (zero means entries never expire on their own).
func NewPathCache(capacity int, ttl time.Duration) *PathCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &PathCache{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[entryKey]*list.Element, capacity),
		evictList: list.New(),
	}
}

// Get returns the cached child id and kind for (parentID, name), if present
// and not expired.
func (c *PathCache) Get(parentID uint64, name string) (childID uint64, kind uint8, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := entryKey{parentID, name}
	elem, found := c.items[key]
	if !found {
		c.misses++
		return 0, 0, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return 0, 0, false
	}

	c.evictList.MoveToFront(elem)
	c.hits++
	return entry.childID, entry.kind, true
}

// Put records the resolution of (parentID, name) -> (childID, kind).
func (c *PathCache) Put(parentID uint64, name string, childID uint64, kind uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := entryKey{parentID, name}
	if elem, found := c.items[key]; found {
		entry := elem.Value.(*cacheEntry)
		entry.childID = childID
		entry.kind = kind
		entry.expiresAt = c.expiry()
		c.evictList.MoveToFront(elem)
		return
	}

	entry := &cacheEntry{key: key, childID: childID, kind: kind, expiresAt: c.expiry()}
	elem := c.evictList.PushFront(entry)
	c.items[key] = elem

	for c.evictList.Len() > c.capacity {
		c.removeOldest()
	}
}

// Invalidate drops the cached entry for (parentID, name), if any. Called on
// unlink, rmdir, rename and mkdir/create so stale resolutions never survive
// a directory mutation.
func (c *PathCache) Invalidate(parentID uint64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[entryKey{parentID, name}]; found {
		c.removeElement(elem)
	}
}

// InvalidateDir drops every cached entry belonging to a given parent
// directory. The resolver's own operations do not call it; they drop single
// entries with Invalidate.
func (c *PathCache) InvalidateDir(parentID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if key.parentID == parentID {
			c.removeElement(elem)
		}
	}
}

// Stats reports cache effectiveness for the statfs metrics.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

func (c *PathCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: c.evictList.Len(), Hits: c.hits, Misses: c.misses}
}

func (c *PathCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

func (c *PathCache) removeOldest() {
	elem := c.evictList.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

func (c *PathCache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}
