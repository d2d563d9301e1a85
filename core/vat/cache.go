package vat

import (
	"memflow/core/mem"
	"sync"
)

// DefaultCacheCapacity is the number of translations kept by a Cache that
// was created with a non-positive capacity.
const DefaultCacheCapacity = 2048

// CacheStats reports the usage counters of a Cache.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

type cacheKey struct {
	dtb mem.Address
	vpn uint64
}

// Cache is a VirtualTranslate implementation that remembers the pages
// resolved by another VirtualTranslate, keyed by directory table base and
// virtual page number. Only successful translations are cached.
//
// The guest may remap its page tables at any time; Cache never revalidates
// an entry on its own. Owners must call Invalidate when a process exits or
// its DTB changes. A Cache is safe for concurrent use and can be shared by
// several translation engines walking the same page table format: every
// entry comes from the wrapped VirtualTranslate, so a Cache holds pages of
// a single architecture. Engines for other architectures need their own
// Cache.
type Cache[V VirtualTranslate] struct {
	vat      V
	capacity int

	mu      sync.Mutex
	entries map[cacheKey]mem.Page
	hits    uint64
	misses  uint64
}

// NewCache returns a Cache that wraps vat and holds up to capacity
// translations. When the cache is full it is emptied before a new entry is
// stored.
func NewCache[V VirtualTranslate](vat V, capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}

	return &Cache[V]{
		vat:      vat,
		capacity: capacity,
		entries:  make(map[cacheKey]mem.Page, capacity),
	}
}

// VirtToPhys implements VirtualTranslate.
func (c *Cache[V]) VirtToPhys(pmem mem.PhysicalMemory, dtb, virtAddr mem.Address) (mem.PhysicalAddress, mem.Page, error) {
	key := cacheKey{dtb: dtb, vpn: uint64(virtAddr) >> mem.PageShift}

	c.mu.Lock()
	page, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if ok {
		return page.Address(virtAddr.PageOffset(page.Size)), page, nil
	}

	physAddr, page, err := c.vat.VirtToPhys(pmem, dtb, virtAddr)
	if err != nil {
		return physAddr, page, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.capacity {
		clear(c.entries)
	}
	c.entries[key] = page
	c.mu.Unlock()

	return physAddr, page, nil
}

// Invalidate drops all cached translations for the given DTB.
func (c *Cache[V]) Invalidate(dtb mem.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.dtb == dtb {
			delete(c.entries, key)
		}
	}
}

// Clear drops all cached translations.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Stats returns the cache usage counters.
func (c *Cache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// Inner returns the wrapped VirtualTranslate.
func (c *Cache[V]) Inner() V {
	return c.vat
}
