package main

import (
	"container/list"
	"sync"
)

const defaultCacheMaxBytes = 100 * 1024 * 1024

// summaryCache is a byte-budgeted LRU cache of cluster trust summaries.
// Eviction is by total estimated size, not entry count; inserting evicts
// least-recently-used entries until the new entry fits.
type summaryCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	entries  map[string]*list.Element
	recency  *list.List

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key     string
	summary ClusterTrustSummary
	size    int64
}

// newSummaryCache returns a cache bounded by maxBytes. A non-positive
// budget falls back to the default 100 MB.
func newSummaryCache(maxBytes int64) *summaryCache {
	if maxBytes <= 0 {
		maxBytes = defaultCacheMaxBytes
	}
	return &summaryCache{
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
	}
}

// Get returns the cached summary for clusterID and marks it most recently
// used.
func (c *summaryCache) Get(clusterID string) (ClusterTrustSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[clusterID]
	if !ok {
		c.misses++
		return ClusterTrustSummary{}, false
	}
	c.hits++
	c.recency.MoveToFront(elem)
	return elem.Value.(*cacheEntry).summary, true
}

// Put stores summary under clusterID, evicting LRU entries until it fits.
// Entries larger than the whole budget are not cached.
func (c *summaryCache) Put(clusterID string, summary ClusterTrustSummary) {
	size := int64(summary.estimatedSize())
	if size > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[clusterID]; ok {
		entry := elem.Value.(*cacheEntry)
		c.curBytes += size - entry.size
		entry.summary = summary
		entry.size = size
		c.recency.MoveToFront(elem)
	} else {
		entry := &cacheEntry{key: clusterID, summary: summary, size: size}
		c.entries[clusterID] = c.recency.PushFront(entry)
		c.curBytes += size
	}

	for c.curBytes > c.maxBytes {
		c.evictOldest()
	}
}

// Invalidate drops the entry for clusterID, if cached.
func (c *summaryCache) Invalidate(clusterID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[clusterID]; ok {
		c.removeElement(elem)
	}
}

// Clear drops every cached entry.
func (c *summaryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	c.curBytes = 0
}

// Size returns the current estimated byte usage.
func (c *summaryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// EntryCount returns the number of cached summaries.
func (c *summaryCache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MaxSize returns the configured byte budget.
func (c *summaryCache) MaxSize() int64 {
	return c.maxBytes
}

// Stats returns cumulative hit, miss, and eviction counts.
func (c *summaryCache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

func (c *summaryCache) evictOldest() {
	elem := c.recency.Back()
	if elem == nil {
		return
	}
	c.evictions++
	c.removeElement(elem)
	RecordCacheEviction()
}

func (c *summaryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.recency.Remove(elem)
	delete(c.entries, entry.key)
	c.curBytes -= entry.size
}
