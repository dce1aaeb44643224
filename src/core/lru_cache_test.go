package main

import "testing"

func TestSummaryCache(t *testing.T) {
	t.Run("get returns false for missing entry", func(t *testing.T) {
		cache := newSummaryCache(1024)
		_, ok := cache.Get("c1")
		if ok {
			t.Error("Expected miss for missing entry")
		}
	})

	t.Run("put then get returns the summary", func(t *testing.T) {
		cache := newSummaryCache(1024)
		cache.Put("c1", ClusterTrustSummary{ClusterID: "c1", EdgeCount: 3})
		summary, ok := cache.Get("c1")
		if !ok {
			t.Fatal("Expected hit after put")
		}
		if summary.EdgeCount != 3 {
			t.Errorf("Expected edge count 3, got %d", summary.EdgeCount)
		}
	})

	t.Run("evicts least recently used when over budget", func(t *testing.T) {
		// Each empty-member summary with a 2-char ID costs 98 bytes.
		cache := newSummaryCache(250)
		cache.Put("c1", ClusterTrustSummary{ClusterID: "c1"})
		cache.Put("c2", ClusterTrustSummary{ClusterID: "c2"})

		// Touch c1 so c2 becomes the eviction candidate.
		cache.Get("c1")
		cache.Put("c3", ClusterTrustSummary{ClusterID: "c3"})

		if _, ok := cache.Get("c2"); ok {
			t.Error("Expected c2 to be evicted")
		}
		if _, ok := cache.Get("c1"); !ok {
			t.Error("Expected c1 to survive eviction")
		}
		if _, ok := cache.Get("c3"); !ok {
			t.Error("Expected c3 to be cached")
		}
		_, _, evictions := cache.Stats()
		if evictions != 1 {
			t.Errorf("Expected 1 eviction, got %d", evictions)
		}
	})

	t.Run("entry larger than budget is not cached", func(t *testing.T) {
		cache := newSummaryCache(50)
		cache.Put("c1", ClusterTrustSummary{ClusterID: "c1"})
		if _, ok := cache.Get("c1"); ok {
			t.Error("Expected oversized entry to be skipped")
		}
		if cache.Size() != 0 {
			t.Errorf("Expected size 0, got %d", cache.Size())
		}
	})

	t.Run("updating an entry adjusts byte accounting", func(t *testing.T) {
		cache := newSummaryCache(1024)
		cache.Put("c1", ClusterTrustSummary{ClusterID: "c1"})
		before := cache.Size()
		cache.Put("c1", ClusterTrustSummary{ClusterID: "c1", Members: []string{"addr1"}})
		after := cache.Size()
		if after <= before {
			t.Errorf("Expected size to grow after update, was %d now %d", before, after)
		}
		if cache.EntryCount() != 1 {
			t.Errorf("Expected 1 entry, got %d", cache.EntryCount())
		}
	})

	t.Run("invalidate drops only the named entry", func(t *testing.T) {
		cache := newSummaryCache(1024)
		cache.Put("c1", ClusterTrustSummary{ClusterID: "c1"})
		cache.Put("c2", ClusterTrustSummary{ClusterID: "c2"})
		cache.Invalidate("c1")
		if _, ok := cache.Get("c1"); ok {
			t.Error("Expected c1 to be invalidated")
		}
		if _, ok := cache.Get("c2"); !ok {
			t.Error("Expected c2 to remain cached")
		}
	})

	t.Run("clear drops everything and resets usage", func(t *testing.T) {
		cache := newSummaryCache(1024)
		cache.Put("c1", ClusterTrustSummary{ClusterID: "c1"})
		cache.Put("c2", ClusterTrustSummary{ClusterID: "c2"})
		cache.Clear()
		if cache.EntryCount() != 0 {
			t.Errorf("Expected 0 entries after clear, got %d", cache.EntryCount())
		}
		if cache.Size() != 0 {
			t.Errorf("Expected size 0 after clear, got %d", cache.Size())
		}
	})

	t.Run("non-positive budget falls back to default", func(t *testing.T) {
		cache := newSummaryCache(0)
		if cache.MaxSize() != defaultCacheMaxBytes {
			t.Errorf("Expected default budget %d, got %d", int64(defaultCacheMaxBytes), cache.MaxSize())
		}
	})
}
