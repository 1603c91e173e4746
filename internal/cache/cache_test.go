package cache

import (
	"strings"
	"sync"
	"testing"
	"time"

	"toolproxy/internal/core"
)

type countingMetrics struct {
	core.NopMetrics
	mu     sync.Mutex
	hits   int
	misses int
}

func (m *countingMetrics) RecordCacheHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordCacheMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func TestLRUCache_BasicSetGet(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key1", "value1", time.Hour)
	value, found := cache.Get("key1")
	if !found {
		t.Fatal("expected to find key1")
	}
	if value != "value1" {
		t.Errorf("expected 'value1', got '%v'", value)
	}
}

func TestLRUCache_GetNonExistent(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	if _, found := cache.Get("nonexistent"); found {
		t.Error("should not find nonexistent key")
	}
}

func TestLRUCache_Expiration(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key", "value", 100*time.Millisecond)
	if _, found := cache.Get("key"); !found {
		t.Error("key should be found immediately after set")
	}
	time.Sleep(150 * time.Millisecond)
	if _, found := cache.Get("key"); found {
		t.Error("key should be expired")
	}
	if cache.Len() != 0 {
		t.Errorf("expired key should be removed on read, len=%d", cache.Len())
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewCacheWithOptions(Options{Capacity: 2})
	defer cache.Stop()
	cache.Set("key1", "value1", time.Hour)
	cache.Set("key2", "value2", time.Hour)
	cache.Set("key3", "value3", time.Hour)
	if _, found := cache.Get("key1"); found {
		t.Error("key1 should be evicted")
	}
	if _, found := cache.Get("key2"); !found {
		t.Error("key2 should exist")
	}
	if _, found := cache.Get("key3"); !found {
		t.Error("key3 should exist")
	}
}

func TestLRUCache_LRUOrder(t *testing.T) {
	cache := NewCacheWithOptions(Options{Capacity: 2})
	defer cache.Stop()
	cache.Set("key1", "value1", time.Hour)
	cache.Set("key2", "value2", time.Hour)
	cache.Get("key1")
	cache.Set("key3", "value3", time.Hour)
	if _, found := cache.Get("key2"); found {
		t.Error("key2 should be evicted as least recently used")
	}
	if _, found := cache.Get("key1"); !found {
		t.Error("key1 should exist")
	}
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	const workers = 50
	const ops = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				cache.Set(string(rune('a'+(id+j)%26)), id*ops+j, time.Hour)
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				cache.Get(string(rune('a' + (id+j)%26)))
			}
		}(i)
	}
	wg.Wait()
	if cache.Len() > 26 {
		t.Errorf("expected at most 26 keys, got %d", cache.Len())
	}
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("key", "value1", time.Hour)
	cache.Set("key", "value2", time.Hour)
	v, _ := cache.Get("key")
	if v != "value2" {
		t.Errorf("expected 'value2', got %v", v)
	}
	if cache.Len() != 1 {
		t.Errorf("update should not add an entry, len=%d", cache.Len())
	}
}

func TestLRUCache_NonPositiveTTLStoresNothing(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("zero", "value", 0)
	cache.Set("negative", "value", -time.Second)
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, len=%d", cache.Len())
	}
}

func TestLRUCache_PeriodicCleanup(t *testing.T) {
	cache := NewCacheWithOptions(Options{CleanupInterval: 20 * time.Millisecond})
	defer cache.Stop()
	cache.Set("short", 1, 10*time.Millisecond)
	cache.Set("long", 2, time.Hour)

	deadline := time.Now().Add(time.Second)
	for cache.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cache.Len() != 1 {
		t.Fatalf("cleanup worker should drop the expired entry, len=%d", cache.Len())
	}
}

func TestLRUCache_DeleteAndClear(t *testing.T) {
	cache := NewCache()
	defer cache.Stop()
	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)
	cache.Delete("a")
	cache.Delete("missing")
	if _, found := cache.Get("a"); found {
		t.Error("a should be deleted")
	}
	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("expected empty cache after Clear, len=%d", cache.Len())
	}
	cache.Set("c", 3, time.Hour)
	if v, _ := cache.Get("c"); v != 3 {
		t.Errorf("cache should be usable after Clear, got %v", v)
	}
}

func TestLRUCache_RecordsHitsAndMisses(t *testing.T) {
	metrics := &countingMetrics{}
	cache := NewCacheWithOptions(Options{Metrics: metrics})
	defer cache.Stop()
	cache.Get("missing")
	cache.Set("k", "v", time.Hour)
	cache.Get("k")
	cache.Get("k")
	if metrics.hits != 2 || metrics.misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %d/%d", metrics.hits, metrics.misses)
	}
}

func TestModelListKey(t *testing.T) {
	a := ModelListKey("http://localhost:8000/v1/models")
	b := ModelListKey("http://localhost:8000/v1/models")
	c := ModelListKey("http://other:8000/v1/models")
	if a != b {
		t.Error("same URL should produce the same key")
	}
	if a == c {
		t.Error("different URLs should produce different keys")
	}
	if !strings.HasPrefix(a, "models:"+core.CacheKeyVersion+":") {
		t.Errorf("unexpected key format: %s", a)
	}
}
