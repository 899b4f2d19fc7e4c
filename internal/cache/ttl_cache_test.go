package cache

import (
	"sync"
	"testing"
	"time"
)

func newTestCache[K comparable, V any](now *time.Time) *ttlCache[K, V] {
	c := NewTTLCache[K, V]().(*ttlCache[K, V])
	c.nowFn = func() time.Time { return *now }
	return c
}

func TestCacheGetBeforeAndAfterExpiry(t *testing.T) {
	now := time.Now()
	c := newTestCache[string, int](&now)

	c.Set("k", 42, time.Minute)
	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Fatalf("get = %d/%v, want 42/true", v, ok)
	}

	now = now.Add(time.Minute + time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("len = %d, want 0 after lazy eviction", c.Len())
	}
}

func TestCacheSetRefreshesExpiry(t *testing.T) {
	now := time.Now()
	c := newTestCache[string, string](&now)

	c.Set("k", "old", time.Minute)
	now = now.Add(30 * time.Second)
	c.Set("k", "new", time.Minute)
	now = now.Add(45 * time.Second)

	if v, ok := c.Get("k"); !ok || v != "new" {
		t.Fatalf("get = %q/%v, want refreshed entry", v, ok)
	}
}

func TestCacheIgnoresNonPositiveTTL(t *testing.T) {
	now := time.Now()
	c := newTestCache[string, int](&now)

	c.Set("k", 1, 0)
	c.Set("k2", 2, -time.Second)
	if c.Len() != 0 {
		t.Fatalf("len = %d, want 0", c.Len())
	}
}

func TestCacheDelete(t *testing.T) {
	now := time.Now()
	c := newTestCache[string, int](&now)

	c.Set("k", 7, time.Minute)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := base*100 + j
				c.Set(key, j, time.Minute)
				c.Get(key)
				if j%3 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()
}
