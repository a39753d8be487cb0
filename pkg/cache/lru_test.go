package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(maxSize int, ttl time.Duration) (*LRUCache[string, string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string, string](maxSize, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetMiss", testGetMiss},
		{"GetExpired", testGetExpired},
		{"SetOverMaxSizeEvictsOldest", testSetOverMaxSizeEvictsOldest},
		{"InvalidateAllClearsCache", testInvalidateAllClearsCache},
		{"GetOrComputeMemoizes", testGetOrComputeMemoizes},
		{"ConcurrentAccess", testConcurrentAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testSetAndGet(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("evidence/a.pdf", "immutable")

	got, ok := c.Get("evidence/a.pdf")
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if got != "immutable" {
		t.Fatalf("expected %q, got %q", "immutable", got)
	}
}

func testGetMiss(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	got, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss, got hit")
	}
	if got != "" {
		t.Fatalf("expected zero value on miss, got %q", got)
	}
}

func testGetExpired(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Set("notes/b.txt", "editable")

	clock.Advance(2 * time.Minute)

	if _, ok := c.Get("notes/b.txt"); ok {
		t.Fatal("expected cache miss after expiry, got hit")
	}
	if c.Size() != 0 {
		t.Fatalf("expected size 0 after expired get, got %d", c.Size())
	}
}

func testSetOverMaxSizeEvictsOldest(t *testing.T) {
	c, clock := newTestCache(3, time.Hour)

	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, k)
		clock.Advance(time.Millisecond)
	}
	c.Set("d", "d")

	if c.Size() != 3 {
		t.Fatalf("expected size 3 after eviction, got %d", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected 'a' to be evicted")
	}
	for _, key := range []string{"b", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Fatalf("expected %q to still be in cache", key)
		}
	}

	// Overwriting an existing key never evicts.
	c.Set("b", "b2")
	if c.Size() != 3 {
		t.Fatalf("expected size 3 after update, got %d", c.Size())
	}
}

func testInvalidateAllClearsCache(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)
	c.Set("k1", "v1")
	c.Set("k2", "v2")
	c.Invalidate("k1")
	if _, ok := c.Get("k2"); !ok {
		t.Fatal("expected k2 to survive single invalidation")
	}

	c.InvalidateAll()
	if c.Size() != 0 {
		t.Fatalf("expected size 0 after InvalidateAll, got %d", c.Size())
	}
}

func testGetOrComputeMemoizes(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)
	calls := 0
	compute := func() string {
		calls++
		return "protected"
	}

	for i := 0; i < 3; i++ {
		if got := c.GetOrCompute("x", compute); got != "protected" {
			t.Fatalf("expected %q, got %q", "protected", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}

	c.InvalidateAll()
	c.GetOrCompute("x", compute)
	if calls != 2 {
		t.Fatalf("expected recomputation after invalidation, got %d calls", calls)
	}
}

func testConcurrentAccess(t *testing.T) {
	c := NewLRUCache[string, int](100, time.Minute)

	var wg sync.WaitGroup
	goroutines := 50
	ops := 100

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j)
				c.Set(key, j)
				c.Get(key)
				if j%10 == 0 {
					c.InvalidateAll()
				}
			}
		}(i)
	}

	wg.Wait()

	if c.Size() > 100 {
		t.Fatalf("expected size <= 100, got %d", c.Size())
	}
}
