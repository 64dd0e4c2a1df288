package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLRUCacheGetSet(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}

	// "b" is now least recently used and gets evicted.
	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
}

func TestLRUCacheTTLAndPeek(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](10, time.Minute).WithClock(clock.now)

	c.Set("USD/UZS", "12800")
	clock.advance(2 * time.Minute)

	if _, ok := c.Get("USD/UZS"); ok {
		t.Fatal("expected stale entry to be missed by Get")
	}
	v, storedAt, ok := c.Peek("USD/UZS")
	if !ok || v != "12800" {
		t.Fatalf("Peek = %q, %v", v, ok)
	}
	if !storedAt.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("storedAt = %v", storedAt)
	}

	// Stale for one minute: kept.
	if removed := c.CleanExpired(); removed != 0 {
		t.Fatalf("CleanExpired removed %d, want 0", removed)
	}
	clock.advance(time.Minute + time.Second)
	if removed := c.CleanExpired(); removed != 1 {
		t.Fatalf("CleanExpired removed %d, want 1", removed)
	}
	if _, _, ok := c.Peek("USD/UZS"); ok {
		t.Fatal("expected entry to be gone after cleanup")
	}
}

func TestLRUCacheStats(t *testing.T) {
	c := NewLRUCache[int](4, time.Minute)
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Size != 1 {
		t.Fatalf("Stats = %+v", s)
	}
}

func TestManagerCleanAll(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := NewLRUCache[int](4, time.Second).WithClock(clock.now)
	c.Set("a", 1)
	clock.advance(time.Hour)

	m := NewManager()
	m.Register("rates", c)
	got := m.CleanAll()
	if got["rates"] != 1 {
		t.Fatalf("CleanAll = %v", got)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop() // idempotent
}
