package cache

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward
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

func newTestCache(ttl time.Duration) (*MemoryCache[string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache[string](ttl, time.Hour)
	c.now = clock.Now
	return c, clock
}

func TestMemoryCacheSetGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	defer c.Close()

	c.Set("a", "one")
	got, ok := c.Get("a")
	if !ok || got != "one" {
		t.Errorf("Expected (one, true), got (%q, %v)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}

	c.Set("a", "two")
	if got, _ := c.Get("a"); got != "two" {
		t.Errorf("Expected overwrite to win, got %q", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	defer c.Close()

	c.Set("a", "one")
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected entry to survive before ttl")
	}

	clock.Advance(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("Expected entry to expire after ttl")
	}
	if c.Size() != 1 {
		t.Errorf("Expected expired entry to stay until swept, size %d", c.Size())
	}

	c.sweep()
	if c.Size() != 0 {
		t.Errorf("Expected sweep to remove expired entry, size %d", c.Size())
	}
}

func TestMemoryCacheDeleteClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	defer c.Close()

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Expected deleted key to miss")
	}
	if c.Size() != 2 {
		t.Errorf("Expected size 2, got %d", c.Size())
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Expected empty cache, got %d", c.Size())
	}
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	c := NewMemoryCache[int](time.Minute, 0)
	c.Close()
	c.Close()
}
