package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache[T any](maxSize int, ttl time.Duration) (*LRUCache[T], *clock) {
	c := NewLRUCache[T](maxSize, ttl)
	clk := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return c, clk
}

func TestLRUCacheEviction(t *testing.T) {
	c, _ := newTestCache[string](3, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Get("key1") // key2 is now the least recently used
	c.Set("key4", "value4")

	if _, found := c.Get("key2"); found {
		t.Error("key2 should have been evicted")
	}
	for _, k := range []string{"key1", "key3", "key4"} {
		if _, found := c.Get(k); !found {
			t.Errorf("%s should still exist", k)
		}
	}
	if c.Size() != 3 {
		t.Errorf("size = %d, want 3", c.Size())
	}
}

func TestLRUCacheTTLExpiration(t *testing.T) {
	c, clk := newTestCache[string](100, time.Minute)

	c.Set("key1", "value1")
	if _, found := c.Get("key1"); !found {
		t.Fatal("key1 should exist immediately")
	}

	clk.advance(61 * time.Second)
	if _, found := c.Get("key1"); found {
		t.Error("key1 should have expired")
	}
	if c.Size() != 0 {
		t.Errorf("expired entry still counted: %d", c.Size())
	}
}

func TestLRUCacheOverwrite(t *testing.T) {
	c, clk := newTestCache[int](2, time.Minute)

	c.Set("a", 1)
	clk.advance(50 * time.Second)
	c.Set("a", 2) // refreshes the ttl too
	clk.advance(50 * time.Second)

	got, found := c.Get("a")
	if !found || got != 2 {
		t.Errorf("Get(a) = %d, %v; want 2, true", got, found)
	}
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c, _ := newTestCache[string](10, time.Hour)
	c.Set("card:1", "a")
	c.Set("invoices:1:2025-06-01", "b")
	c.Set("invoices:12:2025-06-01", "c")
	c.Set("invoices:2:2025-06-01", "d")

	if n := c.DeletePrefix("invoices:1:"); n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, found := c.Get("invoices:12:2025-06-01"); !found {
		t.Error("prefix must not match a longer card id")
	}
	c.Delete("card:1")
	if c.Size() != 2 {
		t.Errorf("size = %d, want 2", c.Size())
	}
}

func TestManagerCleanAll(t *testing.T) {
	a, clkA := newTestCache[string](10, time.Minute)
	b, _ := newTestCache[int](10, time.Hour)
	a.Set("x", "1")
	a.Set("y", "2")
	b.Set("z", 3)

	m := NewManager()
	m.Register(a)
	m.Register(b)

	clkA.advance(2 * time.Minute)
	if n := m.CleanAll(); n != 2 {
		t.Errorf("cleaned = %d, want 2", n)
	}
	if b.Size() != 1 {
		t.Errorf("unexpired entries removed")
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
