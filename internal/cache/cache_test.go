package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New(time.Hour, 10)

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get = %v, %v; want v, true", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatal("missing key should not be found")
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	c := New(time.Minute, 10, WithNowFunc(func() time.Time { return now }))

	c.Set("k", 42)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should be live before TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should be expired after TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on read, Len = %d", c.Len())
	}
}

func TestTTLBoundaryIsExpired(t *testing.T) {
	now := time.Now()
	c := New(time.Minute, 10, WithNowFunc(func() time.Time { return now }))

	c.Set("k", 42)

	// 刚好到达 created_at + TTL 时必须算过期。
	now = now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry must be expired at exactly created_at + TTL")
	}

	c.Set("k2", 43)
	now = now.Add(time.Minute)
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d entries, want 1", removed)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	now := time.Now()
	c := New(time.Hour, 3, WithNowFunc(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		now = now.Add(time.Second)
	}
	c.Set("k3", 3)

	if _, ok := c.Get("k0"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Fatal("new entry should be present")
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
}

func TestCapacityEvictsExpiredFirst(t *testing.T) {
	now := time.Now()
	c := New(time.Minute, 2, WithNowFunc(func() time.Time { return now }))

	c.SetWithTTL("short", 1, time.Second)
	c.Set("long", 2)

	now = now.Add(10 * time.Second)
	c.Set("new", 3)

	if _, ok := c.Get("long"); !ok {
		t.Fatal("live entry should survive when an expired one can be evicted")
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatal("new entry should be present")
	}
}

func TestSweep(t *testing.T) {
	now := time.Now()
	c := New(time.Minute, 10, WithNowFunc(func() time.Time { return now }))

	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Second)

	now = now.Add(5 * time.Second)
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := New(time.Hour, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3)

	if _, ok := c.Get("b"); !ok {
		t.Fatal("overwriting an existing key should not evict others")
	}
	got, _ := c.Get("a")
	if got != 3 {
		t.Fatalf("a = %v, want 3", got)
	}
}
