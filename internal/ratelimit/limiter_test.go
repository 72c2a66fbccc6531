package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAllowWithinWindow(t *testing.T) {
	now := time.Now()
	l := New(3, time.Minute, WithNowFunc(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("request beyond limit should be rejected")
	}
}

func TestWindowReset(t *testing.T) {
	now := time.Now()
	l := New(2, time.Minute, WithNowFunc(func() time.Time { return now }))

	l.Allow("client")
	l.Allow("client")
	if l.Allow("client") {
		t.Fatal("should be rejected before reset")
	}

	now = now.Add(61 * time.Second)
	if !l.Allow("client") {
		t.Fatal("should be allowed after window expires")
	}
}

func TestClientsIsolated(t *testing.T) {
	l := New(1, time.Minute)

	if !l.Allow("a") {
		t.Fatal("first request for a should pass")
	}
	if !l.Allow("b") {
		t.Fatal("first request for b should pass")
	}
	if l.Allow("a") {
		t.Fatal("second request for a should be rejected")
	}
}

func TestRemaining(t *testing.T) {
	l := New(5, time.Minute)
	if got := l.Remaining("x"); got != 5 {
		t.Fatalf("Remaining = %d, want 5", got)
	}
	l.Allow("x")
	l.Allow("x")
	if got := l.Remaining("x"); got != 3 {
		t.Fatalf("Remaining = %d, want 3", got)
	}
}

func TestEvict(t *testing.T) {
	now := time.Now()
	l := New(10, time.Minute, WithNowFunc(func() time.Time { return now }))

	l.Allow("stale")
	now = now.Add(2 * time.Minute)
	l.Allow("fresh")

	if removed := l.Evict(); removed != 1 {
		t.Fatalf("Evict removed %d, want 1", removed)
	}
}

func TestConcurrentAllow(t *testing.T) {
	l := New(100, time.Minute)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("shared")
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 100 {
		t.Fatalf("allowed %d requests, want exactly 100", count)
	}
}
