package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"SwarmGate/internal/errors"
)

// countingStore 统计 Lookup 次数，用于验证缓存生效。
type countingStore struct {
	inner   *MemoryKeyStore
	lookups atomic.Int64
}

func (s *countingStore) Lookup(ctx context.Context, apiKey string) (string, error) {
	s.lookups.Add(1)
	return s.inner.Lookup(ctx, apiKey)
}

func (s *countingStore) Close() error { return nil }

func TestVerifyKnownKey(t *testing.T) {
	store := NewMemoryKeyStore()
	store.Seed("sk-valid", "acct-1")
	svc := NewService(store, time.Minute)

	accountID, err := svc.Verify(context.Background(), "sk-valid")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if accountID != "acct-1" {
		t.Fatalf("accountID = %q, want acct-1", accountID)
	}
}

func TestVerifyUnknownKey(t *testing.T) {
	svc := NewService(NewMemoryKeyStore(), time.Minute)

	_, err := svc.Verify(context.Background(), "sk-bogus")
	if errors.CodeOf(err) != errors.CodeUnauthorized {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestVerifyEmptyKey(t *testing.T) {
	svc := NewService(NewMemoryKeyStore(), time.Minute)

	_, err := svc.Verify(context.Background(), "")
	if errors.CodeOf(err) != errors.CodeUnauthorized {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestVerifyCachesResult(t *testing.T) {
	inner := NewMemoryKeyStore()
	inner.Seed("sk-valid", "acct-1")
	store := &countingStore{inner: inner}
	svc := NewService(store, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := svc.Verify(context.Background(), "sk-valid"); err != nil {
			t.Fatalf("Verify #%d: %v", i, err)
		}
	}
	if store.lookups.Load() != 1 {
		t.Fatalf("store lookups = %d, want 1 (remaining served from cache)", store.lookups.Load())
	}
}

func TestVerifyFailureNotCached(t *testing.T) {
	store := &countingStore{inner: NewMemoryKeyStore()}
	svc := NewService(store, time.Minute)

	_, _ = svc.Verify(context.Background(), "sk-bogus")
	_, _ = svc.Verify(context.Background(), "sk-bogus")
	if store.lookups.Load() != 2 {
		t.Fatalf("store lookups = %d, want 2 (failures are not cached)", store.lookups.Load())
	}
}
