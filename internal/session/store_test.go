package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func testSnapshot(sessionID string) Snapshot {
	return Snapshot{
		SessionID:  sessionID,
		DocumentID: 7,
		Text:       "I really like ice cream",
		Entries: []Entry{
			{Kind: "coding", ID: 1, Pos0: 2, Pos1: 8, SelText: "really"},
			{Kind: "annotation", ID: 4, Pos0: 14, Pos1: 17},
		},
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func stores(t *testing.T) map[string]Store {
	redisStore, _ := setupTestRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestAcquireIsExclusive(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Acquire(ctx, testSnapshot("edit_a")); err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}
			if err := store.Acquire(ctx, testSnapshot("edit_b")); !errors.Is(err, ErrLocked) {
				t.Fatalf("expected ErrLocked, got %v", err)
			}
			if err := store.Release(ctx, "edit_a"); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
			if err := store.Acquire(ctx, testSnapshot("edit_b")); err != nil {
				t.Fatalf("Acquire after release failed: %v", err)
			}
		})
	}
}

func TestLoadRoundTripsSnapshot(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := testSnapshot("edit_a")
			if err := store.Acquire(ctx, want); err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}

			got, err := store.Load(ctx, "edit_a")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got.Text != want.Text || got.DocumentID != want.DocumentID || len(got.Entries) != 2 {
				t.Fatalf("unexpected snapshot %+v", got)
			}
			if got.Entries[0] != want.Entries[0] || !got.StartedAt.Equal(want.StartedAt) {
				t.Fatalf("entry mismatch: %+v", got.Entries[0])
			}

			active, err := store.Active(ctx)
			if err != nil || active.SessionID != "edit_a" {
				t.Fatalf("Active = %+v, %v", active, err)
			}

			if _, err := store.Load(ctx, "edit_other"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestReleaseByStaleSessionKeepsLock(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Acquire(ctx, testSnapshot("edit_a")); err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}
			if err := store.Release(ctx, "edit_old"); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
			if _, err := store.Active(ctx); err != nil {
				t.Fatalf("lock should still be held: %v", err)
			}
			if err := store.Touch(ctx, "edit_old"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Touch by stale session = %v, want ErrNotFound", err)
			}
			if err := store.Touch(ctx, "edit_a"); err != nil {
				t.Fatalf("Touch failed: %v", err)
			}
		})
	}
}

func TestActiveWithoutSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Active(context.Background()); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRedisLockExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Acquire(ctx, testSnapshot("edit_a")); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := store.Active(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired lock, got %v", err)
	}
	if err := store.Acquire(ctx, testSnapshot("edit_b")); err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}
}

func TestRedisTouchExtendsLock(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Acquire(ctx, testSnapshot("edit_a")); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s.FastForward(40 * time.Second)
	if err := store.Touch(ctx, "edit_a"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	s.FastForward(40 * time.Second)

	if _, err := store.Load(ctx, "edit_a"); err != nil {
		t.Fatalf("snapshot should survive after Touch: %v", err)
	}
	if ttl := s.TTL(store.lockKey()); ttl <= 0 {
		t.Fatalf("lock ttl = %v, want positive", ttl)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url", 0); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestRedisPing(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
