package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/repository"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestRateLimitRepository_ReserveEnforcesLimit(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "sessec:rl"})

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := repo.Reserve(ctx, "session:192.0.2.1", 2, time.Minute, base)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if !first.Allowed || first.Count != 1 {
		t.Fatalf("expected first attempt allowed with count 1, got %+v", first)
	}

	if _, err := repo.Reserve(ctx, "session:192.0.2.1", 2, time.Minute, base.Add(time.Second)); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	third, err := repo.Reserve(ctx, "session:192.0.2.1", 2, time.Minute, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if third.Allowed {
		t.Fatalf("expected third attempt to be rejected")
	}
	if third.Count != 2 {
		t.Fatalf("expected count 2, got %d", third.Count)
	}
	if !third.Oldest.Equal(base) {
		t.Fatalf("expected oldest attempt %v, got %v", base, third.Oldest)
	}

	if ttl := server.TTL("sessec:rl:session:192.0.2.1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within (0, 1m], got %v", ttl)
	}
}

func TestRateLimitRepository_ReserveSlidesWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "sessec:rl"})

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := repo.Reserve(ctx, "ip", 1, time.Minute, base); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	later, err := repo.Reserve(ctx, "ip", 1, time.Minute, base.Add(61*time.Second))
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if !later.Allowed || later.Count != 1 {
		t.Fatalf("expected attempt after window to be allowed, got %+v", later)
	}
}

func TestRateLimitRepository_ReserveRejectsInvalidWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	if _, err := repo.Reserve(context.Background(), "ip", 1, 0, time.Now()); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

func TestUserLockRepository_AcquireAndRelease(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewUserLockRepository(client, "")
	ctx := context.Background()

	token, ok, err := repo.Acquire(ctx, "user-1", 5*time.Second)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected lock to be acquired, got ok=%v token=%q err=%v", ok, token, err)
	}

	if _, ok, err := repo.Acquire(ctx, "user-1", 5*time.Second); err != nil || ok {
		t.Fatalf("expected second acquire to fail, got ok=%v err=%v", ok, err)
	}

	if err := repo.Release(ctx, "user-1", "not-the-owner"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if !server.Exists("sessec:lock:user:user-1") {
		t.Fatalf("expected lock to survive release with foreign token")
	}

	if err := repo.Release(ctx, "user-1", token); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if server.Exists("sessec:lock:user:user-1") {
		t.Fatalf("expected lock to be released")
	}

	if _, ok, err := repo.Acquire(ctx, "user-1", 5*time.Second); err != nil || !ok {
		t.Fatalf("expected lock to be acquirable after release, got ok=%v err=%v", ok, err)
	}
}

func TestLockdownRepository_PlaceGetLift(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewLockdownRepository(client, "")
	ctx := context.Background()

	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lockdown := domain.Lockdown{
		UserID:      "user-9",
		AlertID:     "alert-1",
		Reason:      "privilege_escalation",
		TriggeredAt: triggered,
		ExpiresAt:   triggered.Add(time.Hour),
	}

	if err := repo.Place(ctx, lockdown, time.Hour); err != nil {
		t.Fatalf("Place returned error: %v", err)
	}

	if ttl := server.TTL("sessec:lockdown:user-9"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl within (0, 1h], got %v", ttl)
	}

	got, err := repo.Get(ctx, "user-9")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.AlertID != "alert-1" || !got.TriggeredAt.Equal(triggered) {
		t.Fatalf("unexpected lockdown: %+v", got)
	}

	if err := repo.Lift(ctx, "user-9"); err != nil {
		t.Fatalf("Lift returned error: %v", err)
	}

	if _, err := repo.Get(ctx, "user-9"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after lift, got %v", err)
	}
}
