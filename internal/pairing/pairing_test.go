package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewStore(client)
}

func TestIssueThenConsumeReturnsClaimOnce(t *testing.T) {
	_, store := setupMiniRedis(t)
	ctx := context.Background()

	claim := Claim{GuildID: "g1", Label: "living-room-tv"}
	if err := store.Issue(ctx, "abc123", claim, time.Minute); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := store.Consume(ctx, "abc123")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got != claim {
		t.Fatalf("expected claim %+v, got %+v", claim, got)
	}

	if _, err := store.Consume(ctx, "abc123"); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound on second consume, got %v", err)
	}
}

func TestConsumeUnknownCode(t *testing.T) {
	_, store := setupMiniRedis(t)

	if _, err := store.Consume(context.Background(), "does-not-exist"); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestConsumeExpiredCode(t *testing.T) {
	mr, store := setupMiniRedis(t)
	ctx := context.Background()

	if err := store.Issue(ctx, "short-lived", Claim{GuildID: "g1"}, time.Second); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := store.Consume(ctx, "short-lived"); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound for expired code, got %v", err)
	}
}

func TestPing(t *testing.T) {
	_, store := setupMiniRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
