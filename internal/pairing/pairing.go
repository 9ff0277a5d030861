// Package pairing stores one-shot overlay pairing codes between
// issuance (owned by the chat-platform command surface, out of this
// service's scope) and consumption by POST /overlay/pair/consume.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"overlaydispatch/internal/metrics"
)

const redisKeyPrefix = "pairing:"

var ErrCodeNotFound = errors.New("pairing: code not found or already consumed")

// Claim is the payload a pairing code resolves to.
type Claim struct {
	GuildID string `json:"guildId"`
	Label   string `json:"label"`
}

// Store is a Redis-backed one-shot code store, grounded on the same
// client/Get/Set/Delete shape used elsewhere in the domain stack for
// Redis-backed caches.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Issue writes code -> claim with ttl. Owned by the chat-platform
// command surface in production; exposed here mainly for tests and for
// any future first-party issuance path.
func (s *Store) Issue(ctx context.Context, code string, claim Claim, ttl time.Duration) error {
	data, err := json.Marshal(claim)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+code, data, ttl).Err(); err != nil {
		return err
	}
	metrics.PairingCodesIssuedTotal.Inc()
	return nil
}

// Consume atomically reads and deletes a pairing code (GETDEL), so a
// code can only ever be redeemed once even under concurrent requests.
func (s *Store) Consume(ctx context.Context, code string) (Claim, error) {
	raw, err := s.client.GetDel(ctx, redisKeyPrefix+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Claim{}, ErrCodeNotFound
		}
		return Claim{}, err
	}
	var claim Claim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return Claim{}, err
	}
	metrics.PairingCodesRedeemedTotal.Inc()
	return claim, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
