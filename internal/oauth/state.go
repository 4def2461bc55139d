package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidState is returned when a callback state is unknown, expired or
// already used.
var ErrInvalidState = errors.New("oauth: invalid or expired state")

const stateKeyPrefix = "oauth:state:"

// StateStore keeps one-time CSRF states in Redis.
type StateStore struct {
	client *redis.Client
}

// NewStateStore creates a state store backed by client.
func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{client: client}
}

// Save stores state for ttl.
func (s *StateStore) Save(ctx context.Context, state string, ttl time.Duration) error {
	if err := s.client.Set(ctx, stateKeyPrefix+state, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set oauth state: %w", err)
	}
	return nil
}

// Consume deletes state and reports ErrInvalidState if it was not present.
func (s *StateStore) Consume(ctx context.Context, state string) error {
	if state == "" {
		return ErrInvalidState
	}
	err := s.client.GetDel(ctx, stateKeyPrefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("redis getdel oauth state: %w", err)
	}
	return nil
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
