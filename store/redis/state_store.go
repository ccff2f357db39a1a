package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-channels/core"
	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "go-channels::auth_state::v1::"

// StateStore keeps pending authorization state in redis so multiple
// service instances can complete a handshake any instance started. Redis
// TTL handles expiry; GETDEL makes consumption single-winner.
type StateStore struct {
	client *redis.Client
}

func NewStateStore(client *redis.Client) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	return &StateStore{client: client}, nil
}

func (s *StateStore) Save(ctx context.Context, state core.AuthorizationState, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: state store is not configured")
	}
	token := strings.TrimSpace(state.State)
	if token == "" {
		return fmt.Errorf("redisstore: state token is required")
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = state.CreatedAt.Add(ttl)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redisstore: marshal authorization state: %w", err)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: save authorization state: %w", err)
	}
	return nil
}

func (s *StateStore) Consume(ctx context.Context, token string) (core.AuthorizationState, bool, error) {
	if s == nil || s.client == nil {
		return core.AuthorizationState{}, false, fmt.Errorf("redisstore: state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.AuthorizationState{}, false, nil
	}

	data, err := s.client.GetDel(ctx, stateKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.AuthorizationState{}, false, nil
	}
	if err != nil {
		return core.AuthorizationState{}, false, fmt.Errorf("redisstore: consume authorization state: %w", err)
	}

	var state core.AuthorizationState
	if err := json.Unmarshal(data, &state); err != nil {
		return core.AuthorizationState{}, false, fmt.Errorf("redisstore: unmarshal authorization state: %w", err)
	}
	if !state.ExpiresAt.IsZero() && time.Now().UTC().After(state.ExpiresAt) {
		return core.AuthorizationState{}, false, nil
	}
	return state, true, nil
}

func (s *StateStore) Delete(ctx context.Context, token string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, stateKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("redisstore: delete authorization state: %w", err)
	}
	return nil
}

var _ core.StateStore = (*StateStore)(nil)
