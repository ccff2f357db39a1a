package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultStateTTL = 300 * time.Second

// MemoryStateStore keeps pending authorization state in process memory.
// Suitable for single-instance deployments and tests; multi-instance
// deployments should use the redis-backed store.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]AuthorizationState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: map[string]AuthorizationState{}}
}

func (s *MemoryStateStore) Save(_ context.Context, state AuthorizationState, ttl time.Duration) error {
	if s == nil {
		return fmt.Errorf("core: state store is not configured")
	}
	token := strings.TrimSpace(state.State)
	if token == "" {
		return fmt.Errorf("core: state token is required")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}

	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = state.CreatedAt.Add(ttl)
	}

	s.mu.Lock()
	s.prune(now)
	s.entries[token] = cloneAuthorizationState(state)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, token string) (AuthorizationState, bool, error) {
	if s == nil {
		return AuthorizationState{}, false, fmt.Errorf("core: state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return AuthorizationState{}, false, nil
	}

	s.mu.Lock()
	state, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	s.mu.Unlock()

	if !ok {
		return AuthorizationState{}, false, nil
	}
	if !state.ExpiresAt.IsZero() && time.Now().UTC().After(state.ExpiresAt) {
		return AuthorizationState{}, false, nil
	}

	return cloneAuthorizationState(state), true, nil
}

func (s *MemoryStateStore) Delete(_ context.Context, token string) error {
	if s == nil {
		return fmt.Errorf("core: state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
	return nil
}

// prune drops expired entries; caller holds the lock.
func (s *MemoryStateStore) prune(now time.Time) {
	for token, state := range s.entries {
		if !state.ExpiresAt.IsZero() && now.After(state.ExpiresAt) {
			delete(s.entries, token)
		}
	}
}

// GenerateStateToken mints a URL-safe random token for an authorization
// round trip.
func GenerateStateToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func cloneAuthorizationState(state AuthorizationState) AuthorizationState {
	cloned := state
	if state.ExternalContext != nil {
		ctxCopy := *state.ExternalContext
		ctxCopy.Metadata = copyAnyMap(state.ExternalContext.Metadata)
		cloned.ExternalContext = &ctxCopy
	}
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
