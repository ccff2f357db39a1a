package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-channels/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const mentionCacheKeyPrefix = "go-channels::mentions::v1"

// CachedMentionStore layers a read-through cache over a MentionStore so
// repeated mention queries skip the database.
type CachedMentionStore struct {
	base  core.MentionStore
	cache repositorycache.CacheService
}

func NewCachedMentionStore(base core.MentionStore, cacheService repositorycache.CacheService) (*CachedMentionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base mention store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: mention cache service is required")
	}
	return &CachedMentionStore{base: base, cache: cacheService}, nil
}

// MentionCacheKey returns the deterministic cache key contract for mention
// reads: go-channels::mentions::v1::<provider>::<query> with each segment
// URL-path escaped.
func MentionCacheKey(provider, query string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", fmt.Errorf("sqlstore: provider is required")
	}
	segments := []string{
		url.PathEscape(provider),
		url.PathEscape(normalizeMentionQuery(query)),
	}
	return strings.Join(append([]string{mentionCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedMentionStore) Cached(ctx context.Context, provider, query string) ([]core.Mention, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached mention store is not configured")
	}
	cacheKey, err := MentionCacheKey(provider, query)
	if err != nil {
		return nil, err
	}
	entries, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.Mention, error) {
		fetched, fetchErr := s.base.Cached(ctx, provider, query)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return append([]core.Mention(nil), fetched...), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]core.Mention(nil), entries...), nil
}

func (s *CachedMentionStore) Append(ctx context.Context, provider, query string, entries []core.Mention) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached mention store is not configured")
	}
	if err := s.base.Append(ctx, provider, query, entries); err != nil {
		return err
	}
	cacheKey, err := MentionCacheKey(provider, query)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return err
	}
	return nil
}

var _ core.MentionStore = (*CachedMentionStore)(nil)
