package core

import (
	"context"
	"strings"
	"time"
)

// MentionRequest searches mentionable accounts for one channel. Operation
// optionally names a registered provider operation to run the live lookup
// through; providers without one fall back to their search capability.
type MentionRequest struct {
	OrganizationID string
	ChannelID      string
	Operation      string
	Query          string
}

// SearchMentions merges cached and live mention results. Live lookup
// faults are swallowed so a provider outage degrades to cache-only
// results. A provider None signal passes through untouched.
func (s *Service) SearchMentions(ctx context.Context, req MentionRequest) (list MentionList, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"organization_id": req.OrganizationID,
		"channel_id":      req.ChannelID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "search_mentions", err, fields)
	}()

	store, err := s.requireChannelStore()
	if err != nil {
		return MentionList{}, err
	}
	channel, getErr := store.Get(ctx, req.OrganizationID, req.ChannelID)
	if getErr != nil {
		err = s.mapError(getErr)
		return MentionList{}, err
	}
	fields["provider_id"] = channel.ProviderIdentifier

	query := strings.TrimSpace(req.Query)

	var cached []Mention
	if s.mentionStore != nil {
		entries, cacheErr := s.mentionStore.Cached(ctx, channel.ProviderIdentifier, query)
		if cacheErr != nil {
			s.logError(ctx, "mention cache read failed", map[string]any{
				"provider_id": channel.ProviderIdentifier,
				"error":       cacheErr.Error(),
			})
		} else {
			cached = entries
		}
	}

	live := s.liveMentions(ctx, store, channel, req.Operation, query)
	if live.None {
		return MentionList{None: true}, nil
	}

	s.cacheMentions(ctx, channel.ProviderIdentifier, query, live.Entries)

	return MentionList{Entries: mergeMentions(cached, live.Entries)}, nil
}

// liveMentions runs the provider lookup through the invocation engine so an
// expired token refreshes and retries like any other operation. All faults
// degrade to an empty result.
func (s *Service) liveMentions(ctx context.Context, store ChannelStore, channel ChannelRecord, operationName, query string) MentionList {
	payload := map[string]any{"query": query}

	if name := strings.TrimSpace(operationName); name != "" {
		operation, ok := s.registry.Operation(channel.ProviderIdentifier, name)
		if !ok {
			s.logError(ctx, "mention operation not registered", map[string]any{
				"provider_id":    channel.ProviderIdentifier,
				"operation_name": name,
			})
			return MentionList{}
		}
		result := s.executeWithRefresh(ctx, store, channel, name, operation, payload)
		if !result.OK {
			return MentionList{}
		}
		return coerceMentionList(result.Output)
	}

	provider, ok := s.registry.Get(channel.ProviderIdentifier)
	if !ok {
		return MentionList{}
	}
	searcher, ok := provider.(MentionSearcher)
	if !ok {
		return MentionList{None: true}
	}
	operation := func(ctx context.Context, call OperationCall) (any, error) {
		return searcher.SearchMentions(ctx, call.AccessToken, query)
	}
	result := s.executeWithRefresh(ctx, store, channel, "search_mentions", operation, payload)
	if !result.OK {
		return MentionList{}
	}
	return coerceMentionList(result.Output)
}

// coerceMentionList normalizes operation output into a MentionList.
func coerceMentionList(output any) MentionList {
	switch value := output.(type) {
	case MentionList:
		return value
	case *MentionList:
		if value != nil {
			return *value
		}
		return MentionList{}
	case []Mention:
		return MentionList{Entries: value}
	default:
		return MentionList{}
	}
}

// cacheMentions appends labeled, cacheable entries. Best effort only.
func (s *Service) cacheMentions(ctx context.Context, providerID, query string, entries []Mention) {
	if s.mentionStore == nil || len(entries) == 0 {
		return
	}
	cacheable := make([]Mention, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Label) == "" || entry.DoNotCache {
			continue
		}
		cacheable = append(cacheable, entry)
	}
	if len(cacheable) == 0 {
		return
	}
	if appendErr := s.mentionStore.Append(ctx, providerID, query, cacheable); appendErr != nil {
		s.logError(ctx, "mention cache write failed", map[string]any{
			"provider_id": providerID,
			"error":       appendErr.Error(),
		})
	}
}

// mergeMentions deduplicates by id with cached entries winning, then drops
// entries missing an id or label.
func mergeMentions(cached, live []Mention) []Mention {
	seen := map[string]bool{}
	merged := make([]Mention, 0, len(cached)+len(live))
	for _, entry := range cached {
		if seen[entry.ID] {
			continue
		}
		seen[entry.ID] = true
		merged = append(merged, entry)
	}
	for _, entry := range live {
		if seen[entry.ID] {
			continue
		}
		seen[entry.ID] = true
		merged = append(merged, entry)
	}
	filtered := merged[:0]
	for _, entry := range merged {
		if strings.TrimSpace(entry.ID) == "" || strings.TrimSpace(entry.Label) == "" {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}
