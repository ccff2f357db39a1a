package core

import (
	"context"
	"fmt"
	"testing"
)

func newMentionFixture(t *testing.T, provider Provider) (*Service, *memChannelStore, *memMentionStore, ChannelRecord) {
	t.Helper()
	registry := NewProviderRegistry()
	if err := registry.Register(provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	channelStore := newMemChannelStore()
	mentionStore := newMemMentionStore()
	channel := seedChannel(t, channelStore, UpsertChannelInput{
		OrganizationID:     "org-1",
		ProviderIdentifier: provider.ID(),
		ExternalAccountID:  "acct-1",
		Name:               "Account One",
		AccessToken:        "access-1",
	})
	service := newTestService(t,
		WithRegistry(registry),
		WithChannelStore(channelStore),
		WithMentionStore(mentionStore),
	)
	return service, channelStore, mentionStore, channel
}

func TestSearchMentions_MergesCachedFirst(t *testing.T) {
	provider := &fakeMentionProvider{fakeProvider: &fakeProvider{
		id: "mastodon",
		mentions: func(context.Context, string, string) (MentionList, error) {
			return MentionList{Entries: []Mention{
				{ID: "u1", Label: "Live One"},
				{ID: "u2", Label: "Live Two"},
			}}, nil
		},
	}}
	service, _, mentionStore, channel := newMentionFixture(t, provider)
	if err := mentionStore.Append(context.Background(), "mastodon", "on", []Mention{
		{ID: "u1", Label: "Cached One"},
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "on",
	})
	if err != nil {
		t.Fatalf("search mentions: %v", err)
	}
	if len(list.Entries) != 2 {
		t.Fatalf("expected 2 merged entries, got %d", len(list.Entries))
	}
	if list.Entries[0].ID != "u1" || list.Entries[0].Label != "Cached One" {
		t.Fatalf("expected cached entry to win for u1, got %+v", list.Entries[0])
	}
	if list.Entries[1].ID != "u2" {
		t.Fatalf("expected live-only entry second, got %+v", list.Entries[1])
	}
}

func TestSearchMentions_LiveFaultDegradesToCache(t *testing.T) {
	provider := &fakeMentionProvider{fakeProvider: &fakeProvider{
		id: "mastodon",
		mentions: func(context.Context, string, string) (MentionList, error) {
			return MentionList{}, fmt.Errorf("rate limited")
		},
	}}
	service, _, mentionStore, channel := newMentionFixture(t, provider)
	if err := mentionStore.Append(context.Background(), "mastodon", "on", []Mention{
		{ID: "u1", Label: "Cached One"},
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "on",
	})
	if err != nil {
		t.Fatalf("expected live fault to be swallowed: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Label != "Cached One" {
		t.Fatalf("expected cache-only results, got %+v", list.Entries)
	}
}

func TestSearchMentions_PanicDegradesToCache(t *testing.T) {
	provider := &fakeMentionProvider{fakeProvider: &fakeProvider{
		id: "mastodon",
		mentions: func(context.Context, string, string) (MentionList, error) {
			panic("decode failure")
		},
	}}
	service, _, mentionStore, channel := newMentionFixture(t, provider)
	if err := mentionStore.Append(context.Background(), "mastodon", "on", []Mention{
		{ID: "u1", Label: "Cached One"},
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "on",
	})
	if err != nil {
		t.Fatalf("expected panic to be contained: %v", err)
	}
	if len(list.Entries) != 1 {
		t.Fatalf("expected cache-only results, got %+v", list.Entries)
	}
}

func TestSearchMentions_NonePassesThrough(t *testing.T) {
	provider := &fakeMentionProvider{fakeProvider: &fakeProvider{
		id: "mastodon",
		mentions: func(context.Context, string, string) (MentionList, error) {
			return MentionList{None: true}, nil
		},
	}}
	service, _, mentionStore, channel := newMentionFixture(t, provider)
	if err := mentionStore.Append(context.Background(), "mastodon", "on", []Mention{
		{ID: "u1", Label: "Cached One"},
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "on",
	})
	if err != nil {
		t.Fatalf("search mentions: %v", err)
	}
	if !list.None || len(list.Entries) != 0 {
		t.Fatalf("expected None passthrough without entries, got %+v", list)
	}
}

func TestSearchMentions_NonSearchingProviderReturnsNone(t *testing.T) {
	service, _, _, channel := newMentionFixture(t, &fakeProvider{id: "mastodon"})

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "on",
	})
	if err != nil {
		t.Fatalf("search mentions: %v", err)
	}
	if !list.None {
		t.Fatalf("expected None for providers without mention search, got %+v", list)
	}
}

func TestSearchMentions_RefreshesStaleTokenAndRetries(t *testing.T) {
	searchCalls := 0
	provider := &fakeRefreshableMentionProvider{
		fakeRefreshableProvider: &fakeRefreshableProvider{fakeProvider: &fakeProvider{
			id: "mastodon",
			mentions: func(_ context.Context, accessToken, _ string) (MentionList, error) {
				searchCalls++
				if accessToken != "refreshed-access" {
					return MentionList{}, fmt.Errorf("token expired: %w", ErrRefreshRequired)
				}
				return MentionList{Entries: []Mention{{ID: "u1", Label: "Live One"}}}, nil
			},
		}},
	}
	registry := NewProviderRegistry()
	if err := registry.Register(provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	channelStore := newMemChannelStore()
	channel := seedChannel(t, channelStore, UpsertChannelInput{
		OrganizationID:     "org-1",
		ProviderIdentifier: "mastodon",
		ExternalAccountID:  "acct-1",
		Name:               "Account One",
		AccessToken:        "stale-access",
		RefreshToken:       "refresh-1",
	})
	service := newTestService(t,
		WithRegistry(registry),
		WithChannelStore(channelStore),
		WithMentionStore(newMemMentionStore()),
	)

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "on",
	})
	if err != nil {
		t.Fatalf("search mentions: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].ID != "u1" {
		t.Fatalf("expected live results after refresh, got %+v", list.Entries)
	}
	if searchCalls != 2 {
		t.Fatalf("expected exactly one retry, got %d lookups", searchCalls)
	}

	stored, getErr := channelStore.Get(context.Background(), "org-1", channel.ID)
	if getErr != nil {
		t.Fatalf("get channel: %v", getErr)
	}
	if stored.AccessToken != "refreshed-access" {
		t.Fatalf("expected refreshed token persisted, got %q", stored.AccessToken)
	}
}

func TestSearchMentions_NamedOperationRunsThroughEngine(t *testing.T) {
	var seenQuery, seenToken string
	provider := &fakeProvider{
		id: "mastodon",
		operations: map[string]ProviderOperation{
			"mention_lookup": func(_ context.Context, call OperationCall) (any, error) {
				seenToken = call.AccessToken
				seenQuery, _ = call.Payload["query"].(string)
				return MentionList{Entries: []Mention{{ID: "u1", Label: "Looked Up"}}}, nil
			},
		},
	}
	service, _, _, channel := newMentionFixture(t, provider)

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Operation:      "mention_lookup",
		Query:          "look",
	})
	if err != nil {
		t.Fatalf("search mentions: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Label != "Looked Up" {
		t.Fatalf("expected operation results, got %+v", list.Entries)
	}
	if seenQuery != "look" || seenToken != "access-1" {
		t.Fatalf("unexpected operation call: query=%q token=%q", seenQuery, seenToken)
	}
}

func TestSearchMentions_SkipsUncacheableEntries(t *testing.T) {
	provider := &fakeMentionProvider{fakeProvider: &fakeProvider{
		id: "mastodon",
		mentions: func(context.Context, string, string) (MentionList, error) {
			return MentionList{Entries: []Mention{
				{ID: "u1", Label: "Durable"},
				{ID: "u2", Label: "Ephemeral", DoNotCache: true},
				{ID: "u3", Label: ""},
			}}, nil
		},
	}}
	service, _, mentionStore, channel := newMentionFixture(t, provider)

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "dur",
	})
	if err != nil {
		t.Fatalf("search mentions: %v", err)
	}
	if len(list.Entries) != 2 {
		t.Fatalf("expected unlabeled entry filtered from response, got %+v", list.Entries)
	}

	cached, cacheErr := mentionStore.Cached(context.Background(), "mastodon", "dur")
	if cacheErr != nil {
		t.Fatalf("cached: %v", cacheErr)
	}
	if len(cached) != 1 || cached[0].ID != "u1" {
		t.Fatalf("expected only the durable entry cached, got %+v", cached)
	}
}

func TestSearchMentions_FiltersEntriesMissingIDOrLabel(t *testing.T) {
	provider := &fakeMentionProvider{fakeProvider: &fakeProvider{
		id: "mastodon",
		mentions: func(context.Context, string, string) (MentionList, error) {
			return MentionList{Entries: []Mention{
				{ID: "", Label: "No ID"},
				{ID: "u1", Label: ""},
				{ID: "u2", Label: "Kept"},
			}}, nil
		},
	}}
	service, _, _, channel := newMentionFixture(t, provider)

	list, err := service.SearchMentions(context.Background(), MentionRequest{
		OrganizationID: "org-1",
		ChannelID:      channel.ID,
		Query:          "ke",
	})
	if err != nil {
		t.Fatalf("search mentions: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].ID != "u2" {
		t.Fatalf("expected only complete entries, got %+v", list.Entries)
	}
}
