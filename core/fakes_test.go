package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type fakeProvider struct {
	id           string
	authorize    func(ctx context.Context, req AuthorizationRequest) (AuthorizationArtifacts, error)
	authenticate func(ctx context.Context, req AuthenticateRequest) (AuthDetails, error)
	reconnectFn  func(ctx context.Context, externalAccountID, reconnectTarget, accessToken string) (AuthDetails, error)
	refresh      func(ctx context.Context, refreshToken string) (RefreshDetails, error)
	mentions     func(ctx context.Context, accessToken, query string) (MentionList, error)
	operations   map[string]ProviderOperation
	fields       []CustomField
	reconnect    bool
	oneTime      bool
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) GenerateAuthorizationURL(ctx context.Context, req AuthorizationRequest) (AuthorizationArtifacts, error) {
	if p.authorize != nil {
		return p.authorize(ctx, req)
	}
	return AuthorizationArtifacts{
		URL:          "https://example.test/authorize?state=" + req.State,
		State:        req.State,
		CodeVerifier: "verifier-" + req.State,
	}, nil
}

func (p *fakeProvider) Authenticate(ctx context.Context, req AuthenticateRequest) (AuthDetails, error) {
	if p.authenticate != nil {
		return p.authenticate(ctx, req)
	}
	return AuthDetails{
		ExternalAccountID: "acct-1",
		DisplayName:       "Account One",
		Username:          "account.one",
		AccessToken:       "access-1",
		RefreshToken:      "refresh-1",
		ExpiresInSeconds:  3600,
	}, nil
}

type fakeRefreshableProvider struct {
	*fakeProvider
}

func (p *fakeRefreshableProvider) RefreshToken(ctx context.Context, refreshToken string) (RefreshDetails, error) {
	if p.refresh != nil {
		return p.refresh(ctx, refreshToken)
	}
	return RefreshDetails{AccessToken: "refreshed-access", RefreshToken: "refreshed-refresh", ExpiresInSeconds: 3600}, nil
}

type fakeMentionProvider struct {
	*fakeProvider
}

func (p *fakeMentionProvider) SearchMentions(ctx context.Context, accessToken, query string) (MentionList, error) {
	if p.mentions != nil {
		return p.mentions(ctx, accessToken, query)
	}
	return MentionList{}, nil
}

type fakeCustomFieldsProvider struct {
	*fakeProvider
}

func (p *fakeCustomFieldsProvider) CustomFields() []CustomField {
	return p.fields
}

type fakeFollowUpProvider struct {
	*fakeProvider
}

func (p *fakeFollowUpProvider) NeedsFollowUpStep() bool { return true }

// fakeSettlerProvider declares a propagation delay for refreshed tokens.
type fakeSettlerProvider struct {
	*fakeRefreshableProvider
	settleWait time.Duration
}

func (p *fakeSettlerProvider) RefreshSettleWait() time.Duration { return p.settleWait }

// fakeRefreshableMentionProvider supports both token refresh and mention
// search.
type fakeRefreshableMentionProvider struct {
	*fakeRefreshableProvider
}

func (p *fakeRefreshableMentionProvider) SearchMentions(ctx context.Context, accessToken, query string) (MentionList, error) {
	if p.mentions != nil {
		return p.mentions(ctx, accessToken, query)
	}
	return MentionList{}, nil
}

func (p *fakeProvider) Operations() map[string]ProviderOperation {
	if p.operations == nil {
		return map[string]ProviderOperation{}
	}
	return p.operations
}

func (p *fakeProvider) SupportsReconnect() bool { return p.reconnect }

func (p *fakeProvider) Reconnect(ctx context.Context, externalAccountID, reconnectTarget, accessToken string) (AuthDetails, error) {
	if p.reconnectFn != nil {
		return p.reconnectFn(ctx, externalAccountID, reconnectTarget, accessToken)
	}
	return AuthDetails{ExternalAccountID: externalAccountID, AccessToken: accessToken}, nil
}

func (p *fakeProvider) IssuesOneTimeToken() bool { return p.oneTime }

// memChannelStore is an in-memory ChannelStore for service-level tests.
type memChannelStore struct {
	seq      int
	channels map[string]ChannelRecord
	// graveyard keeps soft-deleted rows visible to prior-connection checks.
	graveyard []ChannelRecord
}

func newMemChannelStore() *memChannelStore {
	return &memChannelStore{channels: map[string]ChannelRecord{}}
}

func (s *memChannelStore) Upsert(_ context.Context, in UpsertChannelInput) (ChannelRecord, error) {
	now := time.Now().UTC()
	for id, existing := range s.channels {
		if existing.OrganizationID == in.OrganizationID &&
			existing.ProviderIdentifier == in.ProviderIdentifier &&
			existing.ExternalAccountID == in.ExternalAccountID {
			existing.Name = in.Name
			existing.Username = in.Username
			existing.Picture = in.Picture
			existing.AccessToken = in.AccessToken
			if in.RefreshToken != "" {
				existing.RefreshToken = in.RefreshToken
			}
			if in.AdditionalSettings != "" {
				existing.AdditionalSettings = in.AdditionalSettings
			}
			existing.Disabled = false
			existing.InBetweenSteps = in.InBetweenSteps
			existing.UpdatedAt = now
			s.channels[id] = existing
			return existing, nil
		}
	}
	s.seq++
	record := ChannelRecord{
		ID:                 fmt.Sprintf("ch-%d", s.seq),
		OrganizationID:     in.OrganizationID,
		ProviderIdentifier: in.ProviderIdentifier,
		ExternalAccountID:  in.ExternalAccountID,
		Name:               in.Name,
		Username:           in.Username,
		Picture:            in.Picture,
		AccessToken:        in.AccessToken,
		RefreshToken:       in.RefreshToken,
		AdditionalSettings: in.AdditionalSettings,
		InBetweenSteps:     in.InBetweenSteps,
		OneTimeToken:       in.OneTimeToken,
		TimezoneOffset:     in.TimezoneOffset,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.ExpiresInSeconds > 0 {
		record.TokenExpiresAt = now.Add(time.Duration(in.ExpiresInSeconds) * time.Second)
	}
	s.channels[record.ID] = record
	return record, nil
}

func (s *memChannelStore) Get(_ context.Context, orgID, channelID string) (ChannelRecord, error) {
	record, ok := s.channels[channelID]
	if !ok || record.OrganizationID != orgID {
		return ChannelRecord{}, fmt.Errorf("%w: id %q", ErrUnknownChannel, channelID)
	}
	return record, nil
}

func (s *memChannelStore) GetByExternalID(_ context.Context, orgID, provider, externalID string) (ChannelRecord, error) {
	for _, record := range s.channels {
		if record.OrganizationID == orgID && record.ProviderIdentifier == provider && record.ExternalAccountID == externalID {
			return record, nil
		}
	}
	return ChannelRecord{}, fmt.Errorf("%w: external id %q", ErrUnknownChannel, externalID)
}

func (s *memChannelStore) HadPriorConnection(_ context.Context, orgID, externalID string) (bool, error) {
	check := func(record ChannelRecord) bool {
		return record.OrganizationID == orgID && record.ExternalAccountID == externalID
	}
	for _, record := range s.channels {
		if check(record) {
			return true, nil
		}
	}
	for _, record := range s.graveyard {
		if check(record) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memChannelStore) Disable(_ context.Context, orgID, channelID string) error {
	record, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: id %q", ErrUnknownChannel, channelID)
	}
	if orgID != "" && record.OrganizationID != orgID {
		return fmt.Errorf("%w: id %q", ErrUnknownChannel, channelID)
	}
	record.Disabled = true
	record.RefreshNeeded = true
	s.channels[channelID] = record
	return nil
}

func (s *memChannelStore) Enable(_ context.Context, orgID, channelID string, maxEnabled int) error {
	if maxEnabled > 0 {
		enabled := 0
		for _, record := range s.channels {
			if record.OrganizationID == orgID && !record.Disabled {
				enabled++
			}
		}
		if enabled >= maxEnabled {
			return fmt.Errorf("memstore: enabled channel limit of %d reached", maxEnabled)
		}
	}
	record, ok := s.channels[channelID]
	if !ok || record.OrganizationID != orgID {
		return fmt.Errorf("%w: id %q", ErrUnknownChannel, channelID)
	}
	record.Disabled = false
	s.channels[channelID] = record
	return nil
}

func (s *memChannelStore) Delete(_ context.Context, orgID, channelID string) error {
	record, ok := s.channels[channelID]
	if !ok || record.OrganizationID != orgID {
		return fmt.Errorf("%w: id %q", ErrUnknownChannel, channelID)
	}
	s.graveyard = append(s.graveyard, record)
	delete(s.channels, channelID)
	return nil
}

func (s *memChannelStore) List(_ context.Context, orgID string) ([]ChannelRecord, error) {
	out := []ChannelRecord{}
	for _, record := range s.channels {
		if record.OrganizationID == orgID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *memChannelStore) UpdateTokens(_ context.Context, channelID string, details RefreshDetails) error {
	record, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: id %q", ErrUnknownChannel, channelID)
	}
	record.AccessToken = details.AccessToken
	if details.RefreshToken != "" {
		record.RefreshToken = details.RefreshToken
	}
	record.RefreshNeeded = false
	s.channels[channelID] = record
	return nil
}

func (s *memChannelStore) UpdateProfile(_ context.Context, orgID, channelID, name, picture string) error {
	record, ok := s.channels[channelID]
	if !ok || record.OrganizationID != orgID {
		return fmt.Errorf("%w: id %q", ErrUnknownChannel, channelID)
	}
	if strings.TrimSpace(name) != "" {
		record.Name = name
	}
	if strings.TrimSpace(picture) != "" {
		record.Picture = picture
	}
	s.channels[channelID] = record
	return nil
}

type memMentionStore struct {
	entries map[string][]Mention
}

func newMemMentionStore() *memMentionStore {
	return &memMentionStore{entries: map[string][]Mention{}}
}

func (s *memMentionStore) key(provider, query string) string {
	return provider + "::" + strings.ToLower(strings.TrimSpace(query))
}

func (s *memMentionStore) Cached(_ context.Context, provider, query string) ([]Mention, error) {
	return append([]Mention(nil), s.entries[s.key(provider, query)]...), nil
}

func (s *memMentionStore) Append(_ context.Context, provider, query string, entries []Mention) error {
	key := s.key(provider, query)
	known := map[string]bool{}
	for _, entry := range s.entries[key] {
		known[entry.ID] = true
	}
	for _, entry := range entries {
		if known[entry.ID] {
			continue
		}
		known[entry.ID] = true
		s.entries[key] = append(s.entries[key], entry)
	}
	return nil
}

type staticBillingPolicy struct {
	trialing bool
	err      error
}

func (p staticBillingPolicy) IsTrialing(context.Context, string) (bool, error) {
	return p.trialing, p.err
}

func newTestService(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, opts ...Option) *Service {
	t.Helper()
	service, err := NewService(Config{}, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}
