package core

import (
	"context"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestIssueAuthorizationURL_UnknownProviderIsRejected(t *testing.T) {
	service := newTestService(t)

	_, err := service.IssueAuthorizationURL(context.Background(), IssueRequest{ProviderID: "ghost"})
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ChannelsErrorProviderNotAllowed {
		t.Fatalf("expected %s, got %v", ChannelsErrorProviderNotAllowed, err)
	}
}

func TestIssueAuthorizationURL_AllowListBlocksRegisteredProvider(t *testing.T) {
	registry := NewProviderRegistry()
	if err := registry.Register(&fakeProvider{id: "mastodon"}); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	service, err := NewService(
		Config{AllowedProviders: []string{"discord"}},
		WithRegistry(registry),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := service.IssueAuthorizationURL(context.Background(), IssueRequest{ProviderID: "mastodon"}); err == nil {
		t.Fatalf("expected allow list rejection")
	}
}

func TestIssueAuthorizationURL_StoresConsumableState(t *testing.T) {
	registry := NewProviderRegistry()
	if err := registry.Register(&fakeProvider{id: "mastodon"}); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	stateStore := NewMemoryStateStore()
	service := newTestService(t, WithRegistry(registry), WithStateStore(stateStore))

	response, err := service.IssueAuthorizationURL(context.Background(), IssueRequest{
		ProviderID:  "mastodon",
		RedirectURI: "https://app.test/callback",
	})
	if err != nil {
		t.Fatalf("issue authorization url: %v", err)
	}
	if response.Failed {
		t.Fatalf("unexpected soft failure: %s", response.Message)
	}
	if response.URL == "" || response.State == "" {
		t.Fatalf("expected url and state, got %+v", response)
	}

	state, ok, err := stateStore.Consume(context.Background(), response.State)
	if err != nil || !ok {
		t.Fatalf("expected stored state, got ok=%v err=%v", ok, err)
	}
	if state.ProviderID != "mastodon" {
		t.Fatalf("expected provider id on state, got %q", state.ProviderID)
	}
	if state.CodeVerifier != response.CodeVerifier {
		t.Fatalf("expected matching code verifier")
	}
}

func TestIssueAuthorizationURL_CustomFieldsShortCircuit(t *testing.T) {
	provider := &fakeCustomFieldsProvider{fakeProvider: &fakeProvider{
		id: "telegram",
		fields: []CustomField{
			{Key: "bot_token", Label: "Bot Token", Type: "password"},
		},
	}}
	registry := NewProviderRegistry()
	if err := registry.Register(provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	stateStore := NewMemoryStateStore()
	service := newTestService(t, WithRegistry(registry), WithStateStore(stateStore))

	response, err := service.IssueAuthorizationURL(context.Background(), IssueRequest{ProviderID: "telegram"})
	if err != nil {
		t.Fatalf("issue authorization url: %v", err)
	}
	if response.URL != "" {
		t.Fatalf("expected no redirect url for custom fields provider")
	}
	if response.CodeVerifier != CodeVerifierNone {
		t.Fatalf("expected %q verifier, got %q", CodeVerifierNone, response.CodeVerifier)
	}
	if len(response.CustomFields) != 1 || response.CustomFields[0].Key != "bot_token" {
		t.Fatalf("expected custom field definitions, got %+v", response.CustomFields)
	}

	state, ok, _ := stateStore.Consume(context.Background(), response.State)
	if !ok || state.CodeVerifier != CodeVerifierNone {
		t.Fatalf("expected state stored with sentinel verifier, got ok=%v state=%+v", ok, state)
	}
}

func TestIssueAuthorizationURL_ProviderFaultDegradesToSoftFailure(t *testing.T) {
	provider := &fakeProvider{
		id: "mastodon",
		authorize: func(context.Context, AuthorizationRequest) (AuthorizationArtifacts, error) {
			return AuthorizationArtifacts{}, fmt.Errorf("upstream unavailable")
		},
	}
	registry := NewProviderRegistry()
	if err := registry.Register(provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	service := newTestService(t, WithRegistry(registry))

	response, err := service.IssueAuthorizationURL(context.Background(), IssueRequest{ProviderID: "mastodon"})
	if err != nil {
		t.Fatalf("expected soft failure, got error: %v", err)
	}
	if !response.Failed || response.Message == "" {
		t.Fatalf("expected failed response with message, got %+v", response)
	}
}

func TestProviders_DescribesCapabilities(t *testing.T) {
	registry := NewProviderRegistry()
	refreshable := &fakeRefreshableProvider{fakeProvider: &fakeProvider{
		id:        "mastodon",
		reconnect: true,
		operations: map[string]ProviderOperation{
			"publish": func(context.Context, OperationCall) (any, error) { return nil, nil },
		},
	}}
	if err := registry.Register(refreshable); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	service := newTestService(t, WithRegistry(registry))

	descriptors := service.Providers()
	if len(descriptors) != 1 {
		t.Fatalf("expected one descriptor, got %d", len(descriptors))
	}
	desc := descriptors[0]
	if desc.Identifier != "mastodon" {
		t.Fatalf("unexpected identifier %q", desc.Identifier)
	}
	if !desc.SupportsReconnect || !desc.SupportsRefresh {
		t.Fatalf("expected reconnect and refresh flags, got %+v", desc)
	}
	if len(desc.Operations) != 1 || desc.Operations[0] != "publish" {
		t.Fatalf("expected publish operation listed, got %v", desc.Operations)
	}
}

func TestDecodeCustomFields_ValidatesRequiredKeys(t *testing.T) {
	provider := &fakeCustomFieldsProvider{fakeProvider: &fakeProvider{
		id: "telegram",
		fields: []CustomField{
			{Key: "bot_token", Label: "Bot Token", Type: "password"},
		},
	}}

	// {"bot_token":"secret"}
	valid := "eyJib3RfdG9rZW4iOiJzZWNyZXQifQ=="
	if _, err := DecodeCustomFields(provider, valid); err != nil {
		t.Fatalf("decode valid payload: %v", err)
	}

	// {"other":"value"}
	missing := "eyJvdGhlciI6InZhbHVlIn0="
	if _, err := DecodeCustomFields(provider, missing); err == nil {
		t.Fatalf("expected error for missing required field")
	}

	if _, err := DecodeCustomFields(provider, "not-base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

func TestListChannels_RedactsTokens(t *testing.T) {
	store := newMemChannelStore()
	if _, err := store.Upsert(context.Background(), UpsertChannelInput{
		OrganizationID:     "org-1",
		ProviderIdentifier: "mastodon",
		ExternalAccountID:  "acct-1",
		Name:               "Account One",
		AccessToken:        "secret-access",
		RefreshToken:       "secret-refresh",
	}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	service := newTestService(t, WithChannelStore(store))

	channels, err := service.ListChannels(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected one channel, got %d", len(channels))
	}
	if channels[0].AccessToken != "" || channels[0].RefreshToken != "" {
		t.Fatalf("expected tokens redacted, got %+v", channels[0])
	}
}
