package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Logger aliases keep consumers off the underlying logging module.
type Logger = glog.Logger
type LoggerProvider = glog.LoggerProvider
type FieldsLogger = glog.FieldsLogger

// Provider is the mandatory surface every channel integration implements.
// Optional behavior is discovered through the capability interfaces below.
type Provider interface {
	// ID returns the stable provider identifier, e.g. "mastodon".
	ID() string
	// GenerateAuthorizationURL mints the redirect URL plus the state and
	// verifier artifacts the completion step will need.
	GenerateAuthorizationURL(ctx context.Context, req AuthorizationRequest) (AuthorizationArtifacts, error)
	// Authenticate exchanges the callback code for credentials and the
	// external account identity. Rejections come back inside AuthDetails.
	Authenticate(ctx context.Context, req AuthenticateRequest) (AuthDetails, error)
}

// AuthorizationRequest parameterizes URL issuance.
type AuthorizationRequest struct {
	State           string
	RedirectURI     string
	ExternalContext *ExternalContext
}

// AuthorizationArtifacts is what issuance hands back for storage.
type AuthorizationArtifacts struct {
	URL          string
	State        string
	CodeVerifier string
}

// AuthenticateRequest carries the callback payload into the provider.
type AuthenticateRequest struct {
	Code            string
	CodeVerifier    string
	RedirectURI     string
	ExternalContext *ExternalContext
	Refresh         string
}

// CustomFieldsProvider collects credentials through a form instead of an
// OAuth redirect. Its issuance short-circuits with CodeVerifierNone.
type CustomFieldsProvider interface {
	CustomFields() []CustomField
}

// ExternalContextProvider resolves caller-supplied external URLs (self
// hosted instances) into the context stored with the authorization state.
type ExternalContextProvider interface {
	ResolveExternalContext(ctx context.Context, rawURL string) (*ExternalContext, error)
}

// ReconnectProvider re-authorizes an existing channel in place, preserving
// the channel id. Reconnect runs after a successful authenticate exchange,
// for providers whose reconnect flow needs different token scopes; its
// result replaces the authenticate outcome.
type ReconnectProvider interface {
	SupportsReconnect() bool
	Reconnect(ctx context.Context, externalAccountID, reconnectTarget, accessToken string) (AuthDetails, error)
}

// FollowUpStepProvider marks providers whose first connection leaves the
// channel in a setup step the caller still has to finish.
type FollowUpStepProvider interface {
	NeedsFollowUpStep() bool
}

// RefreshableProvider exchanges a refresh token for fresh credentials.
type RefreshableProvider interface {
	RefreshToken(ctx context.Context, refreshToken string) (RefreshDetails, error)
}

// RefreshSettler reports how long newly minted tokens take to propagate on
// the provider side before a retry is safe.
type RefreshSettler interface {
	RefreshSettleWait() time.Duration
}

// OneTimeTokenProvider marks providers whose tokens cannot be re-issued;
// their channels are flagged so expiry is surfaced instead of refreshed.
type OneTimeTokenProvider interface {
	IssuesOneTimeToken() bool
}

// NicknameChanger pushes a display-name change to the provider.
type NicknameChanger interface {
	ChangeNickname(ctx context.Context, accessToken, externalAccountID, name string) (string, error)
}

// ProfilePictureChanger pushes an avatar change to the provider.
type ProfilePictureChanger interface {
	ChangeProfilePicture(ctx context.Context, accessToken, externalAccountID, pictureURL string) (string, error)
}

// MentionSearcher performs a live mention lookup against the provider.
type MentionSearcher interface {
	SearchMentions(ctx context.Context, accessToken, query string) (MentionList, error)
}

// ProviderOperation executes one named provider action with a live token.
type ProviderOperation func(ctx context.Context, call OperationCall) (any, error)

// OperationCall is the payload handed to a provider operation.
type OperationCall struct {
	Channel     ChannelRecord
	AccessToken string
	Payload     map[string]any
}

// OperationProvider exposes named operations beyond the core surface. The
// registry validates the map at registration time.
type OperationProvider interface {
	Operations() map[string]ProviderOperation
}

// StateStore keeps pending authorization state for a bounded TTL. Consume
// must be atomic: concurrent callers racing on one token see exactly one
// success.
type StateStore interface {
	Save(ctx context.Context, state AuthorizationState, ttl time.Duration) error
	Consume(ctx context.Context, token string) (AuthorizationState, bool, error)
	Delete(ctx context.Context, token string) error
}

// ChannelStore persists channel records.
type ChannelStore interface {
	Upsert(ctx context.Context, input UpsertChannelInput) (ChannelRecord, error)
	Get(ctx context.Context, orgID, channelID string) (ChannelRecord, error)
	GetByExternalID(ctx context.Context, orgID, provider, externalID string) (ChannelRecord, error)
	// HadPriorConnection reports whether the external account was ever
	// connected to the organization, soft-deleted rows included.
	HadPriorConnection(ctx context.Context, orgID, externalID string) (bool, error)
	Disable(ctx context.Context, orgID, channelID string) error
	Enable(ctx context.Context, orgID, channelID string, maxEnabled int) error
	Delete(ctx context.Context, orgID, channelID string) error
	List(ctx context.Context, orgID string) ([]ChannelRecord, error)
	UpdateTokens(ctx context.Context, channelID string, details RefreshDetails) error
	UpdateProfile(ctx context.Context, orgID, channelID, name, picture string) error
}

// MentionStore caches mention search results per provider and query.
type MentionStore interface {
	Cached(ctx context.Context, provider, query string) ([]Mention, error)
	Append(ctx context.Context, provider, query string, entries []Mention) error
}

// BillingPolicy answers the trial questions the connection guard needs.
type BillingPolicy interface {
	IsTrialing(ctx context.Context, orgID string) (bool, error)
}

// SecretProvider seals and opens sensitive payloads at rest.
type SecretProvider interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

// StoreProvider hands the service its persistence stores.
type StoreProvider interface {
	ChannelStore() ChannelStore
	MentionStore() MentionStore
}

// MetricsRecorder receives operational counters and timings.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
