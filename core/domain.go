package core

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrProviderNotAllowed = errors.New("core: provider not allowed")
	ErrMissingExternalURL = errors.New("core: missing external url")
	ErrInvalidState       = errors.New("core: invalid authorization state")
	ErrUnknownChannel     = errors.New("core: channel not found")
	ErrUnknownOperation   = errors.New("core: operation not found")
	ErrTrialAbuseBlocked  = errors.New("core: external account already connected during trial")

	// ErrRefreshRequired is the signal provider operations return (or wrap)
	// when the access token they were handed is no longer accepted. The
	// invocation engine refreshes the credential and retries exactly once.
	ErrRefreshRequired = errors.New("core: token refresh required")
)

// CodeVerifierNone marks providers that complete their exchange without a
// PKCE verifier (custom-fields providers authenticate with user input).
const CodeVerifierNone = "none"

// AuthorizationState holds the artifacts issued alongside an authorization
// URL. It lives in the ephemeral state store under its State token and is
// consumed exactly once at connection completion.
type AuthorizationState struct {
	State           string
	ProviderID      string
	CodeVerifier    string
	ExternalContext *ExternalContext
	ReconnectTarget string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ExternalContext captures provider-specific context chosen at issuance
// time, e.g. the instance URL of a self-hosted provider.
type ExternalContext struct {
	InstanceURL string         `json:"instance_url"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ChannelRecord is the persisted connection between an organization and one
// external provider account.
type ChannelRecord struct {
	ID                 string
	OrganizationID     string
	ProviderIdentifier string
	ExternalAccountID  string
	Name               string
	Username           string
	Picture            string
	AccessToken        string
	RefreshToken       string
	TokenExpiresAt     time.Time
	AdditionalSettings string
	Disabled           bool
	InBetweenSteps     bool
	OneTimeToken       bool
	RefreshNeeded      bool
	TimezoneOffset     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UpsertChannelInput carries every field the store needs to create a channel
// or update it in place (reconnect and refresh both land here).
type UpsertChannelInput struct {
	OrganizationID     string
	ProviderIdentifier string
	ExternalAccountID  string
	Name               string
	Username           string
	Picture            string
	AccessToken        string
	RefreshToken       string
	ExpiresInSeconds   int64
	AdditionalSettings string
	InBetweenSteps     bool
	OneTimeToken       bool
	IsReconnect        bool
	TimezoneOffset     int
}

// AuthDetails is the normalized outcome of a provider exchange. A non-empty
// Err means the provider rejected the authorization; failures are values
// at this boundary, never raised faults.
type AuthDetails struct {
	Err                string
	ExternalAccountID  string
	DisplayName        string
	Username           string
	PictureURL         string
	AccessToken        string
	RefreshToken       string
	ExpiresInSeconds   int64
	AdditionalSettings map[string]any
}

// RefreshDetails is the outcome of a refresh-token exchange. An empty
// AccessToken means the refresh token is presumed revoked.
type RefreshDetails struct {
	AccessToken        string
	RefreshToken       string
	ExpiresInSeconds   int64
	AdditionalSettings map[string]any
}

type Mention struct {
	ID         string
	Label      string
	Image      string
	DoNotCache bool
}

// MentionList carries merged mention results. None marks providers that
// signal "mention search not supported" and must be returned verbatim.
type MentionList struct {
	None    bool
	Entries []Mention
}

// CustomField describes one input a custom-fields provider collects instead
// of running an OAuth redirect.
type CustomField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// DeriveDisplayName picks a channel name when the provider supplied none:
// the username prefix before its first dot, else a synthetic handle from the
// external account id.
func DeriveDisplayName(name, username, externalAccountID string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	username = strings.TrimSpace(username)
	if username != "" {
		if idx := strings.Index(username, "."); idx > 0 {
			return username[:idx]
		}
		return username
	}
	id := strings.TrimSpace(externalAccountID)
	if len(id) > 8 {
		id = id[:8]
	}
	return "Channel_" + id
}
