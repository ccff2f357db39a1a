package providers

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-channels/core"
	"golang.org/x/oauth2"
)

// Identity is the profile an IdentityResolver extracts from a live token.
type Identity struct {
	ExternalAccountID string
	DisplayName       string
	Username          string
	PictureURL        string
	Settings          map[string]any
}

// IdentityResolver fetches the account profile behind an access token.
type IdentityResolver func(ctx context.Context, token *oauth2.Token) (Identity, error)

// OAuth2Config parameterizes a code-flow provider.
type OAuth2Config struct {
	Identifier        string
	ClientID          string
	ClientSecret      string
	AuthURL           string
	TokenURL          string
	RedirectURL       string
	Scopes            []string
	UsePKCE           bool
	Reconnectable     bool
	RefreshSettleWait time.Duration
	ResolveIdentity   IdentityResolver
	Operations        map[string]core.ProviderOperation
}

// OAuth2Provider is a generic authorization-code provider built on
// golang.org/x/oauth2. Concrete integrations supply endpoints, scopes, and
// an identity resolver.
type OAuth2Provider struct {
	cfg OAuth2Config
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	if strings.TrimSpace(cfg.Identifier) == "" {
		return nil, fmt.Errorf("providers: identifier is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" || strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: auth and token urls are required")
	}
	if cfg.ResolveIdentity == nil {
		return nil, fmt.Errorf("providers: identity resolver is required")
	}
	return &OAuth2Provider{cfg: cfg}, nil
}

func (p *OAuth2Provider) ID() string {
	return p.cfg.Identifier
}

func (p *OAuth2Provider) GenerateAuthorizationURL(_ context.Context, req core.AuthorizationRequest) (core.AuthorizationArtifacts, error) {
	conf := p.oauthConfig(req.RedirectURI, req.ExternalContext)

	authOpts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	verifier := ""
	if p.cfg.UsePKCE {
		generated, err := generateCodeVerifier()
		if err != nil {
			return core.AuthorizationArtifacts{}, err
		}
		verifier = generated
		authOpts = append(authOpts,
			oauth2.SetAuthURLParam("code_challenge", codeChallengeS256(verifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	return core.AuthorizationArtifacts{
		URL:          conf.AuthCodeURL(req.State, authOpts...),
		State:        req.State,
		CodeVerifier: verifier,
	}, nil
}

func (p *OAuth2Provider) Authenticate(ctx context.Context, req core.AuthenticateRequest) (core.AuthDetails, error) {
	conf := p.oauthConfig(req.RedirectURI, req.ExternalContext)

	exchangeOpts := []oauth2.AuthCodeOption{}
	if p.cfg.UsePKCE && strings.TrimSpace(req.CodeVerifier) != "" && req.CodeVerifier != core.CodeVerifierNone {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("code_verifier", req.CodeVerifier))
	}

	token, err := conf.Exchange(ctx, req.Code, exchangeOpts...)
	if err != nil {
		return core.AuthDetails{Err: err.Error()}, nil
	}

	identity, err := p.cfg.ResolveIdentity(ctx, token)
	if err != nil {
		return core.AuthDetails{Err: err.Error()}, nil
	}

	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		expiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return core.AuthDetails{
		ExternalAccountID:  identity.ExternalAccountID,
		DisplayName:        identity.DisplayName,
		Username:           identity.Username,
		PictureURL:         identity.PictureURL,
		AccessToken:        token.AccessToken,
		RefreshToken:       token.RefreshToken,
		ExpiresInSeconds:   expiresIn,
		AdditionalSettings: identity.Settings,
	}, nil
}

func (p *OAuth2Provider) RefreshToken(ctx context.Context, refreshToken string) (core.RefreshDetails, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return core.RefreshDetails{}, fmt.Errorf("providers: refresh token is required")
	}
	conf := p.oauthConfig(p.cfg.RedirectURL, nil)
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return core.RefreshDetails{}, err
	}
	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		expiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return core.RefreshDetails{
		AccessToken:      token.AccessToken,
		RefreshToken:     token.RefreshToken,
		ExpiresInSeconds: expiresIn,
	}, nil
}

func (p *OAuth2Provider) SupportsReconnect() bool {
	return p.cfg.Reconnectable
}

// Reconnect re-resolves the account identity behind the freshly exchanged
// token so the stored channel reflects the provider's current profile.
func (p *OAuth2Provider) Reconnect(ctx context.Context, externalAccountID, _ string, accessToken string) (core.AuthDetails, error) {
	identity, err := p.cfg.ResolveIdentity(ctx, &oauth2.Token{AccessToken: accessToken})
	if err != nil {
		return core.AuthDetails{}, err
	}
	if strings.TrimSpace(identity.ExternalAccountID) == "" {
		identity.ExternalAccountID = externalAccountID
	}
	return core.AuthDetails{
		ExternalAccountID:  identity.ExternalAccountID,
		DisplayName:        identity.DisplayName,
		Username:           identity.Username,
		PictureURL:         identity.PictureURL,
		AccessToken:        accessToken,
		AdditionalSettings: identity.Settings,
	}, nil
}

func (p *OAuth2Provider) RefreshSettleWait() time.Duration {
	return p.cfg.RefreshSettleWait
}

func (p *OAuth2Provider) Operations() map[string]core.ProviderOperation {
	if len(p.cfg.Operations) == 0 {
		return map[string]core.ProviderOperation{}
	}
	out := make(map[string]core.ProviderOperation, len(p.cfg.Operations))
	for name, fn := range p.cfg.Operations {
		out[name] = fn
	}
	return out
}

func (p *OAuth2Provider) oauthConfig(redirectURL string, externalContext *core.ExternalContext) *oauth2.Config {
	authURL := p.cfg.AuthURL
	tokenURL := p.cfg.TokenURL
	// Self-hosted providers carry their instance endpoints in the
	// external context resolved at issuance time.
	if externalContext != nil && strings.TrimSpace(externalContext.InstanceURL) != "" {
		base := strings.TrimRight(externalContext.InstanceURL, "/")
		authURL = base + authPath(p.cfg.AuthURL)
		tokenURL = base + authPath(p.cfg.TokenURL)
	}
	if strings.TrimSpace(redirectURL) == "" {
		redirectURL = p.cfg.RedirectURL
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
		RedirectURL: redirectURL,
		Scopes:      append([]string(nil), p.cfg.Scopes...),
	}
}

// authPath keeps only the path portion of a configured endpoint so it can
// be rebased onto an instance URL.
func authPath(endpoint string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		return trimmed[idx:]
	}
	return ""
}

func generateCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("providers: generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

var (
	_ core.Provider            = (*OAuth2Provider)(nil)
	_ core.RefreshableProvider = (*OAuth2Provider)(nil)
	_ core.ReconnectProvider   = (*OAuth2Provider)(nil)
	_ core.RefreshSettler      = (*OAuth2Provider)(nil)
	_ core.OperationProvider   = (*OAuth2Provider)(nil)
)
