package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service coordinates provider handshakes, channel persistence, token
// refresh, and provider operations for one deployment.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	stateStore        StateStore
	registry          *ProviderRegistry
	channelStore      ChannelStore
	mentionStore      MentionStore
	billingPolicy     BillingPolicy
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	SecretProvider  SecretProvider
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	StateStore      StateStore
	Registry        *ProviderRegistry
	ChannelStore    ChannelStore
	MentionStore    MentionStore
	BillingPolicy   BillingPolicy
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("channels", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("channels"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.stateStore == nil {
		builder.stateStore = NewMemoryStateStore()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.channelStore == nil || builder.mentionStore == nil) && builder.storeProvider != nil {
		if builder.channelStore == nil {
			builder.channelStore = builder.storeProvider.ChannelStore()
		}
		if builder.mentionStore == nil {
			builder.mentionStore = builder.storeProvider.MentionStore()
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		secretProvider:    builder.secretProvider,
		persistenceClient: builder.persistenceClient,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		stateStore:        builder.stateStore,
		registry:          builder.registry,
		channelStore:      builder.channelStore,
		mentionStore:      builder.mentionStore,
		billingPolicy:     builder.billingPolicy,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		SecretProvider:  s.secretProvider,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		StateStore:      s.stateStore,
		Registry:        s.registry,
		ChannelStore:    s.channelStore,
		MentionStore:    s.mentionStore,
		BillingPolicy:   s.billingPolicy,
	}
}

func (s *Service) Register(provider Provider) error {
	if s == nil || s.registry == nil {
		return fmt.Errorf("core: service is not configured")
	}
	return s.registry.Register(provider)
}

// ProviderDescriptor summarizes one registered provider and its optional
// behaviors for catalog listings.
type ProviderDescriptor struct {
	Identifier        string        `json:"identifier"`
	SupportsReconnect bool          `json:"supports_reconnect"`
	SupportsRefresh   bool          `json:"supports_refresh"`
	SupportsMentions  bool          `json:"supports_mentions"`
	OneTimeToken      bool          `json:"one_time_token"`
	CustomFields      []CustomField `json:"custom_fields,omitempty"`
	Operations        []string      `json:"operations,omitempty"`
}

func (s *Service) Providers() []ProviderDescriptor {
	if s == nil || s.registry == nil {
		return nil
	}
	out := []ProviderDescriptor{}
	for _, provider := range s.registry.List() {
		if !s.config.ProviderAllowed(provider.ID()) {
			continue
		}
		out = append(out, describeProvider(provider))
	}
	return out
}

func describeProvider(provider Provider) ProviderDescriptor {
	desc := ProviderDescriptor{Identifier: provider.ID()}
	if rc, ok := provider.(ReconnectProvider); ok {
		desc.SupportsReconnect = rc.SupportsReconnect()
	}
	if _, ok := provider.(RefreshableProvider); ok {
		desc.SupportsRefresh = true
	}
	if _, ok := provider.(MentionSearcher); ok {
		desc.SupportsMentions = true
	}
	if ott, ok := provider.(OneTimeTokenProvider); ok {
		desc.OneTimeToken = ott.IssuesOneTimeToken()
	}
	if cf, ok := provider.(CustomFieldsProvider); ok {
		desc.CustomFields = cf.CustomFields()
	}
	if ops, ok := provider.(OperationProvider); ok {
		for name := range ops.Operations() {
			desc.Operations = append(desc.Operations, name)
		}
	}
	return desc
}

// IssueRequest asks for an authorization URL for one provider.
type IssueRequest struct {
	ProviderID  string
	RedirectURI string
	ExternalURL string
	Reconnect   string
}

// IssueResponse reports issuance outcome. Internal faults surface as
// Failed=true with a generic message rather than a raised error.
type IssueResponse struct {
	URL          string
	State        string
	CodeVerifier string
	CustomFields []CustomField
	Failed       bool
	Message      string
}

// IssueAuthorizationURL mints the redirect URL and stores the matching
// authorization state. Policy violations (provider not allowed, missing
// external URL) are hard errors; provider and storage faults degrade to a
// soft failure response.
func (s *Service) IssueAuthorizationURL(ctx context.Context, req IssueRequest) (response IssueResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "issue_authorization_url", err, fields)
	}()

	provider, resolveErr := s.resolveProvider(req.ProviderID)
	if resolveErr != nil {
		err = resolveErr
		return IssueResponse{}, err
	}

	var externalContext *ExternalContext
	if resolver, ok := provider.(ExternalContextProvider); ok {
		if strings.TrimSpace(req.ExternalURL) == "" {
			err = s.mapError(ErrMissingExternalURL)
			return IssueResponse{}, err
		}
		resolved, resolveCtxErr := resolver.ResolveExternalContext(ctx, req.ExternalURL)
		if resolveCtxErr != nil {
			s.logError(ctx, "external context resolution failed", map[string]any{
				"provider_id": req.ProviderID,
				"error":       resolveCtxErr.Error(),
			})
			return IssueResponse{Failed: true, Message: issuanceFailureMessage}, nil
		}
		externalContext = resolved
	}

	token, tokenErr := GenerateStateToken()
	if tokenErr != nil {
		s.logError(ctx, "state token generation failed", map[string]any{
			"provider_id": req.ProviderID,
			"error":       tokenErr.Error(),
		})
		return IssueResponse{Failed: true, Message: issuanceFailureMessage}, nil
	}

	response = IssueResponse{State: token}

	if custom, ok := provider.(CustomFieldsProvider); ok {
		response.CodeVerifier = CodeVerifierNone
		response.CustomFields = custom.CustomFields()
	} else {
		artifacts, genErr := provider.GenerateAuthorizationURL(ctx, AuthorizationRequest{
			State:           token,
			RedirectURI:     req.RedirectURI,
			ExternalContext: externalContext,
		})
		if genErr != nil {
			s.logError(ctx, "authorization url generation failed", map[string]any{
				"provider_id": req.ProviderID,
				"error":       genErr.Error(),
			})
			return IssueResponse{Failed: true, Message: issuanceFailureMessage}, nil
		}
		if strings.TrimSpace(artifacts.State) != "" {
			token = artifacts.State
			response.State = token
		}
		response.URL = artifacts.URL
		response.CodeVerifier = artifacts.CodeVerifier
	}

	saveErr := s.stateStore.Save(ctx, AuthorizationState{
		State:           token,
		ProviderID:      provider.ID(),
		CodeVerifier:    response.CodeVerifier,
		ExternalContext: externalContext,
		ReconnectTarget: strings.TrimSpace(req.Reconnect),
		CreatedAt:       time.Now().UTC(),
	}, s.config.StateTTL())
	if saveErr != nil {
		s.logError(ctx, "authorization state save failed", map[string]any{
			"provider_id": req.ProviderID,
			"error":       saveErr.Error(),
		})
		return IssueResponse{Failed: true, Message: issuanceFailureMessage}, nil
	}

	return response, nil
}

const issuanceFailureMessage = "could not start the connection, please try again"

func (s *Service) resolveProvider(providerID string) (Provider, error) {
	if s == nil || s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: service is not configured"))
	}
	id := strings.TrimSpace(providerID)
	if !s.config.ProviderAllowed(id) {
		return nil, s.mapError(fmt.Errorf("%w: %s", ErrProviderNotAllowed, id))
	}
	provider, ok := s.registry.Get(id)
	if !ok {
		return nil, s.mapError(fmt.Errorf("%w: %s", ErrProviderNotAllowed, id))
	}
	return provider, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) requireChannelStore() (ChannelStore, error) {
	if s == nil || s.channelStore == nil {
		return nil, s.mapError(fmt.Errorf("core: channel store is not configured"))
	}
	return s.channelStore, nil
}

// DisableChannel turns a channel off without removing it.
func (s *Service) DisableChannel(ctx context.Context, orgID, channelID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"organization_id": orgID, "channel_id": channelID}
	defer func() {
		s.observeOperation(ctx, startedAt, "disable_channel", err, fields)
	}()

	store, err := s.requireChannelStore()
	if err != nil {
		return err
	}
	if storeErr := store.Disable(ctx, orgID, channelID); storeErr != nil {
		err = s.mapError(storeErr)
		return err
	}
	return nil
}

// EnableChannel turns a channel back on, subject to the organization's
// active-channel quota. maxEnabled <= 0 means unlimited.
func (s *Service) EnableChannel(ctx context.Context, orgID, channelID string, maxEnabled int) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"organization_id": orgID, "channel_id": channelID}
	defer func() {
		s.observeOperation(ctx, startedAt, "enable_channel", err, fields)
	}()

	store, err := s.requireChannelStore()
	if err != nil {
		return err
	}
	if storeErr := store.Enable(ctx, orgID, channelID, maxEnabled); storeErr != nil {
		err = s.mapError(storeErr)
		return err
	}
	return nil
}

// DeleteChannel soft deletes a channel. The underlying row survives so
// prior-connection checks keep seeing the external account.
func (s *Service) DeleteChannel(ctx context.Context, orgID, channelID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"organization_id": orgID, "channel_id": channelID}
	defer func() {
		s.observeOperation(ctx, startedAt, "delete_channel", err, fields)
	}()

	store, err := s.requireChannelStore()
	if err != nil {
		return err
	}
	if storeErr := store.Delete(ctx, orgID, channelID); storeErr != nil {
		err = s.mapError(storeErr)
		return err
	}
	return nil
}

// ListChannels returns the organization's channels, tokens redacted.
func (s *Service) ListChannels(ctx context.Context, orgID string) (channels []ChannelRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"organization_id": orgID}
	defer func() {
		s.observeOperation(ctx, startedAt, "list_channels", err, fields)
	}()

	store, err := s.requireChannelStore()
	if err != nil {
		return nil, err
	}
	channels, listErr := store.List(ctx, orgID)
	if listErr != nil {
		err = s.mapError(listErr)
		return nil, err
	}
	for i := range channels {
		channels[i].AccessToken = ""
		channels[i].RefreshToken = ""
	}
	return channels, nil
}

// DecodeCustomFields unpacks the base64 JSON document custom-fields
// providers receive in place of an authorization code, validates it against
// the declared fields, and re-encodes it for the provider exchange.
func DecodeCustomFields(provider Provider, encoded string) (string, error) {
	custom, ok := provider.(CustomFieldsProvider)
	if !ok {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("core: custom fields payload is not base64: %w", err)
	}
	values := map[string]any{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return "", fmt.Errorf("core: custom fields payload is not valid json: %w", err)
	}
	for _, field := range custom.CustomFields() {
		value, present := values[field.Key]
		if !present {
			return "", fmt.Errorf("core: custom field %s is required", field.Key)
		}
		if text, isString := value.(string); isString && strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("core: custom field %s is required", field.Key)
		}
	}
	normalized, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("core: custom fields payload marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(normalized), nil
}
