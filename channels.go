package channels

import "github.com/goliatone/go-channels/core"

type Config = core.Config

type RefreshConfig = core.RefreshConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Provider = core.Provider
type ProviderRegistry = core.ProviderRegistry
type StateStore = core.StateStore
type ChannelStore = core.ChannelStore
type MentionStore = core.MentionStore
type BillingPolicy = core.BillingPolicy
type SecretProvider = core.SecretProvider

type ChannelRecord = core.ChannelRecord
type ProviderDescriptor = core.ProviderDescriptor

type IssueRequest = core.IssueRequest
type IssueResponse = core.IssueResponse

type ConnectRequest = core.ConnectRequest
type ConnectResponse = core.ConnectResponse

type InvokeRequest = core.InvokeRequest
type InvokeResult = core.InvokeResult

type MentionRequest = core.MentionRequest
type MentionList = core.MentionList
type Mention = core.Mention

type UpdateProfileRequest = core.UpdateProfileRequest

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithSecretProvider    = core.WithSecretProvider
	WithPersistenceClient = core.WithPersistenceClient
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithStateStore        = core.WithStateStore
	WithRegistry          = core.WithRegistry
	WithChannelStore      = core.WithChannelStore
	WithMentionStore      = core.WithMentionStore
	WithStoreProvider     = core.WithStoreProvider
	WithBillingPolicy     = core.WithBillingPolicy
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewRegistry() *ProviderRegistry {
	return core.NewProviderRegistry()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
