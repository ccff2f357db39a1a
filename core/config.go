package core

import (
	"fmt"
	"strings"
	"time"
)

type RefreshConfig struct {
	// SettleWaitSeconds delays the retry after a refresh when providers
	// need time to propagate new tokens. Zero retries immediately.
	SettleWaitSeconds int `koanf:"settle_wait_seconds" mapstructure:"settle_wait_seconds"`
}

type Config struct {
	ServiceName             string        `koanf:"service_name" mapstructure:"service_name"`
	StateTTLSeconds         int           `koanf:"state_ttl_seconds" mapstructure:"state_ttl_seconds"`
	OperationTimeoutSeconds int           `koanf:"operation_timeout_seconds" mapstructure:"operation_timeout_seconds"`
	AllowedProviders        []string      `koanf:"allowed_providers" mapstructure:"allowed_providers"`
	Refresh                 RefreshConfig `koanf:"refresh" mapstructure:"refresh"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:             "channels",
		StateTTLSeconds:         300,
		OperationTimeoutSeconds: 30,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.StateTTLSeconds < 0 {
		return fmt.Errorf("core: state_ttl_seconds must not be negative")
	}
	if c.OperationTimeoutSeconds < 0 {
		return fmt.Errorf("core: operation_timeout_seconds must not be negative")
	}
	return nil
}

func (c Config) StateTTL() time.Duration {
	if c.StateTTLSeconds <= 0 {
		return defaultStateTTL
	}
	return time.Duration(c.StateTTLSeconds) * time.Second
}

func (c Config) OperationTimeout() time.Duration {
	if c.OperationTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.OperationTimeoutSeconds) * time.Second
}

func (c Config) SettleWait() time.Duration {
	if c.Refresh.SettleWaitSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Refresh.SettleWaitSeconds) * time.Second
}

// ProviderAllowed reports whether the identifier passes the allow list. An
// empty list allows every registered provider.
func (c Config) ProviderAllowed(providerID string) bool {
	if len(c.AllowedProviders) == 0 {
		return true
	}
	providerID = strings.TrimSpace(providerID)
	for _, allowed := range c.AllowedProviders {
		if strings.EqualFold(strings.TrimSpace(allowed), providerID) {
			return true
		}
	}
	return false
}
