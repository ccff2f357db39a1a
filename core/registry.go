package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	id := strings.TrimSpace(provider.ID())
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	if ops, ok := provider.(OperationProvider); ok {
		for name, fn := range ops.Operations() {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("core: provider %s declares an unnamed operation", id)
			}
			if fn == nil {
				return fmt.Errorf("core: provider %s operation %s is nil", id, name)
			}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.providers[id] = provider
	return nil
}

func (r *ProviderRegistry) Get(providerID string) (Provider, bool) {
	id := strings.TrimSpace(providerID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	provider, ok := r.providers[id]
	r.mu.RUnlock()
	return provider, ok
}

func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	keys := make([]string, 0, len(r.providers))
	for id := range r.providers {
		keys = append(keys, id)
	}
	providers := make([]Provider, 0, len(keys))
	sort.Strings(keys)
	for _, id := range keys {
		providers = append(providers, r.providers[id])
	}
	r.mu.RUnlock()
	return providers
}

// Operation resolves a named operation on a registered provider.
func (r *ProviderRegistry) Operation(providerID, name string) (ProviderOperation, bool) {
	provider, ok := r.Get(providerID)
	if !ok {
		return nil, false
	}
	ops, ok := provider.(OperationProvider)
	if !ok {
		return nil, false
	}
	fn, ok := ops.Operations()[strings.TrimSpace(name)]
	return fn, ok && fn != nil
}
