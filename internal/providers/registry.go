package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds LLM clients and the role routing table. It supports
// config-driven instantiation and hot reload.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]LLMClient
	roles   map[string]string // role -> provider name
	logger  *slog.Logger
}

// RegistryConfig is the provider portion of the service config,
// already resolved (no ${ENV_VAR} references).
type RegistryConfig struct {
	Providers map[string]ProviderConfig
	Roles     map[string]string
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Type       string
	Model      string
	APIKey     string
	BaseURL    string
	RateLimit  int
	MaxRetries int
	Timeout    time.Duration
	Enabled    bool
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]LLMClient),
		roles:   make(map[string]string),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers an LLM client by name.
func (r *Registry) Register(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// SetRole maps a pipeline role to a provider name.
func (r *Registry) SetRole(role, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role] = provider
}

// Client returns a client by provider name.
func (r *Registry) Client(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return c, nil
}

// ForRole returns the client serving a pipeline role. Unknown roles
// fall back to any registered client so a partially configured
// deployment still runs.
func (r *Registry) ForRole(role string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.roles[role]; ok {
		if c, ok := r.clients[name]; ok {
			return c, nil
		}
		return nil, fmt.Errorf("role %q routes to unregistered provider %q", role, name)
	}

	for _, c := range r.clients {
		return c, nil
	}
	return nil, fmt.Errorf("no LLM clients registered")
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roles returns a copy of the role routing table.
func (r *Registry) Roles() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make(map[string]string, len(r.roles))
	for role, name := range r.roles {
		roles[role] = name
	}
	return roles
}

// Reload replaces the registry contents from config. Disabled
// providers are removed.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make(map[string]LLMClient, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		client, err := buildClient(pc)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping LLM provider", "name", name, "error", err)
			}
			continue
		}
		clients[name] = client
	}

	r.clients = clients
	r.roles = make(map[string]string, len(cfg.Roles))
	for role, name := range cfg.Roles {
		r.roles[role] = name
	}

	if r.logger != nil {
		r.logger.Info("provider registry reloaded", "clients", len(clients))
	}
}

func buildClient(pc ProviderConfig) (LLMClient, error) {
	switch pc.Type {
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:     pc.APIKey,
			Model:      pc.Model,
			BaseURL:    pc.BaseURL,
			RateLimit:  pc.RateLimit,
			MaxRetries: pc.MaxRetries,
			Timeout:    pc.Timeout,
		}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     pc.APIKey,
			Model:      pc.Model,
			BaseURL:    pc.BaseURL,
			RateLimit:  pc.RateLimit,
			MaxRetries: pc.MaxRetries,
			Timeout:    pc.Timeout,
		}), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", pc.Type)
	}
}
