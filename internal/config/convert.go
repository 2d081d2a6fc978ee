package config

import (
	"github.com/folioworks/folio/internal/providers"
)

// ToRegistryConfig converts the config to a format suitable for
// providers.Registry. It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Providers: make(map[string]providers.ProviderConfig),
		Roles:     make(map[string]string),
	}

	for name, llm := range c.LLM {
		cfg.Providers[name] = providers.ProviderConfig{
			Type:       llm.Type,
			Model:      llm.Model,
			APIKey:     ResolveEnvVars(llm.APIKey),
			BaseURL:    llm.BaseURL,
			RateLimit:  llm.RateLimit,
			MaxRetries: llm.MaxRetries,
			Enabled:    llm.Enabled,
		}
	}

	for role, provider := range c.Roles {
		cfg.Roles[role] = provider
	}

	return cfg
}
