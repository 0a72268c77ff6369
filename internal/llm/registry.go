package llm

import (
	"sort"
	"strings"
	"time"

	"github.com/mera-ai/mera/internal/config"
	merrors "github.com/mera-ai/mera/internal/errors"
)

type registryEntry struct {
	prefix   string
	provider Provider
}

// Registry resolves a model name to a provider by longest matching name
// prefix. An empty prefix acts as the catch-all.
type Registry struct {
	entries []registryEntry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// NewRegistryFromConfig wires providers from the models registry config.
func NewRegistryFromConfig(cfg config.ModelsConfig) (*Registry, error) {
	r := NewRegistry()
	for _, m := range cfg.Registry {
		timeout, _ := config.DurationOrDefault(m.RequestTimeout, "60s")
		switch m.Provider {
		case "anthropic":
			r.Register(m.Prefix, NewAnthropic(m.APIKey))
		case "openrouter", "openai":
			baseURL := m.BaseURL
			if baseURL == "" && m.Provider == "openrouter" {
				baseURL = config.DefaultOpenRouterBaseURL
			}
			r.Register(m.Prefix, NewOpenRouter(m.APIKey, baseURL, timeout))
		default:
			return nil, merrors.InvalidInput("unknown provider: " + m.Provider)
		}
	}
	if len(r.entries) == 0 {
		r.Register("", NewOpenRouter("", config.DefaultOpenRouterBaseURL, 60*time.Second))
	}
	return r, nil
}

func (r *Registry) Register(prefix string, p Provider) {
	r.entries = append(r.entries, registryEntry{prefix: prefix, provider: p})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return len(r.entries[i].prefix) > len(r.entries[j].prefix)
	})
}

func (r *Registry) Resolve(model string) (Provider, error) {
	for _, e := range r.entries {
		if strings.HasPrefix(model, e.prefix) {
			return e.provider, nil
		}
	}
	return nil, merrors.NotFound("no provider registered for model " + model)
}

// Providers returns the distinct registered providers.
func (r *Registry) Providers() []Provider {
	seen := make(map[Provider]struct{}, len(r.entries))
	out := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		if _, ok := seen[e.provider]; ok {
			continue
		}
		seen[e.provider] = struct{}{}
		out = append(out, e.provider)
	}
	return out
}
