package identify

import (
	"fmt"
	"sort"

	"trackid/internal/logger"
)

// ProviderConfig decides whether and in which order a provider is queried.
// Lower Priority values are queried first.
type ProviderConfig struct {
	Name       string
	Enabled    bool
	Priority   int
	SkipReason string // logged when Enabled is false
}

// Registration pairs a provider with its configuration.
type Registration struct {
	Config   ProviderConfig
	Provider Provider
}

// ResolveProviders returns the enabled providers in priority order.
// Disabled providers are skipped, never attempted. An empty result is a
// configuration error.
func ResolveProviders(regs []Registration, log *logger.Logger) ([]Provider, error) {
	enabled := make([]Registration, 0, len(regs))
	for _, r := range regs {
		if !r.Config.Enabled || r.Provider == nil {
			reason := r.Config.SkipReason
			if reason == "" {
				reason = "disabled"
			}
			log.Debug("%s: skipped (%s)", r.Config.Name, reason)
			continue
		}
		enabled = append(enabled, r)
	}

	if len(enabled) == 0 {
		return nil, fmt.Errorf("%w: enable a service or configure its credentials", ErrNoProviders)
	}

	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Config.Priority < enabled[j].Config.Priority
	})

	providers := make([]Provider, len(enabled))
	for i, r := range enabled {
		providers[i] = r.Provider
	}
	return providers, nil
}
