// Package provider builds the identification providers named in the
// configuration.
//
// The Provider interface is defined in internal/identify (identify.Provider),
// following the Go convention of defining interfaces where they are consumed.
// Each sub-package here implements that interface for a specific service.
package provider

import (
	"trackid/internal/config"
	"trackid/internal/identify"
	"trackid/internal/provider/acrcloud"
	"trackid/internal/provider/shazam"
)

// Registrations turns cfg into provider registrations. Priority follows the
// configured provider order; --service narrows the set. A provider that
// cannot run (missing binary, missing credentials) is registered disabled
// with the reason.
func Registrations(cfg config.Config) []identify.Registration {
	var regs []identify.Registration
	for i, name := range cfg.ActiveProviders() {
		reg := identify.Registration{
			Config: identify.ProviderConfig{Name: name, Priority: i},
		}

		switch name {
		case "shazam":
			c := shazam.New(cfg.SongrecPath, cfg.RequestTimeout())
			reg.Provider = c
			reg.Config.Enabled = c.Available()
			reg.Config.SkipReason = "songrec not found"
		case "acrcloud":
			c := acrcloud.New(acrcloud.Config{
				Host:         cfg.ACRCloudHost,
				AccessKey:    cfg.ACRCloudAccessKey,
				AccessSecret: cfg.ACRCloudAccessSecret,
				Timeout:      cfg.RequestTimeout(),
			})
			reg.Provider = c
			reg.Config.Enabled = c.Configured()
			reg.Config.SkipReason = "credentials not configured"
		default:
			reg.Config.SkipReason = "unknown provider"
		}

		regs = append(regs, reg)
	}
	return regs
}
