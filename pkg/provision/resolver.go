package provision

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/config"
	"github.com/nodesync/nodesync/pkg/registry"
)

// GroupEnsurer materializes a node group, returning its id. Satisfied
// by *registry.Client.
type GroupEnsurer interface {
	LookupOrCreateGroup(ctx context.Context, name, rule string) (int64, error)
}

// Resolver maps hostname, OS and datacenter onto a connection profile
// using the configured site topology. Matching is strictly first-wins
// at every level: first site whose name equals the datacenter, first
// domain whose suffix matches the hostname, first profile in the
// OS-appropriate list. There is no scoring or best-match logic.
type Resolver struct {
	sites  []config.Site
	groups GroupEnsurer
	logger zerolog.Logger
}

// NewResolver creates a resolver over the given site topology. groups
// may be nil, in which case the per-domain node-group side effect is
// skipped.
func NewResolver(sites []config.Site, groups GroupEnsurer, logger zerolog.Logger) *Resolver {
	return &Resolver{
		sites:  sites,
		groups: groups,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the connection profile for a node. Missing hostname
// or OS short-circuits to the default profile. When a domain supplies
// the profile, a node group named after that domain is ensured as a
// side effect, with a rule matching any hostname under it; failure to
// ensure it is logged and does not affect profile selection.
func (r *Resolver) Resolve(ctx context.Context, hostname, osName, datacenter string) registry.ConnectionProfile {
	if hostname == "" || osName == "" {
		return registry.DefaultProfile()
	}

	host := strings.ToLower(hostname)
	windows := NormalizeOS(osName) == OSWindows

	for _, site := range r.sites {
		if site.Name != datacenter {
			continue
		}
		for _, domain := range site.Domains {
			suffix := strings.ToLower(domain.Name)
			if suffix == "" || !strings.HasSuffix(host, suffix) {
				continue
			}

			profiles := domain.SSHProfiles
			if windows {
				profiles = domain.WindowsProfiles
			}
			// A matching domain with no list for this OS does not end the
			// search; a later domain may still carry one.
			if len(profiles) == 0 {
				continue
			}

			r.ensureDomainGroup(ctx, domain.Name)

			profile := profiles[0]
			r.logger.Debug().
				Str("hostname", hostname).
				Str("site", site.Name).
				Str("domain", domain.Name).
				Int64("profile_id", profile.ID).
				Msg("connection profile resolved")
			return profile
		}
		break
	}

	r.logger.Debug().
		Str("hostname", hostname).
		Str("datacenter", datacenter).
		Msg("no topology match, using default connection profile")
	return registry.DefaultProfile()
}

// ensureDomainGroup materializes the per-domain node group so operators
// can attach domain-wide overrides independent of role.
func (r *Resolver) ensureDomainGroup(ctx context.Context, domain string) {
	if r.groups == nil {
		return
	}
	rule := ".+" + domain + "$"
	if _, err := r.groups.LookupOrCreateGroup(ctx, domain, rule); err != nil {
		r.logger.Warn().Err(err).
			Str("domain", domain).
			Msg("domain node group could not be ensured")
	}
}
