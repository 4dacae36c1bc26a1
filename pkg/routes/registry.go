package routes

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/apierr"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/auth"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/ratelimit"
)

// Endpoint pairs one policy descriptor with the handler it admits traffic to.
type Endpoint struct {
	Policy  policy.Descriptor
	Handler httpx.HandlerFunc
}

// Module is one independently authored group of endpoints under a base path.
type Module struct {
	BasePath  string
	Endpoints []Endpoint
}

// Registry builds one admission pipeline per declared endpoint and installs it
// on the router. Registration is single-threaded and must complete before the
// router accepts traffic; the route table is immutable afterwards.
type Registry struct {
	Verifier    auth.Verifier
	AuthTimeout time.Duration
	// Limits may be nil to disable rate limiting (local development only).
	Limits         ratelimit.Store
	Tiers          map[string]policy.Tier
	TrustedProxies []*net.IPNet
}

// Mount validates every module and installs one route per endpoint. Any
// validation failure aborts the whole mount: the system must not serve traffic
// with an ambiguous or partially registered route table.
func (reg *Registry) Mount(r chi.Router, modules []Module) error {
	if len(reg.Tiers) == 0 {
		return fmt.Errorf("routes: tier table is empty")
	}
	seen := map[string]struct{}{}
	for _, m := range modules {
		base := strings.TrimSpace(m.BasePath)
		if base == "" || !strings.HasPrefix(base, "/") {
			return fmt.Errorf("routes: module base path %q must start with /", m.BasePath)
		}
		if len(m.Endpoints) == 0 {
			return fmt.Errorf("routes: module %s declares no endpoints", base)
		}
		for _, ep := range m.Endpoints {
			d := ep.Policy
			if err := d.Validate(reg.Tiers); err != nil {
				return fmt.Errorf("routes: %s %s%s: %w", d.Method, base, d.PathSuffix, err)
			}
			if ep.Handler == nil {
				return fmt.Errorf("routes: %s %s%s has no handler", d.Method, base, d.PathSuffix)
			}
			fullPath := base + d.PathSuffix
			routeKey := d.Method + " " + fullPath
			if _, dup := seen[routeKey]; dup {
				return fmt.Errorf("routes: duplicate registration for %s", routeKey)
			}
			seen[routeKey] = struct{}{}
			r.Method(d.Method, fullPath, reg.buildChain(d, ep.Handler))
			log.Printf("route registered: %-6s %s auth=%s tier=%s key=%s roles=%v",
				d.Method, fullPath, d.Auth, d.Tier, d.KeyBy, d.Roles)
		}
	}
	return nil
}

// buildChain composes the fixed-order admission pipeline:
// authenticate, rate limit, role guards, handler, error translation.
func (reg *Registry) buildChain(d policy.Descriptor, h httpx.HandlerFunc) http.Handler {
	chain := h
	if len(d.Roles) > 0 {
		chain = requireRole(d.Roles)(chain)
	}
	if reg.Limits != nil {
		chain = reg.rateLimit(d)(chain)
	}
	chain = auth.Authenticate(d.Auth, reg.Verifier, reg.AuthTimeout)(chain)
	return httpx.Wrap(chain)
}

func (reg *Registry) rateLimit(d policy.Descriptor) func(httpx.HandlerFunc) httpx.HandlerFunc {
	tier := reg.Tiers[d.Tier]
	return func(next httpx.HandlerFunc) httpx.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			principalID := ""
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				principalID = p.ID
			}
			addr := httpx.NormalizeAddr(httpx.ClientIP(r, reg.TrustedProxies))
			key := ratelimit.Key(d.KeyBy, principalID, addr)
			decision := reg.Limits.Allow(tier, key)
			if !decision.Allowed {
				return apierr.RateLimited(tier.Name, time.Until(decision.ResetAt))
			}
			return next(w, r)
		}
	}
}

func requireRole(allowed []string) func(httpx.HandlerFunc) httpx.HandlerFunc {
	return func(next httpx.HandlerFunc) httpx.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasRole(principal, allowed...) {
				return apierr.Forbidden("role not permitted on this endpoint")
			}
			return next(w, r)
		}
	}
}
