package policy

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AuthMode governs whether a missing or invalid credential is tolerated.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthOptional
	AuthRequired
)

func (m AuthMode) String() string {
	switch m {
	case AuthNone:
		return "none"
	case AuthOptional:
		return "optional"
	case AuthRequired:
		return "required"
	default:
		return fmt.Sprintf("authmode(%d)", int(m))
	}
}

// KeyStrategy selects the identity a rate-limit window is keyed on.
type KeyStrategy int

const (
	// KeyDefault resolves to the user id when a principal is present,
	// otherwise the client address.
	KeyDefault KeyStrategy = iota
	KeyByUser
	KeyByIP
)

func (k KeyStrategy) String() string {
	switch k {
	case KeyDefault:
		return "default"
	case KeyByUser:
		return "by_user"
	case KeyByIP:
		return "by_ip"
	default:
		return fmt.Sprintf("keystrategy(%d)", int(k))
	}
}

// Tier is a named (window, max-requests) rate-limit configuration shared by
// multiple endpoints.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
}

const (
	TierStrict   = "STRICT"
	TierGameplay = "GAMEPLAY"
	TierRead     = "READ"
)

// DefaultTiers returns the process-wide tier table. Limits are configuration,
// not protocol; callers may override them before registration but the table
// must stay consistent for the process lifetime.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		TierStrict:   {Name: TierStrict, Limit: 10, Window: time.Minute},
		TierGameplay: {Name: TierGameplay, Limit: 60, Window: time.Minute},
		TierRead:     {Name: TierRead, Limit: 300, Window: time.Minute},
	}
}

var allowedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// Descriptor is the immutable, per-endpoint admission policy. Descriptors are
// authored at definition time and validated when the route table is built,
// never at request time.
type Descriptor struct {
	Method     string
	PathSuffix string
	Auth       AuthMode
	Tier       string
	KeyBy      KeyStrategy
	// Roles is the allowed-role set enforced after authentication and rate
	// limiting. Only attachable when Auth is AuthRequired.
	Roles []string
}

// Validate rejects descriptors that could never be enforced coherently.
// tiers is the process-wide tier table the descriptor's Tier must resolve in.
func (d Descriptor) Validate(tiers map[string]Tier) error {
	if _, ok := allowedMethods[d.Method]; !ok {
		return fmt.Errorf("method %q is not in the allowed set", d.Method)
	}
	if d.PathSuffix != "" && !strings.HasPrefix(d.PathSuffix, "/") {
		return fmt.Errorf("path suffix %q must start with /", d.PathSuffix)
	}
	if _, ok := tiers[d.Tier]; !ok {
		return fmt.Errorf("unknown rate-limit tier %q", d.Tier)
	}
	if d.KeyBy == KeyByUser && d.Auth == AuthNone {
		return fmt.Errorf("by_user key strategy requires an authenticated identity, auth mode is none")
	}
	if len(d.Roles) > 0 && d.Auth != AuthRequired {
		return fmt.Errorf("role guard requires auth mode required, got %s", d.Auth)
	}
	for _, role := range d.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("role guard contains an empty role")
		}
	}
	return nil
}
