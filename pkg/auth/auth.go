package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/apierr"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
)

// Principal is the authenticated identity attached to a request. It lives for
// exactly one request: constructed here, read-only everywhere else.
type Principal struct {
	ID    string
	Email string
	Role  string
}

type contextKey string

const principalContextKey contextKey = "dashboard.principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// HasRole reports whether the principal's role is in the allowed set.
// Matching is case-insensitive; an absent role never matches.
func HasRole(p Principal, allowed ...string) bool {
	role := strings.ToLower(strings.TrimSpace(p.Role))
	if role == "" {
		return false
	}
	for _, a := range allowed {
		if role == strings.ToLower(strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

// Verifier validates an opaque bearer credential and produces a Principal.
// Any returned error is treated uniformly as an invalid credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

var errNoBearer = errors.New("no bearer credential")

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoBearer
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", errors.New("authorization header is not a bearer credential")
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	if token == "" {
		return "", errors.New("bearer credential is empty")
	}
	return token, nil
}

// Authenticate builds the authentication stage for one endpoint. Verification
// runs under a bounded timeout and fails closed: a verifier that does not
// answer in time is an invalid credential, never a pass.
func Authenticate(mode policy.AuthMode, verifier Verifier, timeout time.Duration) func(httpx.HandlerFunc) httpx.HandlerFunc {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(next httpx.HandlerFunc) httpx.HandlerFunc {
		if mode == policy.AuthNone {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) error {
			token, err := bearerToken(r)
			if err != nil {
				if mode == policy.AuthOptional {
					return next(w, r)
				}
				return apierr.Unauthorized("missing bearer credential")
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			principal, verifyErr := verifier.Verify(ctx, token)
			cancel()
			if verifyErr != nil {
				if mode == policy.AuthOptional {
					// Optional auth never fails the request.
					return next(w, r)
				}
				return apierr.Unauthorized("invalid or expired credential")
			}
			return next(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		}
	}
}
