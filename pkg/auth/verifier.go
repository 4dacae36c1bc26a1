package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier verifies HS256 bearer tokens issued by the credential service.
// Claims carried: sub (required), email, role.
type JWTVerifier struct {
	Secret   []byte
	Issuer   string
	Audience string
	// Leeway absorbs small clock skew between issuer and this process.
	Leeway time.Duration
}

type dashboardClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (v JWTVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if len(v.Secret) == 0 {
		return Principal{}, errors.New("verifier secret is not configured")
	}
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.Leeway))
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	claims := &dashboardClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("credential has no subject")
	}
	return Principal{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
