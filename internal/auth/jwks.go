package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier checks RS256/ES256 tokens against keys published at a JWKS URL.
type JWKSVerifier struct {
	jwks keyfunc.Keyfunc
}

// JWKSOption tunes how the key set is fetched.
type JWKSOption func(*keyfunc.Override)

// WithRefreshInterval sets how often the key set is re-fetched. Keys dropped
// from the endpoint stop verifying after the next refresh.
func WithRefreshInterval(d time.Duration) JWKSOption {
	return func(o *keyfunc.Override) {
		o.RefreshInterval = d
	}
}

// NewJWKSVerifier fetches the key set and keeps refreshing it in the
// background until ctx is cancelled, so ctx must live as long as the server.
func NewJWKSVerifier(ctx context.Context, jwksURL string, opts ...JWKSOption) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}
	var override keyfunc.Override
	for _, opt := range opts {
		opt(&override)
	}
	jwks, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{jwksURL}, override)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}
	return &JWKSVerifier{jwks: jwks}, nil
}

// NewJWKSVerifierFromKeyfunc wraps an existing key source.
func NewJWKSVerifierFromKeyfunc(jwks keyfunc.Keyfunc) *JWKSVerifier {
	return &JWKSVerifier{jwks: jwks}
}

// Verify parses and validates a token. Only asymmetric algorithms are accepted.
func (v *JWKSVerifier) Verify(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return actorFromToken(token)
}
