// Package auth resolves the acting user of a request from a bearer token.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any token that cannot be trusted.
var ErrUnauthorized = errors.New("unauthorized")

// Role is the marketplace role of a user.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
	RoleVendor Role = "vendor"
)

// ParseRole validates a role claim.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSeller, RoleBuyer, RoleAdmin, RoleVendor:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Claims is the token payload: the subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Verifier turns a raw bearer token into an Actor.
type Verifier interface {
	Verify(token string) (Actor, error)
}

// actorFromToken validates parsed claims and builds the actor.
func actorFromToken(token *jwt.Token) (Actor, error) {
	if token == nil || !token.Valid {
		return Actor{}, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return Actor{}, ErrUnauthorized
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return Actor{ID: claims.Subject, Role: role}, nil
}

// HMACVerifier checks HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for tokens signed with secret.
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates an HS256 token.
func (v *HMACVerifier) Verify(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(*jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return actorFromToken(token)
}

// IssueToken signs an HS256 token for an actor. It backs local development
// and tests; production tokens come from the identity provider.
func IssueToken(secret string, actor Actor, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("JWT secret cannot be empty")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(actor.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
