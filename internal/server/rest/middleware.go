// Package rest provides the HTTP API layer of the ledger daemon. It
// includes a chi router, bearer-token authentication with ledger scopes,
// and handler functions for all /api/v1 endpoints.
package rest

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes recognised on ledger API requests. A token with no scopes
// can read the chain and run verification; appending entries additionally
// requires ScopeAppend. Scopes gate the mutating surface because an
// appended entry is permanent: there is no way to un-write an audit record
// issued to an over-privileged reader token.
const (
	// ScopeAppend authorises POST /api/v1/entries.
	ScopeAppend = "ledger:append"
)

// Claims are the ledger API token claims: the standard registered set plus
// the granted ledger scopes.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes lists the ledger permissions granted to this token, e.g.
	// "ledger:append".
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token grants the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Actor returns the token subject, used to attribute API activity. Empty
// when the token carries no subject.
func (c *Claims) Actor() string {
	return c.Subject
}

// contextKey is an unexported type used to store values in request
// contexts, preventing collisions with keys from other packages.
type contextKey int

// claimsKey is the context key under which validated ledger claims are
// stored.
const claimsKey contextKey = iota

// Authenticator validates RS256 bearer tokens against a fixed public key
// and attaches the resulting Claims to the request context. Scope
// enforcement is left to the individual handlers, which know which scope
// their operation needs.
type Authenticator struct {
	pubKey *rsa.PublicKey
}

// NewAuthenticator builds an Authenticator around pubKey.
func NewAuthenticator(pubKey *rsa.PublicKey) *Authenticator {
	return &Authenticator{pubKey: pubKey}
}

// Middleware rejects requests without a valid bearer token with HTTP 401,
// using the same JSON error envelope as every handler response.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.claimsFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFromRequest extracts and validates the bearer token on r.
func (a *Authenticator) claimsFromRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errors.New("missing Authorization header")
	}
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, errors.New("Authorization header must be a Bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.pubKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}
	return claims, nil
}

// ClaimsFromContext retrieves the claims stored by Middleware. Returns nil
// when authentication is disabled or the route is unauthenticated; handlers
// treat a nil result as "no scope restrictions".
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// ParseRSAPublicKey parses a PEM-encoded RSA public key (PKIX "PUBLIC KEY"
// block) for use with NewAuthenticator.
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("rest: no PEM block found in public key data")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rest: parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("rest: public key is %T, want *rsa.PublicKey", parsed)
	}
	return pub, nil
}
