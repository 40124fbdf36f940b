// Package jwtx issues and verifies the JWT access tokens minted by the
// token endpoint, and publishes the signing keys as a JWK Set.
package jwtx

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderTypeAccessToken is the typ header for access tokens, per
// RFC 9068.
const HeaderTypeAccessToken = "at+jwt"

// Confirmation is the cnf claim carrying proof-of-possession binding
// material.
type Confirmation struct {
	// JKT is the RFC 7638 thumbprint of the DPoP public key the token
	// is bound to.
	JKT string `json:"jkt,omitempty"`
}

// AccessClaims is the claim set of an issued access token.
type AccessClaims struct {
	jwt.RegisteredClaims

	ClientID  string        `json:"client_id,omitempty"`
	SessionID string        `json:"sid,omitempty"`
	Scope     string        `json:"scope,omitempty"`
	Roles     []string      `json:"roles,omitempty"`
	Cnf       *Confirmation `json:"cnf,omitempty"`
}

// HasScope reports whether the token carries the given scope.
func (c *AccessClaims) HasScope(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}
