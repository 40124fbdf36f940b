package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnknownKey is returned when a token's kid does not match any
	// key in the verifier's set.
	ErrUnknownKey = errors.New("jwtx: unknown signing key")

	// ErrInvalidToken is returned when a token fails signature or
	// claim validation.
	ErrInvalidToken = errors.New("jwtx: invalid token")
)

var allowedAlgs = []string{"RS256", "ES256", "EdDSA"}

// Verifier validates access tokens against a set of public keys keyed
// by kid.
type Verifier struct {
	issuer string
	keys   map[string]any
	parser *jwt.Parser
}

// NewVerifier builds a Verifier for tokens issued by issuer. Keys maps
// kid to public key.
func NewVerifier(issuer string, keys map[string]any) *Verifier {
	return &Verifier{
		issuer: issuer,
		keys:   keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(allowedAlgs),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses and validates a compact access token, returning its
// claims.
func (v *Verifier) Verify(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, ok := v.keys[kid]
		if !ok {
			return nil, ErrUnknownKey
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
