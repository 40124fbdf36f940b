package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs access token claim sets with a single active key.
type Signer interface {
	// Sign returns the signed compact serialization of claims with
	// typ set to at+jwt and kid set to the signer's key id.
	Sign(claims *AccessClaims) (string, error)

	// KeyID returns the kid of the signing key.
	KeyID() string

	// Alg returns the JWS algorithm name.
	Alg() string

	// PublicKey returns the verification key for this signer.
	PublicKey() any
}

type signer struct {
	method jwt.SigningMethod
	key    any
	public any
	kid    string
}

// NewRS256Signer returns a Signer using RSASSA-PKCS1-v1_5 with SHA-256.
func NewRS256Signer(key *rsa.PrivateKey, kid string) Signer {
	return &signer{method: jwt.SigningMethodRS256, key: key, public: &key.PublicKey, kid: kid}
}

// NewES256Signer returns a Signer using ECDSA P-256 with SHA-256.
func NewES256Signer(key *ecdsa.PrivateKey, kid string) Signer {
	return &signer{method: jwt.SigningMethodES256, key: key, public: &key.PublicKey, kid: kid}
}

// NewEdDSASigner returns a Signer using Ed25519.
func NewEdDSASigner(key ed25519.PrivateKey, kid string) Signer {
	return &signer{method: jwt.SigningMethodEdDSA, key: key, public: key.Public(), kid: kid}
}

func (s *signer) Sign(claims *AccessClaims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	token.Header["kid"] = s.kid
	token.Header["typ"] = HeaderTypeAccessToken

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign token: %w", err)
	}
	return signed, nil
}

func (s *signer) KeyID() string  { return s.kid }
func (s *signer) Alg() string    { return s.method.Alg() }
func (s *signer) PublicKey() any { return s.public }
