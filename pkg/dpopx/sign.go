package dpopx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parclabs/keygate/pkg/idx"
)

// ProofSigner builds DPoP proofs for a held private key. It backs the
// client SDK's sender constrained mode and proof construction in
// tests.
type ProofSigner struct {
	key        any
	method     jwt.SigningMethod
	jwk        map[string]string
	kty        string
	thumbprint string
}

// ProofOptions carries the optional claims of a proof.
type ProofOptions struct {
	// AccessToken, when set, is hashed into the ath claim.
	AccessToken string

	// Nonce, when set, is echoed as the nonce claim.
	Nonce string

	// IssuedAt overrides the iat claim. Zero means now.
	IssuedAt time.Time
}

// NewProofSigner wraps a private key for proof signing. Supported key
// types are *ecdsa.PrivateKey (P-256), *rsa.PrivateKey and
// ed25519.PrivateKey.
func NewProofSigner(key any) (*ProofSigner, error) {
	s := &ProofSigner{key: key}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("dpopx: unsupported curve %s", k.Curve.Params().Name)
		}
		s.method = jwt.SigningMethodES256
		s.kty = "EC"
		size := (k.Curve.Params().BitSize + 7) / 8
		s.jwk = map[string]string{
			"crv": "P-256",
			"x":   base64.RawURLEncoding.EncodeToString(k.X.FillBytes(make([]byte, size))),
			"y":   base64.RawURLEncoding.EncodeToString(k.Y.FillBytes(make([]byte, size))),
		}
	case *rsa.PrivateKey:
		s.method = jwt.SigningMethodRS256
		s.kty = "RSA"
		s.jwk = map[string]string{
			"n": base64.RawURLEncoding.EncodeToString(k.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.E)).Bytes()),
		}
	case ed25519.PrivateKey:
		s.method = jwt.SigningMethodEdDSA
		s.kty = "OKP"
		s.jwk = map[string]string{
			"crv": "Ed25519",
			"x":   base64.RawURLEncoding.EncodeToString(k.Public().(ed25519.PublicKey)),
		}
	default:
		return nil, fmt.Errorf("dpopx: unsupported key type %T", key)
	}
	s.thumbprint = Thumbprint(s.kty, s.jwk)
	return s, nil
}

// Thumbprint returns the RFC 7638 thumbprint of the signer's public
// key.
func (s *ProofSigner) Thumbprint() string { return s.thumbprint }

// Sign returns a compact DPoP proof covering method and target.
func (s *ProofSigner) Sign(method, target string, opts ProofOptions) (string, error) {
	issuedAt := opts.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	claims := jwt.MapClaims{
		"jti": idx.New(),
		"htm": method,
		"htu": target,
		"iat": issuedAt.Unix(),
	}
	if opts.AccessToken != "" {
		claims["ath"] = HashAccessToken(opts.AccessToken)
	}
	if opts.Nonce != "" {
		claims["nonce"] = opts.Nonce
	}

	token := jwt.NewWithClaims(s.method, claims)
	token.Header["typ"] = HeaderType
	token.Header["jwk"] = s.publicJWK()

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("dpopx: sign proof: %w", err)
	}
	return signed, nil
}

func (s *ProofSigner) publicJWK() map[string]string {
	jwk := map[string]string{"kty": s.kty}
	for k, v := range s.jwk {
		jwk[k] = v
	}
	return jwk
}
