// Package dpopx parses and verifies DPoP proof JWTs (RFC 9449) and
// computes JWK thumbprints (RFC 7638) for sender constrained tokens.
//
// The package handles the cryptographic half of proof validation:
// header shape, embedded key checks and signature verification.
// Policy concerns such as replay tracking, nonce challenges and the
// freshness window stay with the caller.
package dpopx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderType is the required typ header of a DPoP proof.
const HeaderType = "dpop+jwt"

var (
	// ErrMalformed is returned when the proof is not a structurally
	// valid JWS or its header is missing required members.
	ErrMalformed = errors.New("dpopx: malformed proof")

	// ErrBadKey is returned when the embedded JWK is unusable: not a
	// supported asymmetric key, or carrying private key material.
	ErrBadKey = errors.New("dpopx: unusable proof key")

	// ErrBadSignature is returned when the proof signature does not
	// verify under the embedded key.
	ErrBadSignature = errors.New("dpopx: proof signature invalid")
)

// Asymmetric JWS algorithms accepted in proofs. Symmetric MACs are
// excluded because the proof key must be public.
var allowedAlgs = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
	"EdDSA": true,
}

// Proof is a parsed and signature verified DPoP proof.
type Proof struct {
	// JTI is the proof's unique identifier, used for replay tracking.
	JTI string

	// Method is the htm claim, the HTTP method the proof covers.
	Method string

	// URL is the htu claim, the target URI the proof covers.
	URL string

	// IssuedAt is the iat claim.
	IssuedAt time.Time

	// AccessTokenHash is the ath claim when present.
	AccessTokenHash string

	// Nonce is the server provided nonce claim when present.
	Nonce string

	// Thumbprint is the RFC 7638 SHA-256 thumbprint of the embedded
	// public key, base64url encoded.
	Thumbprint string
}

type proofHeader struct {
	Typ string          `json:"typ"`
	Alg string          `json:"alg"`
	JWK json.RawMessage `json:"jwk"`
}

type proofClaims struct {
	jwt.RegisteredClaims

	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	ATH   string `json:"ath,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

type rawJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	N   string `json:"n"`
	E   string `json:"e"`

	// Private or symmetric members. Their presence disqualifies the
	// key outright.
	D string `json:"d"`
	P string `json:"p"`
	Q string `json:"q"`
	K string `json:"k"`
}

// Parse verifies a compact DPoP proof and returns its contents. The
// proof's signature is checked against the key embedded in its own
// header; binding the key to anything is the caller's job.
func Parse(compact string) (*Proof, error) {
	header, err := decodeHeader(compact)
	if err != nil {
		return nil, err
	}
	if header.Typ != HeaderType {
		return nil, fmt.Errorf("%w: typ %q, want %q", ErrMalformed, header.Typ, HeaderType)
	}
	if !allowedAlgs[header.Alg] {
		return nil, fmt.Errorf("%w: alg %q not allowed", ErrMalformed, header.Alg)
	}
	if len(header.JWK) == 0 {
		return nil, fmt.Errorf("%w: missing jwk header", ErrMalformed)
	}

	key, thumbprint, err := parseJWK(header.JWK)
	if err != nil {
		return nil, err
	}

	claims := &proofClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{header.Alg}))
	if _, err := parser.ParseWithClaims(compact, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti claim", ErrMalformed)
	}
	if claims.HTM == "" {
		return nil, fmt.Errorf("%w: missing htm claim", ErrMalformed)
	}
	if claims.HTU == "" {
		return nil, fmt.Errorf("%w: missing htu claim", ErrMalformed)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat claim", ErrMalformed)
	}

	return &Proof{
		JTI:             claims.ID,
		Method:          claims.HTM,
		URL:             claims.HTU,
		IssuedAt:        claims.IssuedAt.Time,
		AccessTokenHash: claims.ATH,
		Nonce:           claims.Nonce,
		Thumbprint:      thumbprint,
	}, nil
}

// MatchesRequest reports whether the proof covers the given HTTP
// method and target URL. The method comparison is case insensitive.
// URLs match on scheme, host and path; query and fragment are ignored.
func (p *Proof) MatchesRequest(method, target string) bool {
	if !strings.EqualFold(p.Method, method) {
		return false
	}
	return normalizeHTU(p.URL) == normalizeHTU(target)
}

// HashAccessToken computes the ath value for an access token:
// base64url(SHA-256(token)).
func HashAccessToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func normalizeHTU(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func decodeHeader(compact string) (*proofHeader, error) {
	head, _, ok := strings.Cut(compact, ".")
	if !ok {
		return nil, fmt.Errorf("%w: not a compact JWS", ErrMalformed)
	}
	raw, err := base64.RawURLEncoding.DecodeString(head)
	if err != nil {
		return nil, fmt.Errorf("%w: header encoding: %w", ErrMalformed, err)
	}
	header := &proofHeader{}
	if err := json.Unmarshal(raw, header); err != nil {
		return nil, fmt.Errorf("%w: header json: %w", ErrMalformed, err)
	}
	return header, nil
}

func parseJWK(raw json.RawMessage) (any, string, error) {
	jwk := &rawJWK{}
	if err := json.Unmarshal(raw, jwk); err != nil {
		return nil, "", fmt.Errorf("%w: jwk json: %w", ErrBadKey, err)
	}
	if jwk.D != "" || jwk.P != "" || jwk.Q != "" || jwk.K != "" {
		return nil, "", fmt.Errorf("%w: private key material in jwk", ErrBadKey)
	}

	switch jwk.Kty {
	case "RSA":
		key, err := rsaKey(jwk)
		if err != nil {
			return nil, "", err
		}
		return key, Thumbprint("RSA", map[string]string{"e": jwk.E, "n": jwk.N}), nil
	case "EC":
		key, err := ecKey(jwk)
		if err != nil {
			return nil, "", err
		}
		return key, Thumbprint("EC", map[string]string{"crv": jwk.Crv, "x": jwk.X, "y": jwk.Y}), nil
	case "OKP":
		key, err := okpKey(jwk)
		if err != nil {
			return nil, "", err
		}
		return key, Thumbprint("OKP", map[string]string{"crv": jwk.Crv, "x": jwk.X}), nil
	default:
		return nil, "", fmt.Errorf("%w: kty %q", ErrBadKey, jwk.Kty)
	}
}

func rsaKey(jwk *rawJWK) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa n: %w", ErrBadKey, err)
	}
	e, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa e: %w", ErrBadKey, err)
	}
	key := &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}
	if key.N.BitLen() < 2048 {
		return nil, fmt.Errorf("%w: rsa key too small", ErrBadKey)
	}
	return key, nil
}

func ecKey(jwk *rawJWK) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch jwk.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("%w: ec curve %q", ErrBadKey, jwk.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: ec x: %w", ErrBadKey, err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: ec y: %w", ErrBadKey, err)
	}
	key := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !key.Curve.IsOnCurve(key.X, key.Y) {
		return nil, fmt.Errorf("%w: ec point not on curve", ErrBadKey)
	}
	return key, nil
}

func okpKey(jwk *rawJWK) (ed25519.PublicKey, error) {
	if jwk.Crv != "Ed25519" {
		return nil, fmt.Errorf("%w: okp curve %q", ErrBadKey, jwk.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: okp x: %w", ErrBadKey, err)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: okp key size %d", ErrBadKey, len(x))
	}
	return ed25519.PublicKey(x), nil
}

// Thumbprint computes the RFC 7638 thumbprint for a public JWK given
// its kty and required members. Members are serialized in
// lexicographic order with no whitespace, hashed with SHA-256 and
// base64url encoded.
func Thumbprint(kty string, members map[string]string) string {
	var names []string
	switch kty {
	case "RSA":
		names = []string{"e", "kty", "n"}
	case "EC":
		names = []string{"crv", "kty", "x", "y"}
	case "OKP":
		names = []string{"crv", "kty", "x"}
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		value := members[name]
		if name == "kty" {
			value = kty
		}
		fmt.Fprintf(&b, "%q:%q", name, value)
	}
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
