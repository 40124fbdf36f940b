package service

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parclabs/keygate/internal/auth/domain"
)

var (
	hmacAlgs       = []string{"HS256", "HS384", "HS512"}
	asymmetricAlgs = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}
)

// verifyAssertion authenticates a client through a signed JWT
// assertion (RFC 7523). The assertion's alg selects the mechanism:
// HMAC algorithms are client_secret_jwt keyed by a plaintext shared
// secret, asymmetric algorithms are private_key_jwt verified against
// the client's registered public keys.
func (a *ClientAuthenticator) verifyAssertion(ctx context.Context, assertion string, now time.Time) (domain.Client, domain.AuthMethod, error) {
	unverified := &jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(assertion, unverified)
	if err != nil {
		return domain.Client{}, "", errInvalidClient("malformed client assertion")
	}
	if unverified.Issuer == "" {
		return domain.Client{}, "", errInvalidClient("client assertion missing iss claim")
	}

	client, err := a.lookupClient(ctx, unverified.Issuer)
	if err != nil {
		return domain.Client{}, "", err
	}

	header := strings.SplitN(assertion, ".", 2)[0]
	alg := peekAlg(header)

	var (
		method domain.AuthMethod
		claims *jwt.RegisteredClaims
	)
	switch {
	case slices.Contains(hmacAlgs, alg):
		method = domain.AuthMethodSecretJWT
		claims, err = a.verifyWithKeys(assertion, alg, hmacKeys(client, now))
	case slices.Contains(asymmetricAlgs, alg):
		method = domain.AuthMethodPrivateKeyJWT
		claims, err = a.verifyWithKeys(assertion, alg, publicKeys(client, now))
	default:
		return domain.Client{}, "", errInvalidClient("client assertion alg %q not supported", alg)
	}
	if err != nil {
		return domain.Client{}, "", err
	}

	if err := a.validateAssertionClaims(ctx, claims, client.ID, now); err != nil {
		return domain.Client{}, "", err
	}
	return client, method, nil
}

// verifyWithKeys tries each candidate key until one verifies the
// assertion. Clients may register several keys to allow rotation.
func (a *ClientAuthenticator) verifyWithKeys(assertion, alg string, keys []any) (*jwt.RegisteredClaims, error) {
	if len(keys) == 0 {
		return nil, errInvalidClient("client has no credential usable for this assertion")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.ClockSkew),
	)

	var lastErr error
	for _, key := range keys {
		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}

	if strings.Contains(lastErr.Error(), "expired") {
		return nil, errInvalidClient("client assertion is expired")
	}
	return nil, errInvalidClient("client assertion signature verification failed")
}

func (a *ClientAuthenticator) validateAssertionClaims(ctx context.Context, claims *jwt.RegisteredClaims, clientID string, now time.Time) error {
	if claims.Issuer != clientID {
		return errInvalidClient("assertion iss does not match client")
	}
	if claims.Subject != clientID {
		return errInvalidClient("assertion sub %q does not match iss", claims.Subject)
	}

	if !a.audienceAccepted(claims.Audience) {
		return errInvalidClient("assertion aud is not this authorization server")
	}

	if a.AssertionMaxAge > 0 {
		if claims.IssuedAt == nil {
			return errInvalidClient("assertion missing iat claim")
		}
		if now.Sub(claims.IssuedAt.Time) > a.AssertionMaxAge+a.ClockSkew {
			return errInvalidClient("assertion iat is too old")
		}
	}

	if claims.ID == "" {
		return errInvalidClient("assertion missing jti claim")
	}
	ttl := time.Until(claims.ExpiresAt.Time) + a.ClockSkew
	if ttl <= 0 {
		ttl = a.ClockSkew + time.Second
	}
	fresh, err := a.Cache.PutIfAbsent(ctx, "assertion:jti:"+claims.ID, ttl)
	if err != nil {
		return err
	}
	if !fresh {
		return errInvalidClient("assertion jti replay detected")
	}
	return nil
}

func (a *ClientAuthenticator) audienceAccepted(aud jwt.ClaimStrings) bool {
	for _, candidate := range aud {
		if slices.Contains(a.Audiences, candidate) {
			return true
		}
	}
	return false
}

// hmacKeys returns the plaintext shared secrets usable as
// client_secret_jwt HMAC keys. Hashed secrets cannot key a MAC and
// are skipped.
func hmacKeys(client domain.Client, now time.Time) []any {
	var keys []any
	for _, s := range client.UsableSecrets(domain.SecretKindShared, now) {
		if !strings.HasPrefix(s.Value, "$argon2id$") {
			keys = append(keys, []byte(s.Value))
		}
	}
	return keys
}

// publicKeys parses the client's registered PEM public keys.
// Unparseable entries are skipped rather than failing the whole
// client.
func publicKeys(client domain.Client, now time.Time) []any {
	var keys []any
	for _, s := range client.UsableSecrets(domain.SecretKindPublicKey, now) {
		block, _ := pem.Decode([]byte(s.Value))
		if block == nil {
			continue
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func peekAlg(encodedHeader string) string {
	raw, err := base64.RawURLEncoding.DecodeString(encodedHeader)
	if err != nil {
		return ""
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if json.Unmarshal(raw, &header) != nil {
		return ""
	}
	return header.Alg
}
