package dpopx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newES256Signer(t *testing.T) *ProofSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := NewProofSigner(key)
	require.NoError(t, err)
	return s
}

func TestParseRoundTrip(t *testing.T) {
	s := newES256Signer(t)

	compact, err := s.Sign("POST", "https://auth.example.com/v1/oauth2/token", ProofOptions{
		AccessToken: "at-123",
		Nonce:       "nonce-1",
	})
	require.NoError(t, err)

	proof, err := Parse(compact)
	require.NoError(t, err)
	require.NotEmpty(t, proof.JTI)
	require.Equal(t, "POST", proof.Method)
	require.Equal(t, "https://auth.example.com/v1/oauth2/token", proof.URL)
	require.Equal(t, HashAccessToken("at-123"), proof.AccessTokenHash)
	require.Equal(t, "nonce-1", proof.Nonce)
	require.Equal(t, s.Thumbprint(), proof.Thumbprint)
	require.WithinDuration(t, time.Now(), proof.IssuedAt, 5*time.Second)
}

func TestParseAllKeyTypes(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	for name, key := range map[string]any{
		"rsa":     rsaKey,
		"ec":      ecKey,
		"ed25519": edKey,
	} {
		t.Run(name, func(t *testing.T) {
			s, err := NewProofSigner(key)
			require.NoError(t, err)

			compact, err := s.Sign("POST", "https://auth.example.com/token", ProofOptions{})
			require.NoError(t, err)

			proof, err := Parse(compact)
			require.NoError(t, err)
			require.Equal(t, s.Thumbprint(), proof.Thumbprint)
		})
	}
}

func TestThumbprintIsDeterministic(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	s, err := NewProofSigner(key)
	require.NoError(t, err)

	a, err := s.Sign("POST", "https://auth.example.com/token", ProofOptions{})
	require.NoError(t, err)
	b, err := s.Sign("GET", "https://auth.example.com/other", ProofOptions{})
	require.NoError(t, err)

	pa, err := Parse(a)
	require.NoError(t, err)
	pb, err := Parse(b)
	require.NoError(t, err)
	require.Equal(t, pa.Thumbprint, pb.Thumbprint)

	other := newES256Signer(t)
	require.NotEqual(t, pa.Thumbprint, other.Thumbprint())
}

func TestThumbprintKnownVector(t *testing.T) {
	// RFC 7638 section 3.1 example key and thumbprint.
	members := map[string]string{
		"n": "0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw",
		"e": "AQAB",
	}
	require.Equal(t, "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs", Thumbprint("RSA", members))
}

func TestParseRejectsWrongTyp(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := NewProofSigner(key)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"jti": "x", "htm": "POST", "htu": "https://a/t", "iat": time.Now().Unix(),
	})
	token.Header["typ"] = "JWT"
	token.Header["jwk"] = s.publicJWK()
	compact, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = Parse(compact)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsSymmetricAlg(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"jti": "x", "htm": "POST", "htu": "https://a/t", "iat": time.Now().Unix(),
	})
	token.Header["typ"] = HeaderType
	token.Header["jwk"] = map[string]string{"kty": "oct", "k": "c2VjcmV0"}
	compact, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = Parse(compact)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsPrivateKeyMaterial(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := NewProofSigner(key)
	require.NoError(t, err)

	jwk := s.publicJWK()
	jwk["d"] = base64.RawURLEncoding.EncodeToString(key.D.Bytes())

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"jti": "x", "htm": "POST", "htu": "https://a/t", "iat": time.Now().Unix(),
	})
	token.Header["typ"] = HeaderType
	token.Header["jwk"] = jwk
	compact, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = Parse(compact)
	require.ErrorIs(t, err, ErrBadKey)
}

func TestParseRejectsTamperedPayload(t *testing.T) {
	s := newES256Signer(t)
	compact, err := s.Sign("POST", "https://auth.example.com/token", ProofOptions{})
	require.NoError(t, err)

	parts := strings.Split(compact, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	claims["htu"] = "https://evil.example.com/token"
	tampered, err := json.Marshal(claims)
	require.NoError(t, err)

	parts[1] = base64.RawURLEncoding.EncodeToString(tampered)
	_, err = Parse(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestParseRejectsMissingClaims(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := NewProofSigner(key)
	require.NoError(t, err)

	for name, claims := range map[string]jwt.MapClaims{
		"no jti": {"htm": "POST", "htu": "https://a/t", "iat": time.Now().Unix()},
		"no htm": {"jti": "x", "htu": "https://a/t", "iat": time.Now().Unix()},
		"no htu": {"jti": "x", "htm": "POST", "iat": time.Now().Unix()},
		"no iat": {"jti": "x", "htm": "POST", "htu": "https://a/t"},
	} {
		t.Run(name, func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
			token.Header["typ"] = HeaderType
			token.Header["jwk"] = s.publicJWK()
			compact, err := token.SignedString(key)
			require.NoError(t, err)

			_, err = Parse(compact)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestMatchesRequest(t *testing.T) {
	p := &Proof{Method: "post", URL: "HTTPS://Auth.Example.com/v1/oauth2/token"}

	require.True(t, p.MatchesRequest("POST", "https://auth.example.com/v1/oauth2/token"))
	require.True(t, p.MatchesRequest("POST", "https://auth.example.com/v1/oauth2/token?foo=bar"))
	require.False(t, p.MatchesRequest("GET", "https://auth.example.com/v1/oauth2/token"))
	require.False(t, p.MatchesRequest("POST", "https://auth.example.com/v1/oauth2/par"))
	require.False(t, p.MatchesRequest("POST", "http://auth.example.com/v1/oauth2/token"))
}
