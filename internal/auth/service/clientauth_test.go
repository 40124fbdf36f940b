package service

import (
	"context"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/parclabs/keygate/internal/auth/cache"
	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/cryptox"
)

func basicHeader(id, secret string) string {
	raw := url.QueryEscape(id) + ":" + url.QueryEscape(secret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func TestAuthenticateBasic(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, nil)

	client, method, err := a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("client-1", "plain-secret"),
	})
	require.NoError(t, err)
	require.Equal(t, "client-1", client.ID)
	require.Equal(t, domain.AuthMethodBasic, method)
}

func TestAuthenticateBasicPercentDecoding(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, func(c *domain.Client) {
		c.ID = "client with spaces"
		c.Secrets = []domain.ClientSecret{{Kind: domain.SecretKindShared, Value: "p@ss:word%100"}}
	})

	_, method, err := a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("client with spaces", "p@ss:word%100"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.AuthMethodBasic, method)
}

func TestAuthenticateBasicHashedSecret(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())

	hash, err := cryptox.HashSecret("s3cret")
	require.NoError(t, err)
	seedClient(t, st, func(c *domain.Client) {
		c.Secrets = []domain.ClientSecret{{Kind: domain.SecretKindShared, Value: hash}}
	})

	_, _, err = a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("client-1", "s3cret"),
	})
	require.NoError(t, err)

	_, _, err = a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("client-1", "wrong"),
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "mismatch")
}

func TestAuthenticateBasicWrongSecret(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, nil)

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("client-1", "wrong"),
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "mismatch")
}

func TestAuthenticateMalformedBasicFallsThrough(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, nil)

	// Garbage base64 means basic does not apply; post still wins.
	client, method, err := a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: "Basic !!!not-base64!!!",
		FormClientID:       "client-1",
		FormClientSecret:   "plain-secret",
	})
	require.NoError(t, err)
	require.Equal(t, "client-1", client.ID)
	require.Equal(t, domain.AuthMethodPost, method)
}

func TestAuthenticatePost(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, nil)

	_, method, err := a.Authenticate(context.Background(), ClientCredentials{
		FormClientID:     "client-1",
		FormClientSecret: "plain-secret",
	})
	require.NoError(t, err)
	require.Equal(t, domain.AuthMethodPost, method)
}

func TestAuthenticatePublicClient(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, func(c *domain.Client) {
		c.RequireClientSecret = false
		c.Secrets = nil
	})

	_, method, err := a.Authenticate(context.Background(), ClientCredentials{
		FormClientID: "client-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.AuthMethodNone, method)
}

func TestAuthenticateConfidentialClientWithoutCredentials(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, nil)

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		FormClientID: "client-1",
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "requires authentication")
}

func TestAuthenticateDisabledClient(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, func(c *domain.Client) { c.Enabled = false })

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("client-1", "plain-secret"),
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "disabled")
}

func TestAuthenticateUnknownClient(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("ghost", "secret"),
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "unknown")
}

func TestAuthenticateExpiredSecret(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	past := time.Now().Add(-time.Hour)
	seedClient(t, st, func(c *domain.Client) {
		c.Secrets = []domain.ClientSecret{
			{Kind: domain.SecretKindShared, Value: "plain-secret", Expiration: &past},
		}
	})

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		BasicAuthorization: basicHeader("client-1", "plain-secret"),
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "no usable shared secret")
}

func TestAuthenticateNoCredentials(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "no client credentials")
}

func TestDecodeBasicCredentials(t *testing.T) {
	id, secret, ok := decodeBasicCredentials(basicHeader("my+client", "s%3Acret"))
	require.True(t, ok)
	require.Equal(t, "my+client", id)
	require.Equal(t, "s%3Acret", secret)

	_, _, ok = decodeBasicCredentials("")
	require.False(t, ok)
	_, _, ok = decodeBasicCredentials("Bearer abc")
	require.False(t, ok)
	_, _, ok = decodeBasicCredentials("Basic ???")
	require.False(t, ok)

	// No colon separator.
	_, _, ok = decodeBasicCredentials("Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")))
	require.False(t, ok)
}

func signedAssertion(t *testing.T, key any, method jwt.SigningMethod, mutate func(*jwt.RegisteredClaims)) string {
	t.Helper()
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Issuer:    "client-1",
		Subject:   "client-1",
		Audience:  jwt.ClaimStrings{testIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Minute)),
		ID:        cryptox.MustGenerateToken(16),
	}
	if mutate != nil {
		mutate(claims)
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func seedPrivateKeyJWTClient(t *testing.T) (*ClientAuthenticator, any) {
	t.Helper()
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())

	key, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)
	pemBytes := marshalPublicKeyPEM(t, &key.PublicKey)

	seedClient(t, st, func(c *domain.Client) {
		c.Secrets = []domain.ClientSecret{
			{Kind: domain.SecretKindPublicKey, Value: string(pemBytes)},
		}
	})
	return a, key
}

func TestAuthenticatePrivateKeyJWT(t *testing.T) {
	a, key := seedPrivateKeyJWTClient(t)

	assertion := signedAssertion(t, key, jwt.SigningMethodRS256, nil)
	client, method, err := a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	require.NoError(t, err)
	require.Equal(t, "client-1", client.ID)
	require.Equal(t, domain.AuthMethodPrivateKeyJWT, method)
}

func TestAuthenticateClientSecretJWT(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())
	seedClient(t, st, nil)

	assertion := signedAssertion(t, []byte("plain-secret"), jwt.SigningMethodHS256, nil)
	_, method, err := a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	require.NoError(t, err)
	require.Equal(t, domain.AuthMethodSecretJWT, method)
}

func TestAuthenticateClientSecretJWTHashedSecretUnusable(t *testing.T) {
	st := newTestStore(t)
	a := newAuthenticator(st, cache.NewMemory())

	hash, err := cryptox.HashSecret("s3cret")
	require.NoError(t, err)
	seedClient(t, st, func(c *domain.Client) {
		c.Secrets = []domain.ClientSecret{{Kind: domain.SecretKindShared, Value: hash}}
	})

	assertion := signedAssertion(t, []byte("s3cret"), jwt.SigningMethodHS256, nil)
	_, _, err = a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "no credential usable")
}

func TestAuthenticateAssertionWrongType(t *testing.T) {
	a, key := seedPrivateKeyJWTClient(t)
	assertion := signedAssertion(t, key, jwt.SigningMethodRS256, nil)

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: "urn:example:wrong",
		Assertion:     assertion,
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "client_assertion_type")
}

func TestAuthenticateAssertionSubMismatch(t *testing.T) {
	a, key := seedPrivateKeyJWTClient(t)
	assertion := signedAssertion(t, key, jwt.SigningMethodRS256, func(c *jwt.RegisteredClaims) {
		c.Subject = "someone-else"
	})

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "sub")
}

func TestAuthenticateAssertionWrongAudience(t *testing.T) {
	a, key := seedPrivateKeyJWTClient(t)
	assertion := signedAssertion(t, key, jwt.SigningMethodRS256, func(c *jwt.RegisteredClaims) {
		c.Audience = jwt.ClaimStrings{"https://other-as.test"}
	})

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "aud")
}

func TestAuthenticateAssertionExpired(t *testing.T) {
	a, key := seedPrivateKeyJWTClient(t)
	assertion := signedAssertion(t, key, jwt.SigningMethodRS256, func(c *jwt.RegisteredClaims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-5 * time.Minute))
	})

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "expired")
}

func TestAuthenticateAssertionStaleIat(t *testing.T) {
	a, key := seedPrivateKeyJWTClient(t)
	assertion := signedAssertion(t, key, jwt.SigningMethodRS256, func(c *jwt.RegisteredClaims) {
		c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	})

	_, _, err := a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "iat")
}

func TestAuthenticateAssertionJTIReplay(t *testing.T) {
	a, key := seedPrivateKeyJWTClient(t)
	assertion := signedAssertion(t, key, jwt.SigningMethodRS256, nil)

	creds := ClientCredentials{AssertionType: AssertionType, Assertion: assertion}
	_, _, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)

	_, _, err = a.Authenticate(context.Background(), creds)
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "replay")
}

func TestAuthenticateAssertionWrongKey(t *testing.T) {
	a, _ := seedPrivateKeyJWTClient(t)

	other, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)
	assertion := signedAssertion(t, other, jwt.SigningMethodRS256, nil)

	_, _, err = a.Authenticate(context.Background(), ClientCredentials{
		AssertionType: AssertionType,
		Assertion:     assertion,
	})
	requireProtocolError(t, err, authsdk.ErrCodeInvalidClient, "signature")
}
