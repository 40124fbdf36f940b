package service

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parclabs/keygate/internal/auth/cache"
	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/internal/auth/store/drivers/sqlite"
	"github.com/parclabs/keygate/pkg/jwtx"
)

const testIssuer = "https://auth.test"

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestKeySet(t *testing.T) *jwtx.KeySet {
	t.Helper()
	ks, err := jwtx.NewEphemeralKeySet("ES256")
	require.NoError(t, err)
	return ks
}

func newTokenService(t *testing.T, st store.Store) *TokenService {
	t.Helper()
	return &TokenService{
		Store:            st,
		KeySet:           newTestKeySet(t),
		Issuer:           testIssuer,
		DefaultAccessTTL: 5 * time.Minute,
	}
}

func newAuthenticator(st store.Store, c cache.Client) *ClientAuthenticator {
	return &ClientAuthenticator{
		Store:           st,
		Cache:           c,
		Audiences:       []string{testIssuer, testIssuer + "/v1/oauth2/token"},
		AssertionMaxAge: 5 * time.Minute,
		ClockSkew:       30 * time.Second,
	}
}

func seedClient(t *testing.T, st store.Store, mutate func(*domain.Client)) domain.Client {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	c := domain.Client{
		ID:                  "client-1",
		Name:                "Test Client",
		Enabled:             true,
		RequireClientSecret: true,
		Secrets: []domain.ClientSecret{
			{Kind: domain.SecretKindShared, Value: "plain-secret"},
		},
		AllowedGrantTypes: []string{
			domain.GrantTypeClientCredentials,
			domain.GrantTypeRefreshToken,
			domain.GrantTypeDeviceCode,
		},
		AllowedScopes:          []string{"openid", "profile", "email"},
		AccessTokenTTL:         5 * time.Minute,
		RefreshTokenUsage:      domain.RefreshUsageOneTimeOnly,
		RefreshTokenExpiration: domain.RefreshExpirationAbsolute,
		AbsoluteRefreshTTL:     30 * 24 * time.Hour,
		SlidingRefreshTTL:      15 * 24 * time.Hour,
		DeviceCodeTTL:          5 * time.Minute,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if mutate != nil {
		mutate(&c)
	}
	require.NoError(t, st.Clients().CreateClient(context.Background(), c))
	return c
}

func seedSubject(t *testing.T, st store.Store, id string, active bool, roles []string) domain.Subject {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	s := domain.Subject{ID: id, Active: active, Roles: roles, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.Subjects().CreateSubject(context.Background(), s))
	return s
}

// requireProtocolError asserts err is a ProtocolError with the given
// code and a description containing substr.
func requireProtocolError(t *testing.T, err error, code, substr string) {
	t.Helper()
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, code, pe.Code)
	if substr != "" {
		require.Contains(t, pe.Description, substr)
	}
}

func marshalPublicKeyPEM(t *testing.T, pub any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func verifyAccess(t *testing.T, ts *TokenService, token string) *jwtx.AccessClaims {
	t.Helper()
	v := jwtx.NewVerifier(testIssuer, ts.KeySet.VerificationKeys())
	claims, err := v.Verify(token)
	require.NoError(t, err)
	return claims
}
