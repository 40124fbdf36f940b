package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/cryptox"
)

// issueRefresh starts a session directly through the service's
// internals, standing in for a completed authorization.
func issueRefresh(t *testing.T, ts *TokenService, client domain.Client, subjectID string, scopes []string, jkt string) (string, string) {
	t.Helper()
	var token, sessionID string
	err := ts.Store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		token, sessionID, err = ts.issueSession(context.Background(), tx, client, subjectID, scopes, jkt, time.Now())
		return err
	})
	require.NoError(t, err)
	return token, sessionID
}

func TestRefreshRotation(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)
	seedSubject(t, st, "subj-1", true, []string{"member"})

	token, sessionID := issueRefresh(t, ts, client, "subj-1", []string{"openid", "profile"}, "")

	resp, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	require.NoError(t, err)
	require.Equal(t, "Bearer", resp.TokenType)
	require.NotEmpty(t, resp.RefreshToken)
	require.NotEqual(t, token, resp.RefreshToken)
	require.Equal(t, "openid profile", resp.Scope)

	claims := verifyAccess(t, ts, resp.AccessToken)
	require.Equal(t, "subj-1", claims.Subject)
	require.Equal(t, client.ID, claims.ClientID)
	require.Equal(t, sessionID, claims.SessionID)
	require.Equal(t, []string{"member"}, claims.Roles)

	// The successor carries the next generation.
	grant, err := st.Grants().GetGrant(context.Background(), cryptox.FingerprintToken(resp.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, sessionID, grant.SessionID)
}

func TestRefreshReplayRevokesSession(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)
	seedSubject(t, st, "subj-1", true, nil)

	token, _ := issueRefresh(t, ts, client, "subj-1", []string{"openid"}, "")

	first, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	require.NoError(t, err)

	// Presenting the spent token again burns the family.
	_, err = ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "already been used")

	// The rotated successor is gone with it.
	_, err = ts.RedeemRefreshToken(context.Background(), client, first.RefreshToken, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "not recognized")
}

func TestRefreshWrongClient(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)
	other := seedClient(t, st, func(c *domain.Client) { c.ID = "client-2" })

	token, _ := issueRefresh(t, ts, client, "", []string{"openid"}, "")

	_, err := ts.RedeemRefreshToken(context.Background(), other, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "different client")
}

func TestRefreshExpired(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, func(c *domain.Client) {
		c.AbsoluteRefreshTTL = -time.Minute
	})

	token, _ := issueRefresh(t, ts, client, "", []string{"openid"}, "")

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "expired")

	// The rejection also purges the dead grant.
	_, err = st.Grants().GetGrant(context.Background(), cryptox.FingerprintToken(token))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshScopeNarrowing(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)

	token, _ := issueRefresh(t, ts, client, "", []string{"openid", "profile", "email"}, "")

	resp, err := ts.RedeemRefreshToken(context.Background(), client, token, []string{"openid"}, "")
	require.NoError(t, err)
	require.Equal(t, "openid", resp.Scope)

	// Narrowing does not shrink the family's grant: the successor can
	// still redeem the full original set.
	resp, err = ts.RedeemRefreshToken(context.Background(), client, resp.RefreshToken, []string{"openid", "profile", "email"}, "")
	require.NoError(t, err)
	require.Equal(t, "openid profile email", resp.Scope)
}

func TestRefreshScopeWidening(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)

	token, _ := issueRefresh(t, ts, client, "", []string{"openid"}, "")

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, []string{"openid", "profile"}, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidScope, "exceeds")
}

func TestRefreshReUseSlidingExtension(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, func(c *domain.Client) {
		c.RefreshTokenUsage = domain.RefreshUsageReUse
		c.RefreshTokenExpiration = domain.RefreshExpirationSliding
	})

	// Seed a grant whose current expiry is well short of what a
	// sliding extension would grant.
	now := time.Now()
	payload := domain.RefreshTokenPayload{
		Scopes:         []string{"openid"},
		AbsoluteExpiry: now.Add(client.AbsoluteRefreshTTL),
		Generation:     1,
	}
	token, grant, err := ts.newRefreshGrant(client, "", "sess-1", payload, now)
	require.NoError(t, err)
	grant.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, st.Grants().CreateGrant(context.Background(), grant))

	resp, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	require.NoError(t, err)
	// Reuse keeps the same token.
	require.Equal(t, token, resp.RefreshToken)

	stored, err := st.Grants().GetGrant(context.Background(), grant.Key)
	require.NoError(t, err)
	require.True(t, stored.ExpiresAt.After(now.Add(time.Hour)))
	require.False(t, stored.ExpiresAt.After(payload.AbsoluteExpiry.Add(time.Second)))

	// The reusable token redeems again.
	_, err = ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	require.NoError(t, err)
}

func TestRefreshDPoPBinding(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)

	token, _ := issueRefresh(t, ts, client, "", []string{"openid"}, "thumb-a")

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "thumb-b")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "different DPoP key")

	resp, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "thumb-a")
	require.NoError(t, err)
	require.Equal(t, "DPoP", resp.TokenType)

	claims := verifyAccess(t, ts, resp.AccessToken)
	require.NotNil(t, claims.Cnf)
	require.Equal(t, "thumb-a", claims.Cnf.JKT)
}

func TestRefreshRequiresDPoPWhenRegistered(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, func(c *domain.Client) { c.RequireDPoP = true })

	token, _ := issueRefresh(t, ts, client, "", []string{"openid"}, "thumb-a")

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "requires a DPoP proof")
}

func TestRefreshInactiveSubject(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)
	seedSubject(t, st, "subj-off", false, nil)

	token, _ := issueRefresh(t, ts, client, "subj-off", []string{"openid"}, "")

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "not active")

	// A grant tied to a deactivated subject is removed on rejection.
	_, err = st.Grants().GetGrant(context.Background(), cryptox.FingerprintToken(token))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshSubjectNotAllowedForClient(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, func(c *domain.Client) {
		c.AllowedSubjects = []string{"subj-other"}
	})
	seedSubject(t, st, "subj-1", true, nil)

	token, _ := issueRefresh(t, ts, client, "subj-1", []string{"openid"}, "")

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeAccessDenied, "not permitted")
}

func TestRefreshSubjectLostRequiredRole(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, func(c *domain.Client) {
		c.AllowedRoles = []string{"admin"}
	})
	seedSubject(t, st, "subj-1", true, []string{"member"})

	token, _ := issueRefresh(t, ts, client, "subj-1", []string{"openid"}, "")

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeAccessDenied, "role")
}

func TestRefreshSubjectWithPermittedRole(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, func(c *domain.Client) {
		c.AllowedSubjects = []string{"subj-1"}
		c.AllowedRoles = []string{"member", "admin"}
	})
	seedSubject(t, st, "subj-1", true, []string{"member"})

	token, _ := issueRefresh(t, ts, client, "subj-1", []string{"openid"}, "")

	resp, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
}

func TestRefreshGrantTypeNotAllowed(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, func(c *domain.Client) {
		c.AllowedGrantTypes = []string{domain.GrantTypeClientCredentials}
	})

	_, err := ts.RedeemRefreshToken(context.Background(), client, "whatever", nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeUnauthorizedClient, "")
}

func TestRefreshMissingToken(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)

	_, err := ts.RedeemRefreshToken(context.Background(), client, "", nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "missing")
}

func TestRevokeToken(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)

	token, _ := issueRefresh(t, ts, client, "", []string{"openid"}, "")

	require.NoError(t, ts.RevokeToken(context.Background(), client, token))

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidGrant, "not recognized")
}

func TestRevokeTokenSilentOnUnknown(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)

	require.NoError(t, ts.RevokeToken(context.Background(), client, "never-issued"))
	require.NoError(t, ts.RevokeToken(context.Background(), client, ""))
}

func TestRevokeTokenSilentOnForeign(t *testing.T) {
	st := newTestStore(t)
	ts := newTokenService(t, st)
	client := seedClient(t, st, nil)
	other := seedClient(t, st, func(c *domain.Client) { c.ID = "client-2" })

	token, _ := issueRefresh(t, ts, client, "", []string{"openid"}, "")

	// Another client revoking the token is a no-op; the owner can
	// still redeem it.
	require.NoError(t, ts.RevokeToken(context.Background(), other, token))

	_, err := ts.RedeemRefreshToken(context.Background(), client, token, nil, "")
	require.NoError(t, err)
}
