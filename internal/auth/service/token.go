package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/cryptox"
	"github.com/parclabs/keygate/pkg/jwtx"
)

// TokenService issues access and refresh tokens for the grant types
// the token endpoint supports.
type TokenService struct {
	Store  store.Store
	KeySet *jwtx.KeySet

	Issuer           string
	DefaultAccessTTL time.Duration
}

// ClientCredentials implements the client_credentials grant. The
// client is already authenticated; jkt is the DPoP key thumbprint
// when the request carried a valid proof.
func (s *TokenService) ClientCredentials(ctx context.Context, client domain.Client, requestedScopes []string, jkt string) (*authsdk.TokenResponse, error) {
	if !client.AllowsGrantType(domain.GrantTypeClientCredentials) {
		return nil, errUnauthorizedClient("client %s may not use client_credentials", client.ID)
	}
	if !client.RequireClientSecret {
		return nil, errUnauthorizedClient("public clients may not use client_credentials")
	}
	if err := requireDPoPSatisfied(client, jkt); err != nil {
		return nil, err
	}

	scopes := requestedScopes
	if len(scopes) == 0 {
		scopes = client.AllowedScopes
	}
	if !client.AllowsScopes(scopes) {
		return nil, errInvalidScope("requested scope exceeds the client registration")
	}

	accessToken, expiresIn, err := s.mintAccess(client, client.ID, "", scopes, nil, jkt, time.Now())
	if err != nil {
		return nil, err
	}

	return &authsdk.TokenResponse{
		AccessToken: accessToken,
		TokenType:   tokenType(jkt),
		ExpiresIn:   expiresIn,
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// mintAccess signs an access token. subjectID becomes sub; sessionID,
// roles and jkt are omitted when empty.
func (s *TokenService) mintAccess(client domain.Client, subjectID, sessionID string, scopes, roles []string, jkt string, now time.Time) (string, int64, error) {
	ttl := client.AccessTokenTTL
	if ttl <= 0 {
		ttl = s.DefaultAccessTTL
	}

	claims := &jwtx.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings{s.Issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        cryptox.MustGenerateToken(16),
		},
		ClientID:  client.ID,
		SessionID: sessionID,
		Scope:     strings.Join(scopes, " "),
		Roles:     roles,
	}
	if jkt != "" {
		claims.Cnf = &jwtx.Confirmation{JKT: jkt}
	}

	token, err := s.KeySet.Signer().Sign(claims)
	if err != nil {
		return "", 0, err
	}
	return token, int64(ttl.Seconds()), nil
}

// tokenType is DPoP for sender constrained tokens, Bearer otherwise
// (RFC 9449 section 5).
func tokenType(jkt string) string {
	if jkt != "" {
		return "DPoP"
	}
	return "Bearer"
}

// requireDPoPSatisfied rejects token issuance for clients registered
// as DPoP only when no valid proof accompanied the request.
func requireDPoPSatisfied(client domain.Client, jkt string) error {
	if client.RequireDPoP && jkt == "" {
		return errInvalidDPoP("client %s requires a DPoP proof on token requests", client.ID)
	}
	return nil
}

// newRefreshGrant mints an opaque refresh token and its persisted
// grant. Only the fingerprint is stored.
func (s *TokenService) newRefreshGrant(client domain.Client, subjectID, sessionID string, payload domain.RefreshTokenPayload, now time.Time) (opaque string, grant domain.PersistedGrant, err error) {
	opaque, err = cryptox.GenerateToken(cryptox.DefaultTokenBytes)
	if err != nil {
		return "", domain.PersistedGrant{}, err
	}

	expiresAt := payload.AbsoluteExpiry
	if client.RefreshTokenExpiration == domain.RefreshExpirationSliding {
		expiresAt = minTime(now.Add(client.SlidingRefreshTTL), payload.AbsoluteExpiry)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", domain.PersistedGrant{}, err
	}

	grant = domain.PersistedGrant{
		Key:       cryptox.FingerprintToken(opaque),
		Kind:      domain.GrantKindRefreshToken,
		ClientID:  client.ID,
		SubjectID: subjectID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Payload:   encoded,
	}
	return opaque, grant, nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// splitScopes parses a space delimited scope parameter into a
// deduplicated sorted set.
func splitScopes(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// scopesWithin reports whether every requested scope is in granted.
func scopesWithin(requested, granted []string) bool {
	set := make(map[string]bool, len(granted))
	for _, g := range granted {
		set[g] = true
	}
	for _, r := range requested {
		if !set[r] {
			return false
		}
	}
	return true
}
