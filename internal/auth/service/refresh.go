package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/cryptox"
	"github.com/parclabs/keygate/pkg/idx"
	"github.com/parclabs/keygate/pkg/slogx"
)

// RedeemRefreshToken implements the refresh_token grant: lookup by
// fingerprint, lifecycle and binding checks, scope narrowing, then
// rotation or reuse depending on the client's registered usage.
//
// Replay of a one-time token is treated as theft: the whole session
// family is revoked before the request is rejected.
func (s *TokenService) RedeemRefreshToken(ctx context.Context, client domain.Client, refreshToken string, requestedScopes []string, jkt string) (*authsdk.TokenResponse, error) {
	if refreshToken == "" {
		return nil, errInvalidGrant("refresh_token is missing")
	}
	if !client.AllowsGrantType(domain.GrantTypeRefreshToken) {
		return nil, errUnauthorizedClient("client %s may not use refresh_token", client.ID)
	}
	if err := requireDPoPSatisfied(client, jkt); err != nil {
		return nil, err
	}

	now := time.Now()
	fingerprint := cryptox.FingerprintToken(refreshToken)
	l := slogx.FromContext(ctx)

	// rejectErr carries rejections whose store side effects must
	// survive: returning a non nil error from the tx fn would roll
	// them back.
	var (
		resp      *authsdk.TokenResponse
		rejectErr *ProtocolError
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		grant, err := tx.Grants().GetGrant(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errInvalidGrant("refresh token is not recognized")
			}
			return err
		}
		if grant.Kind != domain.GrantKindRefreshToken {
			return errInvalidGrant("refresh token is not recognized")
		}
		if grant.ClientID != client.ID {
			l.Warn("refresh token presented by wrong client",
				slog.String("client_id", client.ID),
				slog.String("issued_to", grant.ClientID))
			return errInvalidGrant("refresh token was issued to a different client")
		}
		if grant.Expired(now) {
			// A dead grant has no reason to stay in the store.
			if err := tx.Grants().RemoveGrant(ctx, grant.Key); err != nil {
				return err
			}
			rejectErr = errInvalidGrant("refresh token is expired")
			return nil
		}

		payload := domain.RefreshTokenPayload{}
		if err := json.Unmarshal(grant.Payload, &payload); err != nil {
			return err
		}

		if payload.JKT != "" && payload.JKT != jkt {
			return errInvalidGrant("refresh token is bound to a different DPoP key")
		}

		var roles []string
		if grant.SubjectID != "" {
			subject, err := tx.Subjects().GetSubjectByID(ctx, grant.SubjectID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					if err := tx.Grants().RemoveGrant(ctx, grant.Key); err != nil {
						return err
					}
					rejectErr = errInvalidGrant("subject no longer exists")
					return nil
				}
				return err
			}
			if !subject.Active {
				if err := tx.Grants().RemoveGrant(ctx, grant.Key); err != nil {
					return err
				}
				rejectErr = errInvalidGrant("subject is not active")
				return nil
			}
			// Registration may have tightened since the session began.
			if !client.AllowsSubject(subject.ID) {
				return errAccessDenied("subject is not permitted for this client")
			}
			if !client.AllowsAnyRole(subject.Roles) {
				return errAccessDenied("subject no longer holds a permitted role")
			}
			roles = subject.Roles
		}

		scopes := requestedScopes
		if len(scopes) == 0 {
			scopes = payload.Scopes
		} else if !scopesWithin(scopes, payload.Scopes) {
			return errInvalidScope("requested scope exceeds the originally granted scope")
		}

		rotated := refreshToken
		switch client.RefreshTokenUsage {
		case domain.RefreshUsageOneTimeOnly:
			won := false
			if !grant.Consumed() {
				won, err = tx.Grants().ConsumeGrant(ctx, grant.Key, now)
				if err != nil {
					return err
				}
			}
			if !won {
				// Someone already spent this token. Burn the family
				// and commit so the revocation sticks.
				l.Warn("refresh token replay, revoking session",
					slog.String("client_id", client.ID),
					slog.String("session_id", grant.SessionID))
				if err := tx.Grants().RemoveSessionGrants(ctx, client.ID, grant.SessionID); err != nil {
					return err
				}
				rejectErr = errInvalidGrant("refresh token has already been used; session revoked")
				return nil
			}

			next := payload
			next.Generation++
			rotated, _, err = s.rotate(ctx, tx, client, grant, next, now)
			if err != nil {
				return err
			}

		case domain.RefreshUsageReUse:
			if client.RefreshTokenExpiration == domain.RefreshExpirationSliding {
				extended := minTime(now.Add(client.SlidingRefreshTTL), payload.AbsoluteExpiry)
				if err := tx.Grants().UpdateGrantExpiration(ctx, grant.Key, extended); err != nil {
					return err
				}
			}

		default:
			return errInvalidGrant("client has no refresh token usage policy")
		}

		accessToken, expiresIn, err := s.mintAccess(client, subjectOrClient(grant.SubjectID, client.ID), grant.SessionID, scopes, roles, jkt, now)
		if err != nil {
			return err
		}

		resp = &authsdk.TokenResponse{
			AccessToken:  accessToken,
			TokenType:    tokenType(jkt),
			ExpiresIn:    expiresIn,
			RefreshToken: rotated,
			Scope:        strings.Join(scopes, " "),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejectErr != nil {
		return nil, rejectErr
	}
	return resp, nil
}

// rotate mints the successor token in a family. The successor keeps
// the full originally granted scope set; narrowing only affects the
// access token being issued.
func (s *TokenService) rotate(ctx context.Context, tx store.Tx, client domain.Client, prev domain.PersistedGrant, payload domain.RefreshTokenPayload, now time.Time) (string, domain.PersistedGrant, error) {
	opaque, grant, err := s.newRefreshGrant(client, prev.SubjectID, prev.SessionID, payload, now)
	if err != nil {
		return "", domain.PersistedGrant{}, err
	}
	if err := tx.Grants().CreateGrant(ctx, grant); err != nil {
		return "", domain.PersistedGrant{}, err
	}
	return opaque, grant, nil
}

// issueSession starts a new token session: a fresh session id and the
// first refresh token of its family.
func (s *TokenService) issueSession(ctx context.Context, tx store.Tx, client domain.Client, subjectID string, scopes []string, jkt string, now time.Time) (opaque, sessionID string, err error) {
	sessionID = idx.New()
	payload := domain.RefreshTokenPayload{
		Scopes:         scopes,
		JKT:            jkt,
		AbsoluteExpiry: now.Add(client.AbsoluteRefreshTTL),
		Generation:     1,
	}

	prev := domain.PersistedGrant{SubjectID: subjectID, SessionID: sessionID}
	opaque, _, err = s.rotate(ctx, tx, client, prev, payload, now)
	if err != nil {
		return "", "", err
	}
	return opaque, sessionID, nil
}

// RevokeToken implements RFC 7009 for refresh tokens. Revoking a
// token another client owns, or one that never existed, silently
// succeeds.
func (s *TokenService) RevokeToken(ctx context.Context, client domain.Client, token string) error {
	if token == "" {
		return nil
	}
	fingerprint := cryptox.FingerprintToken(token)

	grant, err := s.Store.Grants().GetGrant(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if grant.Kind != domain.GrantKindRefreshToken || grant.ClientID != client.ID {
		return nil
	}

	// Revocation kills the whole family, not just the presented
	// token.
	return s.Store.Grants().RemoveSessionGrants(ctx, client.ID, grant.SessionID)
}

func subjectOrClient(subjectID, clientID string) string {
	if subjectID != "" {
		return subjectID
	}
	return clientID
}
