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
	"github.com/parclabs/keygate/pkg/slogx"
)

// DeviceService implements the device authorization flow (RFC 8628):
// issuing device/user code pairs and recording the user's verdict.
type DeviceService struct {
	Store store.Store

	// VerificationURI is where the user enters the code.
	VerificationURI string

	// DefaultTTL applies when the client has no device code TTL.
	DefaultTTL time.Duration

	// PollInterval is the minimum seconds between token polls.
	PollInterval time.Duration
}

// Authorize starts a device flow for an authenticated client.
func (s *DeviceService) Authorize(ctx context.Context, client domain.Client, requestedScopes []string) (*authsdk.DeviceAuthorizationResponse, error) {
	if !client.AllowsGrantType(domain.GrantTypeDeviceCode) {
		return nil, errUnauthorizedClient("client %s may not use the device flow", client.ID)
	}

	scopes := requestedScopes
	if len(scopes) == 0 {
		scopes = client.AllowedScopes
	}
	if !client.AllowsScopes(scopes) {
		return nil, errInvalidScope("requested scope exceeds the client registration")
	}

	deviceCode, err := cryptox.GenerateToken(cryptox.DefaultTokenBytes)
	if err != nil {
		return nil, err
	}
	userCode, err := cryptox.GenerateUserCode()
	if err != nil {
		return nil, err
	}

	ttl := client.DeviceCodeTTL
	if ttl <= 0 {
		ttl = s.DefaultTTL
	}
	now := time.Now()

	payload, err := json.Marshal(domain.DeviceCodePayload{
		Scopes:   scopes,
		Status:   domain.DeviceStatusPending,
		Interval: int(s.PollInterval.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	grant := domain.PersistedGrant{
		Key:       cryptox.FingerprintToken(deviceCode),
		Kind:      domain.GrantKindDeviceCode,
		ClientID:  client.ID,
		UserCode:  userCode,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Payload:   payload,
	}

	// User codes have 19^8 combinations; a collision with a live
	// grant is retried once.
	if err := s.Store.Grants().CreateGrant(ctx, grant); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, err
		}
		grant.UserCode, err = cryptox.GenerateUserCode()
		if err != nil {
			return nil, err
		}
		userCode = grant.UserCode
		if err := s.Store.Grants().CreateGrant(ctx, grant); err != nil {
			return nil, err
		}
	}

	display := cryptox.FormatUserCode(userCode)
	return &authsdk.DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                display,
		VerificationURI:         s.VerificationURI,
		VerificationURIComplete: s.VerificationURI + "?user_code=" + display,
		ExpiresIn:               int64(ttl.Seconds()),
		Interval:                int64(s.PollInterval.Seconds()),
	}, nil
}

// Approve records the user's consent for the device authorization
// identified by userCode.
func (s *DeviceService) Approve(ctx context.Context, userCode, subjectID string) error {
	return s.decide(ctx, userCode, func(p *domain.DeviceCodePayload) {
		p.Status = domain.DeviceStatusApproved
		p.SubjectID = subjectID
	})
}

// Deny records the user's refusal.
func (s *DeviceService) Deny(ctx context.Context, userCode string) error {
	return s.decide(ctx, userCode, func(p *domain.DeviceCodePayload) {
		p.Status = domain.DeviceStatusDenied
	})
}

func (s *DeviceService) decide(ctx context.Context, userCode string, mutate func(*domain.DeviceCodePayload)) error {
	normalized := cryptox.NormalizeUserCode(userCode)

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		grant, err := tx.Grants().GetGrantByUserCode(ctx, normalized)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errInvalidGrant("user code is not recognized")
			}
			return err
		}
		if grant.Expired(time.Now()) {
			return errExpiredToken()
		}

		payload := domain.DeviceCodePayload{}
		if err := json.Unmarshal(grant.Payload, &payload); err != nil {
			return err
		}
		if payload.Status != domain.DeviceStatusPending {
			return errInvalidGrant("device authorization was already decided")
		}

		mutate(&payload)

		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		return tx.Grants().UpdateGrantPayload(ctx, grant.Key, encoded)
	})
}

// RedeemDeviceCode implements the device_code grant: the device polls
// the token endpoint until the user decides. Pending polls return
// authorization_pending, fast polls slow_down, and an approved code
// is exchangeable exactly once.
func (s *TokenService) RedeemDeviceCode(ctx context.Context, client domain.Client, deviceCode string, jkt string) (*authsdk.TokenResponse, error) {
	if deviceCode == "" {
		return nil, errInvalidRequest("device_code is required")
	}
	if !client.AllowsGrantType(domain.GrantTypeDeviceCode) {
		return nil, errUnauthorizedClient("client %s may not use the device flow", client.ID)
	}
	if err := requireDPoPSatisfied(client, jkt); err != nil {
		return nil, err
	}

	now := time.Now()
	fingerprint := cryptox.FingerprintToken(deviceCode)
	l := slogx.FromContext(ctx)

	var (
		resp *authsdk.TokenResponse
		// Poll verdicts (pending, slow_down, denied) must commit the
		// poll timestamp, so they are reported through this instead
		// of failing the transaction.
		pollErr *ProtocolError
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		grant, err := tx.Grants().GetGrant(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errInvalidGrant("device code is not recognized")
			}
			return err
		}
		if grant.Kind != domain.GrantKindDeviceCode {
			return errInvalidGrant("device code is not recognized")
		}
		if grant.ClientID != client.ID {
			return errInvalidGrant("device code was issued to a different client")
		}
		if grant.Expired(now) {
			return errExpiredToken()
		}

		payload := domain.DeviceCodePayload{}
		if err := json.Unmarshal(grant.Payload, &payload); err != nil {
			return err
		}

		// Interval enforcement before the verdict, so even decided
		// codes cannot be hammered.
		interval := time.Duration(payload.Interval) * time.Second
		if !payload.LastPolledAt.IsZero() && now.Sub(payload.LastPolledAt) < interval {
			pollErr = errSlowDown()
			return nil
		}
		payload.LastPolledAt = now
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := tx.Grants().UpdateGrantPayload(ctx, grant.Key, encoded); err != nil {
			return err
		}

		switch payload.Status {
		case domain.DeviceStatusPending:
			pollErr = errAuthorizationPending()
			return nil
		case domain.DeviceStatusDenied:
			pollErr = errAccessDenied("user denied the authorization request")
			return nil
		case domain.DeviceStatusApproved:
			// continue below
		default:
			return errInvalidGrant("device authorization is in an unknown state")
		}

		won, err := tx.Grants().ConsumeGrant(ctx, grant.Key, now)
		if err != nil {
			return err
		}
		if !won {
			l.Warn("device code redeemed twice", slog.String("client_id", client.ID))
			return errInvalidGrant("device code was already redeemed")
		}

		var roles []string
		if payload.SubjectID != "" {
			subject, err := tx.Subjects().GetSubjectByID(ctx, payload.SubjectID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return errInvalidGrant("subject no longer exists")
				}
				return err
			}
			if !subject.Active {
				return errInvalidGrant("subject is not active")
			}
			roles = subject.Roles
		}

		var refreshToken string
		var sessionID string
		if client.AllowsGrantType(domain.GrantTypeRefreshToken) {
			refreshToken, sessionID, err = s.issueSession(ctx, tx, client, payload.SubjectID, payload.Scopes, jkt, now)
			if err != nil {
				return err
			}
		}

		accessToken, expiresIn, err := s.mintAccess(client, subjectOrClient(payload.SubjectID, client.ID), sessionID, payload.Scopes, roles, jkt, now)
		if err != nil {
			return err
		}

		resp = &authsdk.TokenResponse{
			AccessToken:  accessToken,
			TokenType:    tokenType(jkt),
			ExpiresIn:    expiresIn,
			RefreshToken: refreshToken,
			Scope:        strings.Join(payload.Scopes, " "),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pollErr != nil {
		return nil, pollErr
	}
	return resp, nil
}
