package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/cryptox"
)

// PARService implements pushed authorization requests (RFC 9126):
// clients push their authorization parameters over the back channel
// and receive a short lived single use reference.
type PARService struct {
	Store store.Store

	// RequestTTL is how long a pushed request stays redeemable.
	RequestTTL time.Duration
}

// Push validates and stores an authorization request, returning its
// request_uri reference.
func (s *PARService) Push(ctx context.Context, client domain.Client, params url.Values) (*authsdk.PushedAuthorizationResponse, error) {
	// A pushed request must not itself reference a pushed request.
	if params.Get("request_uri") != "" {
		return nil, errInvalidRequest("request_uri may not appear in a pushed request")
	}

	if id := params.Get("client_id"); id != "" && id != client.ID {
		return nil, errInvalidRequest("client_id does not match the authenticated client")
	}

	if redirect := params.Get("redirect_uri"); redirect != "" && !client.AllowsRedirectURI(redirect) {
		return nil, errInvalidRequest("redirect_uri is not registered for this client")
	}

	if scopes := splitScopes(params.Get("scope")); len(scopes) > 0 && !client.AllowsScopes(scopes) {
		return nil, errInvalidScope("requested scope exceeds the client registration")
	}

	reference, err := cryptox.GenerateToken(cryptox.DefaultTokenBytes)
	if err != nil {
		return nil, err
	}
	requestURI := domain.RequestURIPrefix + reference

	payload, err := json.Marshal(domain.PushedRequestPayload{Params: params})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	grant := domain.PersistedGrant{
		Key:       cryptox.FingerprintToken(reference),
		Kind:      domain.GrantKindPushedRequest,
		ClientID:  client.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.RequestTTL),
		Payload:   payload,
	}
	if err := s.Store.Grants().CreateGrant(ctx, grant); err != nil {
		return nil, err
	}

	return &authsdk.PushedAuthorizationResponse{
		RequestURI: requestURI,
		ExpiresIn:  int64(s.RequestTTL.Seconds()),
	}, nil
}

// Redeem resolves a request_uri back to the pushed parameters. A
// reference redeems at most once; expiry and client binding are
// enforced.
func (s *PARService) Redeem(ctx context.Context, clientID, requestURI string) (url.Values, error) {
	reference, ok := strings.CutPrefix(requestURI, domain.RequestURIPrefix)
	if !ok || reference == "" {
		return nil, errInvalidRequest("request_uri is not a pushed request reference")
	}

	now := time.Now()
	fingerprint := cryptox.FingerprintToken(reference)

	var params url.Values
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		grant, err := tx.Grants().GetGrant(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errInvalidGrant("request_uri is not recognized")
			}
			return err
		}
		if grant.Kind != domain.GrantKindPushedRequest {
			return errInvalidGrant("request_uri is not recognized")
		}
		if grant.ClientID != clientID {
			return errInvalidGrant("request_uri belongs to a different client")
		}
		if grant.Expired(now) {
			return errInvalidGrant("request_uri has expired")
		}

		won, err := tx.Grants().ConsumeGrant(ctx, grant.Key, now)
		if err != nil {
			return err
		}
		if !won {
			return errInvalidGrant("request_uri was already redeemed")
		}

		payload := domain.PushedRequestPayload{}
		if err := json.Unmarshal(grant.Payload, &payload); err != nil {
			return err
		}
		params = url.Values(payload.Params)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}
