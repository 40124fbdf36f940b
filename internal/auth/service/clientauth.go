package service

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/parclabs/keygate/internal/auth/cache"
	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/pkg/cryptox"
	"github.com/parclabs/keygate/pkg/slogx"
)

// AssertionType is the only client_assertion_type value accepted at
// the token endpoint (RFC 7523).
const AssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ClientCredentials is everything a request presented that could
// identify a client. The handler fills it from the Authorization
// header and form body; the authenticator decides which mechanism
// applies.
type ClientCredentials struct {
	// BasicAuthorization is the raw Authorization header value, empty
	// when absent.
	BasicAuthorization string

	// FormClientID and FormClientSecret come from the request body.
	FormClientID     string
	FormClientSecret string

	// AssertionType and Assertion come from client_assertion_type and
	// client_assertion.
	AssertionType string
	Assertion     string
}

// ClientAuthenticator resolves a token endpoint request to an
// authenticated client. Mechanisms are tried in a fixed order: basic,
// post, assertion, then unauthenticated public client. A mechanism
// whose inputs are absent or unparseable is skipped; a mechanism that
// applies but fails rejects the request.
type ClientAuthenticator struct {
	Store store.Store
	Cache cache.Client

	// Audiences are the values accepted in an assertion's aud claim,
	// typically the issuer and the token endpoint URL.
	Audiences []string

	// AssertionMaxAge bounds how old an assertion's iat may be. Zero
	// disables the check.
	AssertionMaxAge time.Duration

	// ClockSkew is the leeway applied to assertion time claims.
	ClockSkew time.Duration
}

// Authenticate returns the authenticated client and the mechanism
// that proved its identity.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, creds ClientCredentials) (domain.Client, domain.AuthMethod, error) {
	now := time.Now()

	if id, secret, ok := decodeBasicCredentials(creds.BasicAuthorization); ok {
		client, err := a.verifySharedSecret(ctx, id, secret, now)
		if err != nil {
			return domain.Client{}, "", err
		}
		return client, domain.AuthMethodBasic, nil
	}

	if creds.FormClientSecret != "" {
		client, err := a.verifySharedSecret(ctx, creds.FormClientID, creds.FormClientSecret, now)
		if err != nil {
			return domain.Client{}, "", err
		}
		return client, domain.AuthMethodPost, nil
	}

	if creds.Assertion != "" {
		if creds.AssertionType != AssertionType {
			return domain.Client{}, "", errInvalidClient("unsupported client_assertion_type %q", creds.AssertionType)
		}
		return a.verifyAssertion(ctx, creds.Assertion, now)
	}

	if creds.FormClientID != "" {
		client, err := a.lookupClient(ctx, creds.FormClientID)
		if err != nil {
			return domain.Client{}, "", err
		}
		if client.RequireClientSecret {
			slogx.FromContext(ctx).Info("confidential client sent no credentials",
				slog.String("client_id", client.ID))
			return domain.Client{}, "", errInvalidClient("client %s requires authentication", client.ID)
		}
		return client, domain.AuthMethodNone, nil
	}

	return domain.Client{}, "", errInvalidClient("no client credentials presented")
}

func (a *ClientAuthenticator) verifySharedSecret(ctx context.Context, clientID, secret string, now time.Time) (domain.Client, error) {
	if clientID == "" || secret == "" {
		return domain.Client{}, errInvalidClient("missing client credentials")
	}

	client, err := a.lookupClient(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}

	secrets := client.UsableSecrets(domain.SecretKindShared, now)
	if len(secrets) == 0 {
		return domain.Client{}, errInvalidClient("client %s has no usable shared secret", clientID)
	}

	for _, s := range secrets {
		if cryptox.CompareSecretValue(secret, s.Value) == nil {
			return client, nil
		}
	}

	slogx.FromContext(ctx).Info("client secret mismatch", slog.String("client_id", clientID))
	return domain.Client{}, errInvalidClient("client secret mismatch")
}

func (a *ClientAuthenticator) lookupClient(ctx context.Context, clientID string) (domain.Client, error) {
	client, err := a.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, errInvalidClient("unknown client")
		}
		return domain.Client{}, err
	}
	if !client.Enabled {
		return domain.Client{}, errInvalidClient("client %s is disabled", clientID)
	}
	return client, nil
}

// decodeBasicCredentials parses an HTTP Basic Authorization header
// into client credentials. Identifier and secret are
// form-urlencoded before base64 (RFC 6749 section 2.3.1), so both
// halves are percent-decoded. A header that is absent, not Basic, or
// undecodable reports !ok so the next mechanism can apply.
func decodeBasicCredentials(header string) (id, secret string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}

	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}

	encodedID, encodedSecret, found := strings.Cut(string(raw), ":")
	if !found {
		return "", "", false
	}

	id, err = url.QueryUnescape(encodedID)
	if err != nil {
		return "", "", false
	}
	secret, err = url.QueryUnescape(encodedSecret)
	if err != nil {
		return "", "", false
	}
	return id, secret, true
}
