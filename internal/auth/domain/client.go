// Package domain defines the entities the authorization server
// persists and the vocabulary shared by the service and store layers.
package domain

import (
	"slices"
	"time"
)

// AuthMethod identifies how a client proved its identity at a
// protocol endpoint.
type AuthMethod string

const (
	AuthMethodBasic         AuthMethod = "client_secret_basic"
	AuthMethodPost          AuthMethod = "client_secret_post"
	AuthMethodPrivateKeyJWT AuthMethod = "private_key_jwt"
	AuthMethodSecretJWT     AuthMethod = "client_secret_jwt"
	AuthMethodNone          AuthMethod = "none"
)

// SecretKind distinguishes the credential types a client can
// register.
type SecretKind string

const (
	// SecretKindShared is a shared secret. The stored value is either
	// an argon2id hash, usable for client_secret_basic and
	// client_secret_post, or plaintext, additionally usable as the
	// HMAC key for client_secret_jwt.
	SecretKindShared SecretKind = "shared_secret"

	// SecretKindPublicKey is a PEM encoded public key for
	// private_key_jwt assertions.
	SecretKindPublicKey SecretKind = "public_key"
)

// ClientSecret is one registered credential.
type ClientSecret struct {
	Kind  SecretKind `json:"kind"`
	Value string     `json:"value"`

	// Expiration, when set, is the instant the credential stops being
	// accepted.
	Expiration *time.Time `json:"expiration,omitempty"`
}

// Expired reports whether the secret is past its expiration at now.
func (s ClientSecret) Expired(now time.Time) bool {
	return s.Expiration != nil && !now.Before(*s.Expiration)
}

// RefreshTokenUsage controls whether a refresh token survives
// redemption.
type RefreshTokenUsage string

const (
	// RefreshUsageOneTimeOnly rotates the token on every redemption
	// and treats reuse as theft.
	RefreshUsageOneTimeOnly RefreshTokenUsage = "one_time_only"

	// RefreshUsageReUse keeps the same token redeemable until it
	// expires.
	RefreshUsageReUse RefreshTokenUsage = "reuse"
)

// RefreshTokenExpiration controls how a refresh token's lifetime is
// measured.
type RefreshTokenExpiration string

const (
	// RefreshExpirationAbsolute fixes the expiry at issuance.
	RefreshExpirationAbsolute RefreshTokenExpiration = "absolute"

	// RefreshExpirationSliding extends the expiry on each use, capped
	// by the absolute lifetime.
	RefreshExpirationSliding RefreshTokenExpiration = "sliding"
)

// Client is a registered OAuth2 client.
type Client struct {
	ID      string
	Name    string
	Enabled bool

	// RequireClientSecret is false for public clients, which
	// authenticate with client_id alone.
	RequireClientSecret bool

	Secrets []ClientSecret

	AllowedGrantTypes []string
	AllowedScopes     []string

	// AllowedSubjects, when non empty, restricts the client to acting
	// on behalf of the listed subject ids.
	AllowedSubjects []string

	// AllowedRoles, when non empty, requires the subject to hold at
	// least one of the listed roles.
	AllowedRoles []string

	// RequireDPoP forces sender constrained tokens: every token
	// request must carry a valid DPoP proof.
	RequireDPoP bool

	// RequirePAR forces the client to push authorization parameters
	// instead of sending them on the front channel.
	RequirePAR bool

	AccessTokenTTL         time.Duration
	RefreshTokenUsage      RefreshTokenUsage
	RefreshTokenExpiration RefreshTokenExpiration
	AbsoluteRefreshTTL     time.Duration
	SlidingRefreshTTL      time.Duration
	DeviceCodeTTL          time.Duration

	RedirectURIs []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllowsGrantType reports whether the client may use the given
// grant_type.
func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.AllowedGrantTypes, grantType)
}

// AllowsScopes reports whether every requested scope is registered
// for the client.
func (c *Client) AllowsScopes(scopes []string) bool {
	for _, s := range scopes {
		if !slices.Contains(c.AllowedScopes, s) {
			return false
		}
	}
	return true
}

// AllowsSubject reports whether the client may act for the given
// subject. An empty restriction list allows every subject.
func (c *Client) AllowsSubject(subjectID string) bool {
	return len(c.AllowedSubjects) == 0 || slices.Contains(c.AllowedSubjects, subjectID)
}

// AllowsAnyRole reports whether the subject's roles satisfy the
// client's role restriction. An empty restriction list always passes.
func (c *Client) AllowsAnyRole(roles []string) bool {
	if len(c.AllowedRoles) == 0 {
		return true
	}
	for _, r := range roles {
		if slices.Contains(c.AllowedRoles, r) {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether uri exactly matches a registered
// redirect URI.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// UsableSecrets returns the client's secrets of the given kind that
// have not expired at now.
func (c *Client) UsableSecrets(kind SecretKind, now time.Time) []ClientSecret {
	var out []ClientSecret
	for _, s := range c.Secrets {
		if s.Kind == kind && !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out
}
