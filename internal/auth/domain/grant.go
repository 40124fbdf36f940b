package domain

import "time"

// Grant type identifiers accepted at the token endpoint.
const (
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// GrantKind is the stored kind of a persisted grant row.
type GrantKind string

const (
	GrantKindRefreshToken GrantKind = "refresh_token"
	GrantKindDeviceCode   GrantKind = "device_code"
	GrantKindPushedRequest GrantKind = "pushed_request"
)

// PersistedGrant is one row of the unified grant store. Refresh
// tokens, device codes and pushed authorization requests all live
// here: a fingerprint key, common lifecycle columns and a kind
// specific JSON payload.
type PersistedGrant struct {
	// Key is the SHA-256 fingerprint of the opaque artifact the
	// caller holds. The artifact itself is never stored.
	Key string

	Kind     GrantKind
	ClientID string

	// SubjectID is empty for grants not tied to an end user.
	SubjectID string

	// SessionID groups the grants descended from one authorization so
	// they can be revoked as a family.
	SessionID string

	// UserCode indexes device grants by their user facing code. Empty
	// for other kinds.
	UserCode string

	CreatedAt time.Time
	ExpiresAt time.Time

	// ConsumedAt is set exactly once, by the redemption that wins the
	// consume race.
	ConsumedAt *time.Time

	// Payload is the kind specific body, JSON encoded.
	Payload []byte
}

// Expired reports whether the grant is past its expiry at now.
func (g *PersistedGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Consumed reports whether the grant has already been redeemed.
func (g *PersistedGrant) Consumed() bool {
	return g.ConsumedAt != nil
}
