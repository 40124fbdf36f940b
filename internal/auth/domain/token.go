package domain

import "time"

// RefreshTokenPayload is the kind specific body of a refresh token
// grant.
type RefreshTokenPayload struct {
	// Scopes granted at original authorization. Redemptions may
	// narrow but never widen this set.
	Scopes []string `json:"scopes"`

	// JKT, when set, binds the token family to a DPoP key thumbprint.
	JKT string `json:"jkt,omitempty"`

	// AbsoluteExpiry caps sliding extension. For absolute expiration
	// it equals the grant's expiry.
	AbsoluteExpiry time.Time `json:"absolute_expiry"`

	// Generation counts rotations within the family, starting at 1.
	Generation int `json:"generation"`
}
