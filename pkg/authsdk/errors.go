package authsdk

import (
	"fmt"
	"net/http"

	"github.com/parclabs/keygate/pkg/httpx"
)

// OAuth2 error codes used on the wire (RFC 6749 section 5.2,
// RFC 8628 section 3.5, RFC 9449 section 5).
const (
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeInvalidClient        = "invalid_client"
	ErrCodeInvalidGrant         = "invalid_grant"
	ErrCodeInvalidScope         = "invalid_scope"
	ErrCodeUnauthorizedClient   = "unauthorized_client"
	ErrCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrCodeAccessDenied         = "access_denied"
	ErrCodeServerError          = "server_error"
	ErrCodeInvalidDPoPProof     = "invalid_dpop_proof"
	ErrCodeUseDPoPNonce         = "use_dpop_nonce"
	ErrCodeAuthorizationPending = "authorization_pending"
	ErrCodeSlowDown             = "slow_down"
	ErrCodeExpiredToken         = "expired_token"
)

// OAuth2Error is the JSON error envelope the protocol endpoints emit
// and the client SDK decodes.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// NewOAuth2Error builds an error envelope.
func NewOAuth2Error(code, description string) *OAuth2Error {
	return &OAuth2Error{Code: code, Description: description}
}

func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes e as a JSON response with the given HTTP status.
func WriteError(w http.ResponseWriter, status int, e *OAuth2Error) {
	httpx.WriteJSON(w, status, e)
}
