package service

import (
	"fmt"

	"github.com/parclabs/keygate/pkg/authsdk"
)

// ProtocolError is a token endpoint failure with a wire level OAuth2
// error code. Handlers map it onto the JSON envelope and HTTP status;
// anything else that surfaces from a service is a server_error.
type ProtocolError struct {
	Code        string
	Description string

	// Nonce is set on use_dpop_nonce challenges so the handler can
	// emit the DPoP-Nonce header.
	Nonce string
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func errInvalidRequest(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeInvalidRequest, Description: fmt.Sprintf(format, args...)}
}

func errInvalidClient(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeInvalidClient, Description: fmt.Sprintf(format, args...)}
}

func errInvalidGrant(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeInvalidGrant, Description: fmt.Sprintf(format, args...)}
}

func errInvalidScope(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeInvalidScope, Description: fmt.Sprintf(format, args...)}
}

func errUnauthorizedClient(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeUnauthorizedClient, Description: fmt.Sprintf(format, args...)}
}

func errAccessDenied(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeAccessDenied, Description: fmt.Sprintf(format, args...)}
}

func errInvalidDPoP(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeInvalidDPoPProof, Description: fmt.Sprintf(format, args...)}
}

func errUseDPoPNonce(nonce string) *ProtocolError {
	return &ProtocolError{
		Code:        authsdk.ErrCodeUseDPoPNonce,
		Description: "server requires a dpop nonce",
		Nonce:       nonce,
	}
}

func errAuthorizationPending() *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeAuthorizationPending, Description: "user authorization is pending"}
}

func errSlowDown() *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeSlowDown, Description: "polling too frequently"}
}

func errExpiredToken() *ProtocolError {
	return &ProtocolError{Code: authsdk.ErrCodeExpiredToken, Description: "device code has expired"}
}
