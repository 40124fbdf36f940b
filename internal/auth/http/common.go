// Package http carries the protocol endpoint handlers and the router
// that wires them behind the shared middleware chain.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/parclabs/keygate/internal/auth/service"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/httpx"
	"github.com/parclabs/keygate/pkg/slogx"
)

// parseForm gates the content type and parses the body. Protocol
// endpoints accept application/x-www-form-urlencoded only (RFC 6749
// section 3.2).
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authsdk.WriteError(w, http.StatusBadRequest, authsdk.NewOAuth2Error(
			authsdk.ErrCodeInvalidRequest,
			"content type must be application/x-www-form-urlencoded"))
		return false
	}
	if err := r.ParseForm(); err != nil {
		authsdk.WriteError(w, http.StatusBadRequest, authsdk.NewOAuth2Error(
			authsdk.ErrCodeInvalidRequest, "malformed form body"))
		return false
	}
	return true
}

// credentialsFromRequest gathers every way the request could identify
// a client. The authenticator decides which mechanism applies.
func credentialsFromRequest(r *http.Request) service.ClientCredentials {
	return service.ClientCredentials{
		BasicAuthorization: r.Header.Get("Authorization"),
		FormClientID:       strings.TrimSpace(r.Form.Get("client_id")),
		FormClientSecret:   r.Form.Get("client_secret"),
		AssertionType:      strings.TrimSpace(r.Form.Get("client_assertion_type")),
		Assertion:          strings.TrimSpace(r.Form.Get("client_assertion")),
	}
}

// requestURL reconstructs the absolute URL of the request for DPoP
// htu matching. The X-Forwarded-Proto header wins when a proxy
// terminated TLS.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// validateDPoP validates the DPoP header when present and returns the
// proof key thumbprint. No header means no sender constraint; clients
// registered as DPoP only are rejected later by the token service.
func validateDPoP(r *http.Request, svc *service.DPoPService) (string, error) {
	proof := r.Header.Get("DPoP")
	if proof == "" {
		return "", nil
	}
	result, err := svc.Validate(r.Context(), proof, r.Method, requestURL(r), "", "")
	if err != nil {
		return "", err
	}
	return result.Thumbprint, nil
}

// writeServiceError maps a service failure onto the OAuth2 wire
// format. ProtocolError carries the error code; anything else is a
// server_error and gets logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httpx.NoCache(w)

	var pe *service.ProtocolError
	if !errors.As(err, &pe) {
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		authsdk.WriteError(w, http.StatusInternalServerError, authsdk.NewOAuth2Error(
			authsdk.ErrCodeServerError, "internal error"))
		return
	}

	body := authsdk.NewOAuth2Error(pe.Code, pe.Description)
	switch pe.Code {
	case authsdk.ErrCodeInvalidClient:
		// RFC 6749 section 5.2: 401 plus a challenge for the scheme
		// the client attempted.
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2", charset="UTF-8"`)
		authsdk.WriteError(w, http.StatusUnauthorized, body)
	case authsdk.ErrCodeUseDPoPNonce:
		w.Header().Set("DPoP-Nonce", pe.Nonce)
		authsdk.WriteError(w, http.StatusBadRequest, body)
	default:
		authsdk.WriteError(w, http.StatusBadRequest, body)
	}
}
