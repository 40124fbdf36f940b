package http

import (
	"net/http"
	"strings"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/service"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/httpx"
)

// TokenHandler serves POST /v1/oauth2/token
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
type TokenHandler struct {
	Authenticator *service.ClientAuthenticator
	TokenService  *service.TokenService
	DPoP          *service.DPoPService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Endpoint
//	@Description	Issues access and refresh tokens using OAuth2 grant types (client_credentials, refresh_token, urn:ietf:params:oauth:grant-type:device_code).
//	@Description	Clients authenticate with client_secret_basic, client_secret_post, private_key_jwt, client_secret_jwt or as public clients.
//	@Description	Requests carrying a valid DPoP proof header receive sender constrained tokens (RFC 9449).
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type				formData	string					true	"Grant type"	Enums(client_credentials, refresh_token, urn:ietf:params:oauth:grant-type:device_code)
//	@Param			client_id				formData	string					false	"Client identifier"
//	@Param			client_secret			formData	string					false	"Client secret (client_secret_post)"
//	@Param			client_assertion_type	formData	string					false	"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
//	@Param			client_assertion		formData	string					false	"Signed client authentication JWT"
//	@Param			refresh_token			formData	string					false	"Refresh token (refresh_token grant)"
//	@Param			device_code				formData	string					false	"Device code (device_code grant)"
//	@Param			scope					formData	string					false	"Space-delimited list of scopes"
//	@Param			DPoP					header		string					false	"DPoP proof JWT"
//	@Success		200						{object}	authsdk.TokenResponse	"access_token, token_type, expires_in, refresh_token, scope"
//	@Failure		400						{object}	authsdk.OAuth2Error		"error, error_description"
//	@Failure		401						{object}	authsdk.OAuth2Error		"error, error_description"
//	@Header			200						{string}	Cache-Control			"no-store"
//	@Header			200						{string}	Pragma					"no-cache"
//	@Router			/v1/oauth2/token [post].
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !parseForm(w, r) {
		return
	}

	client, _, err := h.Authenticator.Authenticate(ctx, credentialsFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	jkt, err := validateDPoP(r, h.DPoP)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	scopes := httpx.ParseSpaceDelimitedFields(r.Form.Get("scope"))

	var resp *authsdk.TokenResponse
	switch grantType := r.Form.Get("grant_type"); grantType {
	case domain.GrantTypeClientCredentials:
		resp, err = h.TokenService.ClientCredentials(ctx, client, scopes, jkt)
	case domain.GrantTypeRefreshToken:
		refresh := strings.TrimSpace(r.Form.Get("refresh_token"))
		resp, err = h.TokenService.RedeemRefreshToken(ctx, client, refresh, scopes, jkt)
	case domain.GrantTypeDeviceCode:
		deviceCode := strings.TrimSpace(r.Form.Get("device_code"))
		resp, err = h.TokenService.RedeemDeviceCode(ctx, client, deviceCode, jkt)
	default:
		authsdk.WriteError(w, http.StatusBadRequest, authsdk.NewOAuth2Error(
			authsdk.ErrCodeUnsupportedGrantType,
			"grant_type "+grantType+" is not supported"))
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, resp)
}
