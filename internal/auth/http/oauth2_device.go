package http

import (
	"net/http"

	"github.com/parclabs/keygate/internal/auth/service"
	"github.com/parclabs/keygate/pkg/httpx"
)

// DeviceAuthorizationHandler serves POST /v1/oauth2/device_authorization
// (RFC 8628). Input constrained devices obtain a device/user code pair
// here and poll the token endpoint with the device_code grant.
type DeviceAuthorizationHandler struct {
	Authenticator *service.ClientAuthenticator
	DeviceService *service.DeviceService
}

// ServeHTTP godoc
//
//	@Summary		Device Authorization Endpoint
//	@Description	Starts a device authorization flow (RFC 8628), returning a device code for polling and a short user code to be entered on the verification page.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			client_id	formData	string								false	"Client identifier"
//	@Param			scope		formData	string								false	"Space-delimited list of scopes"
//	@Success		200			{object}	authsdk.DeviceAuthorizationResponse	"device_code, user_code, verification_uri, expires_in, interval"
//	@Failure		400			{object}	authsdk.OAuth2Error					"error, error_description"
//	@Failure		401			{object}	authsdk.OAuth2Error					"error, error_description"
//	@Router			/v1/oauth2/device_authorization [post].
func (h *DeviceAuthorizationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !parseForm(w, r) {
		return
	}

	client, _, err := h.Authenticator.Authenticate(ctx, credentialsFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp, err := h.DeviceService.Authorize(ctx, client, httpx.ParseSpaceDelimitedFields(r.Form.Get("scope")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, resp)
}
