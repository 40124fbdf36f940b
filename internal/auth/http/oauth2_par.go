package http

import (
	"net/http"

	"github.com/parclabs/keygate/internal/auth/service"
	"github.com/parclabs/keygate/pkg/httpx"
)

// PARHandler serves POST /v1/oauth2/par (RFC 9126). Clients push
// their authorization parameters over the back channel and receive a
// single use request_uri reference.
type PARHandler struct {
	Authenticator *service.ClientAuthenticator
	PARService    *service.PARService
}

// ServeHTTP godoc
//
//	@Summary		Pushed Authorization Request Endpoint
//	@Description	Stores a pushed authorization request and returns its request_uri reference (RFC 9126).
//	@Description	The reference is bound to the authenticated client, redeems at most once and expires quickly.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			client_id		formData	string								false	"Client identifier"
//	@Param			response_type	formData	string								false	"Authorization response type"
//	@Param			redirect_uri	formData	string								false	"Redirect URI, must be registered"
//	@Param			scope			formData	string								false	"Space-delimited list of scopes"
//	@Success		201				{object}	authsdk.PushedAuthorizationResponse	"request_uri, expires_in"
//	@Failure		400				{object}	authsdk.OAuth2Error					"error, error_description"
//	@Failure		401				{object}	authsdk.OAuth2Error					"error, error_description"
//	@Router			/v1/oauth2/par [post].
func (h *PARHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !parseForm(w, r) {
		return
	}

	client, _, err := h.Authenticator.Authenticate(ctx, credentialsFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Authentication parameters are not part of the pushed request.
	params := r.Form
	params.Del("client_secret")
	params.Del("client_assertion")
	params.Del("client_assertion_type")

	resp, err := h.PARService.Push(ctx, client, params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, resp)
}
