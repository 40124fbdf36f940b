package http

import (
	"net/http"

	"github.com/parclabs/keygate/internal/auth/service"
	"github.com/parclabs/keygate/pkg/httpx"
	"github.com/parclabs/keygate/pkg/slogx"
)

// RevokeHandler serves POST /v1/oauth2/revoke following RFC 7009. It
// revokes refresh tokens only; access tokens expire naturally.
// Unknown or foreign tokens still return 200 OK to prevent token
// scanning.
type RevokeHandler struct {
	Authenticator *service.ClientAuthenticator
	TokenService  *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Revocation Endpoint
//	@Description	Revokes a previously issued refresh token and its session family (RFC 7009).
//	@Description	The endpoint is idempotent and returns 200 OK even for invalid or unknown tokens to prevent token scanning attacks.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			token			formData	string				true	"The token to revoke"
//	@Param			token_type_hint	formData	string				false	"Hint about token type"	Enums(access_token, refresh_token)
//	@Success		200				"Token revoked (or was already invalid)"
//	@Failure		400				{object}	authsdk.OAuth2Error	"error, error_description"
//	@Failure		401				{object}	authsdk.OAuth2Error	"error, error_description"
//	@Router			/v1/oauth2/revoke [post].
func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !parseForm(w, r) {
		return
	}

	client, _, err := h.Authenticator.Authenticate(ctx, credentialsFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	hint := r.Form.Get("token_type_hint")
	if hint == "" || hint == "refresh_token" {
		if err := h.TokenService.RevokeToken(ctx, client, r.Form.Get("token")); err != nil {
			// Still 200 per RFC 7009; the failure is ours, not the
			// caller's.
			slogx.FromContext(ctx).Warn("revoke failed", "err", err)
		}
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}
