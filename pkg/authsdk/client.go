package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parclabs/keygate/pkg/dpopx"
)

// Client talks to the authorization server's protocol endpoints.
type Client struct {
	// BaseURL is the server origin, without a trailing slash.
	BaseURL string

	// ClientID and ClientSecret authenticate the client with
	// client_secret_basic. Leave ClientSecret empty for public
	// clients.
	ClientID     string
	ClientSecret string

	// DPoP, when set, signs a proof for every request and retries
	// once on a use_dpop_nonce challenge.
	DPoP *dpopx.ProofSigner

	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
}

// ClientCredentials requests an access token with the
// client_credentials grant.
func (c *Client) ClientCredentials(ctx context.Context, scopes []string) (*TokenResponse, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	return c.token(ctx, form)
}

// RefreshToken redeems a refresh token, optionally narrowing scope.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string, scopes []string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	return c.token(ctx, form)
}

// DeviceCode redeems a device code issued by DeviceAuthorize.
func (c *Client) DeviceCode(ctx context.Context, deviceCode string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
	}
	return c.token(ctx, form)
}

// PushAuthorization pushes authorization parameters and returns the
// request_uri reference to use at the authorization endpoint.
func (c *Client) PushAuthorization(ctx context.Context, params url.Values) (*PushedAuthorizationResponse, error) {
	out := &PushedAuthorizationResponse{}
	if err := c.post(ctx, "/v1/oauth2/par", params, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeviceAuthorize starts a device flow.
func (c *Client) DeviceAuthorize(ctx context.Context, scopes []string) (*DeviceAuthorizationResponse, error) {
	form := url.Values{}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	out := &DeviceAuthorizationResponse{}
	if err := c.post(ctx, "/v1/oauth2/device_authorization", form, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke revokes a refresh token (RFC 7009). Revoking an unknown
// token is not an error.
func (c *Client) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	return c.post(ctx, "/v1/oauth2/revoke", form, nil)
}

// GetLiveness reports whether the server process is up.
func (c *Client) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	out := &HealthResponse{}
	if err := c.get(ctx, "/livez", out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetReadiness reports whether the server and its dependencies are
// ready to serve traffic.
func (c *Client) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	out := &HealthResponse{}
	if err := c.get(ctx, "/readyz", out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetJWKS fetches the published verification keys.
func (c *Client) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	out := &JWKSResponse{}
	if err := c.get(ctx, "/.well-known/jwks.json", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	out := &TokenResponse{}
	if err := c.post(ctx, "/v1/oauth2/token", form, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	status, header, body, err := c.do(ctx, path, form, "")
	if err != nil {
		return err
	}

	// One retry when the server demands a fresh nonce.
	if c.DPoP != nil && status == http.StatusBadRequest {
		nonce := header.Get("DPoP-Nonce")
		challenge := &OAuth2Error{}
		if nonce != "" && json.Unmarshal(body, challenge) == nil && challenge.Code == ErrCodeUseDPoPNonce {
			status, _, body, err = c.do(ctx, path, form, nonce)
			if err != nil {
				return err
			}
		}
	}

	if status >= 400 {
		return decodeError(status, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("authsdk: decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("authsdk: build request: %w", err)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("authsdk: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("authsdk: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("authsdk: decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, form url.Values, nonce string) (int, http.Header, []byte, error) {
	target := c.BaseURL + path

	if c.ClientSecret == "" && c.ClientID != "" {
		form.Set("client_id", c.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("authsdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if c.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.ClientID), url.QueryEscape(c.ClientSecret))
	}

	if c.DPoP != nil {
		proof, err := c.DPoP.Sign(http.MethodPost, target, dpopx.ProofOptions{Nonce: nonce})
		if err != nil {
			return 0, nil, nil, fmt.Errorf("authsdk: sign dpop proof: %w", err)
		}
		req.Header.Set("DPoP", proof)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("authsdk: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("authsdk: read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func decodeError(status int, body []byte) error {
	oauthErr := &OAuth2Error{}
	if err := json.Unmarshal(body, oauthErr); err != nil || oauthErr.Code == "" {
		return fmt.Errorf("authsdk: unexpected status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return oauthErr
}
