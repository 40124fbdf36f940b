package auth_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var userCodePattern = regexp.MustCompile(`^[BCDFGHJKMNPQRSTVWXZ]{4}-[BCDFGHJKMNPQRSTVWXZ]{4}$`)

// TestDeviceAuthorizationFlow starts a device flow and verifies the
// issued codes and polling behaviour. Approval happens out of band,
// so polling stays pending for the lifetime of this test.
func TestDeviceAuthorizationFlow(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := newSDK(baseURL)

	authz, err := client.DeviceAuthorize(t.Context(), []string{"openid", "profile"})
	require.NoError(t, err)
	require.NotEmpty(t, authz.DeviceCode, "Device code should be issued")
	require.Regexp(t, userCodePattern, authz.UserCode, "User code should be in display format")
	require.NotEmpty(t, authz.VerificationURI)
	require.Contains(t, authz.VerificationURIComplete, authz.UserCode)
	require.Positive(t, authz.ExpiresIn)
	require.Positive(t, authz.Interval)

	t.Logf("Device flow started, user code: %s", authz.UserCode)

	// The first poll respects the interval, so it reports pending.
	_, err = client.DeviceCode(t.Context(), authz.DeviceCode)
	assertProtocolError(t, err, "authorization_pending")

	t.Logf("First poll correctly reported authorization_pending")

	// Polling again inside the interval is throttled.
	_, err = client.DeviceCode(t.Context(), authz.DeviceCode)
	assertProtocolError(t, err, "slow_down")

	t.Logf("Immediate re-poll correctly reported slow_down")
}

// TestDeviceAuthorizationUnknownCode verifies polling with a device
// code the server never issued.
func TestDeviceAuthorizationUnknownCode(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := newSDK(baseURL)

	_, err := client.DeviceCode(t.Context(), "not-a-real-device-code")
	assertProtocolError(t, err, "invalid_grant")

	t.Logf("Unknown device code correctly rejected")
}

// TestDeviceAuthorizationScopeRestriction verifies the device endpoint
// enforces the client's registered scopes.
func TestDeviceAuthorizationScopeRestriction(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := newSDK(baseURL)

	_, err := client.DeviceAuthorize(t.Context(), []string{"openid", "admin:write"})
	assertProtocolError(t, err, "invalid_scope")

	t.Logf("Unregistered scope correctly rejected")
}

// TestDeviceAuthorizationRequiresClient verifies the endpoint rejects
// unauthenticated callers.
func TestDeviceAuthorizationRequiresClient(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := newSDK(baseURL)
	client.ClientSecret = "wrong-secret"

	_, err := client.DeviceAuthorize(t.Context(), []string{"openid"})
	assertProtocolError(t, err, "invalid_client")

	t.Logf("Bad client credentials correctly rejected")
}
