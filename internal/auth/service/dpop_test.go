package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parclabs/keygate/internal/auth/cache"
	"github.com/parclabs/keygate/pkg/authsdk"
	"github.com/parclabs/keygate/pkg/dpopx"
)

const tokenEndpoint = "https://auth.test/v1/oauth2/token"

func newDPoPService() *DPoPService {
	return &DPoPService{
		Cache:         cache.NewMemory(),
		ProofLifetime: time.Minute,
		ClockSkew:     30 * time.Second,
		NonceTTL:      5 * time.Minute,
	}
}

func newProofSigner(t *testing.T) *dpopx.ProofSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := dpopx.NewProofSigner(key)
	require.NoError(t, err)
	return s
}

func TestDPoPValidate(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{})
	require.NoError(t, err)

	result, err := svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	require.NoError(t, err)
	require.Equal(t, signer.Thumbprint(), result.Thumbprint)
}

func TestDPoPValidateMethodCaseInsensitive(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("post", tokenEndpoint, dpopx.ProofOptions{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	require.NoError(t, err)
}

func TestDPoPValidateIgnoresQuery(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint+"?trace=1", "", "")
	require.NoError(t, err)
}

func TestDPoPValidateWrongTarget(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", "https://evil.test/token", dpopx.ProofOptions{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "htm/htu")
}

func TestDPoPValidateExpectedThumbprint(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", signer.Thumbprint())
	require.NoError(t, err)

	// A proof signed by a different key is rejected when the caller
	// pins the expected thumbprint.
	other := newProofSigner(t)
	proof, err = other.Sign("POST", tokenEndpoint, dpopx.ProofOptions{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", signer.Thumbprint())
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "expected thumbprint")
}

func TestDPoPValidateStaleProof(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{
		IssuedAt: time.Now().Add(-10 * time.Minute),
	})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "too old")
}

func TestDPoPValidateFutureProof(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{
		IssuedAt: time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "future")
}

func TestDPoPValidateReplay(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "replay")
}

func TestDPoPValidateAccessTokenHash(t *testing.T) {
	svc := newDPoPService()
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{AccessToken: "token-a"})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "token-a", "")
	require.NoError(t, err)

	proof, err = signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{AccessToken: "token-a"})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "token-b", "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "ath")
}

func TestDPoPValidateMalformedProof(t *testing.T) {
	svc := newDPoPService()

	_, err := svc.Validate(context.Background(), "not-a-jwt", "POST", tokenEndpoint, "", "")
	requireProtocolError(t, err, authsdk.ErrCodeInvalidDPoPProof, "")
}

func TestDPoPNonceChallenge(t *testing.T) {
	svc := newDPoPService()
	svc.RequireNonce = true
	signer := newProofSigner(t)

	// First attempt carries no nonce and must be challenged.
	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, authsdk.ErrCodeUseDPoPNonce, pe.Code)
	require.NotEmpty(t, pe.Nonce)

	// Retry with the issued nonce succeeds.
	proof, err = signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{Nonce: pe.Nonce})
	require.NoError(t, err)

	result, err := svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	require.NoError(t, err)
	require.Equal(t, signer.Thumbprint(), result.Thumbprint)
}

func TestDPoPUnknownNonceRechallenged(t *testing.T) {
	svc := newDPoPService()
	svc.RequireNonce = true
	signer := newProofSigner(t)

	proof, err := signer.Sign("POST", tokenEndpoint, dpopx.ProofOptions{Nonce: "made-up"})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), proof, "POST", tokenEndpoint, "", "")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, authsdk.ErrCodeUseDPoPNonce, pe.Code)
	require.NotEmpty(t, pe.Nonce)
}
