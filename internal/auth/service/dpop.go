package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/parclabs/keygate/internal/auth/cache"
	"github.com/parclabs/keygate/pkg/dpopx"
	"github.com/parclabs/keygate/pkg/slogx"
)

// DPoPService validates DPoP proofs (RFC 9449) for the protocol
// endpoints: freshness window, request binding, replay tracking and
// the optional server nonce challenge.
type DPoPService struct {
	Cache cache.Client

	// ProofLifetime is how far in the past a proof's iat may lie.
	ProofLifetime time.Duration

	// ClockSkew is the leeway applied on both edges of the window.
	ClockSkew time.Duration

	// RequireNonce forces every proof to carry a server issued nonce.
	RequireNonce bool

	// NonceTTL is the validity window of issued nonces.
	NonceTTL time.Duration
}

// DPoPResult is the outcome of a successful proof validation.
type DPoPResult struct {
	// Thumbprint is the RFC 7638 thumbprint of the proof key, used
	// as the cnf.jkt binding value.
	Thumbprint string
}

// Validate checks a proof against the request it arrived on.
// accessToken, when non empty, must be hashed into the proof's ath
// claim; pass it when validating proofs on resource style requests.
// expectedJKT, when non empty, is the thumbprint the proof key must
// match; pass it when the caller already knows which key the proof
// should be signed with.
func (s *DPoPService) Validate(ctx context.Context, proofValue, method, target, accessToken, expectedJKT string) (*DPoPResult, error) {
	now := time.Now()

	proof, err := dpopx.Parse(proofValue)
	if err != nil {
		switch {
		case errors.Is(err, dpopx.ErrBadKey):
			return nil, errInvalidDPoP("proof key rejected: %v", err)
		case errors.Is(err, dpopx.ErrBadSignature):
			return nil, errInvalidDPoP("proof signature invalid")
		default:
			return nil, errInvalidDPoP("malformed proof: %v", err)
		}
	}

	if !proof.MatchesRequest(method, target) {
		return nil, errInvalidDPoP("proof htm/htu does not match request %s %s", method, target)
	}

	if expectedJKT != "" && proof.Thumbprint != expectedJKT {
		return nil, errInvalidDPoP("proof key does not match the expected thumbprint")
	}

	if proof.IssuedAt.Before(now.Add(-s.ProofLifetime - s.ClockSkew)) {
		return nil, errInvalidDPoP("proof iat is too old")
	}
	if proof.IssuedAt.After(now.Add(s.ClockSkew)) {
		return nil, errInvalidDPoP("proof iat is in the future")
	}

	if accessToken != "" {
		want := dpopx.HashAccessToken(accessToken)
		if subtle.ConstantTimeCompare([]byte(want), []byte(proof.AccessTokenHash)) != 1 {
			return nil, errInvalidDPoP("proof ath does not match presented access token")
		}
	}

	if err := s.checkNonce(ctx, proof); err != nil {
		return nil, err
	}

	// Replay: each jti is accepted once within the freshness window.
	fresh, err := s.Cache.PutIfAbsent(ctx, "dpop:jti:"+proof.JTI, s.ProofLifetime+s.ClockSkew)
	if err != nil {
		return nil, err
	}
	if !fresh {
		slogx.FromContext(ctx).Warn("dpop proof replay detected", slog.String("jti", proof.JTI))
		return nil, errInvalidDPoP("proof jti replay detected")
	}

	return &DPoPResult{Thumbprint: proof.Thumbprint}, nil
}

// checkNonce enforces the server nonce policy. A missing or stale
// nonce produces a use_dpop_nonce challenge carrying a fresh nonce.
func (s *DPoPService) checkNonce(ctx context.Context, proof *dpopx.Proof) error {
	if !s.RequireNonce {
		return nil
	}

	if proof.Nonce != "" {
		valid, err := s.Cache.ValidateNonce(ctx, proof.Nonce)
		if err != nil {
			return err
		}
		if valid {
			return nil
		}
	}

	nonce, err := s.Cache.IssueNonce(ctx, s.NonceTTL)
	if err != nil {
		return err
	}
	return errUseDPoPNonce(nonce)
}
