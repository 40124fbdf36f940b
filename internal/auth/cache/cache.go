// Package cache is the short lived state shared across instances:
// DPoP proof replay markers and server issued nonces. A memory
// backend serves single instance deployments; redis serves the rest.
package cache

import (
	"context"
	"time"
)

// Client is the cache interface the services depend on.
type Client interface {
	// PutIfAbsent records key with the given ttl. It reports false
	// when the key already exists, making it the building block for
	// replay detection.
	PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IssueNonce mints a fresh server nonce valid for ttl.
	IssueNonce(ctx context.Context, ttl time.Duration) (string, error)

	// ValidateNonce reports whether nonce was issued by this server
	// and has not expired. Nonces stay valid for their whole window;
	// proof replay is caught by jti tracking, not nonce consumption.
	ValidateNonce(ctx context.Context, nonce string) (bool, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

const noncePrefix = "dpop:nonce:"
