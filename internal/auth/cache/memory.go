package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/parclabs/keygate/pkg/cryptox"
)

type memoryClient struct {
	c *gocache.Cache
}

// NewMemory returns an in-process cache backend. State is lost on
// restart, which widens the replay window across restarts; acceptable
// for single instance deployments.
func NewMemory() Client {
	return &memoryClient{
		c: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (m *memoryClient) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// Add fails when the key exists, giving atomic insert-if-absent.
	if err := m.c.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *memoryClient) IssueNonce(ctx context.Context, ttl time.Duration) (string, error) {
	nonce, err := cryptox.GenerateToken(cryptox.DefaultTokenBytes)
	if err != nil {
		return "", err
	}
	m.c.Set(noncePrefix+nonce, struct{}{}, ttl)
	return nonce, nil
}

func (m *memoryClient) ValidateNonce(ctx context.Context, nonce string) (bool, error) {
	_, ok := m.c.Get(noncePrefix + nonce)
	return ok, nil
}

func (m *memoryClient) Ping(ctx context.Context) error { return nil }
func (m *memoryClient) Close() error                   { return nil }
