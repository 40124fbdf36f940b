package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parclabs/keygate/pkg/cryptox"
)

type redisClient struct {
	rdb *redis.Client
}

// NewRedis returns a redis cache backend so replay markers and nonces
// are shared across instances.
func NewRedis(addr, password string, db int) (Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &redisClient{rdb: rdb}, nil
}

func (r *redisClient) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx: %w", err)
	}
	return ok, nil
}

func (r *redisClient) IssueNonce(ctx context.Context, ttl time.Duration) (string, error) {
	nonce, err := cryptox.GenerateToken(cryptox.DefaultTokenBytes)
	if err != nil {
		return "", err
	}
	if err := r.rdb.Set(ctx, noncePrefix+nonce, 1, ttl).Err(); err != nil {
		return "", fmt.Errorf("cache: set nonce: %w", err)
	}
	return nonce, nil
}

func (r *redisClient) ValidateNonce(ctx context.Context, nonce string) (bool, error) {
	n, err := r.rdb.Exists(ctx, noncePrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("cache: nonce lookup: %w", err)
	}
	return n > 0, nil
}

func (r *redisClient) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *redisClient) Close() error {
	return r.rdb.Close()
}
