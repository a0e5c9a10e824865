package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/prsnl-labs/intel-engine/pkg/config"
)

// NewRedisClient connects to the cache backing the status facade's read
// path. Returns nil when no host is configured; callers treat a nil client
// as "cache disabled" and read straight from Postgres.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Fail at startup rather than on the first poll.
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
