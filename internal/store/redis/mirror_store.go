// Package redis implements the session mirror on Redis using SET EX, GET and DEL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/wolfeidau/deskpool/internal/store"
)

// Config holds connection settings for the Redis mirror.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int

	// DialTimeout and OperationTimeout bound each round trip.
	// Defaults: 5s and 2s
	DialTimeout      time.Duration
	OperationTimeout time.Duration
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 2 * time.Second
	}
}

// MirrorStore implements store.MirrorStore using Redis.
type MirrorStore struct {
	client *goredis.Client
}

// NewMirrorStore connects to Redis and verifies the connection with PING.
func NewMirrorStore(ctx context.Context, cfg *Config) (*MirrorStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		WriteTimeout: cfg.OperationTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", mapRedisError(err))
	}

	return &MirrorStore{client: client}, nil
}

// NewMirrorStoreWithClient wraps an existing client.
func NewMirrorStoreWithClient(client *goredis.Client) *MirrorStore {
	return &MirrorStore{client: client}
}

// Set stores value under key with SET key value EX ttl.
func (s *MirrorStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateTTL(ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, mapRedisError(err))
	}
	return nil
}

// Get returns the value stored under key.
func (s *MirrorStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, mapRedisError(err))
	}
	return value, nil
}

// Delete removes the keys with a single DEL.
func (s *MirrorStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", mapRedisError(err))
	}
	return nil
}

// Close closes the client.
func (s *MirrorStore) Close() error {
	return s.client.Close()
}

// mapRedisError marks network and timeout failures as store.ErrUnavailable.
func mapRedisError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, goredis.ErrClosed),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	default:
		return err
	}
}
