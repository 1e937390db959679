package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// UserKeyPrefix roots every session cache key.
const UserKeyPrefix = "user-"

// UserKeyPattern matches every session cache key, for online-user counting.
const UserKeyPattern = UserKeyPrefix + "*"

var (
	// ErrNotFound means the key holds no entry.
	ErrNotFound = errors.New("session: not found")
	// ErrUnavailable means the cache could not be reached. Callers must treat
	// this as a retryable infrastructure failure, not an authentication failure.
	ErrUnavailable = errors.New("session: cache unavailable")
)

// UserKey derives the cache key for a subject.
func UserKey(subject string) string {
	return UserKeyPrefix + subject
}

// Config holds Redis connection parameters.
type Config struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Store is a Redis-backed session cache.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis and verifies the connection with a ping.
func NewStore(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Store{client: client}, nil
}

// Set stores value under key, overwriting any existing entry. A zero ttl
// stores without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

// Delete removes the given keys and returns how many existed.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}

// Exists reports whether key holds an entry.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Expire sets a fresh TTL on key, reporting whether the key existed.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Keys returns every key matching pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

// RemainingTTL returns the seconds until key expires, -1 for a key without
// expiry or -2 for an absent key, mirroring the Redis TTL convention.
func (s *Store) RemainingTTL(ctx context.Context, key string) (int64, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if d < 0 {
		return int64(d), nil
	}
	return int64(d / time.Second), nil
}

// OnlineCount counts live sessions by matching the subject key prefix.
func (s *Store) OnlineCount(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx, UserKeyPattern)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Ping verifies connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
