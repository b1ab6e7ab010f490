package session

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"loginwatch/internal/event"
)

// keyPrefix namespaces tracker keys in a shared Redis instance.
const keyPrefix = "loginwatch:session:"

// RedisConfig holds connection settings for the Redis-backed tracker.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// DefaultRedisConfig returns the default Redis tracker configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	}
}

// RedisTracker is a Tracker backed by Redis TTL keys, for deployments
// where several proxy instances share correlation state. Redis failures
// are logged and treated as absence; the Tracker contract has no error
// path.
type RedisTracker struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisTracker connects to Redis and returns a tracker with the
// given session timeout.
func NewRedisTracker(cfg RedisConfig, timeout time.Duration) (*RedisTracker, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisTracker{client: client, timeout: timeout}, nil
}

// Track upserts the client key with the session TTL.
func (t *RedisTracker) Track(ctx context.Context, client event.ClientID) {
	if err := t.client.Set(ctx, keyPrefix+string(client), "1", t.timeout).Err(); err != nil {
		slog.Warn("redis session track failed", "client", client, "error", err)
	}
}

// IsActive reports whether the client key still exists. Redis expires
// keys on its own, so existence is activity.
func (t *RedisTracker) IsActive(ctx context.Context, client event.ClientID) bool {
	n, err := t.client.Exists(ctx, keyPrefix+string(client)).Result()
	if err != nil {
		slog.Warn("redis session lookup failed", "client", client, "error", err)
		return false
	}
	return n > 0
}

// Remove deletes the client key.
func (t *RedisTracker) Remove(ctx context.Context, client event.ClientID) {
	if err := t.client.Del(ctx, keyPrefix+string(client)).Err(); err != nil {
		slog.Warn("redis session remove failed", "client", client, "error", err)
	}
}

// Sweep is a no-op: Redis TTLs expire entries server-side.
func (t *RedisTracker) Sweep(context.Context) {}

// ActiveCount scans the tracker keyspace and returns the live key
// count.
func (t *RedisTracker) ActiveCount(ctx context.Context) int {
	var cursor uint64
	count := 0
	for {
		keys, next, err := t.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			slog.Warn("redis session scan failed", "error", err)
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

// Close releases the Redis connection pool.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
