// Package redis holds the short-lived state of the API: refresh sessions,
// idempotent replies and auth rate-limit counters. Durable library data never
// lives here.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is returned by every call on a zero Client.
var ErrNotConfigured = errors.New("redis client not initialized")

// Every key lives under lib:<kind>:...
const (
	keyNamespace      = "lib"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	sessionPrefix     = "session"
)

// noExpiry is what TTL reports for a key that exists without an expiry.
const noExpiry = time.Duration(-1)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	TTL(context.Context, string) *redis.DurationCmd
}

// Client is the API's handle on Redis.
type Client struct {
	cmd  cmdable
	conn *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is the slice of Client the idempotency middleware needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials Redis and fails fast when it does not answer a PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"redis_addr": opts.Addr, "redis_db": opts.DB}), "redis connection established")
	}
	return &Client{cmd: conn, conn: conn}, nil
}

// optionsFromConfig prefers LIBRARY_REDIS_URL; pool and timeout settings fill
// whatever the URL left unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	fillUnset(&opts.DB, cfg.DB)
	fillUnset(&opts.PoolSize, cfg.PoolSize)
	fillUnset(&opts.MinIdleConns, cfg.MinIdleConns)
	fillUnset(&opts.DialTimeout, cfg.DialTimeout)
	fillUnset(&opts.ReadTimeout, cfg.ReadTimeout)
	fillUnset(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fillUnset[T comparable](dst *T, value T) {
	var zero T
	if *dst == zero {
		*dst = value
	}
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.cmd == nil {
		return ErrNotConfigured
	}
	return c.cmd.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmd == nil {
		return "", ErrNotConfigured
	}
	return c.cmd.Get(ctx, key).Result()
}

// SetNX stores value only when key is absent and reports whether it did.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmd == nil {
		return false, ErrNotConfigured
	}
	return c.cmd.SetNX(ctx, key, value, ttl).Result()
}

// TTL returns the key's remaining lifetime; the rate limiter turns it into Retry-After.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if c.cmd == nil {
		return 0, ErrNotConfigured
	}
	return c.cmd.TTL(ctx, key).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmd == nil {
		return ErrNotConfigured
	}
	return c.cmd.Del(ctx, keys...).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	if c.cmd == nil {
		return ErrNotConfigured
	}
	return c.cmd.Ping(ctx).Err()
}

// FixedWindowAllow counts one hit against scope and reports whether the count
// is still within limit. The window opens with the first hit. A counter found
// over the limit without an expiry (the process died between INCR and EXPIRE)
// gets one, so a member is never locked out for good.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.cmd == nil {
		return false, 0, ErrNotConfigured
	}
	key := c.RateLimitKey(scope)
	count, err := c.cmd.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}

	needsExpiry := count == 1
	if !needsExpiry && count > limit {
		ttl, err := c.cmd.TTL(ctx, key).Result()
		if err != nil {
			return false, count, err
		}
		needsExpiry = ttl == noExpiry
	}
	if needsExpiry && window > 0 {
		if err := c.cmd.Expire(ctx, key, window).Err(); err != nil {
			return false, count, err
		}
	}
	return count <= limit, count, nil
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return namespacedKey(idempotencyPrefix, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return namespacedKey(rateLimitPrefix, scope)
}

// AccessSessionKey is where the refresh session bound to an access token's jti lives.
func (c *Client) AccessSessionKey(accessID string) string {
	return namespacedKey(sessionPrefix, "access", accessID)
}

// Close releases the connection pool; a zero Client has nothing to close.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func namespacedKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
