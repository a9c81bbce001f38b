// Package redis provides the Redis heartbeat transport for HisMon.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ParseRedisURL parses a redis:// URL and returns options
func ParseRedisURL(rawURL string) (*redis.Options, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty Redis URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("invalid Redis URL %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid Redis URL %q: missing host", rawURL)
	}

	opts := &redis.Options{
		Addr: u.Host,
	}

	// Default port if not specified
	if u.Port() == "" {
		opts.Addr = u.Hostname() + ":6379"
	}

	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
	}

	if u.User != nil {
		opts.Username = u.User.Username()
		if pwd, ok := u.User.Password(); ok {
			opts.Password = pwd
		}
	}

	// Database from path (e.g., redis://localhost/1)
	if len(u.Path) > 1 {
		if db, err := strconv.Atoi(u.Path[1:]); err == nil {
			opts.DB = db
		}
	}

	return opts, nil
}

// NewClient creates a client and verifies the connection
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	client, err := NewClientLazy(redisURL)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewClientLazy creates a client without testing connection
func NewClientLazy(redisURL string) (*redis.Client, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
