// Package redis provides Redis-backed watermark and balance stores.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "chainevents"
	pingTimeout   = 5 * time.Second
)

type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Client is the connection shared by the stores. Every key it writes is
// namespaced under prefix.
type Client struct {
	rdb    *redis.Client
	prefix string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb, prefix: prefixOf(cfg.KeyPrefix)}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

func prefixOf(p string) string {
	if p == "" {
		return defaultPrefix
	}
	return p
}

func watermarkKey(prefix, chainID string) string { return prefix + ":watermark:" + chainID }

func balanceKey(prefix, key string) string { return prefix + ":" + key }
