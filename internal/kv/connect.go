package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmptyURL is returned by Connect when no connection URL is configured.
	ErrEmptyURL = errors.New("kv: redis url is empty")
	// ErrClusterMode is returned by Connect when the server has cluster mode
	// enabled. Session rotation runs one script over keys of two sessions and
	// their token ids, which hash to different slots.
	ErrClusterMode = errors.New("kv: redis cluster mode is not supported")
)

// Config controls the Redis client. Timeouts are kept short so that session
// operations fail instead of hanging a request.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// Connect parses cfg.URL (redis:// or rediss://), applies the timeouts, and
// verifies the connection with PING before returning the client. The server
// must be a standalone (or Sentinel-managed) Redis; a cluster node is refused
// with ErrClusterMode.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, ErrEmptyURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	// Servers that do not report the section are treated as standalone.
	if info, err := client.Info(pingCtx, "cluster").Result(); err == nil && clusterEnabled(info) {
		_ = client.Close()
		return nil, ErrClusterMode
	}
	return client, nil
}

func clusterEnabled(info string) bool {
	for _, line := range strings.Split(info, "\n") {
		if strings.TrimSpace(line) == "cluster_enabled:1" {
			return true
		}
	}
	return false
}
