package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
)

const defaultBreakerDelay = 30 * time.Second

type clientOptions struct {
	metrics      *metrics.UpstreamMetrics
	breakerDelay time.Duration
}

type ClientOption func(*clientOptions)

// WithMetrics records commands and breaker transitions as the "redis" upstream.
func WithMetrics(m *metrics.UpstreamMetrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

func WithBreakerDelay(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.breakerDelay = d }
}

// NewClient parses a redis:// URL, installs the metrics and circuit breaker
// hooks, and verifies the connection.
func NewClient(ctx context.Context, redisURL string, opts ...ClientOption) (*goredis.Client, error) {
	o := clientOptions{breakerDelay: defaultBreakerDelay}
	for _, opt := range opts {
		opt(&o)
	}

	redisOpts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(redisOpts)
	instrument(client, o)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func instrument(client *goredis.Client, o clientOptions) {
	client.AddHook(metricsHook{metrics: o.metrics})
	client.AddHook(newCircuitBreakerHook(o.metrics, o.breakerDelay))
}
