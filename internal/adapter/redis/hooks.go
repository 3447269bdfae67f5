package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
)

const upstreamName = "redis"

// metricsHook records every command as an upstream call.
type metricsHook struct {
	metrics *metrics.UpstreamMetrics
}

var _ goredis.Hook = metricsHook{}

func (h metricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := next(ctx, network, addr)
		h.metrics.Observe(upstreamName, "dial", start, err)
		return conn, err
	}
}

func (h metricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.metrics.Observe(upstreamName, cmd.Name(), start, unhealthy(err))
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.metrics.Observe(upstreamName, "pipeline", start, unhealthy(err))
		return err
	}
}

// circuitBreakerHook fails commands fast while Redis is unreachable. Callers
// already degrade on Redis errors (dedup lets the message through, the scheduler
// refreshes without the lease), so an open breaker only saves them the timeout.
type circuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*circuitBreakerHook)(nil)

// newCircuitBreakerHook opens at a 60% failure rate over at least 5 commands in
// 10s and probes again after delay.
func newCircuitBreakerHook(m *metrics.UpstreamMetrics, delay time.Duration) *circuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", upstreamName,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.ObserveBreaker(upstreamName, e.NewState)
		}).
		Build()
	return &circuitBreakerHook{cb: cb}
}

func (h *circuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis dial: %w", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		h.record(err)
		return conn, err
	}
}

func (h *circuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis %s: %w", cmd.Name(), circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmd)
		h.record(err)
		return err
	}
}

func (h *circuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis pipeline: %w", circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmds)
		h.record(err)
		return err
	}
}

func (h *circuitBreakerHook) record(err error) {
	if err := unhealthy(err); err != nil {
		h.cb.RecordError(err)
		return
	}
	h.cb.RecordSuccess()
}

// unhealthy filters out errors that mean Redis answered: a nil reply, a server
// error reply, or the caller giving up.
func unhealthy(err error) error {
	if err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) {
		return nil
	}
	var reply goredis.Error
	if errors.As(err, &reply) {
		return nil
	}
	return err
}
