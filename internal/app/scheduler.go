package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/correlation"
)

const leaseReleaseTimeout = 5 * time.Second

type bannerRefresher interface {
	Refresh(ctx context.Context, userID uuid.UUID) (domain.Outcome, error)
}

// lease keeps refreshes on one instance when several run.
type lease interface {
	Hold(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type SchedulerOption func(*Scheduler)

// WithLease makes every tick hold l first. Instances that do not hold it skip the tick.
func WithLease(l lease) SchedulerOption {
	return func(s *Scheduler) { s.lease = l }
}

// Scheduler periodically re-renders the live banner of paid users so the stream
// thumbnail stays current. Professional users refresh more often than personal ones.
type Scheduler struct {
	streams   domain.StreamRepository
	refresher bannerRefresher
	clock     clockwork.Clock
	intervals map[domain.Plan]time.Duration
	metrics   *metrics.SchedulerMetrics
	lease     lease

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler refreshing live professional banners every
// professionalInterval and personal ones every personalInterval. m may be nil.
func NewScheduler(streams domain.StreamRepository, refresher bannerRefresher, clock clockwork.Clock, professionalInterval, personalInterval time.Duration, m *metrics.SchedulerMetrics, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		streams:   streams,
		refresher: refresher,
		clock:     clock,
		intervals: map[domain.Plan]time.Duration{
			domain.PlanProfessional: professionalInterval,
			domain.PlanPersonal:     personalInterval,
		},
		metrics: m,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts one loop per plan and blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	for plan, interval := range s.intervals {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, plan, interval)
		}()
	}
	s.wg.Wait()

	if s.lease != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
		defer cancel()
		if err := s.lease.Release(ctx); err != nil {
			slog.Warn("Scheduler: failed to release lease", "error", err)
		}
	}
	slog.Info("Banner refresh scheduler stopped")
}

// Stop ends the loops. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) loop(ctx context.Context, plan domain.Plan, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.tick(ctx, plan)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, plan domain.Plan) {
	tickCtx := correlation.WithID(ctx, correlation.NewID())

	if s.lease != nil {
		held, err := s.lease.Hold(tickCtx)
		switch {
		case err != nil:
			// Refreshing twice is harmless; skipping every tick while Redis is down is not.
			slog.WarnContext(tickCtx, "Scheduler: lease unavailable, refreshing anyway", "plan", string(plan), "error", err)
		case !held:
			slog.DebugContext(tickCtx, "Scheduler: another instance holds the lease", "plan", string(plan))
			return
		}
	}

	users, err := s.streams.LiveBannerUsers(tickCtx, plan)
	if err != nil {
		slog.ErrorContext(tickCtx, "Scheduler: failed to list live users", "plan", string(plan), "error", err)
		return
	}
	slog.DebugContext(tickCtx, "Scheduler: refreshing banners", "plan", string(plan), "users", len(users))

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}

		out, err := s.refresher.Refresh(tickCtx, userID)
		switch {
		case err != nil:
			slog.ErrorContext(tickCtx, "Scheduler: banner refresh failed", "user_id", userID, "error", err)
			s.metrics.ObserveRefresh(string(plan), "error")
		case !out.OK():
			slog.InfoContext(tickCtx, "Scheduler: banner refresh skipped", "user_id", userID, "message", out.Message)
			s.metrics.ObserveRefresh(string(plan), "failed")
		default:
			s.metrics.ObserveRefresh(string(plan), "succeeded")
		}
	}
}
