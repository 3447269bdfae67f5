package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/streamlux/pulsebanner/internal/domain"
)

// Twitch redelivers notifications it believes failed. A stream.online older than this
// is a late redelivery and must not re-run streamup.
const staleOnlineAfter = 10 * time.Minute

// Dispatcher routes a verified notification to the executors of the user's enabled features.
type Dispatcher struct {
	features  domain.FeatureRepository
	streams   domain.StreamRepository
	notifier  domain.Notifier
	clock     clockwork.Clock
	executors map[domain.Feature]Executor
}

// NewDispatcher creates a Dispatcher with one executor per feature. A later executor
// for the same feature replaces an earlier one.
func NewDispatcher(features domain.FeatureRepository, streams domain.StreamRepository, notifier domain.Notifier, clock clockwork.Clock, executors ...Executor) *Dispatcher {
	byFeature := make(map[domain.Feature]Executor, len(executors))
	for _, e := range executors {
		byFeature[e.Feature()] = e
	}
	return &Dispatcher{
		features:  features,
		streams:   streams,
		notifier:  notifier,
		clock:     clock,
		executors: byFeature,
	}
}

// Dispatch runs the streamup or streamdown of every enabled feature concurrently and
// reports each outcome. A stream.online older than ten minutes is discarded. The error
// is non-nil only when nothing could run: an unsupported event or unreadable settings.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification) (domain.DispatchReport, error) {
	if n.Type != domain.EventStreamOnline && n.Type != domain.EventStreamOffline {
		return domain.DispatchReport{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedEvent, n.Type)
	}

	log := slog.With("user_id", n.UserID, "event", string(n.Type), "message_id", n.MessageID)

	if n.Type == domain.EventStreamOnline && d.stale(n.StartedAt) {
		log.InfoContext(ctx, "Discarding stale stream.online", "started_at", n.StartedAt)
		return domain.DispatchReport{Discarded: true}, nil
	}

	d.trackStream(ctx, n)

	enabled, err := d.features.EnabledFeatures(ctx, n.UserID)
	if err != nil {
		return domain.DispatchReport{}, fmt.Errorf("failed to load enabled features: %w", err)
	}
	if len(enabled) == 0 {
		log.InfoContext(ctx, "No features enabled, nothing to do")
		return domain.DispatchReport{}, nil
	}

	var executors []Executor
	for _, f := range enabled {
		e, ok := d.executors[f]
		if !ok {
			log.WarnContext(ctx, "No executor registered for feature", "feature", f.String())
			continue
		}
		executors = append(executors, e)
	}

	report := domain.DispatchReport{Outcomes: d.fanOut(ctx, n.UserID, n.Type, executors)}

	for _, o := range report.Outcomes {
		d.report(ctx, n.UserID, n.Type, o)
	}
	log.InfoContext(ctx, "Notification dispatched", "features", len(report.Outcomes), "failed", len(report.Failed()))
	return report, nil
}

// Trigger runs one feature directly, skipping the staleness check and stream tracking.
func (d *Dispatcher) Trigger(ctx context.Context, userID uuid.UUID, feature domain.Feature, eventType domain.EventType) (domain.FeatureOutcome, error) {
	e, ok := d.executors[feature]
	if !ok {
		return domain.FeatureOutcome{}, fmt.Errorf("%w: %s", domain.ErrUnknownFeature, feature)
	}
	if eventType != domain.EventStreamOnline && eventType != domain.EventStreamOffline {
		return domain.FeatureOutcome{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedEvent, eventType)
	}

	outcome := d.fanOut(ctx, userID, eventType, []Executor{e})[0]
	d.report(ctx, userID, eventType, outcome)
	return outcome, nil
}

func (d *Dispatcher) stale(startedAt time.Time) bool {
	if startedAt.IsZero() {
		return false
	}
	return d.clock.Since(startedAt) > staleOnlineAfter
}

// trackStream records live state for the scheduler. Failures only affect refreshes, so
// they are logged and dispatch continues.
func (d *Dispatcher) trackStream(ctx context.Context, n domain.Notification) {
	var err error
	switch n.Type {
	case domain.EventStreamOnline:
		startedAt := n.StartedAt
		if startedAt.IsZero() {
			startedAt = d.clock.Now()
		}
		err = d.streams.StartStream(ctx, n.UserID, n.StreamID, startedAt)
	case domain.EventStreamOffline:
		err = d.streams.EndStream(ctx, n.UserID, d.clock.Now())
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to track stream", "user_id", n.UserID, "event", string(n.Type), "error", err)
	}
}

// fanOut runs each executor in its own goroutine. A panic in one feature becomes
// that feature's error and does not affect the others.
func (d *Dispatcher) fanOut(ctx context.Context, userID uuid.UUID, eventType domain.EventType, executors []Executor) []domain.FeatureOutcome {
	outcomes := make([]domain.FeatureOutcome, len(executors))

	var wg sync.WaitGroup
	for i, e := range executors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = runExecutor(ctx, e, userID, eventType)
		}()
	}
	wg.Wait()

	return outcomes
}

func runExecutor(ctx context.Context, e Executor, userID uuid.UUID, eventType domain.EventType) (fo domain.FeatureOutcome) {
	fo.Feature = e.Feature()
	defer func() {
		if r := recover(); r != nil {
			fo.Outcome = domain.Failed(fmt.Sprintf("%s panicked", fo.Feature))
			fo.Err = fmt.Errorf("%s executor panicked: %v", fo.Feature, r)
		}
	}()

	if eventType == domain.EventStreamOnline {
		fo.Outcome, fo.Err = e.StreamUp(ctx, userID)
	} else {
		fo.Outcome, fo.Err = e.StreamDown(ctx, userID)
	}
	return fo
}

// report logs the outcome and alerts the operator on unexpected errors.
func (d *Dispatcher) report(ctx context.Context, userID uuid.UUID, eventType domain.EventType, o domain.FeatureOutcome) {
	log := slog.With("user_id", userID, "event", string(eventType), "feature", o.Feature.String())

	switch {
	case o.Err != nil:
		log.ErrorContext(ctx, "Feature execution failed", "message", o.Outcome.Message, "error", o.Err)
		alert := domain.Alert{
			Title:   fmt.Sprintf("%s %s failed", o.Feature, eventType),
			Message: o.Err.Error(),
			UserID:  userID,
			Feature: o.Feature,
		}
		if err := d.notifier.Notify(ctx, alert); err != nil {
			log.WarnContext(ctx, "Failed to send operator alert", "error", err)
		}
	case !o.Outcome.OK():
		log.WarnContext(ctx, "Feature execution did not succeed", "message", o.Outcome.Message)
	default:
		log.InfoContext(ctx, "Feature executed", "message", o.Outcome.Message)
	}
}
