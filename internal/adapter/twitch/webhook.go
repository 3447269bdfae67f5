package twitch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/correlation"
)

const (
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"

	maxWebhookBody  = 1 << 20
	maxMessageAge   = 10 * time.Minute
	dispatchTimeout = 2 * time.Minute
)

// streamEvent covers stream.online and stream.offline; offline has no id or started_at.
type streamEvent struct {
	ID                string    `json:"id"`
	BroadcasterUserID string    `json:"broadcaster_user_id"`
	Type              string    `json:"type"`
	StartedAt         time.Time `json:"started_at"`
}

// WebhookHandler receives EventSub callbacks at /api/twitch/notification/:type/:userId.
// Signature checks, challenge replies and event decoding go through kappopher.
// Verified notifications are acknowledged immediately and dispatched in the background.
type WebhookHandler struct {
	secret     string
	dispatcher domain.NotificationDispatcher
	dedup      domain.MessageDeduplicator
	metrics    *metrics.WebhookMetrics
	clock      clockwork.Clock

	wg sync.WaitGroup
}

type WebhookOption func(*WebhookHandler)

// WithWebhookClock sets the clock used to judge message age.
func WithWebhookClock(clock clockwork.Clock) WebhookOption {
	return func(h *WebhookHandler) { h.clock = clock }
}

// NewWebhookHandler creates the handler. dedup and m may be nil.
func NewWebhookHandler(secret string, dispatcher domain.NotificationDispatcher, dedup domain.MessageDeduplicator, m *metrics.WebhookMetrics, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		secret:     secret,
		dispatcher: dispatcher,
		dedup:      dedup,
		metrics:    m,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// delivery is what the route and headers say about one callback.
type delivery struct {
	ctx         context.Context
	messageType string
	messageID   string
	pathType    string
	userID      uuid.UUID
}

func (h *WebhookHandler) Handle(c echo.Context) error {
	req := c.Request()
	d := delivery{
		ctx:         req.Context(),
		messageType: req.Header.Get(helix.EventSubHeaderMessageType),
		messageID:   req.Header.Get(helix.EventSubHeaderMessageID),
		pathType:    c.Param("type"),
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody+1))
	if err != nil {
		h.count(d.messageType, "unreadable")
		return c.String(http.StatusBadRequest, "unreadable body")
	}
	if len(body) > maxWebhookBody {
		h.count(d.messageType, "too_large")
		return c.String(http.StatusRequestEntityTooLarge, "body too large")
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	switch d.messageType {
	case MessageTypeVerification, MessageTypeNotification, MessageTypeRevocation:
	default:
		h.count(d.messageType, "unknown_type")
		return c.String(http.StatusBadRequest, "unknown message type")
	}

	if err := h.checkAge(req.Header.Get(helix.EventSubHeaderMessageTimestamp)); err != nil {
		slog.WarnContext(d.ctx, "Rejected EventSub callback", "message_id", d.messageID, "error", err)
		h.count(d.messageType, "expired")
		return c.String(http.StatusBadRequest, "stale message")
	}

	if d.messageType == MessageTypeNotification {
		d.userID, err = uuid.Parse(c.Param("userId"))
		if err != nil {
			h.count(d.messageType, "bad_user")
			return c.String(http.StatusBadRequest, "invalid user id")
		}
	}

	w := &statusWriter{ResponseWriter: c.Response()}
	h.eventSubHandler(d).ServeHTTP(w, req)
	if w.status == http.StatusForbidden {
		slog.WarnContext(d.ctx, "Rejected EventSub callback", "message_id", d.messageID, "error", "invalid signature")
		h.count(d.messageType, "invalid_signature")
	}
	return nil
}

// eventSubHandler binds kappopher's callbacks to one delivery. Its callbacks
// only see the message, so route data travels in the closures.
func (h *WebhookHandler) eventSubHandler(d delivery) *helix.EventSubWebhookHandler {
	return helix.NewEventSubWebhookHandler(
		helix.WithWebhookSecret(h.secret),
		helix.WithVerificationHandler(func(msg *helix.EventSubWebhookMessage) bool {
			slog.InfoContext(d.ctx, "EventSub callback verification", "subscription_type", msg.SubscriptionType, "path_type", d.pathType)
			h.count(MessageTypeVerification, "verified")
			return true
		}),
		helix.WithRevocationHandler(func(msg *helix.EventSubWebhookMessage) {
			slog.WarnContext(d.ctx, "EventSub subscription revoked",
				"subscription_type", msg.SubscriptionType,
				"reason", helix.GetRevocationReason(msg.Subscription))
			h.count(MessageTypeRevocation, "revoked")
		}),
		helix.WithNotificationHandler(func(msg *helix.EventSubWebhookMessage) {
			h.handleNotification(d, msg)
		}),
	)
}

func (h *WebhookHandler) checkAge(timestamp string) error {
	sent, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return fmt.Errorf("invalid message timestamp %q: %w", timestamp, err)
	}
	if age := h.clock.Since(sent); age > maxMessageAge {
		return fmt.Errorf("message is %s old", age.Round(time.Second))
	}
	return nil
}

func (h *WebhookHandler) handleNotification(d delivery, msg *helix.EventSubWebhookMessage) {
	ctx := d.ctx

	eventType := string(msg.SubscriptionType)
	if d.pathType != "" && d.pathType != eventType {
		slog.WarnContext(ctx, "EventSub path type differs from subscription type",
			"path_type", d.pathType, "subscription_type", eventType, "user_id", d.userID)
	}

	event, err := helix.ParseEventSubEvent[streamEvent](msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse stream event", "user_id", d.userID, "error", err)
		h.count(MessageTypeNotification, "malformed")
		return
	}

	if h.dedup != nil && d.messageID != "" {
		first, err := h.dedup.FirstDelivery(ctx, d.messageID)
		if err != nil {
			// Best effort only: with Redis down a redelivery dispatches again.
			slog.WarnContext(ctx, "Message dedup unavailable", "message_id", d.messageID, "error", err)
		} else if !first {
			slog.InfoContext(ctx, "Ignoring redelivered EventSub message", "message_id", d.messageID, "user_id", d.userID)
			h.count(MessageTypeNotification, "duplicate")
			return
		}
	}

	n := domain.Notification{
		MessageID:         d.messageID,
		UserID:            d.userID,
		Type:              domain.EventType(eventType),
		BroadcasterUserID: event.BroadcasterUserID,
		StreamID:          event.ID,
		StartedAt:         event.StartedAt,
	}

	h.count(MessageTypeNotification, "dispatched")
	// The id stays marked even if dispatch fails: Twitch already has its 2xx
	// and will not redeliver, so there is nothing to release it for.
	h.dispatchAsync(correlation.Detach(correlation.Ensure(ctx)), n)
}

func (h *WebhookHandler) dispatchAsync(ctx context.Context, n domain.Notification) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "EventSub dispatch panicked", "user_id", n.UserID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()

		if h.metrics != nil {
			h.metrics.InFlight.Inc()
			defer h.metrics.InFlight.Dec()
		}

		start := time.Now()
		report, err := h.dispatcher.Dispatch(ctx, n)
		if h.metrics != nil {
			h.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			slog.ErrorContext(ctx, "EventSub dispatch failed", "user_id", n.UserID, "event", n.Type, "error", err)
			return
		}

		h.recordOutcomes(n.Type, report)
	}()
}

func (h *WebhookHandler) recordOutcomes(eventType domain.EventType, report domain.DispatchReport) {
	if h.metrics == nil {
		return
	}
	for _, o := range report.Outcomes {
		result := "succeeded"
		switch {
		case o.Err != nil:
			result = "error"
		case !o.Outcome.OK():
			result = "failed"
		}
		h.metrics.FeatureOutcomes.WithLabelValues(o.Feature.String(), string(eventType), result).Inc()
	}
}

// Wait blocks until background dispatches finish or ctx is done.
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for eventsub dispatches: %w", ctx.Err())
	}
}

func (h *WebhookHandler) count(messageType, result string) {
	if h.metrics == nil {
		return
	}
	// Header values are attacker controlled; keep the label set closed.
	switch messageType {
	case MessageTypeVerification, MessageTypeNotification, MessageTypeRevocation:
	case "":
		messageType = "missing"
	default:
		messageType = "other"
	}
	h.metrics.Deliveries.WithLabelValues(messageType, result).Inc()
}

// statusWriter answers a rejected signature with 400 and an acknowledged
// message with 200, which is what Twitch and our callers get from this route.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	switch code {
	case http.StatusForbidden:
		code = http.StatusBadRequest
	case http.StatusNoContent:
		code = http.StatusOK
	}
	w.ResponseWriter.WriteHeader(code)
}
