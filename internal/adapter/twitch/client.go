package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/version"
)

const thumbnailSize = "1280x720"

// APIError is a non-success Helix response.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string

	// Reset is when the rate limit bucket refills, set on 429 responses.
	Reset time.Time
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (e *APIError) RetryAfter() time.Duration {
	if e.Reset.IsZero() {
		return 0
	}
	return time.Until(e.Reset)
}

// Client calls Helix with the app access token. It implements
// domain.EventSubClient and domain.StreamLookup.
type Client struct {
	clientID       string
	tokens         *AppTokenCache
	eventSubSecret string
	httpClient     *http.Client
	apiBaseURL     string
	metrics        *metrics.UpstreamMetrics
}

type ClientOption func(*Client)

// WithAPIBaseURL points the client at a different Helix host.
func WithAPIBaseURL(url string) ClientOption {
	return func(c *Client) { c.apiBaseURL = url }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithMetrics(m *metrics.UpstreamMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func NewClient(clientID string, tokens *AppTokenCache, eventSubSecret string, opts ...ClientOption) *Client {
	c := &Client{
		clientID:       clientID,
		tokens:         tokens,
		eventSubSecret: eventSubSecret,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSubscriptions follows the pagination cursor until Twitch stops returning one.
func (c *Client) ListSubscriptions(ctx context.Context) ([]domain.EventSubSubscription, error) {
	var subs []domain.EventSubSubscription
	cursor := ""
	for {
		var page *helix.EventSubSubscriptionsResponse
		err := c.call(ctx, "list_subscriptions", http.StatusOK, func(hc *helix.Client) (helix.ResponseCommon, error) {
			resp, err := hc.GetEventSubSubscriptions(&helix.EventSubSubscriptionsParams{After: cursor})
			if err != nil {
				return helix.ResponseCommon{}, err
			}
			page = resp
			return resp.ResponseCommon, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list eventsub subscriptions: %w", err)
		}

		for _, s := range page.Data.EventSubSubscriptions {
			subs = append(subs, toDomainSubscription(s))
		}

		cursor = page.Data.Pagination.Cursor
		if cursor == "" {
			return subs, nil
		}
	}
}

func (c *Client) CreateSubscription(ctx context.Context, req domain.EventSubRequest) (*domain.EventSubSubscription, error) {
	payload := &helix.EventSubSubscription{
		Type:    string(req.Type),
		Version: "1",
		Condition: helix.EventSubCondition{
			BroadcasterUserID: req.BroadcasterUserID,
		},
		Transport: helix.EventSubTransport{
			Method:   "webhook",
			Callback: req.Callback,
			Secret:   c.eventSubSecret,
		},
	}

	var created *helix.EventSubSubscriptionsResponse
	err := c.call(ctx, "create_subscription", http.StatusAccepted, func(hc *helix.Client) (helix.ResponseCommon, error) {
		resp, err := hc.CreateEventSubSubscription(payload)
		if err != nil {
			return helix.ResponseCommon{}, err
		}
		created = resp
		return resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s subscription: %w", req.Type, err)
	}

	if len(created.Data.EventSubSubscriptions) == 0 {
		return &domain.EventSubSubscription{
			Type:              req.Type,
			BroadcasterUserID: req.BroadcasterUserID,
			Callback:          req.Callback,
		}, nil
	}
	sub := toDomainSubscription(created.Data.EventSubSubscriptions[0])
	return &sub, nil
}

func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	err := c.call(ctx, "delete_subscription", http.StatusNoContent, func(hc *helix.Client) (helix.ResponseCommon, error) {
		resp, err := hc.RemoveEventSubSubscription(id)
		if err != nil {
			return helix.ResponseCommon{}, err
		}
		return resp.ResponseCommon, nil
	})
	if IsNotFound(err) {
		// Already gone, which is what the caller wanted.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", id, err)
	}
	return nil
}

func (c *Client) GetStream(ctx context.Context, broadcasterID string) (*domain.Stream, error) {
	var streams []helix.Stream
	err := c.call(ctx, "get_streams", http.StatusOK, func(hc *helix.Client) (helix.ResponseCommon, error) {
		resp, err := hc.GetStreams(&helix.StreamsParams{UserIDs: []string{broadcasterID}})
		if err != nil {
			return helix.ResponseCommon{}, err
		}
		streams = resp.Data.Streams
		return resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	if len(streams) == 0 {
		return nil, domain.ErrStreamNotLive
	}

	s := streams[0]
	return &domain.Stream{
		ID:           s.ID,
		UserID:       s.UserID,
		UserLogin:    s.UserLogin,
		UserName:     s.UserName,
		Title:        s.Title,
		GameName:     s.GameName,
		ThumbnailURL: sizedThumbnail(s.ThumbnailURL),
		ViewerCount:  s.ViewerCount,
		StartedAt:    s.StartedAt,
	}, nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (*domain.TwitchUser, error) {
	var users []helix.User
	err := c.call(ctx, "get_users", http.StatusOK, func(hc *helix.Client) (helix.ResponseCommon, error) {
		resp, err := hc.GetUsers(&helix.UsersParams{IDs: []string{userID}})
		if err != nil {
			return helix.ResponseCommon{}, err
		}
		users = resp.Data.Users
		return resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get twitch user: %w", err)
	}
	if len(users) == 0 {
		return nil, domain.ErrUserNotFound
	}

	u := users[0]
	return &domain.TwitchUser{
		ID:              u.ID,
		Login:           u.Login,
		DisplayName:     u.DisplayName,
		ProfileImageURL: u.ProfileImageURL,
	}, nil
}

// call runs fn with a Helix client bound to ctx and the current app token.
// A 401 invalidates the token and retries once with a fresh one.
func (c *Client) call(ctx context.Context, operation string, wantStatus int, fn func(*helix.Client) (helix.ResponseCommon, error)) (err error) {
	start := time.Now()
	defer func() { c.metrics.Observe("twitch", operation, start, err) }()

	for attempt := 0; ; attempt++ {
		hc, err := c.helixClient(ctx)
		if err != nil {
			return err
		}

		resp, err := fn(hc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate()
			continue
		}
		if resp.StatusCode != wantStatus {
			msg := resp.ErrorMessage
			if msg == "" {
				msg = resp.Error
			}
			return &APIError{Operation: operation, StatusCode: resp.StatusCode, Message: msg, Reset: rateLimitReset(resp.Header)}
		}
		return nil
	}
}

// rateLimitReset reads Helix's Ratelimit-Reset header (unix seconds).
func rateLimitReset(h http.Header) time.Time {
	if h == nil {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(h.Get("Ratelimit-Reset"), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func (c *Client) helixClient(ctx context.Context) (*helix.Client, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	opts := &helix.Options{
		ClientID:       c.clientID,
		AppAccessToken: token,
		UserAgent:      version.UserAgent(),
		HTTPClient:     &contextDoer{ctx: ctx, client: c.httpClient},
	}
	if c.apiBaseURL != "" {
		opts.APIBaseURL = c.apiBaseURL
	}

	hc, err := helix.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	return hc, nil
}

// contextDoer binds outgoing helix requests to the caller's context.
type contextDoer struct {
	ctx    context.Context
	client *http.Client
}

func (d *contextDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(d.ctx))
}

func toDomainSubscription(s helix.EventSubSubscription) domain.EventSubSubscription {
	return domain.EventSubSubscription{
		ID:                s.ID,
		Type:              domain.EventType(s.Type),
		Status:            s.Status,
		BroadcasterUserID: s.Condition.BroadcasterUserID,
		Callback:          s.Transport.Callback,
		CreatedAt:         s.CreatedAt.Time,
	}
}

func sizedThumbnail(url string) string {
	return strings.NewReplacer("{width}x{height}", thumbnailSize, "%{width}x%{height}", thumbnailSize).Replace(url)
}

// IsNotFound reports whether err is a Helix 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

