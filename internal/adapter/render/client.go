package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/sling"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/version"
)

const (
	renderTimeout = 60 * time.Second
	maxImageBytes = 10 << 20

	defaultFailureThreshold = 5
	defaultBreakerDelay     = 30 * time.Second
)

var templatePaths = map[domain.Template]string{
	domain.TemplateBanner:       "getTemplate",
	domain.TemplateProfileImage: "getProfilePic",
}

type templateRequest struct {
	ForegroundID    string         `json:"foregroundId"`
	BackgroundID    string         `json:"backgroundId"`
	ForegroundProps map[string]any `json:"foregroundProps"`
	BackgroundProps map[string]any `json:"backgroundProps"`
}

// Client calls the render service. Consecutive failures open a circuit breaker
// so a dead render service fails executors fast instead of holding a goroutine
// per feature for the full timeout.
type Client struct {
	api     *sling.Sling
	breaker circuitbreaker.CircuitBreaker[any]
	metrics *metrics.UpstreamMetrics

	failureThreshold uint
	breakerDelay     time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.api.Client(client) }
}

func WithMetrics(m *metrics.UpstreamMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker overrides how many consecutive failures open the breaker and how long it stays open.
func WithBreaker(failureThreshold uint, delay time.Duration) Option {
	return func(c *Client) {
		c.failureThreshold = failureThreshold
		c.breakerDelay = delay
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		api: sling.New().
			Client(&http.Client{Timeout: renderTimeout}).
			Base(strings.TrimSuffix(baseURL, "/")+"/").
			Set("User-Agent", version.UserAgent()).
			ResponseDecoder(rawDecoder{}),
		failureThreshold: defaultFailureThreshold,
		breakerDelay:     defaultBreakerDelay,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(c.failureThreshold).
		WithDelay(c.breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "render",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			c.metrics.ObserveBreaker("render", e.NewState)
		}).
		Build()

	return c
}

// State reports the breaker state.
func (c *Client) State() circuitbreaker.State {
	return c.breaker.State()
}

func (c *Client) Render(ctx context.Context, req domain.RenderRequest) (image []byte, err error) {
	path, ok := templatePaths[req.Template]
	if !ok {
		return nil, fmt.Errorf("unknown render template %q", req.Template)
	}

	start := time.Now()
	defer func() { c.metrics.Observe("render", string(req.Template), start, err) }()

	if !c.breaker.TryAcquirePermit() {
		return nil, fmt.Errorf("render service unavailable: %w", circuitbreaker.ErrOpen)
	}

	image, err = c.post(ctx, path, templateRequest{
		ForegroundID:    req.ForegroundID,
		BackgroundID:    req.BackgroundID,
		ForegroundProps: nonNil(req.ForegroundProps),
		BackgroundProps: nonNil(req.BackgroundProps),
	})
	if err != nil {
		// Cancellation on our side says nothing about the render service.
		if ctx.Err() == nil {
			c.breaker.RecordError(err)
		}
		return nil, fmt.Errorf("failed to render %s: %w", req.Template, err)
	}
	c.breaker.RecordSuccess()
	return image, nil
}

func (c *Client) post(ctx context.Context, path string, body templateRequest) ([]byte, error) {
	httpReq, err := c.api.New().Post(path).BodyJSON(body).Request()
	if err != nil {
		return nil, err
	}

	var image, failure []byte
	resp, err := c.api.Do(httpReq.WithContext(ctx), &image, &failure)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, truncate(string(failure), 200))
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("render service returned an empty image")
	}
	return image, nil
}

// rawDecoder hands back the response body as bytes.
type rawDecoder struct{}

func (rawDecoder) Decode(resp *http.Response, v any) error {
	out, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw decoder needs *[]byte, got %T", v)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return err
	}
	*out = body
	return nil
}

func nonNil(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
