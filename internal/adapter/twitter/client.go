package twitter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"github.com/dghubble/sling"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/version"
)

const (
	defaultAPIBaseURL = "https://api.twitter.com/1.1/"
	requestTimeout    = 15 * time.Second
	bannerSize        = "/1500x500"
	maxImageBytes     = 10 << 20
)

// Twitter v1.1 error codes the executors react to.
const (
	codeInvalidToken = 89
	codeAuthFailed   = 32
	codeSuspended    = 64
	codeRateLimited  = 88
	codeLocked       = 326
)

// Factory builds per-user clients signed with the app's OAuth1 consumer credentials.
// It implements domain.TwitterClientFactory.
type Factory struct {
	config     *oauth1.Config
	apiBaseURL string
	httpClient *http.Client
	metrics    *metrics.UpstreamMetrics
}

type FactoryOption func(*Factory)

// WithAPIBaseURL points clients at a different API host. The URL must end with a slash.
func WithAPIBaseURL(url string) FactoryOption {
	return func(f *Factory) { f.apiBaseURL = url }
}

func WithHTTPClient(client *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = client }
}

func WithMetrics(m *metrics.UpstreamMetrics) FactoryOption {
	return func(f *Factory) { f.metrics = m }
}

func NewFactory(consumerKey, consumerSecret string, opts ...FactoryOption) *Factory {
	f := &Factory{
		config:     oauth1.NewConfig(consumerKey, consumerSecret),
		apiBaseURL: defaultAPIBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) ForUser(creds domain.TwitterCredentials) domain.TwitterClient {
	token := oauth1.NewToken(creds.Token, creds.Secret)
	base := context.WithValue(context.Background(), oauth1.HTTPClient, f.httpClient)
	signed := f.config.Client(base, token)

	return &Client{
		api: sling.New().
			Client(signed).
			Base(f.apiBaseURL).
			Set("User-Agent", version.UserAgent()),
		download: f.httpClient,
		metrics:  f.metrics,
	}
}

// Client is one user's Twitter v1.1 session.
type Client struct {
	api      *sling.Sling
	download *http.Client
	metrics  *metrics.UpstreamMetrics
}

type updateProfileParams struct {
	Name string `url:"name"`
}

type updateBannerParams struct {
	Banner string `url:"banner"`
}

type updateImageParams struct {
	Image string `url:"image"`
}

func (c *Client) VerifyCredentials(ctx context.Context) (*domain.TwitterProfile, error) {
	params := &twitter.AccountVerifyParams{
		IncludeEntities: twitter.Bool(false),
		SkipStatus:      twitter.Bool(true),
	}

	user := new(twitter.User)
	if err := c.do(ctx, "verify_credentials", c.api.New().Get("account/verify_credentials.json").QueryStruct(params), user); err != nil {
		return nil, err
	}

	return &domain.TwitterProfile{
		ID:               user.IDStr,
		Name:             user.Name,
		ScreenName:       user.ScreenName,
		ProfileImageURL:  user.ProfileImageURLHttps,
		ProfileBannerURL: user.ProfileBannerURL,
	}, nil
}

func (c *Client) UpdateName(ctx context.Context, name string) error {
	return c.do(ctx, "update_profile", c.api.New().Post("account/update_profile.json").BodyForm(&updateProfileParams{Name: name}), nil)
}

func (c *Client) UpdateBanner(ctx context.Context, image []byte) error {
	params := &updateBannerParams{Banner: base64.StdEncoding.EncodeToString(image)}
	return c.do(ctx, "update_profile_banner", c.api.New().Post("account/update_profile_banner.json").BodyForm(params), nil)
}

func (c *Client) RemoveBanner(ctx context.Context) error {
	return c.do(ctx, "remove_profile_banner", c.api.New().Post("account/remove_profile_banner.json"), nil)
}

func (c *Client) UpdateProfileImage(ctx context.Context, image []byte) error {
	params := &updateImageParams{Image: base64.StdEncoding.EncodeToString(image)}
	return c.do(ctx, "update_profile_image", c.api.New().Post("account/update_profile_image.json").BodyForm(params), nil)
}

func (c *Client) PostTweet(ctx context.Context, text string) error {
	params := &twitter.StatusUpdateParams{Status: text}
	return c.do(ctx, "statuses_update", c.api.New().Post("statuses/update.json").BodyForm(params), new(twitter.Tweet))
}

// BannerSnapshot downloads the 1500x500 rendition of the current banner.
// Accounts without a banner, or whose banner URL no longer resolves, yield NoAsset.
func (c *Client) BannerSnapshot(ctx context.Context, profile *domain.TwitterProfile) (domain.Snapshot, error) {
	if profile.ProfileBannerURL == "" {
		return domain.NoAsset(), nil
	}
	return c.snapshot(ctx, "download_banner", profile.ProfileBannerURL+bannerSize)
}

// ProfileImageSnapshot downloads the full-size profile image.
func (c *Client) ProfileImageSnapshot(ctx context.Context, profile *domain.TwitterProfile) (domain.Snapshot, error) {
	if profile.ProfileImageURL == "" {
		return domain.NoAsset(), nil
	}
	return c.snapshot(ctx, "download_profile_image", profile.FullSizeImageURL())
}

func (c *Client) snapshot(ctx context.Context, operation, url string) (snap domain.Snapshot, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe("twitter", operation, start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.download.Do(req)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("twitter %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.NoAsset(), nil
	case resp.StatusCode != http.StatusOK:
		return domain.Snapshot{}, fmt.Errorf("twitter %s: unexpected status %d", operation, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("twitter %s: read body: %w", operation, err)
	}
	return domain.SnapshotOf(body), nil
}

// do sends the request bound to ctx and classifies failures.
func (c *Client) do(ctx context.Context, operation string, s *sling.Sling, success any) (err error) {
	start := time.Now()
	defer func() { c.metrics.Observe("twitter", operation, start, err) }()

	req, err := s.Request()
	if err != nil {
		return fmt.Errorf("failed to build twitter %s request: %w", operation, err)
	}

	apiErr := new(twitter.APIError)
	resp, err := c.api.Do(req.WithContext(ctx), success, apiErr)
	if resp == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("twitter %s: %w", operation, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err != nil {
			return fmt.Errorf("twitter %s: decode response: %w", operation, err)
		}
		return nil
	}
	return classify(operation, resp, apiErr)
}

// classify maps a failed response onto domain errors.
func classify(operation string, resp *http.Response, apiErr *twitter.APIError) error {
	for _, detail := range apiErr.Errors {
		switch detail.Code {
		case codeSuspended:
			return fmt.Errorf("twitter %s: %w", operation, domain.ErrTwitterSuspended)
		case codeLocked:
			return fmt.Errorf("twitter %s: %w", operation, domain.ErrTwitterLocked)
		case codeRateLimited:
			return fmt.Errorf("twitter %s: %w", operation, rateLimitError(resp))
		case codeInvalidToken, codeAuthFailed:
			return fmt.Errorf("twitter %s: %w", operation, domain.ErrTwitterUnauthorized)
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("twitter %s: %w", operation, domain.ErrTwitterUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("twitter %s: %w", operation, rateLimitError(resp))
	}

	if apiErr.Empty() {
		return fmt.Errorf("twitter %s: unexpected status %d", operation, resp.StatusCode)
	}
	return fmt.Errorf("twitter %s: status %d: %w", operation, resp.StatusCode, apiErr)
}

func rateLimitError(resp *http.Response) *domain.RateLimitError {
	rl := &domain.RateLimitError{}
	if epoch, err := strconv.ParseInt(resp.Header.Get("x-rate-limit-reset"), 10, 64); err == nil {
		rl.Reset = time.Unix(epoch, 0)
	}
	return rl
}

// APIErrorCode returns the first Twitter error code carried by err, or 0.
func APIErrorCode(err error) int {
	var apiErr *twitter.APIError
	if errors.As(err, &apiErr) && len(apiErr.Errors) > 0 {
		return apiErr.Errors[0].Code
	}
	return 0
}
