package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
	// Tokens are refreshed this long before Twitch would reject them.
	tokenExpiryMargin = time.Minute
)

// AppTokenCache owns the app access token used for Helix calls. It fetches a token
// with the client-credentials grant, reuses it until shortly before expiry, and
// can be invalidated when Twitch rejects it.
type AppTokenCache struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	clock      clockwork.Clock

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

type AppTokenOption func(*AppTokenCache)

// WithTokenURL overrides the Twitch token endpoint.
func WithTokenURL(url string) AppTokenOption {
	return func(c *AppTokenCache) { c.cfg.TokenURL = url }
}

func WithTokenHTTPClient(client *http.Client) AppTokenOption {
	return func(c *AppTokenCache) { c.httpClient = client }
}

func NewAppTokenCache(clientID, clientSecret string, clock clockwork.Clock, opts ...AppTokenOption) *AppTokenCache {
	c := &AppTokenCache{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     defaultTokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      clock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid app access token, fetching a new one if needed.
// Concurrent callers share a single fetch.
func (c *AppTokenCache) Token(ctx context.Context) (string, error) {
	if tok := c.cached(); tok != "" {
		return tok, nil
	}

	v, err, _ := c.group.Do("app-token", func() (any, error) {
		if tok := c.cached(); tok != "" {
			return tok, nil
		}

		fetchCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
		token, err := c.cfg.Token(fetchCtx)
		if err != nil {
			return "", fmt.Errorf("failed to fetch twitch app token: %w", err)
		}

		// Expiry from the oauth2 package is wall-clock based; recompute on our clock.
		if token.ExpiresIn > 0 {
			token.Expiry = c.clock.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		}

		c.mu.Lock()
		c.token = token
		c.mu.Unlock()

		slog.Debug("Fetched Twitch app access token", "expires_at", token.Expiry)
		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (c *AppTokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

func (c *AppTokenCache) cached() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.token.AccessToken == "" {
		return ""
	}
	if !c.token.Expiry.IsZero() && !c.clock.Now().Add(tokenExpiryMargin).Before(c.token.Expiry) {
		return ""
	}
	return c.token.AccessToken
}
