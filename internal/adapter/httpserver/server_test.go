package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streamlux/pulsebanner/internal/app"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/config"
	"github.com/stretchr/testify/require"
)

const testSessionSecret = "test-secret-key-32-bytes-long!!!"

// --- Mock implementations ---

type mockFeatureService struct {
	getSettingsFn        func(ctx context.Context, userID uuid.UUID) (domain.Settings, error)
	setEnabledFn         func(ctx context.Context, userID uuid.UUID, feature domain.Feature, enabled bool) (app.ReconcileResult, error)
	reconcileFn          func(ctx context.Context, userID uuid.UUID) (app.ReconcileResult, error)
	updateBannerFn       func(ctx context.Context, userID uuid.UUID, in domain.BannerSettings) (*domain.BannerSettings, error)
	updateProfileImageFn func(ctx context.Context, userID uuid.UUID, in domain.ProfileImageSettings) (*domain.ProfileImageSettings, error)
	updateTwitterNameFn  func(ctx context.Context, userID uuid.UUID, in domain.TwitterNameSettings) (*domain.TwitterNameSettings, error)
	updateTweetFn        func(ctx context.Context, userID uuid.UUID, in domain.TweetSettings) (*domain.TweetSettings, error)
}

func (m *mockFeatureService) GetSettings(ctx context.Context, userID uuid.UUID) (domain.Settings, error) {
	if m.getSettingsFn != nil {
		return m.getSettingsFn(ctx, userID)
	}
	return domain.Settings{
		Banner:       &domain.BannerSettings{},
		TwitterName:  &domain.TwitterNameSettings{},
		ProfileImage: &domain.ProfileImageSettings{},
		Tweet:        &domain.TweetSettings{Content: app.DefaultTweet},
	}, nil
}

func (m *mockFeatureService) SetEnabled(ctx context.Context, userID uuid.UUID, feature domain.Feature, enabled bool) (app.ReconcileResult, error) {
	if m.setEnabledFn != nil {
		return m.setEnabledFn(ctx, userID, feature, enabled)
	}
	return app.ReconcileResult{}, nil
}

func (m *mockFeatureService) Reconcile(ctx context.Context, userID uuid.UUID) (app.ReconcileResult, error) {
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx, userID)
	}
	return app.ReconcileResult{}, nil
}

func (m *mockFeatureService) UpdateBanner(ctx context.Context, userID uuid.UUID, in domain.BannerSettings) (*domain.BannerSettings, error) {
	if m.updateBannerFn != nil {
		return m.updateBannerFn(ctx, userID, in)
	}
	return &in, nil
}

func (m *mockFeatureService) UpdateProfileImage(ctx context.Context, userID uuid.UUID, in domain.ProfileImageSettings) (*domain.ProfileImageSettings, error) {
	if m.updateProfileImageFn != nil {
		return m.updateProfileImageFn(ctx, userID, in)
	}
	return &in, nil
}

func (m *mockFeatureService) UpdateTwitterName(ctx context.Context, userID uuid.UUID, in domain.TwitterNameSettings) (*domain.TwitterNameSettings, error) {
	if m.updateTwitterNameFn != nil {
		return m.updateTwitterNameFn(ctx, userID, in)
	}
	return &in, nil
}

func (m *mockFeatureService) UpdateTweet(ctx context.Context, userID uuid.UUID, in domain.TweetSettings) (*domain.TweetSettings, error) {
	if m.updateTweetFn != nil {
		return m.updateTweetFn(ctx, userID, in)
	}
	return &in, nil
}

type mockTrigger struct {
	triggerFn func(ctx context.Context, userID uuid.UUID, feature domain.Feature, eventType domain.EventType) (domain.FeatureOutcome, error)
}

func (m *mockTrigger) Trigger(ctx context.Context, userID uuid.UUID, feature domain.Feature, eventType domain.EventType) (domain.FeatureOutcome, error) {
	if m.triggerFn != nil {
		return m.triggerFn(ctx, userID, feature, eventType)
	}
	return domain.FeatureOutcome{Feature: feature, Outcome: domain.Succeeded("ok")}, nil
}

type mockUsers struct {
	getUserFn func(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

func (m *mockUsers) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, userID)
	}
	return &domain.User{ID: userID, Plan: domain.PlanFree}, nil
}

// --- Test server ---

type testServerOptions struct {
	features     *mockFeatureService
	trigger      *mockTrigger
	users        *mockUsers
	webhook      echo.HandlerFunc
	healthChecks []HealthCheck
}

func newTestServer(t *testing.T, opts testServerOptions) *Server {
	t.Helper()

	if opts.features == nil {
		opts.features = &mockFeatureService{}
	}
	if opts.trigger == nil {
		opts.trigger = &mockTrigger{}
	}
	if opts.users == nil {
		opts.users = &mockUsers{}
	}
	if opts.webhook == nil {
		opts.webhook = func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	}

	cfg := &config.Config{AppEnv: "development", Port: "0", SessionSecret: testSessionSecret}
	return NewServer(cfg, Dependencies{
		Features:     opts.features,
		Trigger:      opts.trigger,
		Users:        opts.users,
		Webhook:      opts.webhook,
		Registry:     prometheus.NewRegistry(),
		HealthChecks: opts.healthChecks,
	})
}

// sessionCookie builds a cookie the way the web front-end issues it.
func sessionCookie(t *testing.T, values map[any]any) *http.Cookie {
	t.Helper()

	store := sessions.NewCookieStore([]byte(testSessionSecret))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	session, err := store.Get(req, sessionName)
	require.NoError(t, err)
	for k, v := range values {
		session.Values[k] = v
	}
	require.NoError(t, session.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func userCookie(t *testing.T, userID uuid.UUID) *http.Cookie {
	return sessionCookie(t, map[any]any{sessionKeyUserID: userID.String()})
}

func doRequest(t *testing.T, srv *Server, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "10.0.0.1:1234"
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

var errBoom = errors.New("boom")

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
