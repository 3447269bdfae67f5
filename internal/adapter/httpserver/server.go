package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/app"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/config"
)

type featureService interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (domain.Settings, error)
	SetEnabled(ctx context.Context, userID uuid.UUID, feature domain.Feature, enabled bool) (app.ReconcileResult, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (app.ReconcileResult, error)
	UpdateBanner(ctx context.Context, userID uuid.UUID, in domain.BannerSettings) (*domain.BannerSettings, error)
	UpdateProfileImage(ctx context.Context, userID uuid.UUID, in domain.ProfileImageSettings) (*domain.ProfileImageSettings, error)
	UpdateTwitterName(ctx context.Context, userID uuid.UUID, in domain.TwitterNameSettings) (*domain.TwitterNameSettings, error)
	UpdateTweet(ctx context.Context, userID uuid.UUID, in domain.TweetSettings) (*domain.TweetSettings, error)
}

type featureTrigger interface {
	Trigger(ctx context.Context, userID uuid.UUID, feature domain.Feature, eventType domain.EventType) (domain.FeatureOutcome, error)
}

type userLookup interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Dependencies are the services the HTTP layer calls into.
type Dependencies struct {
	Features     featureService
	Trigger      featureTrigger
	Users        userLookup
	Webhook      echo.HandlerFunc
	Registry     *prometheus.Registry
	HealthChecks []HealthCheck
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	features featureService
	trigger  featureTrigger
	users    userLookup
	webhook  echo.HandlerFunc

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		features:     deps.Features,
		trigger:      deps.Trigger,
		users:        deps.Users,
		webhook:      deps.Webhook,
		registry:     deps.Registry,
		httpMetrics:  metrics.NewHTTPMetrics(deps.Registry),
		sessionStore: newSessionStore(cfg),
		healthChecks: deps.HealthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// The session cookie is issued by the web front-end with the shared secret.
const (
	sessionName      = "pulsebanner-session"
	sessionKeyUserID = "user_id"
	sessionMaxAge    = 30 * 24 * time.Hour
)

func newSessionStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.MaxAge(int(sessionMaxAge.Seconds()))
	store.Options.HttpOnly = true
	store.Options.Secure = cfg.IsProduction()
	store.Options.SameSite = http.SameSiteLaxMode
	return store
}
