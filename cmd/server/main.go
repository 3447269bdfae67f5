package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/streamlux/pulsebanner/internal/adapter/discord"
	"github.com/streamlux/pulsebanner/internal/adapter/httpserver"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/adapter/postgres"
	"github.com/streamlux/pulsebanner/internal/adapter/redis"
	"github.com/streamlux/pulsebanner/internal/adapter/render"
	"github.com/streamlux/pulsebanner/internal/adapter/storage"
	"github.com/streamlux/pulsebanner/internal/adapter/twitch"
	"github.com/streamlux/pulsebanner/internal/adapter/twitter"
	"github.com/streamlux/pulsebanner/internal/app"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/config"
	"github.com/streamlux/pulsebanner/internal/platform/crypto"
	"github.com/streamlux/pulsebanner/internal/platform/logging"
	"github.com/streamlux/pulsebanner/internal/platform/version"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(ctx context.Context, cfg *config.Config, m *metrics.UpstreamMetrics) *pgxpool.Pool {
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.WithMetrics(m))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.UpstreamMetrics) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.WithMetrics(m))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupStorage(ctx context.Context, cfg *config.Config, m *metrics.UpstreamMetrics) *storage.AssetStore {
	store, err := storage.Connect(ctx, storage.Options{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
	}, m)
	if err != nil {
		slog.Error("Failed to connect to object storage", "error", err)
		os.Exit(1)
	}
	return store
}

// setupNotifier falls back to logging alerts when no Discord webhook is configured.
func setupNotifier(cfg *config.Config, m *metrics.UpstreamMetrics) domain.Notifier {
	if cfg.DiscordWebhookURL == "" {
		slog.Info("DISCORD_WEBHOOK_URL not set, alerts go to the log only")
		return discord.LogNotifier{}
	}
	notifier, err := discord.NewNotifier(cfg.DiscordWebhookURL, m)
	if err != nil {
		slog.Error("Failed to create Discord notifier", "error", err)
		os.Exit(1)
	}
	return notifier
}

func instanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func runGracefulShutdown(srv *httpserver.Server, webhook *twitch.WebhookHandler, scheduler *app.Scheduler) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		scheduler.Stop()

		// Twitch already got its 200; let running features finish.
		if err := webhook.Wait(shutdownCtx); err != nil {
			slog.Error("Abandoning in-flight dispatches", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStartup()

	reg := metrics.NewRegistry()
	upstream := metrics.NewUpstreamMetrics(reg)

	pool := setupDB(startupCtx, cfg, upstream)
	defer pool.Close()

	redisClient := setupRedis(startupCtx, cfg, upstream)
	defer func() { _ = redisClient.Close() }()

	assets := setupStorage(startupCtx, cfg, upstream)

	cryptoSvc, err := crypto.New(cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}

	// Repositories
	accounts := postgres.NewAccountRepo(pool, cryptoSvc)
	features := postgres.NewFeatureRepo(pool)
	streams := postgres.NewStreamRepo(pool)
	names := postgres.NewOriginalNameRepo(pool)
	renders := postgres.NewRenderCacheRepo(pool)

	// Upstream clients
	tokens := twitch.NewAppTokenCache(cfg.TwitchClientID, cfg.TwitchClientSecret, clock)
	helix := twitch.NewClient(cfg.TwitchClientID, tokens, cfg.EventSubSecret, twitch.WithMetrics(upstream))
	twitterClients := twitter.NewFactory(cfg.TwitterConsumerKey, cfg.TwitterConsumerSecret, twitter.WithMetrics(upstream))
	renderer := render.NewClient(cfg.RemotionURL, render.WithMetrics(upstream))
	notifier := setupNotifier(cfg, upstream)

	// Application services
	reconciler := app.NewReconciler(accounts, features, helix, cfg.AppDomain, metrics.NewReconcileMetrics(reg))
	featureSvc := app.NewFeatureService(features, reconciler, clock)

	banner := app.NewBannerExecutor(accounts, twitterClients, featureSvc, features, assets, renderer, helix)
	dispatcher := app.NewDispatcher(features, streams, notifier, clock,
		banner,
		app.NewNameExecutor(accounts, twitterClients, featureSvc, features, names),
		app.NewProfileImageExecutor(accounts, twitterClients, featureSvc, features, assets, renderer, renders, clock),
		app.NewTweetExecutor(accounts, twitterClients, featureSvc, features, helix),
	)

	// Must exceed the shortest tick interval or the leader loses the lease between ticks.
	leaseTTL := 2 * min(cfg.ProfessionalRefreshInterval, cfg.PersonalRefreshInterval)
	scheduler := app.NewScheduler(streams, banner, clock,
		cfg.ProfessionalRefreshInterval, cfg.PersonalRefreshInterval, metrics.NewSchedulerMetrics(reg),
		app.WithLease(redis.NewLease(redisClient, "banner-scheduler", instanceID(), leaseTTL)))

	webhook := twitch.NewWebhookHandler(cfg.EventSubSecret, dispatcher, redis.NewMessageDedup(redisClient), metrics.NewWebhookMetrics(reg))

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Features: featureSvc,
		Trigger:  dispatcher,
		Users:    accounts,
		Webhook:  webhook.Handle,
		Registry: reg,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
			{Name: "storage", Check: assets.Ping},
		},
	})
	metrics.RegisterBuildInfo(reg, version.Get())

	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(context.Background())
		close(schedulerDone)
	}()

	done := runGracefulShutdown(srv, webhook, scheduler)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	<-schedulerDone
	slog.Info("Shutdown complete")
}
