// Command reconcile-all reconciles the EventSub subscriptions of every user with a linked
// Twitch account. Run it after changing APP_DOMAIN or the EventSub secret, or to heal
// subscriptions Twitch revoked.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/streamlux/pulsebanner/internal/adapter/postgres"
	"github.com/streamlux/pulsebanner/internal/adapter/twitch"
	"github.com/streamlux/pulsebanner/internal/app"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/crypto"
	"github.com/streamlux/pulsebanner/internal/platform/retry"
)

type userSource interface {
	LinkedUserIDs(ctx context.Context, provider domain.Provider) ([]uuid.UUID, error)
}

type enabledFeatures interface {
	EnabledFeatures(ctx context.Context, userID uuid.UUID) ([]domain.Feature, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, userID uuid.UUID) (app.ReconcileResult, error)
}

type summary struct {
	Users   int
	Failed  int
	Created int
	Deleted int
}

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		appDomain   = flag.String("domain", os.Getenv("APP_DOMAIN"), "Public domain used in callback URLs (or set APP_DOMAIN env)")
		only        = flag.String("user", "", "Reconcile a single user id")
		dryRun      = flag.Bool("dry-run", false, "List users and their enabled features without calling Twitch")
		attempts    = flag.Int("attempts", 3, "Reconcile attempts per user")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Database URL required (--database or DATABASE_URL env)")
	}
	if *appDomain == "" && !*dryRun {
		log.Fatal("Domain required (--domain or APP_DOMAIN env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	slog.Info("Connected to database", "url", sanitizeURL(*databaseURL))

	cryptoSvc, err := crypto.New(os.Getenv("TOKEN_ENCRYPTION_KEY"))
	if err != nil {
		log.Fatalf("Failed to create crypto service: %v", err)
	}
	accounts := postgres.NewAccountRepo(pool, cryptoSvc)
	features := postgres.NewFeatureRepo(pool)

	var users userSource = accounts
	if *only != "" {
		id, err := uuid.Parse(*only)
		if err != nil {
			log.Fatalf("Invalid --user: %v", err)
		}
		users = singleUser(id)
	}

	var rec reconciler
	if !*dryRun {
		clientID := os.Getenv("TWITCH_CLIENT_ID")
		tokens := twitch.NewAppTokenCache(clientID, os.Getenv("TWITCH_CLIENT_SECRET"), clockwork.NewRealClock())
		helix := twitch.NewClient(clientID, tokens, os.Getenv("EVENTSUB_SECRET"))
		rec = app.NewReconciler(accounts, features, helix, *appDomain, nil)
	}

	policy := retry.Policy{
		MaxAttempts:      *attempts,
		InitialBackoff:   time.Second,
		RateLimitBackoff: 30 * time.Second,
		MaxBackoff:       time.Minute,
	}
	sum, err := reconcileAll(ctx, users, features, rec, policy)
	if err != nil {
		log.Fatalf("Reconcile failed: %v", err)
	}
	if sum.Failed > 0 {
		os.Exit(1)
	}
}

// reconcileAll runs rec for every linked user. A nil rec only logs what would be reconciled.
// A failed user is reconciled again per policy, which re-diffs and picks up where the
// last attempt stopped. Per-user failures are logged and counted; only failing to list
// users is returned.
func reconcileAll(ctx context.Context, users userSource, features enabledFeatures, rec reconciler, policy retry.Policy) (summary, error) {
	start := time.Now()
	ids, err := users.LinkedUserIDs(ctx, domain.ProviderTwitch)
	if err != nil {
		return summary{}, fmt.Errorf("listing users: %w", err)
	}

	slog.Info("Starting reconcile", "users", len(ids), "dry_run", rec == nil)

	var sum summary
	for _, id := range ids {
		sum.Users++

		if rec == nil {
			enabled, err := features.EnabledFeatures(ctx, id)
			if err != nil {
				slog.Warn("Failed to load enabled features", "user_id", id, "error", err)
				sum.Failed++
				continue
			}
			slog.Info("Would reconcile", "user_id", id, "features", enabled, "event_types", domain.RequiredEventTypes(enabled))
			continue
		}

		p := policy
		p.OnRetry = func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Reconcile failed, retrying", "user_id", id, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
		}
		res, err := retry.Do(ctx, p, classifyReconcileError, func() (app.ReconcileResult, error) {
			res, err := rec.Reconcile(ctx, id)
			sum.Created += res.Created
			sum.Deleted += res.Deleted
			return res, err
		})
		if err != nil {
			slog.Warn("Reconcile failed", "user_id", id, "error", err)
			sum.Failed++
			continue
		}
		slog.Debug("Reconciled", "user_id", id, "kept", res.Kept, "created", res.Created, "deleted", res.Deleted)
	}

	slog.Info("Reconcile summary",
		"users", sum.Users,
		"failed", sum.Failed,
		"created", sum.Created,
		"deleted", sum.Deleted,
		"duration_ms", time.Since(start).Milliseconds())

	return sum, nil
}

// classifyReconcileError gives up on users that cannot be fixed by trying again.
func classifyReconcileError(err error) retry.Action {
	if errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, context.Canceled) {
		return retry.Stop
	}
	var apiErr *twitch.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return retry.After
		case apiErr.StatusCode < 500:
			return retry.Stop
		}
	}
	return retry.Retry
}

type singleUser uuid.UUID

func (s singleUser) LinkedUserIDs(context.Context, domain.Provider) ([]uuid.UUID, error) {
	return []uuid.UUID{uuid.UUID(s)}, nil
}

// sanitizeURL hides the password of a connection URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
