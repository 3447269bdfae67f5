package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
)

// ReconcileResult counts what one reconciliation did.
type ReconcileResult struct {
	Kept    int `json:"kept"`
	Created int `json:"created"`
	Deleted int `json:"deleted"`
}

// Reconciler makes a user's Twitch EventSub subscriptions match the event types
// their enabled features need. It never stores subscriptions; Twitch is the source of truth.
type Reconciler struct {
	accounts  domain.AccountRepository
	features  domain.FeatureRepository
	eventsub  domain.EventSubClient
	appDomain string
	metrics   *metrics.ReconcileMetrics
}

// NewReconciler creates a Reconciler. Callbacks are registered under appDomain and m may be nil.
func NewReconciler(accounts domain.AccountRepository, features domain.FeatureRepository, eventsub domain.EventSubClient, appDomain string, m *metrics.ReconcileMetrics) *Reconciler {
	return &Reconciler{
		accounts:  accounts,
		features:  features,
		eventsub:  eventsub,
		appDomain: appDomain,
		metrics:   m,
	}
}

// CallbackURL is where Twitch delivers notifications of type t for the user.
func CallbackURL(appDomain string, t domain.EventType, userID uuid.UUID) string {
	return fmt.Sprintf("https://%s/api/twitch/notification/%s/%s", appDomain, t, userID)
}

// Reconcile deletes subscriptions that are not needed (disabled, duplicate, or of a stale type)
// and creates the missing ones. Individual failures do not stop the others; they are joined
// into the returned error. A later call heals whatever this one left behind.
func (r *Reconciler) Reconcile(ctx context.Context, userID uuid.UUID) (result ReconcileResult, err error) {
	defer func() { r.metrics.ObserveRun(err) }()

	account, err := r.accounts.GetAccount(ctx, userID, domain.ProviderTwitch)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to load twitch account: %w", err)
	}
	broadcasterID := account.ProviderAccountID

	enabled, err := r.features.EnabledFeatures(ctx, userID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to load enabled features: %w", err)
	}
	needed := domain.RequiredEventTypes(enabled)

	all, err := r.eventsub.ListSubscriptions(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}

	toDelete, toCreate, kept := plan(needed, forBroadcaster(all, broadcasterID))
	result.Kept = kept

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, sub := range toDelete {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.eventsub.DeleteSubscription(ctx, sub.ID)
			r.metrics.ObserveChange("delete", err)
			if err != nil {
				record(fmt.Errorf("delete %s subscription %s: %w", sub.Type, sub.ID, err))
				return
			}
			mu.Lock()
			result.Deleted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, t := range toCreate {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.eventsub.CreateSubscription(ctx, domain.EventSubRequest{
				Type:              t,
				BroadcasterUserID: broadcasterID,
				Callback:          CallbackURL(r.appDomain, t, userID),
			})
			r.metrics.ObserveChange("create", err)
			if err != nil {
				record(fmt.Errorf("create %s subscription: %w", t, err))
				return
			}
			mu.Lock()
			result.Created++
			mu.Unlock()
		}()
	}
	wg.Wait()

	err = errors.Join(errs...)
	if err != nil {
		slog.WarnContext(ctx, "EventSub reconciliation incomplete",
			"user_id", userID, "kept", result.Kept, "created", result.Created, "deleted", result.Deleted, "error", err)
		return result, err
	}

	slog.InfoContext(ctx, "EventSub reconciled",
		"user_id", userID, "kept", result.Kept, "created", result.Created, "deleted", result.Deleted)
	return result, nil
}

func forBroadcaster(subs []domain.EventSubSubscription, broadcasterID string) []domain.EventSubSubscription {
	var mine []domain.EventSubSubscription
	for _, s := range subs {
		if s.BroadcasterUserID == broadcasterID {
			mine = append(mine, s)
		}
	}
	return mine
}

// plan keeps the first enabled subscription of each needed type. Everything else of
// the user's goes, and needed types without a kept subscription get created.
func plan(needed []domain.EventType, existing []domain.EventSubSubscription) (toDelete []domain.EventSubSubscription, toCreate []domain.EventType, kept int) {
	keep := make(map[domain.EventType]string, len(needed))
	for _, s := range existing {
		if _, done := keep[s.Type]; done {
			continue
		}
		if s.Enabled() && slices.Contains(needed, s.Type) {
			keep[s.Type] = s.ID
		}
	}

	for _, s := range existing {
		if keep[s.Type] != s.ID {
			toDelete = append(toDelete, s)
		}
	}
	for _, t := range needed {
		if _, ok := keep[t]; !ok {
			toCreate = append(toCreate, t)
		}
	}
	return toDelete, toCreate, len(keep)
}
