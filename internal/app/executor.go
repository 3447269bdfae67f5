package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/domain"
)

// Executor applies one feature when a stream goes live and reverts it when the stream ends.
// A Failed outcome with a nil error is an expected failure (missing account, rejected
// credentials, no saved original). A non-nil error is unexpected and gets alerted.
type Executor interface {
	Feature() domain.Feature
	StreamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error)
	StreamDown(ctx context.Context, userID uuid.UUID) (domain.Outcome, error)
}

type featureDisabler interface {
	Disable(ctx context.Context, userID uuid.UUID, features ...domain.Feature) error
}

// executorBase holds what every feature needs to act on a Twitter account.
type executorBase struct {
	feature  domain.Feature
	accounts domain.AccountRepository
	twitter  domain.TwitterClientFactory
	disabler featureDisabler
}

func (b *executorBase) Feature() domain.Feature {
	return b.feature
}

// connect builds a client from the user's linked Twitter account and verifies it.
func (b *executorBase) connect(ctx context.Context, userID uuid.UUID) (domain.TwitterClient, *domain.TwitterProfile, error) {
	account, err := b.accounts.GetAccount(ctx, userID, domain.ProviderTwitter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load twitter account: %w", err)
	}

	client := b.twitter.ForUser(domain.TwitterCredentials{
		AccountID: account.ProviderAccountID,
		Token:     account.OAuthToken,
		Secret:    account.OAuthTokenSecret,
	})
	profile, err := client.VerifyCredentials(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, profile, nil
}

// twitchAccountID returns the user's Twitch broadcaster id.
func (b *executorBase) twitchAccountID(ctx context.Context, userID uuid.UUID) (string, error) {
	account, err := b.accounts.GetAccount(ctx, userID, domain.ProviderTwitch)
	if err != nil {
		return "", fmt.Errorf("failed to load twitch account: %w", err)
	}
	return account.ProviderAccountID, nil
}

// keepOriginal saves the current asset unless an earlier streamup's snapshot is
// still waiting for its streamdown. By then Twitter shows the live image, and
// overwriting the snapshot would lose the real original.
func keepOriginal(ctx context.Context, assets domain.AssetStore, kind domain.SnapshotKind, userID uuid.UUID,
	take func() (domain.Snapshot, error)) error {
	pending, err := assets.PendingSnapshot(ctx, kind, userID)
	if err != nil {
		return err
	}
	if pending {
		slog.InfoContext(ctx, "Keeping unrestored original", "user_id", userID, "snapshot", string(kind))
		return nil
	}

	snap, err := take()
	if err != nil {
		return err
	}
	return assets.SaveSnapshot(ctx, kind, userID, snap)
}

// markRestored records a finished restore so the next streamup snapshots again.
// The restore already happened, so a failure is only logged.
func markRestored(ctx context.Context, assets domain.AssetStore, kind domain.SnapshotKind, userID uuid.UUID) {
	if err := assets.MarkRestored(ctx, kind, userID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark snapshot restored", "user_id", userID, "snapshot", string(kind), "error", err)
	}
}

// finish turns the expected failure modes into Failed outcomes and applies their side effects.
// Rejected credentials disable this feature; a suspended or locked account disables all of them.
func (b *executorBase) finish(ctx context.Context, userID uuid.UUID, action string, out domain.Outcome, err error) (domain.Outcome, error) {
	if err == nil {
		return out, nil
	}

	log := slog.With("user_id", userID, "feature", b.feature.String(), "action", action)
	var rateLimit *domain.RateLimitError

	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		log.InfoContext(ctx, "Linked account missing", "error", err)
		return domain.Failed("account not linked"), nil

	case errors.Is(err, domain.ErrSettingsNotFound):
		return domain.Failed(b.feature.String() + " settings not found"), nil

	case errors.Is(err, domain.ErrTwitterUnauthorized):
		log.WarnContext(ctx, "Twitter credentials rejected, disabling feature", "error", err)
		if derr := b.disabler.Disable(ctx, userID, b.feature); derr != nil {
			log.ErrorContext(ctx, "Failed to disable feature", "error", derr)
		}
		return domain.Failed("twitter authentication failed"), nil

	case domain.IsAccountDisabled(err):
		log.WarnContext(ctx, "Twitter account unusable, disabling all features", "error", err)
		if derr := b.disabler.Disable(ctx, userID, domain.AllFeatures...); derr != nil {
			log.ErrorContext(ctx, "Failed to disable features", "error", derr)
		}
		return domain.Failed("twitter account suspended or locked"), nil

	case errors.As(err, &rateLimit):
		log.WarnContext(ctx, "Twitter rate limit hit", "reset", rateLimit.Reset)
		return domain.Failed("twitter rate limit exceeded"), nil
	}

	return domain.Failed(fmt.Sprintf("%s %s failed", b.feature, action)), err
}
