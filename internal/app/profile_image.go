package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/streamlux/pulsebanner/internal/domain"
)

// ProfileImageExecutor swaps the profile picture for a rendered live version.
// Renders are cached until the user edits their settings.
type ProfileImageExecutor struct {
	executorBase
	features domain.FeatureRepository
	assets   domain.AssetStore
	renderer domain.Renderer
	renders  domain.RenderCacheRepository
	clock    clockwork.Clock
}

func NewProfileImageExecutor(accounts domain.AccountRepository, twitter domain.TwitterClientFactory, disabler featureDisabler,
	features domain.FeatureRepository, assets domain.AssetStore, renderer domain.Renderer, renders domain.RenderCacheRepository, clock clockwork.Clock) *ProfileImageExecutor {
	return &ProfileImageExecutor{
		executorBase: executorBase{feature: domain.FeatureProfileImage, accounts: accounts, twitter: twitter, disabler: disabler},
		features:     features,
		assets:       assets,
		renderer:     renderer,
		renders:      renders,
		clock:        clock,
	}
}

// StreamUp saves the current picture as the original and uploads the live picture,
// reusing the cached render while the settings are unchanged.
func (e *ProfileImageExecutor) StreamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.streamUp(ctx, userID)
	return e.finish(ctx, userID, "streamup", out, err)
}

func (e *ProfileImageExecutor) streamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	settings, err := e.features.GetProfileImage(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	client, profile, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	err = keepOriginal(ctx, e.assets, domain.SnapshotProfileImage, userID, func() (domain.Snapshot, error) {
		snap, err := client.ProfileImageSnapshot(ctx, profile)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("failed to snapshot profile image: %w", err)
		}
		return snap, nil
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	image, err := e.liveImage(ctx, userID, settings, profile)
	if err != nil {
		return domain.Outcome{}, err
	}
	if err := client.UpdateProfileImage(ctx, image); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Succeeded("profile image updated"), nil
}

// liveImage returns the cached render when it is at least as new as the settings,
// and renders and caches a fresh one otherwise.
func (e *ProfileImageExecutor) liveImage(ctx context.Context, userID uuid.UUID, settings *domain.ProfileImageSettings, profile *domain.TwitterProfile) ([]byte, error) {
	renderedAt, ok, err := e.renders.RenderedAt(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok && !renderedAt.Before(settings.UpdatedAt) {
		cached, err := e.assets.GetRenderedProfileImage(ctx, userID)
		if err == nil {
			slog.DebugContext(ctx, "Using cached profile image render", "user_id", userID, "rendered_at", renderedAt)
			return cached, nil
		}
		if !errors.Is(err, domain.ErrRenderNotFound) {
			return nil, err
		}
	}

	props := maps.Clone(settings.ForegroundProps)
	if props == nil {
		props = map[string]any{}
	}
	props["imageUrl"] = profile.FullSizeImageURL()

	image, err := e.renderer.Render(ctx, domain.RenderRequest{
		Template:        domain.TemplateProfileImage,
		ForegroundID:    settings.ForegroundID,
		BackgroundID:    settings.BackgroundID,
		ForegroundProps: props,
		BackgroundProps: settings.BackgroundProps,
	})
	if err != nil {
		return nil, err
	}

	if err := e.assets.PutRenderedProfileImage(ctx, userID, image); err != nil {
		return nil, err
	}
	if err := e.renders.SetRenderedAt(ctx, userID, e.clock.Now()); err != nil {
		return nil, err
	}
	return image, nil
}

func (e *ProfileImageExecutor) StreamDown(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.streamDown(ctx, userID)
	return e.finish(ctx, userID, "streamdown", out, err)
}

func (e *ProfileImageExecutor) streamDown(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	client, _, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	snap, err := e.assets.LoadSnapshot(ctx, domain.SnapshotProfileImage, userID)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return domain.Failed("no original profile image saved"), nil
	}
	if err != nil {
		return domain.Outcome{}, err
	}

	original, ok := snap.Asset()
	if !ok {
		markRestored(ctx, e.assets, domain.SnapshotProfileImage, userID)
		return domain.Succeeded("no original profile image to restore"), nil
	}
	if err := client.UpdateProfileImage(ctx, original); err != nil {
		return domain.Outcome{}, err
	}
	markRestored(ctx, e.assets, domain.SnapshotProfileImage, userID)
	return domain.Succeeded("original profile image restored"), nil
}
