package app

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/domain"
)

// BannerExecutor swaps the Twitter banner for a rendered live banner and restores the original afterwards.
type BannerExecutor struct {
	executorBase
	features domain.FeatureRepository
	assets   domain.AssetStore
	renderer domain.Renderer
	streams  domain.StreamLookup
}

// NewBannerExecutor creates the banner feature executor.
func NewBannerExecutor(accounts domain.AccountRepository, twitter domain.TwitterClientFactory, disabler featureDisabler,
	features domain.FeatureRepository, assets domain.AssetStore, renderer domain.Renderer, streams domain.StreamLookup) *BannerExecutor {
	return &BannerExecutor{
		executorBase: executorBase{feature: domain.FeatureBanner, accounts: accounts, twitter: twitter, disabler: disabler},
		features:     features,
		assets:       assets,
		renderer:     renderer,
		streams:      streams,
	}
}

// StreamUp saves the current banner as the original and uploads the rendered live banner.
func (e *BannerExecutor) StreamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.streamUp(ctx, userID)
	return e.finish(ctx, userID, "streamup", out, err)
}

func (e *BannerExecutor) streamUp(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	settings, err := e.features.GetBanner(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	broadcasterID, err := e.twitchAccountID(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	client, profile, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	err = keepOriginal(ctx, e.assets, domain.SnapshotBanner, userID, func() (domain.Snapshot, error) {
		snap, err := client.BannerSnapshot(ctx, profile)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("failed to snapshot banner: %w", err)
		}
		return snap, nil
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	// Helix can lag behind the online notification; render without a thumbnail then.
	stream, err := e.streams.GetStream(ctx, broadcasterID)
	if err != nil && !errors.Is(err, domain.ErrStreamNotLive) {
		return domain.Outcome{}, err
	}

	image, err := e.render(ctx, settings, broadcasterID, stream)
	if err != nil {
		return domain.Outcome{}, err
	}
	if err := client.UpdateBanner(ctx, image); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Succeeded("banner updated"), nil
}

func (e *BannerExecutor) StreamDown(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.streamDown(ctx, userID)
	return e.finish(ctx, userID, "streamdown", out, err)
}

func (e *BannerExecutor) streamDown(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	client, _, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}

	snap, err := e.assets.LoadSnapshot(ctx, domain.SnapshotBanner, userID)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return domain.Failed("no original banner saved"), nil
	}
	if err != nil {
		return domain.Outcome{}, err
	}

	original, ok := snap.Asset()
	if !ok {
		if err := client.RemoveBanner(ctx); err != nil {
			return domain.Outcome{}, err
		}
		markRestored(ctx, e.assets, domain.SnapshotBanner, userID)
		return domain.Succeeded("banner removed"), nil
	}
	if err := client.UpdateBanner(ctx, original); err != nil {
		return domain.Outcome{}, err
	}
	markRestored(ctx, e.assets, domain.SnapshotBanner, userID)
	return domain.Succeeded("original banner restored"), nil
}

// Refresh re-renders and uploads the live banner without touching the saved original.
// It does nothing unless the feature is enabled and the stream is live.
func (e *BannerExecutor) Refresh(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	out, err := e.refresh(ctx, userID)
	return e.finish(ctx, userID, "refresh", out, err)
}

func (e *BannerExecutor) refresh(ctx context.Context, userID uuid.UUID) (domain.Outcome, error) {
	settings, err := e.features.GetBanner(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !settings.Enabled {
		return domain.Failed("banner feature disabled"), nil
	}
	broadcasterID, err := e.twitchAccountID(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	stream, err := e.streams.GetStream(ctx, broadcasterID)
	if errors.Is(err, domain.ErrStreamNotLive) {
		return domain.Failed("stream is not live"), nil
	}
	if err != nil {
		return domain.Outcome{}, err
	}

	client, _, err := e.connect(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	image, err := e.render(ctx, settings, broadcasterID, stream)
	if err != nil {
		return domain.Outcome{}, err
	}
	if err := client.UpdateBanner(ctx, image); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Succeeded("banner refreshed"), nil
}

// render merges the live stream details into the foreground props. stream may be nil.
func (e *BannerExecutor) render(ctx context.Context, settings *domain.BannerSettings, broadcasterID string, stream *domain.Stream) ([]byte, error) {
	props := maps.Clone(settings.ForegroundProps)
	if props == nil {
		props = map[string]any{}
	}

	if stream != nil {
		props["thumbnailUrl"] = stream.ThumbnailURL
		props["twitchUsername"] = stream.UserName
		props["streamTitle"] = stream.Title
	} else {
		user, err := e.streams.GetUser(ctx, broadcasterID)
		if err != nil {
			return nil, err
		}
		props["twitchUsername"] = user.DisplayName
	}

	return e.renderer.Render(ctx, domain.RenderRequest{
		Template:        domain.TemplateBanner,
		ForegroundID:    settings.ForegroundID,
		BackgroundID:    settings.BackgroundID,
		ForegroundProps: props,
		BackgroundProps: settings.BackgroundProps,
	})
}
