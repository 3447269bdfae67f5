package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/streamlux/pulsebanner/internal/domain"
)

// ErrReconcileFailed is returned by SetEnabled when the flag was stored but EventSub
// could not be brought in line with it.
var ErrReconcileFailed = errors.New("feature saved but reconcile failed")

type reconciler interface {
	Reconcile(ctx context.Context, userID uuid.UUID) (ReconcileResult, error)
}

// FeatureService toggles features and edits their settings. Every change to the
// set of enabled features is followed by an EventSub reconciliation.
type FeatureService struct {
	features   domain.FeatureRepository
	reconciler reconciler
	clock      clockwork.Clock
}

// NewFeatureService creates the service. reconciler runs after every toggle.
func NewFeatureService(features domain.FeatureRepository, reconciler reconciler, clock clockwork.Clock) *FeatureService {
	return &FeatureService{features: features, reconciler: reconciler, clock: clock}
}

// EnabledFeatures lists the features the user has switched on.
func (s *FeatureService) EnabledFeatures(ctx context.Context, userID uuid.UUID) ([]domain.Feature, error) {
	return s.features.EnabledFeatures(ctx, userID)
}

// GetSettings returns every feature's settings, with defaults for rows that do not exist yet.
func (s *FeatureService) GetSettings(ctx context.Context, userID uuid.UUID) (domain.Settings, error) {
	settings, err := s.features.GetSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}
	if settings.Banner == nil {
		settings.Banner = &domain.BannerSettings{}
	}
	if settings.TwitterName == nil {
		settings.TwitterName = &domain.TwitterNameSettings{}
	}
	if settings.ProfileImage == nil {
		settings.ProfileImage = &domain.ProfileImageSettings{}
	}
	if settings.Tweet == nil {
		settings.Tweet = &domain.TweetSettings{Content: DefaultTweet}
	}
	return settings, nil
}

// SetEnabled stores the flag and reconciles in the same call. The flag is already
// stored when a reconcile error is returned.
func (s *FeatureService) SetEnabled(ctx context.Context, userID uuid.UUID, feature domain.Feature, enabled bool) (ReconcileResult, error) {
	if err := s.features.SetEnabled(ctx, userID, feature, enabled); err != nil {
		return ReconcileResult{}, err
	}
	slog.InfoContext(ctx, "Feature toggled", "user_id", userID, "feature", feature.String(), "enabled", enabled)

	result, err := s.reconciler.Reconcile(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrReconcileFailed, err)
	}
	return result, nil
}

// Disable switches features off after Twitter rejected the account. Reconcile failures are
// only logged; the next toggle or reconcile heals them.
func (s *FeatureService) Disable(ctx context.Context, userID uuid.UUID, features ...domain.Feature) error {
	var errs []error
	for _, f := range features {
		if err := s.features.SetEnabled(ctx, userID, f, false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.String()
	}
	slog.WarnContext(ctx, "Features auto-disabled", "user_id", userID, "features", names)

	if _, err := s.reconciler.Reconcile(ctx, userID); err != nil {
		slog.ErrorContext(ctx, "Reconcile after auto-disable failed", "user_id", userID, "error", err)
	}
	return nil
}

// Reconcile brings the user's EventSub subscriptions in line with their features.
func (s *FeatureService) Reconcile(ctx context.Context, userID uuid.UUID) (ReconcileResult, error) {
	return s.reconciler.Reconcile(ctx, userID)
}

// The Update methods keep the stored enabled flag; toggling goes through SetEnabled.

func (s *FeatureService) UpdateBanner(ctx context.Context, userID uuid.UUID, in domain.BannerSettings) (*domain.BannerSettings, error) {
	current, err := s.features.GetBanner(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return nil, err
	}
	in.Enabled = current != nil && current.Enabled
	in.UpdatedAt = s.clock.Now()
	if err := s.features.SaveBanner(ctx, userID, in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *FeatureService) UpdateProfileImage(ctx context.Context, userID uuid.UUID, in domain.ProfileImageSettings) (*domain.ProfileImageSettings, error) {
	current, err := s.features.GetProfileImage(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return nil, err
	}
	in.Enabled = current != nil && current.Enabled
	in.UpdatedAt = s.clock.Now()
	if err := s.features.SaveProfileImage(ctx, userID, in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *FeatureService) UpdateTwitterName(ctx context.Context, userID uuid.UUID, in domain.TwitterNameSettings) (*domain.TwitterNameSettings, error) {
	current, err := s.features.GetTwitterName(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return nil, err
	}
	in.Enabled = current != nil && current.Enabled
	in.UpdatedAt = s.clock.Now()
	if err := s.features.SaveTwitterName(ctx, userID, in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *FeatureService) UpdateTweet(ctx context.Context, userID uuid.UUID, in domain.TweetSettings) (*domain.TweetSettings, error) {
	current, err := s.features.GetTweet(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return nil, err
	}
	in.Enabled = current != nil && current.Enabled
	in.UpdatedAt = s.clock.Now()
	if err := s.features.SaveTweet(ctx, userID, in); err != nil {
		return nil, err
	}
	return &in, nil
}
