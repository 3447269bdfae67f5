package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ImageSettings is the rendering input shared by banner and profile image.
type ImageSettings struct {
	Enabled         bool
	ForegroundID    string
	BackgroundID    string
	ForegroundProps map[string]any
	BackgroundProps map[string]any
	UpdatedAt       time.Time
}

type BannerSettings struct {
	ImageSettings
}

type ProfileImageSettings struct {
	ImageSettings
}

type TwitterNameSettings struct {
	Enabled    bool
	StreamName string
	UpdatedAt  time.Time
}

type TweetSettings struct {
	Enabled   bool
	Content   string
	UpdatedAt time.Time
}

// Settings aggregates every feature's settings for a user. Absent rows are nil.
type Settings struct {
	Banner       *BannerSettings
	TwitterName  *TwitterNameSettings
	ProfileImage *ProfileImageSettings
	Tweet        *TweetSettings
}

// Enabled reports whether the feature is switched on in s.
func (s Settings) Enabled(f Feature) bool {
	switch f {
	case FeatureBanner:
		return s.Banner != nil && s.Banner.Enabled
	case FeatureTwitterName:
		return s.TwitterName != nil && s.TwitterName.Enabled
	case FeatureProfileImage:
		return s.ProfileImage != nil && s.ProfileImage.Enabled
	case FeatureTweet:
		return s.Tweet != nil && s.Tweet.Enabled
	default:
		return false
	}
}

// FeatureRepository stores the per-user feature flags and settings rows.
// Settings rows are upserted keyed by user; the Get methods return ErrSettingsNotFound
// when no row exists yet.
type FeatureRepository interface {
	EnabledFeatures(ctx context.Context, userID uuid.UUID) ([]Feature, error)
	SetEnabled(ctx context.Context, userID uuid.UUID, feature Feature, enabled bool) error
	GetSettings(ctx context.Context, userID uuid.UUID) (Settings, error)

	GetBanner(ctx context.Context, userID uuid.UUID) (*BannerSettings, error)
	SaveBanner(ctx context.Context, userID uuid.UUID, s BannerSettings) error
	GetTwitterName(ctx context.Context, userID uuid.UUID) (*TwitterNameSettings, error)
	SaveTwitterName(ctx context.Context, userID uuid.UUID, s TwitterNameSettings) error
	GetProfileImage(ctx context.Context, userID uuid.UUID) (*ProfileImageSettings, error)
	SaveProfileImage(ctx context.Context, userID uuid.UUID, s ProfileImageSettings) error
	GetTweet(ctx context.Context, userID uuid.UUID) (*TweetSettings, error)
	SaveTweet(ctx context.Context, userID uuid.UUID, s TweetSettings) error
}
