package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/streamlux/pulsebanner/internal/domain"
)

// FeatureRepo stores feature flags and settings. Each feature has its own table
// keyed by user_id; the enabled flag lives on that row.
type FeatureRepo struct {
	pool *pgxpool.Pool
}

func NewFeatureRepo(pool *pgxpool.Pool) *FeatureRepo {
	return &FeatureRepo{pool: pool}
}

func featureTable(f domain.Feature) (string, error) {
	switch f {
	case domain.FeatureBanner:
		return "banners", nil
	case domain.FeatureTwitterName:
		return "twitter_names", nil
	case domain.FeatureProfileImage:
		return "profile_images", nil
	case domain.FeatureTweet:
		return "tweets", nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownFeature, f)
	}
}

func (r *FeatureRepo) EnabledFeatures(ctx context.Context, userID uuid.UUID) ([]domain.Feature, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT 1 FROM banners WHERE user_id = $1 AND enabled
		UNION ALL SELECT 2 FROM twitter_names WHERE user_id = $1 AND enabled
		UNION ALL SELECT 3 FROM profile_images WHERE user_id = $1 AND enabled
		UNION ALL SELECT 4 FROM tweets WHERE user_id = $1 AND enabled
		ORDER BY 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled features: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to scan enabled features: %w", err)
	}

	byOrdinal := map[int]domain.Feature{
		1: domain.FeatureBanner,
		2: domain.FeatureTwitterName,
		3: domain.FeatureProfileImage,
		4: domain.FeatureTweet,
	}
	features := make([]domain.Feature, 0, len(ids))
	for _, id := range ids {
		features = append(features, byOrdinal[id])
	}
	return features, nil
}

// SetEnabled upserts only the flag. updated_at tracks settings edits, so toggling
// does not invalidate the profile image render cache.
func (r *FeatureRepo) SetEnabled(ctx context.Context, userID uuid.UUID, feature domain.Feature, enabled bool) error {
	table, err := featureTable(feature)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, enabled) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET enabled = EXCLUDED.enabled`, table)
	if _, err := r.pool.Exec(ctx, query, userID, enabled); err != nil {
		return fmt.Errorf("failed to set %s enabled: %w", feature, err)
	}
	return nil
}

func (r *FeatureRepo) GetSettings(ctx context.Context, userID uuid.UUID) (domain.Settings, error) {
	var s domain.Settings
	var err error

	if s.Banner, err = r.GetBanner(ctx, userID); err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return s, err
	}
	if s.TwitterName, err = r.GetTwitterName(ctx, userID); err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return s, err
	}
	if s.ProfileImage, err = r.GetProfileImage(ctx, userID); err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return s, err
	}
	if s.Tweet, err = r.GetTweet(ctx, userID); err != nil && !errors.Is(err, domain.ErrSettingsNotFound) {
		return s, err
	}
	return s, nil
}

func (r *FeatureRepo) GetBanner(ctx context.Context, userID uuid.UUID) (*domain.BannerSettings, error) {
	img, err := r.getImageSettings(ctx, "banners", userID)
	if err != nil {
		return nil, err
	}
	return &domain.BannerSettings{ImageSettings: *img}, nil
}

func (r *FeatureRepo) SaveBanner(ctx context.Context, userID uuid.UUID, s domain.BannerSettings) error {
	return r.saveImageSettings(ctx, "banners", userID, s.ImageSettings)
}

func (r *FeatureRepo) GetProfileImage(ctx context.Context, userID uuid.UUID) (*domain.ProfileImageSettings, error) {
	img, err := r.getImageSettings(ctx, "profile_images", userID)
	if err != nil {
		return nil, err
	}
	return &domain.ProfileImageSettings{ImageSettings: *img}, nil
}

func (r *FeatureRepo) SaveProfileImage(ctx context.Context, userID uuid.UUID, s domain.ProfileImageSettings) error {
	return r.saveImageSettings(ctx, "profile_images", userID, s.ImageSettings)
}

// table is always one of the constant names above, never user input.
func (r *FeatureRepo) getImageSettings(ctx context.Context, table string, userID uuid.UUID) (*domain.ImageSettings, error) {
	var s domain.ImageSettings
	query := fmt.Sprintf(`
		SELECT enabled, foreground_id, background_id, foreground_props, background_props, updated_at
		FROM %s WHERE user_id = $1`, table)
	err := r.pool.QueryRow(ctx, query, userID).
		Scan(&s.Enabled, &s.ForegroundID, &s.BackgroundID, &s.ForegroundProps, &s.BackgroundProps, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s settings: %w", table, err)
	}
	return &s, nil
}

func (r *FeatureRepo) saveImageSettings(ctx context.Context, table string, userID uuid.UUID, s domain.ImageSettings) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, enabled, foreground_id, background_id, foreground_props, background_props, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			foreground_id = EXCLUDED.foreground_id,
			background_id = EXCLUDED.background_id,
			foreground_props = EXCLUDED.foreground_props,
			background_props = EXCLUDED.background_props,
			updated_at = EXCLUDED.updated_at`, table)
	_, err := r.pool.Exec(ctx, query, userID, s.Enabled, s.ForegroundID, s.BackgroundID,
		nonNilProps(s.ForegroundProps), nonNilProps(s.BackgroundProps), updatedAt(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save %s settings: %w", table, err)
	}
	return nil
}

func (r *FeatureRepo) GetTwitterName(ctx context.Context, userID uuid.UUID) (*domain.TwitterNameSettings, error) {
	var s domain.TwitterNameSettings
	err := r.pool.QueryRow(ctx, `
		SELECT enabled, stream_name, updated_at FROM twitter_names WHERE user_id = $1`, userID).
		Scan(&s.Enabled, &s.StreamName, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get twitter name settings: %w", err)
	}
	return &s, nil
}

func (r *FeatureRepo) SaveTwitterName(ctx context.Context, userID uuid.UUID, s domain.TwitterNameSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO twitter_names (user_id, enabled, stream_name, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			stream_name = EXCLUDED.stream_name,
			updated_at = EXCLUDED.updated_at`,
		userID, s.Enabled, s.StreamName, updatedAt(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save twitter name settings: %w", err)
	}
	return nil
}

func (r *FeatureRepo) GetTweet(ctx context.Context, userID uuid.UUID) (*domain.TweetSettings, error) {
	var s domain.TweetSettings
	err := r.pool.QueryRow(ctx, `
		SELECT enabled, tweet_content, updated_at FROM tweets WHERE user_id = $1`, userID).
		Scan(&s.Enabled, &s.Content, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tweet settings: %w", err)
	}
	return &s, nil
}

func (r *FeatureRepo) SaveTweet(ctx context.Context, userID uuid.UUID, s domain.TweetSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tweets (user_id, enabled, tweet_content, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			tweet_content = EXCLUDED.tweet_content,
			updated_at = EXCLUDED.updated_at`,
		userID, s.Enabled, s.Content, updatedAt(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save tweet settings: %w", err)
	}
	return nil
}

func nonNilProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
