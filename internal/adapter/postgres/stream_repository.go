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

type StreamRepo struct {
	pool *pgxpool.Pool
}

func NewStreamRepo(pool *pgxpool.Pool) *StreamRepo {
	return &StreamRepo{pool: pool}
}

func (r *StreamRepo) StartStream(ctx context.Context, userID uuid.UUID, streamID string, startedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO live_streams (user_id, twitch_stream_id, started_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			twitch_stream_id = EXCLUDED.twitch_stream_id,
			started_at = EXCLUDED.started_at`,
		userID, streamID, startedAt)
	if err != nil {
		return fmt.Errorf("failed to record live stream: %w", err)
	}
	return nil
}

func (r *StreamRepo) EndStream(ctx context.Context, userID uuid.UUID, endedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		WITH ended AS (
			DELETE FROM live_streams WHERE user_id = $1
			RETURNING user_id, twitch_stream_id, started_at
		)
		INSERT INTO past_streams (user_id, twitch_stream_id, started_at, ended_at)
		SELECT user_id, twitch_stream_id, started_at, $2 FROM ended`,
		userID, endedAt)
	if err != nil {
		return fmt.Errorf("failed to end live stream: %w", err)
	}
	return nil
}

func (r *StreamRepo) LiveBannerUsers(ctx context.Context, plan domain.Plan) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.user_id
		FROM live_streams l
		JOIN users u ON u.id = l.user_id
		JOIN banners b ON b.user_id = l.user_id
		WHERE u.plan = $1 AND b.enabled
		ORDER BY l.started_at`, string(plan))
	if err != nil {
		return nil, fmt.Errorf("failed to list live users: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan live users: %w", err)
	}
	return ids, nil
}

// GetLiveStream returns nil when the user is not live.
func (r *StreamRepo) GetLiveStream(ctx context.Context, userID uuid.UUID) (*domain.LiveStream, error) {
	s := domain.LiveStream{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT twitch_stream_id, started_at FROM live_streams WHERE user_id = $1`, userID).
		Scan(&s.StreamID, &s.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live stream: %w", err)
	}
	return &s, nil
}

// OriginalNameRepo keeps the Twitter name captured on streamup.
type OriginalNameRepo struct {
	pool *pgxpool.Pool
}

func NewOriginalNameRepo(pool *pgxpool.Pool) *OriginalNameRepo {
	return &OriginalNameRepo{pool: pool}
}

func (r *OriginalNameRepo) SaveOriginalName(ctx context.Context, userID uuid.UUID, name string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO original_names (user_id, name, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`,
		userID, name)
	if err != nil {
		return fmt.Errorf("failed to save original name: %w", err)
	}
	return nil
}

func (r *OriginalNameRepo) GetOriginalName(ctx context.Context, userID uuid.UUID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM original_names WHERE user_id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrOriginalNameNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get original name: %w", err)
	}
	return name, nil
}

// RenderCacheRepo tracks when the profile image was last rendered.
type RenderCacheRepo struct {
	pool *pgxpool.Pool
}

func NewRenderCacheRepo(pool *pgxpool.Pool) *RenderCacheRepo {
	return &RenderCacheRepo{pool: pool}
}

func (r *RenderCacheRepo) RenderedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `SELECT rendered_at FROM profile_image_cache WHERE user_id = $1`, userID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get render cache time: %w", err)
	}
	return at, true, nil
}

func (r *RenderCacheRepo) SetRenderedAt(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profile_image_cache (user_id, rendered_at) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET rendered_at = EXCLUDED.rendered_at`,
		userID, at)
	if err != nil {
		return fmt.Errorf("failed to set render cache time: %w", err)
	}
	return nil
}
