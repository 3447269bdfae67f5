package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the state of a Twitter image captured before streamup replaced it.
// A snapshot either holds the image bytes or records that the account had no image.
type Snapshot struct {
	asset   []byte
	present bool
}

// SnapshotOf captures an existing asset.
func SnapshotOf(asset []byte) Snapshot {
	return Snapshot{asset: asset, present: true}
}

// NoAsset records that the account had no image at snapshot time.
func NoAsset() Snapshot {
	return Snapshot{}
}

// Asset returns the captured bytes and true, or nil and false for NoAsset.
func (s Snapshot) Asset() ([]byte, bool) {
	return s.asset, s.present
}

func (s Snapshot) HasAsset() bool {
	return s.present
}

// SnapshotKind names what a snapshot holds.
type SnapshotKind string

const (
	SnapshotBanner       SnapshotKind = "banner-original"
	SnapshotProfileImage SnapshotKind = "profile-image-original"
)

// AssetStore persists snapshots and rendered images in object storage.
type AssetStore interface {
	SaveSnapshot(ctx context.Context, kind SnapshotKind, userID uuid.UUID, snap Snapshot) error
	// LoadSnapshot returns ErrSnapshotNotFound if streamup never saved one.
	LoadSnapshot(ctx context.Context, kind SnapshotKind, userID uuid.UUID) (Snapshot, error)
	// PendingSnapshot reports whether a saved snapshot has not been restored by a streamdown yet.
	PendingSnapshot(ctx context.Context, kind SnapshotKind, userID uuid.UUID) (bool, error)
	MarkRestored(ctx context.Context, kind SnapshotKind, userID uuid.UUID) error
	PutRenderedProfileImage(ctx context.Context, userID uuid.UUID, image []byte) error
	// GetRenderedProfileImage returns ErrRenderNotFound when nothing is cached.
	GetRenderedProfileImage(ctx context.Context, userID uuid.UUID) ([]byte, error)
}

// RenderCacheRepository tracks when a user's profile image was last rendered.
type RenderCacheRepository interface {
	// RenderedAt returns false when the user has never had a render.
	RenderedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
	SetRenderedAt(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// OriginalNameRepository keeps the display name a user had before streamup.
type OriginalNameRepository interface {
	SaveOriginalName(ctx context.Context, userID uuid.UUID, name string) error
	// GetOriginalName returns ErrOriginalNameNotFound when none was saved.
	GetOriginalName(ctx context.Context, userID uuid.UUID) (string, error)
}
