package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
)

const (
	renderCachePrefix = "profile-image-cache"

	// Objects written for NoAsset snapshots carry this metadata flag and an empty body.
	metaAsset     = "Pulsebanner-Asset"
	metaAssetNone = "none"

	// Snapshots start pending and are flagged once streamdown put them back.
	metaState         = "Pulsebanner-State"
	metaStatePending  = "pending"
	metaStateRestored = "restored"

	imageContentType = "image/png"
)

// Options configures the object store connection.
type Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// AssetStore keeps snapshots and rendered images in an S3-compatible bucket.
// It implements domain.AssetStore.
type AssetStore struct {
	client  *minio.Client
	bucket  string
	metrics *metrics.UpstreamMetrics
}

// Connect creates the client and makes sure the bucket exists.
func Connect(ctx context.Context, opts Options, m *metrics.UpstreamMetrics) (*AssetStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	store := &AssetStore{client: client, bucket: opts.Bucket, metrics: m}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *AssetStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	slog.InfoContext(ctx, "Created object storage bucket", "bucket", s.bucket)
	return nil
}

// Ping checks that the bucket is reachable.
func (s *AssetStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func snapshotKey(kind domain.SnapshotKind, userID uuid.UUID) string {
	return string(kind) + "/" + userID.String()
}

func renderKey(userID uuid.UUID) string {
	return renderCachePrefix + "/" + userID.String()
}

func (s *AssetStore) SaveSnapshot(ctx context.Context, kind domain.SnapshotKind, userID uuid.UUID, snap domain.Snapshot) error {
	asset, ok := snap.Asset()
	opts := minio.PutObjectOptions{
		ContentType:  imageContentType,
		UserMetadata: map[string]string{metaState: metaStatePending},
	}
	if !ok {
		opts.ContentType = "application/octet-stream"
		opts.UserMetadata[metaAsset] = metaAssetNone
	}

	if err := s.put(ctx, "save_snapshot", snapshotKey(kind, userID), asset, opts); err != nil {
		return fmt.Errorf("failed to save %s snapshot: %w", kind, err)
	}
	return nil
}

func (s *AssetStore) LoadSnapshot(ctx context.Context, kind domain.SnapshotKind, userID uuid.UUID) (domain.Snapshot, error) {
	body, info, err := s.get(ctx, "load_snapshot", snapshotKey(kind, userID))
	if isNotFound(err) {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to load %s snapshot: %w", kind, err)
	}

	if info.UserMetadata[metaAsset] == metaAssetNone {
		return domain.NoAsset(), nil
	}
	return domain.SnapshotOf(body), nil
}

// PendingSnapshot treats snapshots without a state flag as pending.
func (s *AssetStore) PendingSnapshot(ctx context.Context, kind domain.SnapshotKind, userID uuid.UUID) (bool, error) {
	info, err := s.stat(ctx, "stat_snapshot", snapshotKey(kind, userID))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s snapshot: %w", kind, err)
	}
	return info.UserMetadata[metaState] != metaStateRestored, nil
}

// MarkRestored rewrites the snapshot's metadata in place. The body is kept so a
// later restore can still use it.
func (s *AssetStore) MarkRestored(ctx context.Context, kind domain.SnapshotKind, userID uuid.UUID) error {
	key := snapshotKey(kind, userID)
	info, err := s.stat(ctx, "stat_snapshot", key)
	if isNotFound(err) {
		return domain.ErrSnapshotNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s snapshot: %w", kind, err)
	}

	meta := map[string]string{metaState: metaStateRestored}
	if info.UserMetadata[metaAsset] == metaAssetNone {
		meta[metaAsset] = metaAssetNone
	}

	start := time.Now()
	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: key, UserMetadata: meta, ReplaceMetadata: true},
		minio.CopySrcOptions{Bucket: s.bucket, Object: key})
	s.metrics.Observe("storage", "mark_restored", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark %s snapshot restored: %w", kind, err)
	}
	return nil
}

func (s *AssetStore) PutRenderedProfileImage(ctx context.Context, userID uuid.UUID, image []byte) error {
	err := s.put(ctx, "put_render", renderKey(userID), image, minio.PutObjectOptions{ContentType: imageContentType})
	if err != nil {
		return fmt.Errorf("failed to store rendered profile image: %w", err)
	}
	return nil
}

func (s *AssetStore) GetRenderedProfileImage(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	body, _, err := s.get(ctx, "get_render", renderKey(userID))
	if isNotFound(err) {
		return nil, domain.ErrRenderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rendered profile image: %w", err)
	}
	return body, nil
}

func (s *AssetStore) put(ctx context.Context, operation, key string, data []byte, opts minio.PutObjectOptions) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("storage", operation, start, err) }()

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

func (s *AssetStore) get(ctx context.Context, operation, key string) (body []byte, info minio.ObjectInfo, err error) {
	start := time.Now()
	defer func() {
		// A missing object is an answer, not an upstream failure.
		if isNotFound(err) {
			s.metrics.Observe("storage", operation, start, nil)
			return
		}
		s.metrics.Observe("storage", operation, start, err)
	}()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; Stat surfaces NoSuchKey.
	info, err = obj.Stat()
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	body, err = io.ReadAll(obj)
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	return body, info, nil
}

func (s *AssetStore) stat(ctx context.Context, operation, key string) (info minio.ObjectInfo, err error) {
	start := time.Now()
	defer func() {
		if isNotFound(err) {
			s.metrics.Observe("storage", operation, start, nil)
			return
		}
		s.metrics.Observe("storage", operation, start, err)
	}()

	return s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
