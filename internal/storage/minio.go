package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/presence/internal/config"
)

// Object key layout inside the bucket.
const (
	FramesPrefix     = "frames/"
	EnrollmentPrefix = "enrollment/"
	SnapshotsPrefix  = "snapshots/"

	contentTypeJPEG = "image/jpeg"
)

// FrameKey sorts lexically by capture time within a camera.
func FrameKey(cameraID string, ts time.Time, frameID uuid.UUID) string {
	return fmt.Sprintf("%s%s/%s_%s.jpg", FramesPrefix, cameraID, ts.UTC().Format("20060102T150405.000"), frameID)
}

func EnrollmentKey(batch uuid.UUID, n int) string {
	return fmt.Sprintf("%s%s/%02d.jpg", EnrollmentPrefix, batch, n)
}

func SnapshotKey(identityID, eventID int64) string {
	return fmt.Sprintf("%s%d/%d.jpg", SnapshotsPrefix, identityID, eventID)
}

// ObjectStore keeps raw frames, enrollment images and event face crops.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(cfg config.MinIOConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *ObjectStore) PutJPEG(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeJPEG})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// List returns every key under prefix in lexical order.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Delete removes keys in one batch request.
func (s *ObjectStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for res := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if res.Err != nil {
			return fmt.Errorf("delete object %s: %w", res.ObjectName, res.Err)
		}
	}
	return nil
}

// PurgePrefix deletes everything under prefix and returns how many objects went.
func (s *ObjectStore) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if err := s.Delete(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Ping checks MinIO connectivity.
func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
