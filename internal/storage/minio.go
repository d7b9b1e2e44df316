package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"concierge-go/internal/config"
	"concierge-go/internal/logger"
)

// EvidenceArchive stores outbox evidence blobs that are too large to keep
// inline on the entry. Objects are retained indefinitely for audit.
type EvidenceArchive interface {
	// PutEvidence stores the blob under the outbox entry id and returns the
	// object key recorded on the entry.
	PutEvidence(ctx context.Context, outboxID string, blob []byte) (string, error)

	// GetEvidence fetches a previously stored blob by object key.
	GetEvidence(ctx context.Context, objectKey string) ([]byte, error)
}

var _ EvidenceArchive = (*MinIO)(nil)

// MinIO provides the evidence archive on object storage.
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
}

// NewMinIO creates the client and ensures the evidence bucket exists.
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("minio config must not be nil")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	bucket := cfg.EvidenceBucket
	if bucket == "" {
		bucket = "outbox-evidence"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Location}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", bucket).Msg("minio evidence archive ready")
	return &MinIO{client: client, cfg: cfg, bucket: bucket}, nil
}

// PutEvidence stores blob under "evidence/{outboxID}.json".
func (m *MinIO) PutEvidence(ctx context.Context, outboxID string, blob []byte) (string, error) {
	objectKey := fmt.Sprintf("evidence/%s.json", outboxID)
	_, err := m.client.PutObject(ctx, m.bucket, objectKey, bytes.NewReader(blob), int64(len(blob)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("put evidence object %s: %w", objectKey, err)
	}
	return objectKey, nil
}

// GetEvidence fetches a stored evidence blob.
func (m *MinIO) GetEvidence(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get evidence object %s: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read evidence object %s: %w", objectKey, err)
	}
	return data, nil
}
