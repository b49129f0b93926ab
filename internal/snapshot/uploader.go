// Package snapshot provides S3-compatible upload of database backups.
// When S3 is not configured (empty endpoint), the NoopUploader is used and
// all S3 operations are skipped, keeping the system in local-only mode.
package snapshot

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/tempo/internal/config"
)

// Uploader uploads database backup files.
type Uploader interface {
	// Upload stores the backup file at filePath under a timestamped key.
	Upload(ctx context.Context, filePath string) error
}

// s3Client defines the minimal minio.Client operations used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Uploader uploads backups to S3-compatible storage.
type S3Uploader struct {
	client s3Client
	bucket string
}

// Upload uploads the backup file at filePath.
func (u *S3Uploader) Upload(ctx context.Context, filePath string) error {
	key := objectKey(time.Now().UTC())
	_, err := u.client.FPutObject(ctx, u.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload backup to S3: %w", err)
	}
	return nil
}

// objectKey names backups by day so repeated uploads within a day overwrite
// each other instead of accumulating.
func objectKey(now time.Time) string {
	return path.Join("backups", now.Format("2006-01-02")+".db")
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

func (u *NoopUploader) Upload(ctx context.Context, filePath string) error {
	return nil
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when no endpoint is configured, S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Endpoint == "" {
		return &NoopUploader{}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{client: client, bucket: cfg.Bucket}, nil
}
