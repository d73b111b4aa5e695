// Package reliability implements archival backup of the store (spec §6.5's
// persisted data deserves a disaster-recovery story even though the spec
// itself is silent on it — the Scheduler's backup job, the source of the
// Non-goals-adjacent ambient durability concern, lives here). Grounded on
// the teacher's internal/reliability/r2_backup_service.go: tar+gzip+
// checksum an archive, upload it, retain the newest N, same shape adapted
// from a multi-database set to this engine's single consolidated store file.
package reliability

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Uploader wraps an S3-compatible bucket (AWS S3, Cloudflare R2, or any
// other S3-API-compatible endpoint) with the narrow surface the backup
// service needs: put, list, delete.
type Uploader struct {
	client *s3.Client
	bucket string
}

// NewUploader builds an Uploader for bucket. endpoint is an optional
// S3-compatible endpoint override (set for R2/MinIO; empty uses real AWS
// S3). accessKey/secretKey are static credentials; an empty accessKey falls
// back to the SDK's default credential chain (env vars, shared config,
// instance role).
func NewUploader(ctx context.Context, bucket, region, endpoint, accessKey, secretKey string) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // required by R2 and most S3-compatible endpoints
		}
	})

	return &Uploader{client: client, bucket: bucket}, nil
}

// Put streams r (size bytes) to key using the multipart-aware manager
// uploader, so archives larger than a single PUT's practical size still
// upload reliably.
func (u *Uploader) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	uploader := manager.NewUploader(u.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// List returns every object under prefix.
func (u *Uploader) List(ctx context.Context, prefix string) ([]types.Object, error) {
	var out []types.Object
	paginator := s3.NewListObjectsV2Paginator(u.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		out = append(out, page.Contents...)
	}
	return out, nil
}

// Delete removes key.
func (u *Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// openForUpload is a small helper so BackupService doesn't need to know
// os.File details beyond "give me a reader and its size".
func openForUpload(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
