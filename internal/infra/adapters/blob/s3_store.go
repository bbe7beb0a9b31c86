package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"genforge/internal/config"
	"genforge/internal/domain"
	"genforge/internal/domain/ports/adapter"
)

var _ adapter.BlobStore = (*S3Store)(nil)

// S3Store writes to any S3-compatible bucket.
type S3Store struct {
	cli        *minio.Client
	bucket     string
	publicBase string
}

func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	cli, err := minio.New(cfg.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		Secure: cfg.S3.UseSSL,
		Region: cfg.S3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	ok, err := cli.BucketExists(ctx, cfg.S3.Bucket)
	if err != nil {
		return nil, fmt.Errorf("s3 bucket check: %w", err)
	}
	if !ok {
		if err := cli.MakeBucket(ctx, cfg.S3.Bucket, minio.MakeBucketOptions{Region: cfg.S3.Region}); err != nil {
			return nil, fmt.Errorf("s3 make bucket: %w", err)
		}
	}

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.S3.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.S3.Endpoint, cfg.S3.Bucket)
	}
	return &S3Store{cli: cli, bucket: cfg.S3.Bucket, publicBase: base}, nil
}

func (s *S3Store) PublicBase() string { return s.publicBase }

func (s *S3Store) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	_, err := s.cli.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return s.publicBase + "/" + key, nil
}

func (s *S3Store) Get(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, s.publicBase+"/") {
		return nil, fmt.Errorf("%w: %s is not in bucket %s", domain.ErrNotFound, url, s.bucket)
	}
	obj, err := s.cli.GetObject(ctx, s.bucket, strings.TrimPrefix(url, s.publicBase+"/"), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}
