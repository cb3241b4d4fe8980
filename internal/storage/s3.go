package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dexhelper/pkg/errors"
)

// S3Config holds settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Storage implements Storage on any S3-compatible service (minio, AWS,
// ceph). The bucket is created on first write when missing.
type S3Storage struct {
	client   *minio.Client
	bucket   string
	region   string
	endpoint string
	secure   bool

	initOnce sync.Once
	initErr  error
}

// NewS3Storage creates a new S3Storage instance.
func NewS3Storage(cfg *S3Config) (*S3Storage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for S3 storage")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required for S3 storage")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("credentials are required for S3 storage")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}

	return &S3Storage{
		client:   client,
		bucket:   cfg.Bucket,
		region:   region,
		endpoint: endpoint,
		secure:   cfg.UseSSL,
	}, nil
}

func (s *S3Storage) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if !exists {
			s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
		}
	})
	return s.initErr
}

// Upload uploads data from reader to the specified key.
func (s *S3Storage) Upload(ctx context.Context, key string, reader io.Reader) error {
	if err := s.ensureBucket(ctx); err != nil {
		return errors.Wrap(errors.CodeUploadError, "failed to ensure S3 bucket", err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(key), reader, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return errors.Wrap(errors.CodeUploadError, "failed to upload to S3", err)
	}
	return nil
}

// UploadFile uploads a local file to the specified key.
func (s *S3Storage) UploadFile(ctx context.Context, key string, localPath string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return errors.Wrap(errors.CodeUploadError, "failed to ensure S3 bucket", err)
	}
	_, err := s.client.FPutObject(ctx, s.bucket, objectKey(key), localPath, minio.PutObjectOptions{})
	if err != nil {
		return errors.Wrap(errors.CodeUploadError, "failed to upload file to S3", err)
	}
	return nil
}

// Download opens the object at key. The object is stat'ed first so a missing
// key fails here rather than on the first read.
func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(errors.CodeDownloadError, "failed to download from S3", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, errors.Newf(errors.CodeNotFound, "object not found: %s", key)
		}
		return nil, errors.Wrap(errors.CodeDownloadError, "failed to download from S3", err)
	}
	return obj, nil
}

// GetURL returns the path-style URL of key.
func (s *S3Storage) GetURL(key string) string {
	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: s.endpoint, Path: "/" + s.bucket + "/" + objectKey(key)}
	return u.String()
}

func objectKey(key string) string {
	return strings.TrimPrefix(key, "/")
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
}
