package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/dexhelper/pkg/errors"
)

// COSConfig holds Tencent Cloud COS settings. Domain defaults to
// myqcloud.com and Scheme to https.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string
	Scheme    string
}

// COSStorage implements Storage on Tencent Cloud COS. Class-path entries
// written as cos://key are downloaded through it.
type COSStorage struct {
	client    *cos.Client
	bucketURL *url.URL
}

// NewCOSStorage creates a new COSStorage instance.
func NewCOSStorage(cfg *COSConfig) (*COSStorage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("bucket and region are required for COS storage")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("credentials are required for COS storage")
	}
	domain := orDefault(cfg.Domain, "myqcloud.com")
	scheme := orDefault(cfg.Scheme, "https")

	bucketURL, err := url.Parse(fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket URL: %w", err)
	}
	serviceURL, err := url.Parse(fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service URL: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: bucketURL, ServiceURL: serviceURL}, &http.Client{
		Transport: &cos.AuthorizationTransport{SecretID: cfg.SecretID, SecretKey: cfg.SecretKey},
	})
	return &COSStorage{client: client, bucketURL: bucketURL}, nil
}

func (s *COSStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	if _, err := s.client.Object.Put(ctx, objectKey(key), reader, putOptions(key)); err != nil {
		return errors.Wrap(errors.CodeUploadError, "failed to upload to COS", err)
	}
	return nil
}

func (s *COSStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	if _, err := s.client.Object.PutFromFile(ctx, objectKey(key), localPath, putOptions(key)); err != nil {
		return errors.Wrap(errors.CodeUploadError, "failed to upload file to COS", err)
	}
	return nil
}

// Download opens the object at key. A missing object is errors.ErrNotFound.
func (s *COSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.Object.Get(ctx, objectKey(key), nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, errors.Newf(errors.CodeNotFound, "object not found: %s", key)
		}
		return nil, errors.Wrap(errors.CodeDownloadError, "failed to download from COS", err)
	}
	return resp.Body, nil
}

// GetURL returns the virtual-host URL of key.
func (s *COSStorage) GetURL(key string) string {
	u := *s.bucketURL
	u.Path = "/" + objectKey(key)
	return u.String()
}

// putOptions tags reports with their media type so browsers render them.
func putOptions(key string) *cos.ObjectPutOptions {
	ct := "application/octet-stream"
	if strings.HasSuffix(key, ".json") {
		ct = "application/json"
	}
	return &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: ct},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
