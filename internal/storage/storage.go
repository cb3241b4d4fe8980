// Package storage provides object storage for dex containers and exported
// reports. Every backend doubles as a dex.Fetcher for class-path entries
// written as scheme://key.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/pkg/config"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Upload uploads data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadFile uploads a local file to the specified key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download downloads data from the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for the specified key (if applicable).
	GetURL(key string) string
}

// StorageType represents the type of storage backend. It is also the URI
// scheme the backend answers in a class-loading context.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
	StorageTypeS3    StorageType = "s3"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	case StorageTypeS3:
		return NewS3Storage(&S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// Fetchers maps the configured backend's scheme to it for dex.LoaderOptions.
// The local backend is always reachable as local://.
func Fetchers(cfg *config.StorageConfig) (map[string]dex.Fetcher, error) {
	st, err := NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	typ := StorageType(cfg.Type)
	if typ == "" {
		typ = StorageTypeLocal
	}
	out := map[string]dex.Fetcher{string(typ): st}
	if typ != StorageTypeLocal && cfg.LocalPath != "" {
		local, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		out[string(StorageTypeLocal)] = local
	}
	return out, nil
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return fmt.Errorf("storage config is nil")
	}

	storageType := StorageType(cfg.Type)

	// Empty type defaults to local
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return fmt.Errorf("COS bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("COS credentials are required")
		}
	case StorageTypeS3:
		if cfg.Endpoint == "" {
			return fmt.Errorf("S3 endpoint is required")
		}
		if cfg.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return fmt.Errorf("S3 credentials are required")
		}
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	return nil
}
