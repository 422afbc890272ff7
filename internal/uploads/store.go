// Package uploads stores materialized file uploads. Every backend addresses
// objects by a forward-slash key relative to the public root, and that key
// is what ends up persisted in upload-capable columns.
package uploads

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/go-faster/errors"

	"github.com/blagoySimandov/ampleadmin/internal/config"
)

const (
	DriverFS  = "fs"
	DriverS3  = "s3"
	DriverGCS = "gcs"
)

type Store interface {
	// Put writes r under key and returns the normalized public path.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Driver() string
}

// Open builds the store selected by cfg.UploadDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.UploadDriver {
	case DriverFS, "":
		return NewFS(cfg.PublicRoot)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		})
	case DriverGCS:
		return NewGCS(ctx, cfg.GCSBucket)
	}
	return nil, errors.Errorf("unknown upload driver %q", cfg.UploadDriver)
}

// CleanKey rejects keys that would escape the public root and normalizes
// separators to forward slashes.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.Errorf("invalid absolute key %q", key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Errorf("invalid key traversal %q", key)
	}
	return clean, nil
}
