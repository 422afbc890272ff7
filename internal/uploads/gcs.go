package uploads

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/go-faster/errors"
)

type GCSStore struct {
	client     *storage.Client
	bucketName string
}

func NewGCS(ctx context.Context, bucketName string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, errors.New("gcs bucket required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCS client")
	}
	return &GCSStore{client: client, bucketName: bucketName}, nil
}

func (s *GCSStore) Driver() string { return DriverGCS }

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	obj := s.client.Bucket(s.bucketName).Object(key).If(storage.Conditions{DoesNotExist: true})

	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", errors.Wrap(err, "failed to write object")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize object")
	}
	return key, nil
}
