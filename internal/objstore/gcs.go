package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore serves photo objects from a Google Cloud Storage bucket. Keys may
// be stored as full gs://bucket/path URLs; the bucket prefix is stripped.
type GCSStore struct {
	client *storage.Client
	bucket string
	handle *storage.BucketHandle
}

func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}

	var (
		client *storage.Client
		err    error
	)
	if credentialsFile != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: bucket,
		handle: client.Bucket(bucket),
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.handle.Object(s.objectPath(key)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Download(ctx context.Context, key, destPath string) error {
	reader, err := s.handle.Object(s.objectPath(key)).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open object %s: %w", key, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}

	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		os.Remove(destPath)
		return fmt.Errorf("copy object %s: %w", key, err)
	}
	return file.Close()
}

func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	reader, err := s.handle.Object(s.objectPath(key)).NewReader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return reader, &ObjectInfo{
		ContentType: reader.Attrs.ContentType,
		Size:        reader.Attrs.Size,
	}, nil
}

func (s *GCSStore) Upload(ctx context.Context, key string, reader io.Reader) error {
	writer := s.handle.Object(s.objectPath(key)).NewWriter(ctx)
	if _, err := io.Copy(writer, reader); err != nil {
		writer.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

func (s *GCSStore) objectPath(key string) string {
	return strings.TrimPrefix(key, "gs://"+s.bucket+"/")
}
