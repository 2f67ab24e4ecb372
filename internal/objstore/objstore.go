// Package objstore wraps the photo bucket behind the narrow surface the
// export pipeline and the image proxy need.
package objstore

import (
	"context"
	"io"
)

// ObjectInfo carries the metadata the image proxy forwards as headers.
type ObjectInfo struct {
	ContentType string
	Size        int64
}

// ObjectStore fetches and existence-checks binary objects by key.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Download writes the object to destPath, creating parent directories.
	Download(ctx context.Context, key, destPath string) error
	// Open streams the object together with its metadata.
	Open(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Upload(ctx context.Context, key string, reader io.Reader) error
}
