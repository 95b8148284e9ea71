// Package storage implements clipchan's blob store: a byte-addressed
// abstraction over local-filesystem and S3-compatible backends, grounded
// on original_source/src/storage/{local,s3}.rs and adapted to the
// teacher's atomic-write idiom from internal/playlist/store.go.
package storage

import (
	"context"
	"fmt"
	"io"
)

// Blob is the backend-agnostic interface every clip's encoded media is
// addressed through. Keys are flat strings (e.g. "<uuid>.mp4").
type Blob interface {
	// Put atomically stores the contents of src under key.
	Put(ctx context.Context, key string, src io.Reader) error
	// Get opens a reader for the full object.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// GetRange opens a reader for the inclusive byte range [start, end].
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	// Size returns the object's length in bytes.
	Size(ctx context.Context, key string) (int64, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ErrNotFound is returned by Get/GetRange/Size when the key does not exist.
var ErrNotFound = fmt.Errorf("storage: object not found")
