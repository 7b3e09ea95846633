// Package endpoint provides the storage abstraction that chunk,
// hierarchy, and manifest data move through.
//
// An Endpoint addresses one tree's root: paths handed to Get/Put are
// relative to it. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - Local: local filesystem
//   - Memory: in-memory, for tests
//   - minio.Endpoint: MinIO / S3-compatible object stores
//   - s3.Endpoint: Amazon S3 via the AWS SDK
//
// WithRetry wraps any Endpoint with bounded exponential backoff and,
// for remote endpoints, request pacing.
package endpoint

import (
	"context"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Endpoint is an abstraction over a storage root.
type Endpoint interface {
	// Get reads the full object at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// TryGetSize probes for an object without reading it. The second
	// return is false when the object does not exist.
	TryGetSize(ctx context.Context, path string) (uint64, bool, error)

	// Put writes an object atomically.
	Put(ctx context.Context, path string, data []byte) error

	// IsLocal reports whether the endpoint is backed by the local
	// filesystem.
	IsLocal() bool

	// Root is a human-readable identifier for the endpoint root.
	Root() string
}
