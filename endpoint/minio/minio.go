// Package minio implements endpoint.Endpoint for MinIO and other
// S3-compatible object stores.
package minio

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/ProjectBarks/entwine/endpoint"
)

// Endpoint implements endpoint.Endpoint for MinIO.
type Endpoint struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a MinIO endpoint. rootPrefix is prepended to all paths.
func New(client *minio.Client, bucket, rootPrefix string) *Endpoint {
	return &Endpoint{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (e *Endpoint) key(p string) string {
	return path.Join(e.prefix, p)
}

func notFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

// Get reads the full object at path.
func (e *Endpoint) Get(ctx context.Context, p string) ([]byte, error) {
	obj, err := e.client.GetObject(ctx, e.bucket, e.key(p), minio.GetObjectOptions{})
	if err != nil {
		if notFound(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if notFound(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// TryGetSize probes for an object without reading it.
func (e *Endpoint) TryGetSize(ctx context.Context, p string) (uint64, bool, error) {
	info, err := e.client.StatObject(ctx, e.bucket, e.key(p), minio.StatObjectOptions{})
	if err != nil {
		if notFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(info.Size), true, nil
}

// Put writes an object atomically.
func (e *Endpoint) Put(ctx context.Context, p string, data []byte) error {
	_, err := e.client.PutObject(ctx, e.bucket, e.key(p),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// IsLocal reports false.
func (e *Endpoint) IsLocal() bool { return false }

// Root identifies the endpoint root.
func (e *Endpoint) Root() string {
	return "minio://" + path.Join(e.bucket, e.prefix)
}
