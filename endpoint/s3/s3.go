// Package s3 implements endpoint.Endpoint on Amazon S3.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ProjectBarks/entwine/endpoint"
)

// Endpoint implements endpoint.Endpoint for S3.
type Endpoint struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New creates an S3 endpoint. rootPrefix is prepended to all paths
// (e.g. "clouds/autzen/").
func New(client *s3.Client, bucket, rootPrefix string) *Endpoint {
	return &Endpoint{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   rootPrefix,
	}
}

// NewFromConfig loads the default AWS configuration and creates an
// endpoint against it.
func NewFromConfig(ctx context.Context, bucket, rootPrefix string) (*Endpoint, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

func (e *Endpoint) key(p string) string {
	return path.Join(e.prefix, p)
}

func notFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// Get reads the full object at path.
func (e *Endpoint) Get(ctx context.Context, p string) ([]byte, error) {
	out, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(p)),
	})
	if err != nil {
		if notFound(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// TryGetSize probes for an object without reading it.
func (e *Endpoint) TryGetSize(ctx context.Context, p string) (uint64, bool, error) {
	head, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(p)),
	})
	if err != nil {
		if notFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(*head.ContentLength), true, nil
}

// Put writes an object. The uploader splits large chunks into
// multipart uploads.
func (e *Endpoint) Put(ctx context.Context, p string, data []byte) error {
	_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(p)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// IsLocal reports false.
func (e *Endpoint) IsLocal() bool { return false }

// Root identifies the endpoint root.
func (e *Endpoint) Root() string {
	return "s3://" + path.Join(e.bucket, e.prefix)
}
