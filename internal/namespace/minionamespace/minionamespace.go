// Package minionamespace provisions user namespaces in an S3-compatible bucket.
// A namespace is a zero-byte marker object whose key is the namespace path itself,
// e.g. "alice/".
package minionamespace

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/patric-chuzhbe/sinkgate/internal/namespace"
)

type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(
		ctx context.Context,
		bucketName, objectName string,
		reader *bytes.Reader,
		objectSize int64,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type minioClientWrapper struct{ c *minio.Client }

func (w minioClientWrapper) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return w.c.BucketExists(ctx, bucketName)
}

func (w minioClientWrapper) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return w.c.MakeBucket(ctx, bucketName, opts)
}

func (w minioClientWrapper) PutObject(
	ctx context.Context,
	bucketName, objectName string,
	reader *bytes.Reader,
	objectSize int64,
	opts minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	return w.c.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (w minioClientWrapper) StatObject(
	ctx context.Context,
	bucketName, objectName string,
	opts minio.StatObjectOptions,
) (minio.ObjectInfo, error) {
	return w.c.StatObject(ctx, bucketName, objectName, opts)
}

func (w minioClientWrapper) RemoveObject(
	ctx context.Context,
	bucketName, objectName string,
	opts minio.RemoveObjectOptions,
) error {
	return w.c.RemoveObject(ctx, bucketName, objectName, opts)
}

// Options describes how to reach the bucket.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Provisioner keeps namespaces as marker objects in one bucket.
type Provisioner struct {
	api    minioAPI
	bucket string

	// Stat-then-put is not atomic on S3, so creation is serialized within the process.
	mu sync.Mutex
}

// New connects to the object storage and ensures the bucket exists.
func New(ctx context.Context, opts Options) (*Provisioner, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/namespace/minionamespace/minionamespace.go/New(): error while `minio.New()` calling: %w",
			err,
		)
	}

	return newWithAPI(ctx, minioClientWrapper{c: client}, opts.Bucket)
}

func newWithAPI(ctx context.Context, api minioAPI, bucket string) (*Provisioner, error) {
	p := &Provisioner{
		api:    api,
		bucket: bucket,
	}

	if err := p.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return p, nil
}

func (p *Provisioner) ensureBucketExists(ctx context.Context) error {
	exists, err := p.api.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = p.api.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func markerKey(path string) (string, error) {
	segment, err := namespace.Segment(path)
	if err != nil {
		return "", err
	}

	return segment + "/", nil
}

func (p *Provisioner) exists(ctx context.Context, key string) (bool, error) {
	_, err := p.api.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}

	return true, nil
}

// CreateExclusive writes the marker object unless it already exists.
func (p *Provisioner) CreateExclusive(ctx context.Context, path string) error {
	key, err := markerKey(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return namespace.ErrAlreadyExists
	}

	_, err = p.api.PutObject(ctx, p.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	return nil
}

// Remove deletes the marker object.
func (p *Provisioner) Remove(ctx context.Context, path string) error {
	key, err := markerKey(path)
	if err != nil {
		return err
	}

	err = p.api.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}
