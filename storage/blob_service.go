// Package storage wraps the S3-compatible object store that holds the raw
// bytes of uploaded dataset files.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures the blob store connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// BlobService provides put/get access to a single bucket, creating the
// bucket lazily on first use.
type BlobService struct {
	client *minio.Client
	bucket string
	logger func(string)
}

// NewBlobService creates a client for the configured endpoint. The bucket
// is not touched until the first Put.
func NewBlobService(opts Options, logger func(string)) (*BlobService, error) {
	if logger == nil {
		logger = func(string) {}
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(opts.Endpoint, "http://"), "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store client: %w", err)
	}

	return &BlobService{
		client: client,
		bucket: opts.Bucket,
		logger: logger,
	}, nil
}

func (s *BlobService) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger(fmt.Sprintf("[STORAGE] Bucket %s created", s.bucket))
	return nil
}

// Put uploads bytes under objectName and returns the stored locator.
func (s *BlobService) Put(ctx context.Context, objectName string, data []byte) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("blob upload failed for %s: %w", objectName, err)
	}
	s.logger(fmt.Sprintf("[STORAGE] Uploaded %s (%d bytes)", objectName, len(data)))
	return objectName, nil
}

// Get downloads the full object into memory for processing.
func (s *BlobService) Get(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob fetch failed for %s: %w", objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("blob read failed for %s: %w", objectName, err)
	}
	return data, nil
}
