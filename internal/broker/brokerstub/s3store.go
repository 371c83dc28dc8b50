// Package brokerstub is a fake broker used by integration tests: an
// HTTP server implementing the wire contract of spec.md 4.4, backed by
// an S3-compatible object store the same way a real broker's blob layer
// would be (grounded on the teacher's internal/blob/s3 package).
package brokerstub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opacitylabs/vault/internal/domain"
)

// S3Config configures the backing object store. Point it at MinIO, R2,
// or any other S3-compatible endpoint for integration testing.
type S3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

// S3Store implements domain.BlobWriter and domain.BlobReader against an
// S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("brokerstub: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "http://"
	if useSSL {
		scheme = "https://"
	}
	return scheme + endpoint
}

// Put uploads data as a single PutObject call.
func (s *S3Store) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("brokerstub: put %s: %w", path, err)
	}
	return nil
}

// minPartSize is S3's minimum multipart part size.
const minPartSize int64 = 5 * 1024 * 1024

// PutMultipart uploads data via the multipart upload manager.
func (s *S3Store) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("brokerstub: multipart put %s: %w", path, err)
	}
	return nil
}

// Get retrieves the full object at path.
func (s *S3Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("brokerstub: get %s: %w", path, err)
	}
	return out.Body, nil
}

// GetRange retrieves a byte range, mirroring the broker's ranged file
// download endpoint.
func (s *S3Store) GetRange(ctx context.Context, path string, from, to int64) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", from, to)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, fmt.Errorf("brokerstub: get range %s: %w", path, err)
	}
	return out.Body, nil
}

// Exists checks whether an object is present at path.
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

var (
	_ domain.BlobWriter = (*S3Store)(nil)
	_ domain.BlobReader = (*S3Store)(nil)
)

// memoryStore is an in-memory domain.BlobWriter/BlobReader used by unit
// tests that want brokerstub's HTTP surface without a real S3 endpoint.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore { return &memoryStore{objects: map[string][]byte{}} }

func (m *memoryStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = buf
	return nil
}

func (m *memoryStore) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memoryStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("brokerstub: %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memoryStore) GetRange(_ context.Context, path string, from, to int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("brokerstub: %s: %w", path, domain.ErrNotFound)
	}
	if to >= int64(len(buf)) {
		to = int64(len(buf)) - 1
	}
	if from > to {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(buf[from : to+1])), nil
}

func (m *memoryStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

var (
	_ domain.BlobWriter = (*memoryStore)(nil)
	_ domain.BlobReader = (*memoryStore)(nil)
)
