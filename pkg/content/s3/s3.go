// Package s3 implements S3-based content storage.
//
// Content names are used directly as object keys (behind an optional key
// prefix), so the bucket mirrors the registry's name space.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittostore/pkg/content"
)

const (
	minPartSize     = 5 * 1024 * 1024
	maxPartSize     = 5 * 1024 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024
)

// Client is the subset of the S3 API used by the store. *s3.Client
// satisfies it; tests substitute an in-memory fake.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ Client = (*s3.Client)(nil)

// S3ContentStore implements content.Store using Amazon S3 or S3-compatible
// storage.
//
// Writers buffer up to PartSize bytes. Small files are stored with a single
// PutObject on Close, larger ones switch to a multipart upload as soon as
// the first part fills. Object stores only publish an object when the
// upload completes, so content written through an open writer becomes
// readable at Close.
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
type S3ContentStore struct {
	client    Client
	bucket    string
	keyPrefix string
	partSize  int64
}

var (
	_ content.Store      = (*S3ContentStore)(nil)
	_ content.Enumerator = (*S3ContentStore)(nil)
)

// S3ContentStoreConfig contains configuration for S3 content store.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client
	Client Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	// Example: "staging/" results in keys like "staging/docs/report.pdf"
	KeyPrefix string

	// PartSize is the size of each part for multipart uploads (default: 10MB).
	// Must be between 5MB and 5GB.
	PartSize int64

	// SkipBucketCheck disables the HeadBucket probe at construction.
	SkipBucketCheck bool
}

// NewS3ContentStore creates a new S3-based content store.
//
// This verifies bucket access unless SkipBucketCheck is set. The bucket
// must already exist - this function does not create it.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3ContentStore: Initialized S3 content store
//   - error: Returns error if bucket access fails or context is cancelled
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}

	// S3 limits: 5MB to 5GB
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	keyPrefix := strings.TrimPrefix(cfg.KeyPrefix, "/")
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	if !cfg.SkipBucketCheck {
		_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(cfg.Bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: keyPrefix,
		partSize:  partSize,
	}, nil
}

// Root returns "s3://bucket/prefix".
func (s *S3ContentStore) Root() string {
	return "s3://" + s.bucket + "/" + s.keyPrefix
}

// getObjectKey returns the full S3 object key for a content name.
//
// Example:
//
//	Name:       "documents/report.pdf"
//	Key Prefix: "dittostore/"
//	S3 Key:     "dittostore/documents/report.pdf"
func (s *S3ContentStore) getObjectKey(name string) (string, error) {
	cleaned, err := content.CleanName(name)
	if err != nil {
		return "", err
	}
	return s.keyPrefix + cleaned, nil
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (s *S3ContentStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := s.getObjectKey(name)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// isNotFound matches both the GetObject and HeadObject flavours of "missing".
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
