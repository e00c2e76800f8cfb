package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
)

// OpenWriter returns a buffering writer for name.
//
// Any existing object is replaced with an empty one first, so readers never
// observe the previous content once a writer has been opened.
//
// Parameters:
//   - ctx: Context used for every request the writer issues
//   - name: Relative content name
//
// Returns:
//   - io.WriteCloser: Writer that publishes the object on Close
//   - error: Returns error if the name is invalid or the truncation fails
func (s *S3ContentStore) OpenWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := s.getObjectKey(name)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Truncate eagerly
	// ========================================================================

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object %s: %w", key, err)
	}

	return &multipartWriter{
		ctx:   ctx,
		store: s,
		key:   key,
		buf:   make([]byte, 0, s.partSize),
	}, nil
}

// multipartWriter accumulates bytes and uploads them in parts.
//
// Not safe for concurrent use; the registry serializes writes per file.
type multipartWriter struct {
	ctx   context.Context
	store *S3ContentStore
	key   string

	buf      []byte
	uploadID string
	parts    []types.CompletedPart
	closed   bool
	failed   error
}

func (w *multipartWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, content.ErrWriterClosed
	}
	if w.failed != nil {
		return 0, w.failed
	}

	written := 0
	for len(p) > 0 {
		room := int(w.store.partSize) - len(w.buf)
		n := min(room, len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n

		if int64(len(w.buf)) == w.store.partSize {
			if err := w.flushPart(); err != nil {
				w.failed = err
				return written, err
			}
		}
	}

	return written, nil
}

// flushPart uploads the buffered bytes as the next part, starting the
// multipart upload on first use.
func (w *multipartWriter) flushPart() error {
	if w.uploadID == "" {
		result, err := w.store.client.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
		})
		if err != nil {
			return fmt.Errorf("failed to create multipart upload: %w", err)
		}
		w.uploadID = aws.ToString(result.UploadId)
	}

	partNumber := int32(len(w.parts) + 1)
	result, err := w.store.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.store.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(w.buf),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       result.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	w.buf = w.buf[:0]
	return nil
}

// Close publishes the object. A failed writer aborts its multipart upload.
func (w *multipartWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.failed != nil {
		w.abort()
		return w.failed
	}

	// ========================================================================
	// Small object: single PUT
	// ========================================================================

	if w.uploadID == "" {
		_, err := w.store.client.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
			Body:   bytes.NewReader(w.buf),
		})
		if err != nil {
			return fmt.Errorf("failed to put object %s: %w", w.key, err)
		}
		return nil
	}

	// ========================================================================
	// Multipart: upload the tail and complete
	// ========================================================================

	if len(w.buf) > 0 {
		if err := w.flushPart(); err != nil {
			w.abort()
			return err
		}
	}

	sort.Slice(w.parts, func(i, j int) bool {
		return *w.parts[i].PartNumber < *w.parts[j].PartNumber
	})

	_, err := w.store.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: w.parts,
		},
	})
	if err != nil {
		w.abort()
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

func (w *multipartWriter) abort() {
	if w.uploadID == "" {
		return
	}

	_, err := w.store.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			logger.Warn("s3: failed to abort multipart upload %s for %s: %v", w.uploadID, w.key, err)
		}
	}
}
