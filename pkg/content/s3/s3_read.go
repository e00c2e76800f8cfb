package s3

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittostore/pkg/content"
)

// OpenReader downloads the object and returns its body.
//
// The caller is responsible for closing the returned ReadCloser.
func (s *S3ContentStore) OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := s.getObjectKey(name)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("content %s: %w", name, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return result.Body, nil
}

// Size performs a HEAD request to read the object length.
func (s *S3ContentStore) Size(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key, err := s.getObjectKey(name)
	if err != nil {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", name, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to head object: %w", err)
	}

	if result.ContentLength == nil {
		return 0, fmt.Errorf("content length not available for %s", name)
	}

	return *result.ContentLength, nil
}

// Exists performs a HEAD request; a missing object is not an error.
func (s *S3ContentStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key, err := s.getObjectKey(name)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// ListChildren lists one "directory" level using the "/" delimiter.
// Common prefixes are reported as directories.
func (s *S3ContentStore) ListChildren(ctx context.Context, dir string) ([]content.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	relPrefix := ""
	if dir != "" {
		cleaned, err := content.CleanName(dir)
		if err != nil {
			return nil, err
		}
		relPrefix = cleaned + "/"
	}
	fullPrefix := s.keyPrefix + relPrefix

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(fullPrefix),
		Delimiter: aws.String("/"),
	})

	var children []content.Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix)
			if rel == relPrefix {
				continue
			}
			children = append(children, content.Entry{Name: rel})
		}
		for _, p := range page.CommonPrefixes {
			rel := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), s.keyPrefix), "/")
			children = append(children, content.Entry{Name: rel, IsDir: true})
		}
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}
