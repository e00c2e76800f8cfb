package s3

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/marmos91/dittostore/pkg/content"
	contenttesting "github.com/marmos91/dittostore/pkg/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, client Client) *S3ContentStore {
	t.Helper()
	store, err := NewS3ContentStore(context.Background(), S3ContentStoreConfig{
		Client:    client,
		Bucket:    "test-bucket",
		KeyPrefix: "staging",
		PartSize:  minPartSize,
	})
	require.NoError(t, err)
	return store
}

// TestS3ContentStore runs the content store suite against an in-memory bucket.
func TestS3ContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			return newTestStore(t, newFakeClient())
		},
	}

	suite.Run(t)
}

func TestS3ContentStore_ConfigValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3ContentStore(ctx, S3ContentStoreConfig{Bucket: "b"})
	assert.Error(t, err, "missing client")

	_, err = NewS3ContentStore(ctx, S3ContentStoreConfig{Client: newFakeClient()})
	assert.Error(t, err, "missing bucket")

	_, err = NewS3ContentStore(ctx, S3ContentStoreConfig{Client: newFakeClient(), Bucket: "b", PartSize: 1024})
	assert.Error(t, err, "part size below minimum")
}

func TestS3ContentStore_Root(t *testing.T) {
	store := newTestStore(t, newFakeClient())
	assert.Equal(t, "s3://test-bucket/staging/", store.Root())
}

func TestS3ContentStore_MultipartUpload(t *testing.T) {
	client := newFakeClient()
	store := newTestStore(t, client)
	ctx := context.Background()

	data := make([]byte, 2*minPartSize+1234)
	for i := range data {
		data[i] = byte(i % 251)
	}

	w, err := store.OpenWriter(ctx, "big.bin")
	require.NoError(t, err)

	// Odd-sized chunks so part boundaries fall mid-chunk
	for off := 0; off < len(data); off += 700_001 {
		end := min(off+700_001, len(data))
		n, err := w.Write(data[off:end])
		require.NoError(t, err)
		require.Equal(t, end-off, n)
	}
	require.NoError(t, w.Close())

	assert.Equal(t, 1, client.completed)
	assert.Empty(t, client.uploads)

	r, err := store.OpenReader(ctx, "big.bin")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "multipart content mismatch")
}

func TestS3ContentStore_FailedPartAborts(t *testing.T) {
	client := newFakeClient()
	store := newTestStore(t, client)
	ctx := context.Background()

	w, err := store.OpenWriter(ctx, "broken.bin")
	require.NoError(t, err)

	client.failUploadPart = true
	_, err = w.Write(make([]byte, minPartSize))
	require.Error(t, err)

	_, err = w.Write([]byte("more"))
	assert.Error(t, err, "writer stays failed")

	assert.Error(t, w.Close())
	assert.Equal(t, 0, client.completed)
}

func TestS3ContentStore_OpenWriterTruncatesImmediately(t *testing.T) {
	client := newFakeClient()
	store := newTestStore(t, client)
	ctx := context.Background()

	w, err := store.OpenWriter(ctx, "f")
	require.NoError(t, err)
	_, err = w.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = store.OpenWriter(ctx, "f")
	require.NoError(t, err)

	size, err := store.Size(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}
