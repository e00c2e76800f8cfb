// Package testing provides a conformance suite every SnapshotStore backend
// runs from its own tests.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SnapshotStoreTestSuite runs the shared SnapshotStore tests.
type SnapshotStoreTestSuite struct {
	// NewStore returns a fresh, empty store. Cleanup is the factory's job.
	NewStore func(t *testing.T) metadata.SnapshotStore
}

// Run executes every test in the suite.
func (s *SnapshotStoreTestSuite) Run(t *testing.T) {
	t.Run("SaveLoad", s.testSaveLoad)
	t.Run("Overwrite", s.testOverwrite)
	t.Run("NotFound", s.testNotFound)
	t.Run("Delete", s.testDelete)
	t.Run("Roots", s.testRoots)
	t.Run("Isolation", s.testIsolation)
	t.Run("EmptyRoot", s.testEmptyRoot)
	t.Run("Cancelled", s.testCancelled)
	t.Run("Concurrent", s.testConcurrent)
	t.Run("Closed", s.testClosed)
}

func sampleSnapshot(root string) *filestore.Snapshot {
	return &filestore.Snapshot{
		RootDirectory: root,
		Algorithm:     "sha256",
		IDs:           []filestore.FileID{"id-a", "id-b"},
		Names:         map[string]filestore.FileID{"a.txt": "id-a", "dir/b.txt": "id-b"},
		Hashes:        map[filestore.FileID]string{"id-a": "ba7816bf"},
	}
}

func (s *SnapshotStoreTestSuite) testSaveLoad(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()
	snap := sampleSnapshot("/srv/staging")

	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.LoadSnapshot(ctx, "/srv/staging")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func (s *SnapshotStoreTestSuite) testOverwrite(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot("/r")))

	second := &filestore.Snapshot{
		RootDirectory: "/r",
		IDs:           []filestore.FileID{"only"},
		Names:         map[string]filestore.FileID{"only.txt": "only"},
		Hashes:        map[filestore.FileID]string{},
	}
	require.NoError(t, store.SaveSnapshot(ctx, second))

	got, err := store.LoadSnapshot(ctx, "/r")
	require.NoError(t, err)
	assert.Equal(t, []filestore.FileID{"only"}, got.IDs)
	assert.Equal(t, second.Names, got.Names)
}

func (s *SnapshotStoreTestSuite) testNotFound(t *testing.T) {
	store := s.NewStore(t)

	_, err := store.LoadSnapshot(context.Background(), "/missing")
	assert.ErrorIs(t, err, metadata.ErrSnapshotNotFound)
}

func (s *SnapshotStoreTestSuite) testDelete(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot("/r")))
	require.NoError(t, store.DeleteSnapshot(ctx, "/r"))

	_, err := store.LoadSnapshot(ctx, "/r")
	assert.ErrorIs(t, err, metadata.ErrSnapshotNotFound)

	assert.NoError(t, store.DeleteSnapshot(ctx, "/r"), "deleting a missing snapshot succeeds")
}

func (s *SnapshotStoreTestSuite) testRoots(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	roots, err := store.Roots(ctx)
	require.NoError(t, err)
	assert.Empty(t, roots)

	for _, root := range []string{"s3://bucket/perm/", "/b", "/a"} {
		require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot(root)))
	}

	roots, err = store.Roots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b", "s3://bucket/perm/"}, roots)
}

func (s *SnapshotStoreTestSuite) testIsolation(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()
	snap := sampleSnapshot("/r")

	require.NoError(t, store.SaveSnapshot(ctx, snap))

	// Mutating the caller's copy after saving must not leak into the store
	snap.Names["intruder"] = "id-a"

	got, err := store.LoadSnapshot(ctx, "/r")
	require.NoError(t, err)
	assert.NotContains(t, got.Names, "intruder")

	got.Hashes["id-b"] = "tampered"
	again, err := store.LoadSnapshot(ctx, "/r")
	require.NoError(t, err)
	assert.NotContains(t, again.Hashes, "id-b")
}

func (s *SnapshotStoreTestSuite) testEmptyRoot(t *testing.T) {
	store := s.NewStore(t)

	err := store.SaveSnapshot(context.Background(), &filestore.Snapshot{})
	assert.ErrorIs(t, err, metadata.ErrEmptyRoot)
}

func (s *SnapshotStoreTestSuite) testCancelled(t *testing.T) {
	store := s.NewStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.SaveSnapshot(ctx, sampleSnapshot("/r")), context.Canceled)
	_, err := store.LoadSnapshot(ctx, "/r")
	assert.ErrorIs(t, err, context.Canceled)
}

func (s *SnapshotStoreTestSuite) testConcurrent(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			root := fmt.Sprintf("/root-%d", i)
			assert.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot(root)))
			_, err := store.LoadSnapshot(ctx, root)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	roots, err := store.Roots(ctx)
	require.NoError(t, err)
	assert.Len(t, roots, 8)
}

func (s *SnapshotStoreTestSuite) testClosed(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.SaveSnapshot(ctx, sampleSnapshot("/r")), metadata.ErrClosed)
	_, err := store.LoadSnapshot(ctx, "/r")
	assert.ErrorIs(t, err, metadata.ErrClosed)
}
