package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/metadata"
	metadatatesting "github.com/marmos91/dittostore/pkg/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltSnapshotStore(t *testing.T) {
	suite := &metadatatesting.SnapshotStoreTestSuite{
		NewStore: func(t *testing.T) metadata.SnapshotStore {
			store, err := NewBoltSnapshotStore(context.Background(), filepath.Join(t.TempDir(), "snapshots.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
	suite.Run(t)
}

func TestBoltSnapshotStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "snapshots.db")

	store, err := NewBoltSnapshotStore(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	snap := &filestore.Snapshot{
		RootDirectory: "/srv/permanent",
		Algorithm:     "blake3",
		IDs:           []filestore.FileID{"a", "b"},
		Names:         map[string]filestore.FileID{"x": "a", "y/z": "b"},
		Hashes:        map[filestore.FileID]string{"b": "abcd"},
	}
	require.NoError(t, store.SaveSnapshot(ctx, snap))
	require.NoError(t, store.Close())

	reopened, err := NewBoltSnapshotStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LoadSnapshot(ctx, "/srv/permanent")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}
