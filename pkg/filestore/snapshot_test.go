package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittostore/pkg/hasher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore(t *testing.T) {
	store := newMemoryStore(t, "mem://staging")
	s := New(store, WithAlgorithm(hasher.BLAKE3))
	ctx := context.Background()

	a := mustCreate(t, s, "a.txt")
	mustWrite(t, s, a, "aaa")
	require.NoError(t, s.Close(ctx, a))

	b := mustCreate(t, s, "dir/b.txt")
	mustWrite(t, s, b, "in progress")

	snap := s.Snapshot()
	assert.Equal(t, "mem://staging", snap.RootDirectory)
	assert.Equal(t, "blake3", snap.Algorithm)
	assert.Len(t, snap.IDs, 2)
	assert.Equal(t, map[string]FileID{"a.txt": a, "dir/b.txt": b}, snap.Names)
	assert.Contains(t, snap.Hashes, a)
	assert.NotContains(t, snap.Hashes, b, "open files have no final hash")

	// Survives a JSON round trip through a persistence layer
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored, err := Restore(ctx, store, &decoded)
	require.NoError(t, err)
	assert.Equal(t, hasher.BLAKE3, restored.Algorithm())

	recA, err := restored.Stat(a)
	require.NoError(t, err)
	assert.Equal(t, StateReadable, recA.State)
	assert.Equal(t, snap.Hashes[a], recA.Hash)

	recB, err := restored.Stat(b)
	require.NoError(t, err)
	assert.Empty(t, recB.Hash)

	writers, readers := restored.OpenHandles()
	assert.Zero(t, writers, "restore opens no handles")
	assert.Zero(t, readers)

	assert.Equal(t, "aaa", readAll(t, restored, a))

	// Restored ids are usable for the normal write path
	again := mustCreate(t, restored, "a.txt")
	assert.Equal(t, a, again)
}

func TestRestore_RootMismatch(t *testing.T) {
	s := New(newMemoryStore(t, "mem://one"))
	mustCreate(t, s, "x")

	_, err := Restore(context.Background(), newMemoryStore(t, "mem://two"), s.Snapshot())
	assert.ErrorIs(t, err, ErrRootMismatch)
}

func TestRestore_InvalidSnapshot(t *testing.T) {
	store := newMemoryStore(t, "mem://x")

	tests := []struct {
		name string
		snap Snapshot
	}{
		{
			name: "name for unknown id",
			snap: Snapshot{RootDirectory: "mem://x", IDs: []FileID{"1"}, Names: map[string]FileID{"a": "2"}},
		},
		{
			name: "id without name",
			snap: Snapshot{RootDirectory: "mem://x", IDs: []FileID{"1", "2"}, Names: map[string]FileID{"a": "1"}},
		},
		{
			name: "two names for one id",
			snap: Snapshot{RootDirectory: "mem://x", IDs: []FileID{"1"}, Names: map[string]FileID{"a": "1", "b": "1"}},
		},
		{
			name: "hash for unknown id",
			snap: Snapshot{
				RootDirectory: "mem://x",
				IDs:           []FileID{"1"},
				Names:         map[string]FileID{"a": "1"},
				Hashes:        map[FileID]string{"9": "ff"},
			},
		},
		{
			name: "escaping name",
			snap: Snapshot{RootDirectory: "mem://x", IDs: []FileID{"1"}, Names: map[string]FileID{"../a": "1"}},
		},
		{
			name: "duplicate id",
			snap: Snapshot{RootDirectory: "mem://x", IDs: []FileID{"1", "1"}, Names: map[string]FileID{"a": "1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Restore(context.Background(), store, &tt.snap)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestCopy_PromotesBetweenRegistries(t *testing.T) {
	ctx := context.Background()
	staging := New(newMemoryStore(t, "mem://staging"))
	permStore, dir := newFSStore(t)
	permanent := New(permStore)

	src := mustCreate(t, staging, "upload.tmp")
	mustWrite(t, staging, src, "who\n", "what\n", "why")
	require.NoError(t, staging.Close(ctx, src))

	dst, err := Copy(ctx, staging, permanent, src, "archive/final.txt")
	require.NoError(t, err)

	srcRec, _ := staging.Stat(src)
	dstRec, err := permanent.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, srcRec.Hash, dstRec.Hash)
	assert.Equal(t, StateReadable, dstRec.State)

	onDisk, err := os.ReadFile(filepath.Join(dir, "archive", "final.txt"))
	require.NoError(t, err)
	assert.Equal(t, "who\nwhat\nwhy", string(onDisk))
}

func TestCopy_UnknownSource(t *testing.T) {
	staging := New(newMemoryStore(t, ""))
	permanent := New(newMemoryStore(t, ""))

	_, err := Copy(context.Background(), staging, permanent, "missing", "x")
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
	assert.Equal(t, 0, permanent.Len(), "destination untouched")
}

func TestRescan_AdoptsUntrackedFiles(t *testing.T) {
	store, dir := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested", "deeper"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.txt"), []byte("top"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "mid.txt"), []byte("mid"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "deeper", "low.txt"), []byte("low"), 0644))

	s := New(store)
	known := mustCreate(t, s, "top.txt")
	mustWrite(t, s, known, "top")
	require.NoError(t, s.Close(ctx, known))

	adopted, err := s.Rescan(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, adopted)

	id, ok := s.Lookup("nested/deeper/low.txt")
	require.True(t, ok)
	rec, _ := s.Stat(id)
	assert.Equal(t, StateReadable, rec.State)
	assert.Equal(t, digestOf(t, "low"), rec.Hash)
	assert.Equal(t, int64(3), rec.Size)

	// Second pass finds nothing new
	adopted, err = s.Rescan(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, adopted)
}
