package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/adapter/transfer"
	"github.com/marmos91/dittostore/pkg/content/fs"
	"github.com/marmos91/dittostore/pkg/content/memory"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/hasher"
	"github.com/marmos91/dittostore/pkg/metadata/bolt"
	metaMemory "github.com/marmos91/dittostore/pkg/metadata/memory"
	"github.com/marmos91/dittostore/pkg/transport"
	"github.com/marmos91/dittostore/pkg/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T, root string) *memory.MemoryContentStore {
	t.Helper()
	store, err := memory.NewMemoryContentStore(context.Background(), root)
	require.NoError(t, err)
	return store
}

func writeFile(t *testing.T, store *memory.MemoryContentStore, name, data string) {
	t.Helper()
	w, err := store.OpenWriter(context.Background(), name)
	require.NoError(t, err)
	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestServe_UploadPromoteAndRestore(t *testing.T) {
	staging := newMemoryStore(t, "mem://staging")
	permanent := newMemoryStore(t, "mem://permanent")
	dbPath := filepath.Join(t.TempDir(), "snapshots.db")

	snapshots, err := bolt.NewBoltSnapshotStore(context.Background(), dbPath)
	require.NoError(t, err)

	srv := New(Config{Staging: staging, Permanent: permanent, Snapshots: snapshots})
	adp := transfer.New(transfer.Config{}, nil)
	require.NoError(t, srv.AddAdapter(adp))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-adp.Listening():
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not start listening")
	}

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(adp.Port())))
	require.NoError(t, err)
	client := upload.NewClient(transport.NewStreamChannel(conn, transport.StreamOptions{}))

	payload := strings.Repeat("chunked and acknowledged\n", 500)
	id, err := client.Upload(ctx, "inbox/report.txt", strings.NewReader(payload), 1024)
	require.NoError(t, err)

	destID, digest, err := client.Promote(ctx, id, "archive/report.txt")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// A second server over the same stores sees the same ids and digests
	snapshots, err = bolt.NewBoltSnapshotStore(context.Background(), dbPath)
	require.NoError(t, err)
	defer func() { _ = snapshots.Close() }()

	restarted := New(Config{Staging: staging, Permanent: permanent, Snapshots: snapshots})
	require.NoError(t, restarted.Open(context.Background()))

	rec, err := restarted.Staging().Stat(filestore.FileID(id))
	require.NoError(t, err)
	assert.Equal(t, "inbox/report.txt", rec.Name)
	assert.Equal(t, filestore.StateReadable, rec.State)
	assert.Equal(t, digest, rec.Hash)

	promoted, ok := restarted.Permanent().Lookup("archive/report.txt")
	require.True(t, ok)
	assert.Equal(t, filestore.FileID(destID), promoted)
}

func TestServe_ClosesOpenUploadsOnShutdown(t *testing.T) {
	staging := newMemoryStore(t, "mem://staging")
	snapshots := metaMemory.NewMemorySnapshotStore()

	srv := New(Config{Staging: staging, Snapshots: snapshots})
	adp := transfer.New(transfer.Config{}, nil)
	require.NoError(t, srv.AddAdapter(adp))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	<-adp.Listening()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(adp.Port())))
	require.NoError(t, err)
	client := upload.NewClient(transport.NewStreamChannel(conn, transport.StreamOptions{}))
	defer func() { _ = client.Close() }()

	id, err := client.Begin(ctx, "half.bin")
	require.NoError(t, err)
	require.NoError(t, client.SendChunk(ctx, id, []byte("half")))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	rec, err := srv.Staging().Stat(filestore.FileID(id))
	require.NoError(t, err)
	assert.Equal(t, filestore.StateReadable, rec.State)
	assert.NotEmpty(t, rec.Hash)

	writers, _ := srv.Staging().OpenHandles()
	assert.Zero(t, writers)
}

func TestOpen_RescansWithoutSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "a.txt"), []byte("hello"), 0644))

	store, err := fs.NewFSContentStore(context.Background(), dir)
	require.NoError(t, err)

	srv := New(Config{Staging: store, Algorithm: hasher.BLAKE3})
	require.NoError(t, srv.Open(context.Background()))

	id, ok := srv.Staging().Lookup("nested/a.txt")
	require.True(t, ok)

	rec, err := srv.Staging().Stat(id)
	require.NoError(t, err)
	assert.Equal(t, filestore.StateReadable, rec.State)
	assert.NotEmpty(t, rec.Hash)
	assert.Equal(t, hasher.BLAKE3, srv.Staging().Algorithm())
	assert.Nil(t, srv.Permanent())
}

func TestOpen_DiscardsSnapshotWithOtherAlgorithm(t *testing.T) {
	staging := newMemoryStore(t, "mem://staging")
	writeFile(t, staging, "x.txt", "data")

	snapshots := metaMemory.NewMemorySnapshotStore()
	stale := &filestore.Snapshot{
		RootDirectory: staging.Root(),
		Algorithm:     string(hasher.BLAKE3),
		IDs:           []filestore.FileID{"stale-id"},
		Names:         map[string]filestore.FileID{"x.txt": "stale-id"},
		Hashes:        map[filestore.FileID]string{"stale-id": "deadbeef"},
	}
	require.NoError(t, snapshots.SaveSnapshot(context.Background(), stale))

	srv := New(Config{Staging: staging, Snapshots: snapshots, Algorithm: hasher.SHA256})
	require.NoError(t, srv.Open(context.Background()))

	id, ok := srv.Staging().Lookup("x.txt")
	require.True(t, ok)
	assert.NotEqual(t, filestore.FileID("stale-id"), id)

	rec, err := srv.Staging().Stat(id)
	require.NoError(t, err)
	assert.NotEqual(t, "deadbeef", rec.Hash)
}

func TestCheckpoint_SavesBothRegistries(t *testing.T) {
	staging := newMemoryStore(t, "mem://staging")
	permanent := newMemoryStore(t, "mem://permanent")
	snapshots := metaMemory.NewMemorySnapshotStore()

	srv := New(Config{Staging: staging, Permanent: permanent, Snapshots: snapshots})
	require.NoError(t, srv.Open(context.Background()))

	_, err := srv.Staging().WriteFrom(context.Background(), "a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, srv.Checkpoint(context.Background()))

	roots, err := snapshots.Roots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mem://permanent", "mem://staging"}, roots)
}

func TestStatus_ReportsRegistryCounts(t *testing.T) {
	staging := newMemoryStore(t, "mem://staging")
	permanent := newMemoryStore(t, "mem://permanent")

	srv := New(Config{Staging: staging, Permanent: permanent})
	assert.Empty(t, srv.Status())
	require.NoError(t, srv.Open(context.Background()))

	ctx := context.Background()
	_, err := srv.Staging().WriteFrom(ctx, "done.txt", strings.NewReader("done"))
	require.NoError(t, err)
	_, err = srv.Staging().CreateOrReuse(ctx, "open.txt")
	require.NoError(t, err)

	status := srv.Status()
	require.Len(t, status, 2)

	assert.Equal(t, "staging", status[0].Role)
	assert.Equal(t, "mem://staging", status[0].Root)
	assert.Equal(t, 2, status[0].Files)
	assert.Equal(t, 1, status[0].OpenWriters)

	assert.Equal(t, "permanent", status[1].Role)
	assert.Zero(t, status[1].Files)
}

func TestServe_NoAdapters(t *testing.T) {
	srv := New(Config{Staging: newMemoryStore(t, "mem://staging")})

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapters registered")

	assert.Panics(t, func() { _ = srv.Serve(context.Background()) })
}

func TestAddAdapter_DuplicateProtocol(t *testing.T) {
	srv := New(Config{Staging: newMemoryStore(t, "mem://staging")})

	require.NoError(t, srv.AddAdapter(transfer.New(transfer.Config{}, nil)))
	err := srv.AddAdapter(transfer.New(transfer.Config{}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Len(t, srv.Adapters(), 1)
}

func TestNew_RequiresStaging(t *testing.T) {
	assert.Panics(t, func() { New(Config{}) })
}
