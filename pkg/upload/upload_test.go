package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/content/memory"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/hasher"
	"github.com/marmos91/dittostore/pkg/protocol"
	"github.com/marmos91/dittostore/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fixtures
// ============================================================================

// flakyStore fails writes while failWrites is set.
type flakyStore struct {
	content.Store
	failWrites atomic.Bool
}

func (f *flakyStore) OpenWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	w, err := f.Store.OpenWriter(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flakyWriter{WriteCloser: w, parent: f}, nil
}

type flakyWriter struct {
	io.WriteCloser
	parent *flakyStore
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.parent.failWrites.Load() {
		return 0, errors.New("disk on fire")
	}
	return w.WriteCloser.Write(p)
}

type harness struct {
	svc    *Service
	store  *flakyStore
	client transport.Channel
	done   chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	stagingMem, err := memory.NewMemoryContentStore(ctx, "mem://staging")
	require.NoError(t, err)
	permanentMem, err := memory.NewMemoryContentStore(ctx, "mem://permanent")
	require.NoError(t, err)

	store := &flakyStore{Store: stagingMem}
	opts = append([]Option{WithPermanent(filestore.New(permanentMem))}, opts...)
	svc := NewService(filestore.New(store), opts...)

	clientEnd, serverEnd := transport.Pipe()
	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Serve(serveCtx, serverEnd) }()

	h := &harness{svc: svc, store: store, client: clientEnd, done: done, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		_ = clientEnd.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, m *protocol.Message) {
	t.Helper()
	require.NoError(t, h.client.Send(context.Background(), m))
}

func (h *harness) recv(t *testing.T) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := h.client.Recv(ctx)
	require.NoError(t, err)
	return m
}

func (h *harness) begin(t *testing.T, name string) string {
	t.Helper()
	h.send(t, protocol.BeginUpload(name))
	ack := h.recv(t)
	require.Equal(t, protocol.TypeBeginUploadAck, ack.Type, "got %s", ack)
	return ack.FileID
}

// disconnect closes the client end and waits for the server loop to exit.
func (h *harness) disconnect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.client.Close())
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server loop did not exit")
	}
}

func stagedContent(t *testing.T, svc *Service, id string) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := svc.Staging().ReadInto(context.Background(), filestore.FileID(id), &buf)
	require.NoError(t, err)
	return buf.String()
}

// ============================================================================
// End to end
// ============================================================================

func TestUpload_EndToEnd(t *testing.T) {
	h := newHarness(t)
	chunks := []string{"who\n", "what\n", "when\n", "where\n", "why"}

	id := h.begin(t, "mycoolfile")

	// Each chunk waits for the ack of the previous one
	for i, c := range chunks {
		h.send(t, protocol.Chunk(id, []byte(c)))
		ack := h.recv(t)
		require.Equal(t, protocol.TypeChunkAck, ack.Type, "chunk %d: got %s", i, ack)
		assert.Equal(t, id, ack.FileID)
		assert.Empty(t, ack.Data)
	}

	h.send(t, protocol.EndOfStream(id))
	ack := h.recv(t)
	require.Equal(t, protocol.TypeChunkAck, ack.Type, "end of stream: got %s", ack)
	assert.Equal(t, id, ack.FileID)
	assert.Empty(t, ack.Data)

	assert.Equal(t, "who\nwhat\nwhen\nwhere\nwhy", stagedContent(t, h.svc, id))

	rec, err := h.svc.Staging().Stat(filestore.FileID(id))
	require.NoError(t, err)
	assert.Equal(t, filestore.StateReadable, rec.State)
	want, err := hasher.SumBytes([]byte("who\nwhat\nwhen\nwhere\nwhy"), hasher.Default)
	require.NoError(t, err)
	assert.Equal(t, want, rec.Hash)

	h.disconnect(t)
}

func TestUpload_ClientAPI(t *testing.T) {
	h := newHarness(t)
	client := NewClient(h.client)
	ctx := context.Background()

	body := strings.Repeat("0123456789", 1000)
	id, err := client.Upload(ctx, "dir/big.txt", strings.NewReader(body), 777)
	require.NoError(t, err)
	assert.Equal(t, body, stagedContent(t, h.svc, id))

	empty, err := client.Upload(ctx, "empty.txt", strings.NewReader(""), 0)
	require.NoError(t, err)
	assert.Equal(t, "", stagedContent(t, h.svc, empty))

	destID, hash, err := client.Promote(ctx, id, "final/big.txt")
	require.NoError(t, err)
	assert.NotEmpty(t, destID)

	rec, err := h.svc.Permanent().Stat(filestore.FileID(destID))
	require.NoError(t, err)
	assert.Equal(t, hash, rec.Hash)
	assert.Equal(t, "final/big.txt", rec.Name)

	require.NoError(t, client.Close())
}

func TestUpload_InterleavedSessions(t *testing.T) {
	h := newHarness(t)

	a := h.begin(t, "a")
	b := h.begin(t, "b")
	require.NotEqual(t, a, b)

	for _, step := range []struct{ id, data string }{{a, "a1"}, {b, "b1"}, {a, "a2"}, {b, "b2"}} {
		h.send(t, protocol.Chunk(step.id, []byte(step.data)))
		ack := h.recv(t)
		require.Equal(t, protocol.TypeChunkAck, ack.Type)
		require.Equal(t, step.id, ack.FileID)
	}

	h.send(t, protocol.EndOfStream(a))
	assert.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)
	h.send(t, protocol.EndOfStream(b))
	assert.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)

	assert.Equal(t, "a1a2", stagedContent(t, h.svc, a))
	assert.Equal(t, "b1b2", stagedContent(t, h.svc, b))
}

func TestUpload_EmptyChunkIsOrdinaryWrite(t *testing.T) {
	h := newHarness(t)
	id := h.begin(t, "f")

	h.send(t, protocol.Chunk(id, nil))
	assert.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)

	// Session is still open after an empty chunk
	h.send(t, protocol.Chunk(id, []byte("x")))
	assert.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)
	h.send(t, protocol.EndOfStream(id))
	assert.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)

	assert.Equal(t, "x", stagedContent(t, h.svc, id))
}

// ============================================================================
// Errors
// ============================================================================

func TestUpload_BeginFailure(t *testing.T) {
	for _, name := range []string{"../escape", "", "."} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			h.send(t, protocol.BeginUpload(name))
			resp := h.recv(t)
			assert.Equal(t, protocol.TypeBeginUploadError, resp.Type)
			assert.Equal(t, protocol.CodeCreateFailure, resp.Code)
			assert.NotEmpty(t, resp.Text)
			assert.Zero(t, h.svc.Staging().Len())

			// The connection stays usable after the failure
			assert.NotEmpty(t, h.begin(t, "fine.txt"))
		})
	}
}

func TestUpload_ChunkWriteFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	id := h.begin(t, "f")

	h.send(t, protocol.Chunk(id, []byte("ok-")))
	require.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)

	h.store.failWrites.Store(true)
	h.send(t, protocol.Chunk(id, []byte("lost")))
	resp := h.recv(t)
	assert.Equal(t, protocol.TypeChunkError, resp.Type)
	assert.Equal(t, protocol.CodeWriteFailure, resp.Code)
	assert.Equal(t, id, resp.FileID)

	// Handler is still registered; the next chunk goes through
	h.store.failWrites.Store(false)
	h.send(t, protocol.Chunk(id, []byte("again")))
	assert.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)
	h.send(t, protocol.EndOfStream(id))
	assert.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)

	assert.Equal(t, "ok-again", stagedContent(t, h.svc, id))
}

func TestUpload_UnknownStream(t *testing.T) {
	h := newHarness(t)

	h.send(t, protocol.Chunk("not-a-session", []byte("x")))
	resp := h.recv(t)
	assert.Equal(t, protocol.TypeChunkError, resp.Type)
	assert.Equal(t, protocol.CodeUnknownStream, resp.Code)

	// Ended sessions are unknown too
	id := h.begin(t, "f")
	h.send(t, protocol.EndOfStream(id))
	require.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)

	h.send(t, protocol.Chunk(id, []byte("late")))
	resp = h.recv(t)
	assert.Equal(t, protocol.CodeUnknownStream, resp.Code)
}

func TestUpload_MalformedMessage(t *testing.T) {
	h := newHarness(t)

	h.send(t, &protocol.Message{Type: protocol.TypeChunk})
	resp := h.recv(t)
	assert.Equal(t, protocol.TypeChunkError, resp.Type)
	assert.Equal(t, protocol.CodeBadMessage, resp.Code)

	h.send(t, protocol.ChunkAck("id"))
	resp = h.recv(t)
	assert.Equal(t, protocol.CodeBadMessage, resp.Code, "server-bound only")
}

func TestUpload_PromoteRules(t *testing.T) {
	h := newHarness(t)
	client := NewClient(h.client)
	ctx := context.Background()

	id, err := client.Begin(ctx, "open")
	require.NoError(t, err)

	_, _, err = client.Promote(ctx, id, "dest")
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodePromoteFailure, remote.Code, "open sessions cannot be promoted")

	_, _, err = client.Promote(ctx, "unknown", "dest")
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodePromoteFailure, remote.Code)
}

func TestUpload_PromoteWithoutPermanent(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewMemoryContentStore(ctx, "")
	require.NoError(t, err)
	svc := NewService(filestore.New(mem))

	clientEnd, serverEnd := transport.Pipe()
	go func() { _ = svc.Serve(ctx, serverEnd) }()
	client := NewClient(clientEnd)
	defer client.Close()

	id, err := client.UploadChunks(ctx, "f", [][]byte{[]byte("x")})
	require.NoError(t, err)

	_, _, err = client.Promote(ctx, id, "dest")
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodePromoteFailure, remote.Code)
}

// ============================================================================
// Teardown
// ============================================================================

func TestUpload_DisconnectClosesOpenSessions(t *testing.T) {
	h := newHarness(t)

	id := h.begin(t, "abandoned")
	h.send(t, protocol.Chunk(id, []byte("partial")))
	require.Equal(t, protocol.TypeChunkAck, h.recv(t).Type)

	h.disconnect(t)

	writers, _ := h.svc.Staging().OpenHandles()
	assert.Zero(t, writers, "abandoned session handles released")

	rec, err := h.svc.Staging().Stat(filestore.FileID(id))
	require.NoError(t, err)
	assert.Equal(t, filestore.StateReadable, rec.State)
	assert.Equal(t, "partial", stagedContent(t, h.svc, id))
}

func TestUpload_CancelledContextEndsLoop(t *testing.T) {
	h := newHarness(t)
	h.begin(t, "f")

	h.cancel()
	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server loop did not exit")
	}

	writers, _ := h.svc.Staging().OpenHandles()
	assert.Zero(t, writers)
}

// ============================================================================
// Session state machine
// ============================================================================

func TestConn_ChunkWhileWritePendingRejected(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewMemoryContentStore(ctx, "")
	require.NoError(t, err)
	svc := NewService(filestore.New(mem))

	clientEnd, serverEnd := transport.Pipe()
	c := newConn(svc, serverEnd, nil)
	c.ctx = ctx
	c.events.On(eventBegin, c.handleBegin)

	c.dispatch(protocol.BeginUpload("f"))
	ack, err := clientEnd.Recv(ctx)
	require.NoError(t, err)
	id := filestore.FileID(ack.FileID)

	sess := c.sessions[id]
	require.NotNil(t, sess)
	assert.Equal(t, SessionAwaitChunk, sess.State)

	sess.State = SessionWritePending
	c.dispatch(protocol.Chunk(string(id), []byte("second")))

	resp, err := clientEnd.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeChunkError, resp.Type)
	assert.Equal(t, protocol.CodeWriteFailure, resp.Code)

	rec, err := svc.Staging().Stat(id)
	require.NoError(t, err)
	assert.Zero(t, rec.Size, "rejected chunk never reaches the file")
}

func TestConn_TeardownClearsHandlers(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewMemoryContentStore(ctx, "")
	require.NoError(t, err)
	svc := NewService(filestore.New(mem))

	clientEnd, serverEnd := transport.Pipe()
	c := newConn(svc, serverEnd, nil)
	c.ctx = ctx
	c.events.On(eventBegin, c.handleBegin)

	c.dispatch(protocol.BeginUpload("a"))
	c.dispatch(protocol.BeginUpload("b"))
	_, _ = clientEnd.Recv(ctx)
	_, _ = clientEnd.Recv(ctx)
	require.Len(t, c.sessions, 2)

	c.teardown()
	assert.Empty(t, c.sessions)
	assert.Empty(t, c.events.Events())
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "WRITE_PENDING", SessionWritePending.String())
	assert.Equal(t, "CLOSED", SessionClosed.String())
}
