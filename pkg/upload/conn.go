package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/observer"
	"github.com/marmos91/dittostore/pkg/protocol"
	"github.com/marmos91/dittostore/pkg/transport"
)

const (
	eventBegin   = "begin"
	eventPromote = "promote"
)

// conn is the server side of one channel. Messages are dispatched
// synchronously from the receive loop, so per session chunks are applied
// in arrival order with at most one write in flight.
type conn struct {
	svc      *Service
	ch       transport.Channel
	events   *observer.Registry[*protocol.Message]
	sessions map[filestore.FileID]*Session
	limiter  *ratelimiter.RateLimiter

	// valid for the duration of run; handlers are only invoked from it
	ctx context.Context

	// code of the last error notification sent, for metrics
	lastCode protocol.Code
	sendErr  error
}

func newConn(svc *Service, ch transport.Channel, limiter *ratelimiter.RateLimiter) *conn {
	return &conn{
		svc:      svc,
		ch:       ch,
		events:   observer.New[*protocol.Message](),
		sessions: make(map[filestore.FileID]*Session),
		limiter:  limiter,
	}
}

func (c *conn) run(ctx context.Context) error {
	c.ctx = ctx
	c.events.On(eventBegin, c.handleBegin)
	c.events.On(eventPromote, c.handlePromote)
	defer c.teardown()

	for {
		msg, err := c.ch.Recv(ctx)
		if err != nil {
			return err
		}

		if !c.limiter.Allow() {
			c.svc.metrics.RecordRateLimited()
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		c.dispatch(msg)
		if c.sendErr != nil {
			return c.sendErr
		}
	}
}

// ============================================================================
// Dispatch
// ============================================================================

func (c *conn) dispatch(msg *protocol.Message) {
	start := time.Now()
	c.lastCode = protocol.CodeOK

	defer func() {
		code := ""
		if c.lastCode != protocol.CodeOK {
			code = c.lastCode.String()
		}
		c.svc.metrics.RecordMessage(msg.Type.String(), time.Since(start), code)
	}()

	// A begin without a usable name is a create failure, answered in kind
	if msg.Type == protocol.TypeBeginUpload {
		c.events.Emit(eventBegin, msg)
		return
	}

	if err := msg.Validate(); err != nil {
		logger.Debug("upload: rejecting malformed message: %v", err)
		c.reply(protocol.ChunkError(msg.FileID, protocol.CodeBadMessage, err.Error()))
		return
	}

	switch msg.Type {
	case protocol.TypeChunk, protocol.TypeEndOfStream:
		id := filestore.FileID(msg.FileID)
		if c.events.Emit(chunkEvent(id), msg) == 0 {
			logger.Debug("upload: %s for %s with no open session", msg.Type, id)
			c.reply(protocol.ChunkError(msg.FileID, protocol.CodeUnknownStream,
				fmt.Sprintf("no upload session for %s", id)))
		}

	case protocol.TypePromote:
		c.events.Emit(eventPromote, msg)

	default:
		c.reply(protocol.ChunkError(msg.FileID, protocol.CodeBadMessage,
			fmt.Sprintf("%s is not a client message", msg.Type)))
	}
}

func (c *conn) reply(m *protocol.Message) {
	if m.IsError() {
		c.lastCode = m.Code
	}
	if c.sendErr != nil {
		return
	}
	if err := c.ch.Send(c.ctx, m); err != nil {
		c.sendErr = fmt.Errorf("send %s: %w", m.Type, err)
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (c *conn) handleBegin(msg *protocol.Message) {
	staging := c.svc.staging

	id, err := staging.CreateOrReuse(c.ctx, msg.FileName)
	if err != nil {
		logger.Warn("upload: begin %q failed: %v", msg.FileName, err)
		c.reply(protocol.BeginUploadError(err.Error()))
		return
	}

	// Re-beginning a name this connection is already uploading restarts it
	if prev, ok := c.sessions[id]; ok {
		c.events.Off(chunkEvent(id), prev.handler)
		prev.State = SessionClosed
		c.svc.metrics.RecordSessionEnded("restarted")
	}

	sess := newSession(id, msg.FileName)
	sess.handler = c.events.On(chunkEvent(id), func(m *protocol.Message) {
		c.handleSessionMessage(sess, m)
	})
	sess.State = SessionAwaitChunk
	c.sessions[id] = sess
	c.svc.metrics.RecordSessionStarted()

	logger.Info("upload: session %s started for %q", id, msg.FileName)
	c.reply(protocol.BeginUploadAck(string(id)))
}

func (c *conn) handleSessionMessage(sess *Session, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeChunk:
		c.handleChunk(sess, msg.Data)
	case protocol.TypeEndOfStream:
		c.handleEndOfStream(sess)
	}
}

func (c *conn) handleChunk(sess *Session, data []byte) {
	id := string(sess.ID)

	switch sess.State {
	case SessionAwaitChunk:
	case SessionWritePending:
		c.reply(protocol.ChunkError(id, protocol.CodeWriteFailure, "a chunk is already being written"))
		return
	default:
		c.reply(protocol.ChunkError(id, protocol.CodeUnknownStream,
			fmt.Sprintf("session %s is %s", id, sess.State)))
		return
	}

	sess.State = SessionWritePending
	err := c.svc.staging.Write(c.ctx, sess.ID, data)
	sess.State = SessionAwaitChunk

	if err != nil {
		logger.Warn("upload: chunk %d for %s failed: %v", sess.Chunks+1, id, err)
		c.reply(protocol.ChunkError(id, protocol.CodeWriteFailure, err.Error()))
		return
	}

	sess.Chunks++
	sess.Bytes += int64(len(data))
	c.svc.metrics.RecordBytesWritten(len(data))

	logger.Debug("upload: chunk %d for %s (%d bytes)", sess.Chunks, id, len(data))
	c.reply(protocol.ChunkAck(id))
}

func (c *conn) handleEndOfStream(sess *Session) {
	id := string(sess.ID)
	sess.State = SessionEOSReceived

	err := c.svc.staging.Close(c.ctx, sess.ID)
	c.endSession(sess)

	if err != nil {
		logger.Warn("upload: closing %s failed: %v", id, err)
		c.reply(protocol.ChunkError(id, protocol.CodeWriteFailure, err.Error()))
		return
	}

	c.svc.metrics.RecordSessionEnded("eos")
	logger.Info("upload: session %s complete: %d chunks, %d bytes in %v",
		id, sess.Chunks, sess.Bytes, time.Since(sess.Started).Round(time.Millisecond))
	c.reply(protocol.ChunkAck(id))
}

func (c *conn) endSession(sess *Session) {
	c.events.Off(chunkEvent(sess.ID), sess.handler)
	delete(c.sessions, sess.ID)
	sess.State = SessionClosed
}

func (c *conn) handlePromote(msg *protocol.Message) {
	id := filestore.FileID(msg.FileID)
	start := time.Now()

	destID, hash, err := c.promote(id, msg.FileName)
	c.svc.metrics.RecordPromotion(time.Since(start), err)

	if err != nil {
		logger.Warn("upload: promote %s to %q failed: %v", id, msg.FileName, err)
		c.reply(protocol.PromoteError(msg.FileID, protocol.CodePromoteFailure, err.Error()))
		return
	}

	logger.Info("upload: promoted %s to %q (%s)", id, msg.FileName, destID)
	c.reply(protocol.PromoteAck(string(destID), hash))
}

func (c *conn) promote(id filestore.FileID, destName string) (filestore.FileID, string, error) {
	if c.svc.permanent == nil {
		return "", "", fmt.Errorf("no permanent store configured")
	}
	if _, open := c.sessions[id]; open {
		return "", "", fmt.Errorf("upload %s is still in progress", id)
	}

	rec, err := c.svc.staging.Stat(id)
	if err != nil {
		return "", "", err
	}
	if rec.State != filestore.StateReadable {
		return "", "", fmt.Errorf("upload %s is %s", id, rec.State)
	}

	destID, err := filestore.Copy(c.ctx, c.svc.staging, c.svc.permanent, id, destName)
	if err != nil {
		return "", "", err
	}

	dest, err := c.svc.permanent.Stat(destID)
	if err != nil {
		return "", "", err
	}
	return destID, dest.Hash, nil
}

// teardown closes every session the peer left open and drops all handlers.
func (c *conn) teardown() {
	ctx := context.WithoutCancel(c.ctx)

	for id, sess := range c.sessions {
		if err := c.svc.staging.Close(ctx, id); err != nil {
			logger.Debug("upload: closing abandoned %s: %v", id, err)
		}
		sess.State = SessionClosed
		c.svc.metrics.RecordSessionEnded("disconnect")
		logger.Info("upload: session %s abandoned after %d chunks", id, sess.Chunks)
	}

	clear(c.sessions)
	c.events.Clear()
}
