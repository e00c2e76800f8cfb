package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/protocol"
	"github.com/marmos91/dittostore/pkg/transport"
)

// DefaultChunkSize is the chunk size Upload uses when none is given.
const DefaultChunkSize = 64 * 1024

// Client drives uploads over a channel. Requests are issued one at a time;
// each waits for its acknowledgement before the next is sent.
type Client struct {
	ch transport.Channel
	mu sync.Mutex
}

// NewClient wraps ch. The client owns ch and closes it on Close.
func NewClient(ch transport.Channel) *Client {
	return &Client{ch: ch}
}

// Close closes the underlying channel. The server closes any session left
// open when it sees the disconnect.
func (c *Client) Close() error {
	return c.ch.Close()
}

// Begin opens a session for name and returns its file id.
func (c *Client) Begin(ctx context.Context, name string) (string, error) {
	ack, err := c.roundTrip(ctx, protocol.BeginUpload(name), protocol.TypeBeginUploadAck)
	if err != nil {
		return "", fmt.Errorf("begin %q: %w", name, err)
	}
	return ack.FileID, nil
}

// SendChunk writes data to the session and waits for its ChunkAck.
func (c *Client) SendChunk(ctx context.Context, id string, data []byte) error {
	if _, err := c.roundTrip(ctx, protocol.Chunk(id, data), protocol.TypeChunkAck); err != nil {
		return fmt.Errorf("chunk for %s: %w", id, err)
	}
	return nil
}

// End closes the session and waits for the final ChunkAck.
func (c *Client) End(ctx context.Context, id string) error {
	if _, err := c.roundTrip(ctx, protocol.EndOfStream(id), protocol.TypeChunkAck); err != nil {
		return fmt.Errorf("end of stream for %s: %w", id, err)
	}
	return nil
}

// Upload streams r to name in chunks of chunkSize bytes (DefaultChunkSize
// if <= 0) and ends the session. Returns the file id. A failed chunk leaves
// the session open on the server.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	id, err := c.Begin(ctx, name)
	if err != nil {
		return "", err
	}

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := c.SendChunk(ctx, id, buf[:n]); err != nil {
				return id, err
			}
			total += int64(n)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return id, fmt.Errorf("read %q: %w", name, readErr)
		}
	}

	if err := c.End(ctx, id); err != nil {
		return id, err
	}

	logger.Debug("upload: sent %q as %s (%d bytes)", name, id, total)
	return id, nil
}

// UploadChunks sends each element of chunks as one Chunk message.
func (c *Client) UploadChunks(ctx context.Context, name string, chunks [][]byte) (string, error) {
	id, err := c.Begin(ctx, name)
	if err != nil {
		return "", err
	}
	for _, chunk := range chunks {
		if err := c.SendChunk(ctx, id, chunk); err != nil {
			return id, err
		}
	}
	return id, c.End(ctx, id)
}

// Promote copies the closed staging file id into the permanent store as
// destName. Returns the permanent id and its digest.
func (c *Client) Promote(ctx context.Context, id, destName string) (string, string, error) {
	ack, err := c.roundTrip(ctx, protocol.Promote(id, destName), protocol.TypePromoteAck)
	if err != nil {
		return "", "", fmt.Errorf("promote %s: %w", id, err)
	}
	return ack.FileID, ack.Hash, nil
}

func (c *Client) roundTrip(ctx context.Context, req *protocol.Message, want protocol.Type) (*protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ch.Send(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.ch.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if resp.Type != want {
		return nil, fmt.Errorf("expected %s, got %s", want, resp.Type)
	}
	return resp, nil
}
