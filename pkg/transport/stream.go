package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/protocol"
)

// StreamOptions configures a StreamChannel.
type StreamOptions struct {
	// Codec encodes messages. Nil selects CBOR.
	Codec protocol.Codec

	// Compression applied to outgoing frames. Incoming frames are decoded
	// whatever the peer used.
	Compression protocol.Compression

	// MaxFrameSize bounds a single frame. 0 selects protocol.DefaultMaxFrameSize.
	MaxFrameSize int

	// ReadTimeout bounds each Recv. 0 disables it.
	ReadTimeout time.Duration

	// WriteTimeout bounds each Send. 0 disables it.
	WriteTimeout time.Duration
}

// StreamChannel frames messages over a net.Conn.
//
// Wire format per message: record marking header(s), then the compression
// header, then the codec payload.
type StreamChannel struct {
	conn net.Conn
	opts StreamOptions

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStreamChannel wraps conn. The channel owns conn and closes it on Close.
func NewStreamChannel(conn net.Conn, opts StreamOptions) *StreamChannel {
	if opts.Codec == nil {
		opts.Codec = protocol.CBOR{}
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	return &StreamChannel{conn: conn, opts: opts}
}

// Send encodes, compresses and writes m as one frame.
func (c *StreamChannel) Send(ctx context.Context, m *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := c.opts.Codec.Marshal(m)
	if err != nil {
		return err
	}
	payload, err = protocol.Compress(c.opts.Compression, payload)
	if err != nil {
		return fmt.Errorf("compress %s: %w", m.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout)); err != nil {
		if isClosed(err) {
			return ErrClosed
		}
		return fmt.Errorf("set write deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteFrame(c.conn, payload, c.opts.MaxFrameSize); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isClosed(err) {
			return ErrClosed
		}
		return err
	}

	logger.Debug("transport: sent %s to %s (%d bytes)", m, c.conn.RemoteAddr(), len(payload))
	return nil
}

// Recv blocks until a full frame has been read and decoded.
func (c *StreamChannel) Recv(ctx context.Context) (*protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	// A closed connection fails here; the read below reports it properly
	if err := c.conn.SetReadDeadline(deadline(ctx, c.opts.ReadTimeout)); err != nil {
		logger.Debug("transport: set read deadline for %s: %v", c.conn.RemoteAddr(), err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	frame, err := protocol.ReadFrame(c.conn, c.opts.MaxFrameSize)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, err
	}

	payload, err := protocol.Decompress(frame, c.opts.MaxFrameSize)
	if err != nil {
		return nil, err
	}

	m := &protocol.Message{}
	if err := c.opts.Codec.Unmarshal(payload, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *StreamChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *StreamChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// deadline picks the earlier of the context deadline and now+timeout.
// The zero time clears the deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
