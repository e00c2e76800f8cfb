// Package transport carries protocol messages between an upload client and
// the server. A Channel is message oriented: one Send on one end is one
// Recv on the other.
package transport

import (
	"context"
	"errors"

	"github.com/marmos91/dittostore/pkg/protocol"
)

// ErrClosed is returned by Send after the channel has been closed.
var ErrClosed = errors.New("channel closed")

// Channel is a bidirectional, ordered message channel.
//
// Send may be called concurrently with Recv. Concurrent Sends are
// serialized. Recv returns io.EOF once the peer has closed and every
// message it sent has been received.
type Channel interface {
	Send(ctx context.Context, m *protocol.Message) error
	Recv(ctx context.Context) (*protocol.Message, error)
	Close() error
}
