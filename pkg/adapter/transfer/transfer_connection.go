package transfer

import (
	"context"
	"errors"
	"net"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/transport"
)

type transferConnection struct {
	adapter *TransferAdapter
	conn    net.Conn
}

func newTransferConnection(adapter *TransferAdapter, conn net.Conn) *transferConnection {
	return &transferConnection{
		adapter: adapter,
		conn:    conn,
	}
}

// Serve runs the upload protocol on this connection until the client
// disconnects, the connection idles out, or ctx is cancelled. A panic in
// the session handlers is contained to this connection.
func (c *transferConnection) Serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()

	ch := transport.NewStreamChannel(c.conn, c.adapter.streamOpts)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in transfer connection handler from %s: %v", clientAddr, r)
		}
		_ = ch.Close()
	}()

	logger.Debug("New transfer connection from %s", clientAddr)

	err := c.adapter.svc.ServeWithLimiter(ctx, ch, c.adapter.limits.ForConnection())

	var netErr net.Error
	switch {
	case err == nil:
		logger.Debug("Transfer connection from %s closed by client", clientAddr)
	case errors.Is(err, context.Canceled):
		logger.Debug("Transfer connection from %s cancelled: %v", clientAddr, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Transfer connection from %s timed out: %v", clientAddr, err)
	case errors.Is(err, transport.ErrClosed):
		logger.Debug("Transfer connection from %s closed locally", clientAddr)
	default:
		logger.Warn("Transfer connection from %s failed: %v", clientAddr, err)
	}
}
