package adapter

import (
	"context"

	"github.com/marmos91/dittostore/pkg/upload"
)

// Adapter represents a network front end that exposes the upload service
// to remote clients.
//
// Adapters handle the transport concerns (listening, framing, connection
// limits, timeouts) and delegate every decoded message to the shared
// upload.Service. Multiple adapters can serve the same service concurrently.
//
// Lifecycle:
//  1. Creation: the adapter is constructed with its configuration
//  2. Injection: SetService is called by the server before Serve
//  3. Serving: Serve blocks, accepting connections until ctx is cancelled
//  4. Shutdown: Stop may be called to shut down with a caller-chosen deadline
//
// Thread safety:
// Implementations must be safe for concurrent use. Serve is called once;
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Serve starts the adapter and blocks until ctx is cancelled or an
	// unrecoverable error occurs.
	//
	// When ctx is cancelled the adapter stops accepting connections, cancels
	// in-flight work and waits for active connections up to its shutdown
	// timeout.
	//
	// Returns nil on graceful shutdown, or an error if the listener failed
	// or connections had to be force-closed.
	Serve(ctx context.Context) error

	// SetService injects the upload service shared by all adapters.
	//
	// Called exactly once, before Serve.
	SetService(svc *upload.Service)

	// Stop initiates graceful shutdown and waits for active connections
	// until ctx expires.
	Stop(ctx context.Context) error

	// Protocol returns a short human readable name used in logs.
	Protocol() string

	// Port returns the TCP port the adapter listens on. After Serve has
	// bound its listener this is the actual port, even when configured as 0.
	Port() int
}
