// Package upload implements the server and client sides of the chunked
// upload protocol.
//
// A client opens a session with BeginUpload, streams Chunk messages one at
// a time, each acknowledged by ChunkAck, and ends the session with
// EndOfStream, acknowledged by a final ChunkAck. Content lands in the
// staging registry; a closed staging file can then be promoted into the
// permanent registry.
package upload

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/transport"
)

// Service serves upload connections against a staging registry and an
// optional permanent registry used by Promote.
type Service struct {
	staging   *filestore.FileStore
	permanent *filestore.FileStore
	metrics   metrics.TransferMetrics
	limits    *ratelimiter.Factory
}

// Option configures a Service.
type Option func(*Service)

// WithPermanent enables Promote into the given registry.
func WithPermanent(fs *filestore.FileStore) Option {
	return func(s *Service) { s.permanent = fs }
}

// WithMetrics sets the metrics sink. Nil keeps the no-op implementation.
func WithMetrics(m metrics.TransferMetrics) Option {
	return func(s *Service) { s.metrics = metrics.OrNoop(m) }
}

// WithRateLimit throttles each connection to the factory's rate.
func WithRateLimit(f *ratelimiter.Factory) Option {
	return func(s *Service) { s.limits = f }
}

// NewService creates a Service writing uploads into staging.
func NewService(staging *filestore.FileStore, opts ...Option) *Service {
	s := &Service{
		staging: staging,
		metrics: metrics.NewNoopTransferMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Staging returns the registry uploads are written into.
func (s *Service) Staging() *filestore.FileStore {
	return s.staging
}

// Permanent returns the promotion target, or nil.
func (s *Service) Permanent() *filestore.FileStore {
	return s.permanent
}

// Serve runs the receive loop for one connection until the peer closes the
// channel, ctx is cancelled, or the channel fails. Sessions left open are
// closed before Serve returns. A clean close by the peer returns nil.
func (s *Service) Serve(ctx context.Context, ch transport.Channel) error {
	return s.ServeWithLimiter(ctx, ch, s.limits.ForConnection())
}

// ServeWithLimiter is Serve with an explicit per-connection limiter,
// used by adapters that carry their own rate limit settings. A nil
// limiter disables throttling.
func (s *Service) ServeWithLimiter(ctx context.Context, ch transport.Channel, limiter *ratelimiter.RateLimiter) error {
	c := newConn(s, ch, limiter)

	err := c.run(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil && ctx.Err() == nil {
		logger.Debug("upload: connection ended: %v", err)
	}
	return err
}
