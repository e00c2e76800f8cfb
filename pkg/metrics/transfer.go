package metrics

import "time"

// TransferMetrics provides observability for the upload protocol: the
// transfer adapter reports connection lifecycle, the upload service reports
// sessions, messages and bytes.
//
// Implementations must be safe for concurrent use. Pass nil to components to
// get the no-op implementation.
type TransferMetrics interface {
	// RecordMessage records one handled inbound message.
	//
	// Parameters:
	//   - msgType: Message type name (e.g., "BeginUpload", "Chunk")
	//   - duration: Time taken to handle the message
	//   - code: Error code name sent back, or "" on success
	RecordMessage(msgType string, duration time.Duration, code string)

	// RecordBytesWritten records chunk payload bytes written to staging.
	RecordBytesWritten(bytes int)

	// RecordSessionStarted increments the open sessions gauge.
	RecordSessionStarted()

	// RecordSessionEnded decrements the open sessions gauge.
	//
	// Parameters:
	//   - reason: "eos" for a clean EndOfStream, "disconnect" when the
	//     connection ended with the session still open
	RecordSessionEnded(reason string)

	// RecordPromotion records a promote request and its outcome.
	RecordPromotion(duration time.Duration, err error)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by the shutdown timeout.
	RecordConnectionForceClosed()

	// RecordRateLimited counts messages rejected by the rate limiter.
	RecordRateLimited()
}

// NewNoopTransferMetrics returns a TransferMetrics that discards everything.
func NewNoopTransferMetrics() TransferMetrics {
	return noopTransferMetrics{}
}

// OrNoop returns m, or the no-op implementation if m is nil.
func OrNoop(m TransferMetrics) TransferMetrics {
	if m == nil {
		return noopTransferMetrics{}
	}
	return m
}

type noopTransferMetrics struct{}

func (noopTransferMetrics) RecordMessage(string, time.Duration, string) {}
func (noopTransferMetrics) RecordBytesWritten(int)                      {}
func (noopTransferMetrics) RecordSessionStarted()                       {}
func (noopTransferMetrics) RecordSessionEnded(string)                   {}
func (noopTransferMetrics) RecordPromotion(time.Duration, error)        {}
func (noopTransferMetrics) SetActiveConnections(int32)                  {}
func (noopTransferMetrics) RecordConnectionAccepted()                   {}
func (noopTransferMetrics) RecordConnectionClosed()                     {}
func (noopTransferMetrics) RecordConnectionForceClosed()                {}
func (noopTransferMetrics) RecordRateLimited()                          {}
