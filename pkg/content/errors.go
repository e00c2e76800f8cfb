package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all content store backends. The file registry checks for them and
// maps them onto its own error taxonomy.
//
// Implementations should wrap these errors with additional context:
//
//	if !fileExists {
//	    return fmt.Errorf("content %s: %w", name, content.ErrContentNotFound)
//	}

var (
	// ErrContentNotFound indicates the requested content does not exist.
	//
	// This error is returned when:
	//   - OpenReader() called with a name that has never been written
	//   - Size() called with a missing name
	//   - ListChildren() called on a missing directory
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidPath indicates a name cannot be mapped inside the store root.
	//
	// This error is returned when:
	//   - The name is absolute
	//   - The name is empty or resolves to the root itself
	//   - The name escapes the root via ".." segments
	ErrInvalidPath = errors.New("invalid content path")

	// ErrStorageFull indicates the storage backend has no available space.
	//
	// This is a transient error - it may succeed after cleanup.
	ErrStorageFull = errors.New("storage full")

	// ErrReadOnly indicates the content store refuses writes.
	ErrReadOnly = errors.New("content store is read-only")

	// ErrNotSupported indicates the backend does not implement an optional
	// capability, for example directory enumeration on an object store
	// without delimiter support.
	ErrNotSupported = errors.New("operation not supported")

	// ErrWriterClosed is returned by Write on a writer that was already closed.
	ErrWriterClosed = errors.New("content writer closed")

	// ErrUnavailable indicates the storage backend is temporarily unavailable.
	//
	// This error is returned when:
	//   - Network connection to an object store failed
	//   - Too many concurrent requests
	//
	// This is a transient error - retrying may succeed.
	ErrUnavailable = errors.New("storage unavailable")
)
