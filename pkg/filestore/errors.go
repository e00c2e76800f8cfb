package filestore

import "errors"

// ============================================================================
// Registry Errors
// ============================================================================

// Registry operations report failures with these sentinels, wrapped with
// the id or name involved:
//
//	if !exists {
//	    return fmt.Errorf("write %s: %w", id, filestore.ErrUnknownIdentifier)
//	}
//
// The upload protocol maps them onto coded notifications; they never cross
// the wire as raw errors.

var (
	// ErrCreateFailure indicates backing storage could not be opened for
	// write, or the requested name is not acceptable.
	ErrCreateFailure = errors.New("create failure")

	// ErrUnknownIdentifier indicates the id has no registry entry, either
	// because it was never issued or because it was deleted.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrNoOpenWriteHandle indicates the id exists but has no open write
	// handle, typically because it was already closed.
	ErrNoOpenWriteHandle = errors.New("no open write handle")

	// ErrWriteFailure indicates a write to an open handle failed.
	ErrWriteFailure = errors.New("write failure")

	// ErrDeleteFailure indicates the backing content could not be removed.
	// Registry indices are pruned regardless.
	ErrDeleteFailure = errors.New("delete failure")

	// ErrInvalidName indicates a name that is empty, absolute, or escapes
	// the store root. Always returned wrapped in ErrCreateFailure by
	// CreateOrReuse.
	ErrInvalidName = errors.New("invalid file name")

	// ErrRootMismatch indicates a snapshot recorded for a different store root.
	ErrRootMismatch = errors.New("snapshot root does not match content store")

	// ErrInvalidSnapshot indicates a snapshot whose id set, name map and
	// hash map disagree.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
