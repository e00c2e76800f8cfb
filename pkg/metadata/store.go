// Package metadata persists file registry snapshots so that the staging and
// permanent registries survive a restart.
//
// Snapshots are keyed by the registry's root directory. Backends:
//   - memory: process-local, for tests and ephemeral deployments
//   - badger: BadgerDB LSM key-value store
//   - bolt: bbolt B+tree single-file database
//   - file: a single YAML document
package metadata

import (
	"context"
	"errors"

	"github.com/marmos91/dittostore/pkg/filestore"
)

// ErrSnapshotNotFound is returned by LoadSnapshot when no snapshot is
// stored for the root.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("metadata store closed")

// SnapshotStore persists registry snapshots.
//
// Implementations must be safe for concurrent use. SaveSnapshot replaces
// any snapshot previously stored for the same root.
type SnapshotStore interface {
	// SaveSnapshot stores snap under snap.RootDirectory.
	SaveSnapshot(ctx context.Context, snap *filestore.Snapshot) error

	// LoadSnapshot returns the snapshot stored for root, or
	// ErrSnapshotNotFound.
	LoadSnapshot(ctx context.Context, root string) (*filestore.Snapshot, error)

	// DeleteSnapshot removes the snapshot for root. Deleting a missing
	// snapshot is not an error.
	DeleteSnapshot(ctx context.Context, root string) error

	// Roots lists the roots that have a stored snapshot, sorted.
	Roots(ctx context.Context) ([]string, error)

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}
