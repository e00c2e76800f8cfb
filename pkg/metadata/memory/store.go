package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/metadata"
)

// MemorySnapshotStore keeps snapshots in a map. Contents are lost when the
// process exits.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*filestore.Snapshot
	closed    bool
}

// NewMemorySnapshotStore creates an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*filestore.Snapshot)}
}

func (s *MemorySnapshotStore) SaveSnapshot(ctx context.Context, snap *filestore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil || snap.RootDirectory == "" {
		return metadata.ErrEmptyRoot
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return metadata.ErrClosed
	}
	s.snapshots[snap.RootDirectory] = metadata.CloneSnapshot(snap)
	return nil
}

func (s *MemorySnapshotStore) LoadSnapshot(ctx context.Context, root string) (*filestore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}
	snap, ok := s.snapshots[root]
	if !ok {
		return nil, fmt.Errorf("%s: %w", root, metadata.ErrSnapshotNotFound)
	}
	return metadata.CloneSnapshot(snap), nil
}

func (s *MemorySnapshotStore) DeleteSnapshot(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return metadata.ErrClosed
	}
	delete(s.snapshots, root)
	return nil
}

func (s *MemorySnapshotStore) Roots(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}
	roots := make([]string, 0, len(s.snapshots))
	for root := range s.snapshots {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots, nil
}

func (s *MemorySnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.snapshots = nil
	return nil
}
