package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/metadata"
)

// Key namespace. One key per registry root:
//
//	snapshot:<root> -> JSON encoded filestore.Snapshot
const prefixSnapshot = "snapshot:"

func keySnapshot(root string) []byte {
	return []byte(prefixSnapshot + root)
}

// BadgerSnapshotStore implements metadata.SnapshotStore on BadgerDB.
//
// Each SaveSnapshot is a single transaction, so a crash leaves either the
// previous or the new snapshot for a root, never a mix.
type BadgerSnapshotStore struct {
	mu     sync.RWMutex
	db     *badger.DB
	closed bool
}

// BadgerSnapshotStoreConfig configures a BadgerSnapshotStore.
type BadgerSnapshotStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool

	// BadgerOptions overrides all other settings when set
	BadgerOptions *badger.Options
}

// NewBadgerSnapshotStore opens (or creates) the database.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Database location and options
//
// Returns:
//   - *BadgerSnapshotStore: Store ready for use
//   - error: Error if the database cannot be opened
func NewBadgerSnapshotStore(ctx context.Context, config BadgerSnapshotStoreConfig) (*BadgerSnapshotStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			opts = badger.DefaultOptions(config.DBPath)
		}

		// Snapshots are few and small
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	logger.Debug("metadata: badger snapshot store opened at %s", config.DBPath)
	return &BadgerSnapshotStore{db: db}, nil
}

func (s *BadgerSnapshotStore) SaveSnapshot(ctx context.Context, snap *filestore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := metadata.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrClosed
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySnapshot(snap.RootDirectory), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snap.RootDirectory, err)
	}

	logger.Debug("metadata: saved snapshot for %s (%d files)", snap.RootDirectory, len(snap.IDs))
	return nil
}

func (s *BadgerSnapshotStore) LoadSnapshot(ctx context.Context, root string) (*filestore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySnapshot(root))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", root, metadata.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", root, err)
	}

	return metadata.DecodeSnapshot(data)
}

func (s *BadgerSnapshotStore) DeleteSnapshot(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keySnapshot(root))
	})
}

func (s *BadgerSnapshotStore) Roots(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}

	var roots []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixSnapshot)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			roots = append(roots, string(key[len(prefixSnapshot):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshot roots: %w", err)
	}

	sort.Strings(roots)
	return roots, nil
}

// Close closes the database. Safe to call more than once.
func (s *BadgerSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
