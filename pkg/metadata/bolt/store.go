package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/metadata"
	"go.etcd.io/bbolt"
)

var bucketSnapshots = []byte("snapshots")

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bolt: CBOR encoder initialization failed: " + err.Error())
	}
}

// BoltSnapshotStore implements metadata.SnapshotStore on a single bbolt
// file. Values are CBOR encoded snapshots keyed by root.
type BoltSnapshotStore struct {
	db   *bbolt.DB
	path string
}

// NewBoltSnapshotStore opens (or creates) the database file at path.
// Opening fails after one second if another process holds the file lock.
func NewBoltSnapshotStore(ctx context.Context, path string) (*BoltSnapshotStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	logger.Debug("metadata: bolt snapshot store opened at %s", path)
	return &BoltSnapshotStore{db: db, path: path}, nil
}

func (s *BoltSnapshotStore) SaveSnapshot(ctx context.Context, snap *filestore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil || snap.RootDirectory == "" {
		return metadata.ErrEmptyRoot
	}

	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", snap.RootDirectory, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(snap.RootDirectory), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snap.RootDirectory, mapErr(err))
	}
	return nil
}

func (s *BoltSnapshotStore) LoadSnapshot(ctx context.Context, root string) (*filestore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		// Values are only valid for the life of the transaction
		if v := tx.Bucket(bucketSnapshots).Get([]byte(root)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", root, mapErr(err))
	}
	if data == nil {
		return nil, fmt.Errorf("%s: %w", root, metadata.ErrSnapshotNotFound)
	}

	var snap filestore.Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", root, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltSnapshotStore) DeleteSnapshot(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(root))
	})
	return mapErr(err)
}

func (s *BoltSnapshotStore) Roots(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var roots []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, _ []byte) error {
			roots = append(roots, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshot roots: %w", mapErr(err))
	}

	sort.Strings(roots)
	return roots, nil
}

// Close closes the database file. Safe to call more than once.
func (s *BoltSnapshotStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *BoltSnapshotStore) Path() string {
	return s.path
}

func mapErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return metadata.ErrClosed
	}
	return err
}
