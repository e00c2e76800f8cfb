package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/metadata"
	"gopkg.in/yaml.v3"
)

// document is the on-disk layout: one YAML document holding every root.
type document struct {
	Snapshots map[string]*filestore.Snapshot `yaml:"snapshots"`
}

// FileSnapshotStore keeps all snapshots in one human-readable YAML file.
//
// The file is rewritten on every change through a temporary file and a
// rename, so readers never observe a partial document.
type FileSnapshotStore struct {
	mu     sync.Mutex
	path   string
	doc    document
	closed bool
}

// NewFileSnapshotStore loads path, creating an empty store if the file does
// not exist yet.
func NewFileSnapshotStore(ctx context.Context, path string) (*FileSnapshotStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &FileSnapshotStore{
		path: path,
		doc:  document{Snapshots: make(map[string]*filestore.Snapshot)},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read snapshot file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse snapshot file %s: %w", path, err)
	}
	if s.doc.Snapshots == nil {
		s.doc.Snapshots = make(map[string]*filestore.Snapshot)
	}

	logger.Debug("metadata: loaded %d snapshots from %s", len(s.doc.Snapshots), path)
	return s, nil
}

func (s *FileSnapshotStore) SaveSnapshot(ctx context.Context, snap *filestore.Snapshot) error {
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

	prev, had := s.doc.Snapshots[snap.RootDirectory]
	s.doc.Snapshots[snap.RootDirectory] = metadata.CloneSnapshot(snap)

	if err := s.flush(); err != nil {
		if had {
			s.doc.Snapshots[snap.RootDirectory] = prev
		} else {
			delete(s.doc.Snapshots, snap.RootDirectory)
		}
		return err
	}
	return nil
}

func (s *FileSnapshotStore) LoadSnapshot(ctx context.Context, root string) (*filestore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}

	snap, ok := s.doc.Snapshots[root]
	if !ok {
		return nil, fmt.Errorf("%s: %w", root, metadata.ErrSnapshotNotFound)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return metadata.CloneSnapshot(snap), nil
}

func (s *FileSnapshotStore) DeleteSnapshot(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return metadata.ErrClosed
	}

	prev, had := s.doc.Snapshots[root]
	if !had {
		return nil
	}
	delete(s.doc.Snapshots, root)

	if err := s.flush(); err != nil {
		s.doc.Snapshots[root] = prev
		return err
	}
	return nil
}

func (s *FileSnapshotStore) Roots(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}

	roots := make([]string, 0, len(s.doc.Snapshots))
	for root := range s.doc.Snapshots {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots, nil
}

func (s *FileSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// flush writes the document. Caller holds mu.
func (s *FileSnapshotStore) flush() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode snapshot file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary snapshot file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
