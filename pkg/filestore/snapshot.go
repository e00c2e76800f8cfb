package filestore

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/hasher"
)

// Snapshot is the persisted form of a registry: its id set, name map and
// hash map. Open handles and partial digests are not part of it.
type Snapshot struct {
	RootDirectory string            `json:"root_directory" cbor:"root_directory" yaml:"root_directory"`
	Algorithm     string            `json:"algorithm,omitempty" cbor:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	IDs           []FileID          `json:"ids" cbor:"ids" yaml:"ids"`
	Names         map[string]FileID `json:"names" cbor:"names" yaml:"names"`
	Hashes        map[FileID]string `json:"hashes" cbor:"hashes" yaml:"hashes"`
}

// Snapshot captures the registry's current indices. Ids are sorted so equal
// registries produce equal snapshots. Files still being written are
// included without a hash.
func (s *FileStore) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		RootDirectory: s.content.Root(),
		Algorithm:     string(s.alg),
		IDs:           make([]FileID, 0, len(s.byID)),
		Names:         make(map[string]FileID, len(s.byName)),
		Hashes:        make(map[FileID]string),
	}

	for id, rec := range s.byID {
		snap.IDs = append(snap.IDs, id)
		if rec.Hash != "" && rec.State == StateReadable {
			snap.Hashes[id] = rec.Hash
		}
	}
	for name, id := range s.byName {
		snap.Names[name] = id
	}

	sort.Slice(snap.IDs, func(i, j int) bool { return snap.IDs[i] < snap.IDs[j] })
	return snap
}

// Validate checks that the id set, name map and hash map agree: every id
// has exactly one name and every name and hash refers to a listed id.
func (snap *Snapshot) Validate() error {
	ids := make(map[FileID]bool, len(snap.IDs))
	for _, id := range snap.IDs {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrInvalidSnapshot)
		}
		if ids[id] {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidSnapshot, id)
		}
		ids[id] = true
	}

	named := make(map[FileID]bool, len(snap.Names))
	for name, id := range snap.Names {
		if !ids[id] {
			return fmt.Errorf("%w: name %q refers to unknown id %s", ErrInvalidSnapshot, name, id)
		}
		if named[id] {
			return fmt.Errorf("%w: id %s has more than one name", ErrInvalidSnapshot, id)
		}
		if _, err := content.CleanName(name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		named[id] = true
	}
	if len(named) != len(ids) {
		return fmt.Errorf("%w: %d ids but %d names", ErrInvalidSnapshot, len(ids), len(named))
	}

	for id := range snap.Hashes {
		if !ids[id] {
			return fmt.Errorf("%w: hash for unknown id %s", ErrInvalidSnapshot, id)
		}
	}

	return nil
}

// Restore builds a registry from a snapshot. The backing files are assumed
// to already exist at their recorded names; no handles are opened and every
// record is Readable with its recorded hash, if any.
//
// The snapshot root must equal store.Root(), otherwise ErrRootMismatch is
// returned. The snapshot's algorithm is used unless opts override it.
func Restore(ctx context.Context, store content.Store, snap *Snapshot, opts ...Option) (*FileStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if snap.RootDirectory != store.Root() {
		return nil, fmt.Errorf("%w: snapshot %q, store %q", ErrRootMismatch, snap.RootDirectory, store.Root())
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}

	if snap.Algorithm != "" {
		alg, err := hasher.ParseAlgorithm(snap.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		opts = append([]Option{WithAlgorithm(alg)}, opts...)
	}

	s := New(store, opts...)
	for name, id := range snap.Names {
		cleaned, _ := content.CleanName(name)
		s.byID[id] = &FileRecord{
			ID:    id,
			Name:  cleaned,
			Hash:  snap.Hashes[id],
			State: StateReadable,
		}
		s.byName[cleaned] = id
	}

	logger.Info("filestore: restored %d files under %s", len(s.byID), store.Root())
	return s, nil
}
