// Package filestore implements the file registry: it owns the identifier
// space, the name to id mapping, per-file digests and the open handles of
// every file stored in a content.Store.
//
// Callers name files, receive opaque ids and append data incrementally while
// a running digest is maintained. Closing a file finalizes its digest.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/hasher"
)

// FileID is the opaque identifier handed out for a file name.
type FileID string

// NewFileID returns a fresh random identifier.
func NewFileID() FileID {
	return FileID(uuid.NewString())
}

// State is the lifecycle state of a FileRecord.
type State int

const (
	// StateEmpty: write handle open, nothing written yet.
	StateEmpty State = iota
	// StateWriting: at least one write since the handle was opened.
	StateWriting
	// StateReadable: closed, digest final.
	StateReadable
	// StateDeleted: removed from the registry. Only seen on records
	// captured before the delete.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateWriting:
		return "writing"
	case StateReadable:
		return "readable"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileRecord is the registry entry for one logical file.
type FileRecord struct {
	ID    FileID
	Name  string
	Hash  string // lowercase hex, empty when not yet computed
	State State
	Size  int64 // bytes written since the last open, or stored size after restore
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithAlgorithm selects the digest function. Defaults to hasher.Default.
func WithAlgorithm(alg hasher.Algorithm) Option {
	return func(s *FileStore) {
		s.alg = alg
	}
}

// WithMaxReadHandles caps the number of cached read handles.
func WithMaxReadHandles(n int) Option {
	return func(s *FileStore) {
		s.maxReaders = n
	}
}

// FileStore is the file registry.
//
// Thread Safety:
// Index maps are guarded by mu. I/O on a single id is serialized by the
// handle table's per-id lock, always acquired before mu. Operations on
// different ids proceed independently.
//
// Reusing a name while a write session on it is still active truncates the
// file without any handshake; callers that need to avoid that must
// serialize creation per name.
type FileStore struct {
	content    content.Store
	alg        hasher.Algorithm
	maxReaders int
	handles    *HandleTable

	mu      sync.RWMutex
	byID    map[FileID]*FileRecord
	byName  map[string]FileID
	partial map[FileID]*hasher.Hasher
}

// New creates an empty registry over store.
func New(store content.Store, opts ...Option) *FileStore {
	s := &FileStore{
		content: store,
		alg:     hasher.Default,
		byID:    make(map[FileID]*FileRecord),
		byName:  make(map[string]FileID),
		partial: make(map[FileID]*hasher.Hasher),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handles = NewHandleTable(store, s.maxReaders)
	return s
}

// Root returns the root of the backing content store.
func (s *FileStore) Root() string {
	return s.content.Root()
}

// Algorithm returns the digest function used for this registry.
func (s *FileStore) Algorithm() hasher.Algorithm {
	return s.alg
}

// ============================================================================
// Write path
// ============================================================================

// CreateOrReuse returns the id for name, opening a fresh truncating write
// handle for it.
//
// If name is already registered the same id is returned; any open write
// handle is closed without finalizing, the partial digest is discarded and
// the recorded hash cleared. Otherwise a new id is allocated.
//
// Returns ErrCreateFailure when the name is invalid or storage cannot be
// opened for write.
func (s *FileStore) CreateOrReuse(ctx context.Context, name string) (FileID, error) {
	// ========================================================================
	// Step 1: Validate the name
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return "", err
	}

	cleaned, err := content.CleanName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrCreateFailure, name, ErrInvalidName)
	}

	// ========================================================================
	// Step 2: Reserve or look up the id
	// ========================================================================

	s.mu.Lock()
	id, reused := s.byName[cleaned]
	if !reused {
		id = NewFileID()
		s.byID[id] = &FileRecord{ID: id, Name: cleaned, State: StateEmpty}
		s.byName[cleaned] = id
	}
	s.mu.Unlock()

	// ========================================================================
	// Step 3: Reset state and open the write handle under the id lock
	// ========================================================================

	unlock := s.handles.Lock(id)
	defer unlock()

	s.mu.Lock()
	rec, exists := s.byID[id]
	if !exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s was deleted concurrently", ErrCreateFailure, cleaned)
	}
	delete(s.partial, id)
	rec.Hash = ""
	rec.State = StateEmpty
	rec.Size = 0
	s.mu.Unlock()

	if err := s.handles.OpenWrite(ctx, id, cleaned); err != nil {
		if !reused {
			s.mu.Lock()
			delete(s.byID, id)
			delete(s.byName, cleaned)
			s.mu.Unlock()
		}
		return "", fmt.Errorf("%w: %s: %w", ErrCreateFailure, cleaned, err)
	}

	if reused {
		logger.Info("filestore: reopened %s (%s) for write", cleaned, id)
	} else {
		logger.Info("filestore: created %s (%s)", cleaned, id)
	}

	return id, nil
}

// Write appends p to the open write handle of id and folds it into the
// running digest. An empty p is a valid no-op write.
func (s *FileStore) Write(ctx context.Context, id FileID, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.handles.Lock(id)
	defer unlock()

	s.mu.RLock()
	_, exists := s.byID[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("write %s: %w", id, ErrUnknownIdentifier)
	}

	n, writeErr := s.handles.Write(id, p)
	if errors.Is(writeErr, ErrNoOpenWriteHandle) {
		return fmt.Errorf("write %s: %w", id, ErrNoOpenWriteHandle)
	}

	// Fold in whatever reached storage so the digest tracks the content
	s.mu.Lock()
	rec := s.byID[id]
	h, ok := s.partial[id]
	if !ok {
		var err error
		h, err = hasher.New(s.alg)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("write %s: %w: %w", id, ErrWriteFailure, err)
		}
		s.partial[id] = h
	}
	_ = h.Update(p[:n])
	if rec != nil {
		rec.State = StateWriting
		rec.Size += int64(n)
	}
	s.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("write %s: %w: %w", id, ErrWriteFailure, writeErr)
	}

	logger.Debug("filestore: wrote %d bytes to %s", n, id)
	return nil
}

// WriteFrom registers name and drains r into it, closing the file at EOF.
// The digest is computed over the whole transfer in one pass. On a read or
// write error the file is still closed and the error returned with the id.
func (s *FileStore) WriteFrom(ctx context.Context, name string, r io.Reader) (FileID, error) {
	id, err := s.CreateOrReuse(ctx, name)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 64*1024)
	var copyErr error
	for {
		if err := ctx.Err(); err != nil {
			copyErr = err
			break
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if err := s.Write(ctx, id, buf[:n]); err != nil {
				copyErr = err
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			copyErr = fmt.Errorf("read source for %s: %w", name, readErr)
			break
		}
	}

	_ = s.Close(ctx, id)
	return id, copyErr
}

// Close finalizes the running digest of id into its record and releases
// its handles.
//
// Closing an id that has no open handles is a no-op and leaves the hash
// untouched. Errors closing the underlying handles are logged, not
// returned; the only error is ErrUnknownIdentifier.
func (s *FileStore) Close(ctx context.Context, id FileID) error {
	unlock := s.handles.Lock(id)
	defer unlock()

	s.mu.Lock()
	rec, exists := s.byID[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("close %s: %w", id, ErrUnknownIdentifier)
	}

	h, hasPartial := s.partial[id]
	delete(s.partial, id)

	if hasPartial || s.handles.HasWriter(id) {
		if !hasPartial {
			// Nothing written since open: digest of empty content
			h, _ = hasher.New(s.alg)
		}
		if h != nil {
			if digest, err := h.Finalize(); err == nil {
				rec.Hash = digest
			}
		}
		rec.State = StateReadable
	}
	name := rec.Name
	s.mu.Unlock()

	if err := s.handles.Close(id); err != nil {
		logger.Error("filestore: closing handles of %s (%s): %v", name, id, err)
	}

	logger.Debug("filestore: closed %s (%s)", name, id)
	return nil
}

// CloseAll closes every tracked id. It never fails.
func (s *FileStore) CloseAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]FileID, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		// Deleted concurrently: nothing left to close
		_ = s.Close(ctx, id)
	}
}

// CloseIdle closes write sessions that have been idle for at least idle
// and returns their ids.
func (s *FileStore) CloseIdle(ctx context.Context, idle time.Duration) []FileID {
	ids := s.handles.IdleWriters(idle)
	closed := ids[:0]
	for _, id := range ids {
		if err := s.Close(ctx, id); err == nil {
			closed = append(closed, id)
		}
	}
	return closed
}

// ============================================================================
// Read path
// ============================================================================

// ReadInto streams the full content of id into w from offset 0 and returns
// the number of bytes copied.
func (s *FileStore) ReadInto(ctx context.Context, id FileID, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	name, err := s.nameOf(id)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", id, err)
	}

	r, err := s.content.OpenReader(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", id, err)
	}
	defer func() { _ = r.Close() }()

	return copyContext(ctx, w, r)
}

// GetOrCreateReadHandle returns the cached read handle of id, opening one
// if needed. The handle stays owned by the registry and is released by
// Close; callers must not close it.
func (s *FileStore) GetOrCreateReadHandle(ctx context.Context, id FileID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.handles.Lock(id)
	defer unlock()

	name, err := s.nameOf(id)
	if err != nil {
		return nil, fmt.Errorf("open read handle %s: %w", id, err)
	}

	r, err := s.handles.OpenRead(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("open read handle %s: %w", id, err)
	}
	return r, nil
}

// ReadHandle looks up the cached read handle of id. Unlike
// GetOrCreateReadHandle it reports absence instead of failing.
func (s *FileStore) ReadHandle(id FileID) (io.ReadCloser, bool) {
	return s.handles.Reader(id)
}

// UpdateHash recomputes the digest of id by reading its full content and
// overwrites the recorded hash.
//
// The recompute is independent of the running digest of an open write
// session. Calling it while a session is open therefore records the digest
// of the bytes stored so far, and the next Close replaces it with the
// session digest.
func (s *FileStore) UpdateHash(ctx context.Context, id FileID) (string, error) {
	name, err := s.nameOf(id)
	if err != nil {
		return "", fmt.Errorf("update hash %s: %w", id, err)
	}

	r, err := s.content.OpenReader(ctx, name)
	if err != nil {
		return "", fmt.Errorf("update hash %s: %w", id, err)
	}
	defer func() { _ = r.Close() }()

	digest, err := hasher.Sum(ctx, r, s.alg)
	if err != nil {
		return "", fmt.Errorf("update hash %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.byID[id]
	if !exists {
		return "", fmt.Errorf("update hash %s: %w", id, ErrUnknownIdentifier)
	}
	rec.Hash = digest
	return digest, nil
}

// ============================================================================
// Delete
// ============================================================================

// Delete removes id from every index, closes its handles and unlinks its
// content. Indices are pruned before the unlink, so an unlink failure
// (ErrDeleteFailure) still leaves the id unknown.
func (s *FileStore) Delete(ctx context.Context, id FileID) error {
	unlock := s.handles.Lock(id)

	s.mu.Lock()
	rec, exists := s.byID[id]
	if !exists {
		s.mu.Unlock()
		unlock()
		return fmt.Errorf("delete %s: %w", id, ErrUnknownIdentifier)
	}
	delete(s.byID, id)
	delete(s.byName, rec.Name)
	delete(s.partial, id)
	rec.State = StateDeleted
	name := rec.Name
	s.mu.Unlock()

	if err := s.handles.Close(id); err != nil {
		logger.Warn("filestore: closing handles of deleted %s (%s): %v", name, id, err)
	}

	unlock()

	if err := s.content.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete %s (%s): %w: %w", name, id, ErrDeleteFailure, err)
	}

	logger.Info("filestore: deleted %s (%s)", name, id)
	return nil
}

// ============================================================================
// Lookups
// ============================================================================

// Stat returns a copy of the record for id.
func (s *FileStore) Stat(id FileID) (FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.byID[id]
	if !exists {
		return FileRecord{}, fmt.Errorf("stat %s: %w", id, ErrUnknownIdentifier)
	}
	return *rec, nil
}

// Lookup returns the id registered for name.
func (s *FileStore) Lookup(name string) (FileID, bool) {
	cleaned, err := content.CleanName(name)
	if err != nil {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[cleaned]
	return id, ok
}

// List returns copies of all records sorted by name.
func (s *FileStore) List() []FileRecord {
	s.mu.RLock()
	records := make([]FileRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		records = append(records, *rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// Len returns the number of registered files.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// OpenHandles reports how many write and read handles are open.
func (s *FileStore) OpenHandles() (writers int, readers int) {
	return s.handles.Stats()
}

func (s *FileStore) nameOf(id FileID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.byID[id]
	if !exists {
		return "", ErrUnknownIdentifier
	}
	return rec.Name, nil
}

func copyContext(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			total += int64(written)
			if err != nil {
				return total, err
			}
			if written != n {
				return total, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
