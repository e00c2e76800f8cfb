package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittostore/pkg/content"
)

// MemoryContentStore implements content.Store using in-memory storage.
//
// This implementation stores all content in memory using a map. It's designed for:
//   - Testing and development
//   - Staging areas that do not need to survive a restart
//
// Characteristics:
//   - Fast: All operations are memory-speed
//   - Volatile: Data lost on restart
//   - Thread-safe: Protected by RWMutex
//
// Writers append straight into the map, so bytes are visible to readers as
// soon as Write returns. Readers see a copy taken when they were opened.
type MemoryContentStore struct {
	// data stores the content keyed by cleaned name
	data map[string][]byte

	// root is a synthetic identifier recorded in registry snapshots
	root string

	// mu protects concurrent access to data map
	mu sync.RWMutex
}

// Compile-time interface checks
var (
	_ content.Store      = (*MemoryContentStore)(nil)
	_ content.Enumerator = (*MemoryContentStore)(nil)
)

// NewMemoryContentStore creates a new, empty in-memory content store.
//
// Parameters:
//   - ctx: Context for cancellation (checked before initialization)
//   - root: Label returned by Root(); defaults to "memory://"
//
// Returns:
//   - *MemoryContentStore: Initialized store
//   - error: Only returns error if context is cancelled
func NewMemoryContentStore(ctx context.Context, root string) (*MemoryContentStore, error) {
	// ========================================================================
	// Step 1: Check context before initialization
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Initialize the store
	// ========================================================================

	if root == "" {
		root = "memory://"
	}

	return &MemoryContentStore{
		data: make(map[string][]byte),
		root: root,
	}, nil
}

// Root returns the label given at construction.
func (s *MemoryContentStore) Root() string {
	return s.root
}

// OpenWriter truncates (or creates) name and returns an appending writer.
func (s *MemoryContentStore) OpenWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := content.CleanName(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.data[key] = []byte{}
	s.mu.Unlock()

	return &memoryWriter{store: s, key: key}, nil
}

// OpenReader returns a reader over a copy of the current content.
func (s *MemoryContentStore) OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := content.CleanName(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("content %s: %w", name, content.ErrContentNotFound)
	}

	// Copy so later writes do not race with the reader
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// Delete removes name. Missing names are ignored.
func (s *MemoryContentStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := content.CleanName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Exists reports whether name is stored.
func (s *MemoryContentStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key, err := content.CleanName(name)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	_, exists := s.data[key]
	s.mu.RUnlock()
	return exists, nil
}

// Size returns the stored length of name.
func (s *MemoryContentStore) Size(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key, err := content.CleanName(name)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	data, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return 0, fmt.Errorf("content %s: %w", name, content.ErrContentNotFound)
	}
	return int64(len(data)), nil
}

// ListChildren derives directory entries from the stored names.
//
// The memory store has no real directories: a directory exists while at
// least one stored name lies beneath it.
func (s *MemoryContentStore) ListChildren(ctx context.Context, dir string) ([]content.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := ""
	if dir != "" {
		cleaned, err := content.CleanName(dir)
		if err != nil {
			return nil, err
		}
		prefix = cleaned + "/"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var children []content.Entry
	for key := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		rest := strings.TrimPrefix(key, prefix)
		first, _, nested := strings.Cut(rest, "/")
		childName := prefix + first
		if seen[childName] {
			continue
		}
		seen[childName] = true
		children = append(children, content.Entry{Name: childName, IsDir: nested})
	}

	if prefix != "" && len(children) == 0 {
		return nil, fmt.Errorf("directory %s: %w", dir, content.ErrContentNotFound)
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}

// Len returns the number of stored names.
func (s *MemoryContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type memoryWriter struct {
	store  *MemoryContentStore
	key    string
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, content.ErrWriterClosed
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	// Appending after a Delete recreates the key.
	w.store.data[w.key] = append(w.store.data[w.key], p...)
	return len(p), nil
}

func (w *memoryWriter) Close() error {
	w.closed = true
	return nil
}
