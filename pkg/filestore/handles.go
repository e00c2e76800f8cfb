package filestore

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittostore/pkg/content"
)

const defaultMaxReadHandles = 256

// HandleTable owns the open handles of a registry: at most one write handle
// and at most one cached read handle per file id.
//
// Write handles live until Close. Read handles are kept in an LRU capped at
// maxReaders; the least recently used one is closed when the cap is hit.
//
// Per-id locks serialize I/O on one id without blocking other ids. Callers
// that need to combine several table operations atomically for one id take
// Lock(id) first and call the returned release func when done. Lock entries
// are reference counted and dropped once nobody holds or waits on them.
type HandleTable struct {
	store      content.Store
	maxReaders int

	mu      sync.Mutex
	writers map[FileID]*writeHandle
	readers map[FileID]*list.Element
	lru     *list.List

	locksMu   sync.Mutex
	fileLocks map[FileID]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

type writeHandle struct {
	w        io.WriteCloser
	name     string
	written  int64
	lastUsed time.Time
}

type readEntry struct {
	id   FileID
	r    io.ReadCloser
	name string
}

// NewHandleTable creates an empty table backed by store.
func NewHandleTable(store content.Store, maxReaders int) *HandleTable {
	if maxReaders < 1 {
		maxReaders = defaultMaxReadHandles
	}
	return &HandleTable{
		store:      store,
		maxReaders: maxReaders,
		writers:    make(map[FileID]*writeHandle),
		readers:    make(map[FileID]*list.Element),
		lru:        list.New(),
		fileLocks:  make(map[FileID]*idLock),
	}
}

// OpenWrite creates or truncates the backing content for name and installs
// a fresh write handle for id. An existing write handle for id is closed
// first without any finalization, and a cached read handle is dropped since
// it would observe truncated content.
func (t *HandleTable) OpenWrite(ctx context.Context, id FileID, name string) error {
	prevErr := t.dropWriter(id)
	if prevErr != nil {
		// Not fatal: the previous session is abandoned either way
		prevErr = fmt.Errorf("close previous write handle: %w", prevErr)
	}
	_ = t.dropReader(id)

	w, err := t.store.OpenWriter(ctx, name)
	if err != nil {
		return errors.Join(err, prevErr)
	}

	t.mu.Lock()
	t.writers[id] = &writeHandle{w: w, name: name, lastUsed: time.Now()}
	t.mu.Unlock()

	return nil
}

// HasWriter reports whether id has an open write handle.
func (t *HandleTable) HasWriter(id FileID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.writers[id]
	return ok
}

// Write appends p to the write handle of id. It returns ErrNoOpenWriteHandle
// when id has none.
func (t *HandleTable) Write(id FileID, p []byte) (int, error) {
	t.mu.Lock()
	h, ok := t.writers[id]
	t.mu.Unlock()

	if !ok {
		return 0, ErrNoOpenWriteHandle
	}

	n, err := h.w.Write(p)

	t.mu.Lock()
	h.written += int64(n)
	h.lastUsed = time.Now()
	t.mu.Unlock()

	return n, err
}

// OpenRead returns the cached read handle for id, opening one on first use.
// The handle stays owned by the table; it is released by Close.
func (t *HandleTable) OpenRead(ctx context.Context, id FileID, name string) (io.ReadCloser, error) {
	if r, ok := t.Reader(id); ok {
		return r, nil
	}

	r, err := t.store.OpenReader(ctx, name)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Lost a race with another opener: keep theirs
	if elem, exists := t.readers[id]; exists {
		_ = r.Close()
		t.lru.MoveToFront(elem)
		return elem.Value.(*readEntry).r, nil
	}

	if t.lru.Len() >= t.maxReaders {
		t.evictLRU()
	}

	elem := t.lru.PushFront(&readEntry{id: id, r: r, name: name})
	t.readers[id] = elem
	return r, nil
}

// Reader looks up the cached read handle without opening one.
func (t *HandleTable) Reader(id FileID) (io.ReadCloser, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, exists := t.readers[id]
	if !exists {
		return nil, false
	}
	t.lru.MoveToFront(elem)
	return elem.Value.(*readEntry).r, true
}

// Close closes and discards both handle kinds for id. Closing an id without
// handles is a no-op.
func (t *HandleTable) Close(id FileID) error {
	return errors.Join(t.dropWriter(id), t.dropReader(id))
}

// CloseAll closes every handle in the table and returns the first error.
func (t *HandleTable) CloseAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for id, h := range t.writers {
		if err := h.w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.writers, id)
	}

	for t.lru.Len() > 0 {
		elem := t.lru.Back()
		entry := elem.Value.(*readEntry)
		if err := entry.r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.lru.Remove(elem)
		delete(t.readers, entry.id)
	}

	return firstErr
}

// IdleWriters lists ids whose write handle has not been used for at least
// idle.
func (t *HandleTable) IdleWriters(idle time.Duration) []FileID {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	var ids []FileID
	for id, h := range t.writers {
		if !h.lastUsed.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Lock acquires the per-id lock and returns the func that releases it.
// The release func unlocks exactly the mutex this call acquired, so it
// stays correct even if the id is deleted while others wait.
func (t *HandleTable) Lock(id FileID) (release func()) {
	t.locksMu.Lock()
	l, exists := t.fileLocks[id]
	if !exists {
		l = &idLock{}
		t.fileLocks[id] = l
	}
	l.refs++
	t.locksMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			t.locksMu.Lock()
			l.refs--
			if l.refs == 0 && t.fileLocks[id] == l {
				delete(t.fileLocks, id)
			}
			t.locksMu.Unlock()
		})
	}
}

// lockEntries returns how many ids currently have a lock entry.
func (t *HandleTable) lockEntries() int {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	return len(t.fileLocks)
}

// Stats returns the number of open write and read handles.
func (t *HandleTable) Stats() (writers int, readers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writers), t.lru.Len()
}

func (t *HandleTable) dropWriter(id FileID) error {
	t.mu.Lock()
	h, exists := t.writers[id]
	delete(t.writers, id)
	t.mu.Unlock()

	if !exists {
		return nil
	}
	return h.w.Close()
}

func (t *HandleTable) dropReader(id FileID) error {
	t.mu.Lock()
	elem, exists := t.readers[id]
	if exists {
		t.lru.Remove(elem)
		delete(t.readers, id)
	}
	t.mu.Unlock()

	if !exists {
		return nil
	}
	return elem.Value.(*readEntry).r.Close()
}

// evictLRU closes the least recently used read handle. Caller holds t.mu.
func (t *HandleTable) evictLRU() {
	elem := t.lru.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*readEntry)
	_ = entry.r.Close()

	t.lru.Remove(elem)
	delete(t.readers, entry.id)
}
