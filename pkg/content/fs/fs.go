// Package fs implements filesystem-based content storage.
//
// Names map directly onto paths below the base directory, so the base
// directory mirrors the registry's name space and can be rescanned.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittostore/pkg/content"
)

// FSContentStore implements content.Store and content.Enumerator using the
// local filesystem.
//
// Thread Safety:
// The underlying filesystem operations are thread-safe at the OS level, but
// concurrent writers on the same name will interleave. The file registry
// serializes writers per identifier.
type FSContentStore struct {
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
}

// Compile-time interface checks
var (
	_ content.Store      = (*FSContentStore)(nil)
	_ content.Enumerator = (*FSContentStore)(nil)
)

// NewFSContentStore creates a new filesystem-based content store.
//
// This initializes the store by creating the base directory if it doesn't
// exist. The base directory is created with permissions 0755.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - basePath: Root directory for storing content files
//
// Returns:
//   - *FSContentStore: Initialized store
//   - error: Returns error if directory creation fails or context is cancelled
func NewFSContentStore(ctx context.Context, basePath string) (*FSContentStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create the base directory if it doesn't exist
	// ========================================================================

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{
		basePath: abs,
		dirMode:  0755,
		fileMode: 0644,
	}, nil
}

// Root returns the absolute base directory.
func (r *FSContentStore) Root() string {
	return r.basePath
}

// getFilePath maps a name onto a path below the base directory.
//
// The name is cleaned first, so absolute names and names escaping the base
// directory are rejected with content.ErrInvalidPath.
func (r *FSContentStore) getFilePath(name string) (string, error) {
	cleaned, err := content.CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.basePath, filepath.FromSlash(cleaned)), nil
}

// Close releases store resources. The filesystem store holds none.
func (r *FSContentStore) Close() error {
	return nil
}
