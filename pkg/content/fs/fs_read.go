package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/dittostore/pkg/content"
)

// OpenReader returns the named file opened for reading at offset 0.
//
// The caller is responsible for closing the returned ReadCloser.
//
// Returns:
//   - io.ReadCloser: Reader for the content (must be closed by caller)
//   - error: content.ErrContentNotFound if missing, or context error
func (r *FSContentStore) OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Open the content file
	// ========================================================================

	filePath, err := r.getFilePath(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s: %w", name, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}

	return file, nil
}

// Size returns the file size without reading it.
func (r *FSContentStore) Size(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	filePath, err := r.getFilePath(name)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", name, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}

	return info.Size(), nil
}

// Exists reports whether a regular file is stored under name.
func (r *FSContentStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	filePath, err := r.getFilePath(name)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check content existence: %w", err)
	}

	return info.Mode().IsRegular(), nil
}

// ListChildren returns the immediate children of dir, sorted by name.
//
// Only regular files and directories are reported. Names in the result are
// relative to the store root.
func (r *FSContentStore) ListChildren(ctx context.Context, dir string) ([]content.Entry, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Resolve the directory (empty means the root)
	// ========================================================================

	dirPath := r.basePath
	prefix := ""
	if dir != "" {
		cleaned, err := content.CleanName(dir)
		if err != nil {
			return nil, err
		}
		dirPath = filepath.Join(r.basePath, filepath.FromSlash(cleaned))
		prefix = cleaned + "/"
	}

	// ========================================================================
	// Step 3: Read directory entries
	// ========================================================================

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory %s: %w", dir, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}

	children := make([]content.Entry, 0, len(entries))
	for i, entry := range entries {
		// Check context periodically (every 100 entries)
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if !entry.IsDir() && !entry.Type().IsRegular() {
			continue
		}

		children = append(children, content.Entry{
			Name:  prefix + entry.Name(),
			IsDir: entry.IsDir(),
		})
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}
