package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/marmos91/dittostore/pkg/content"
)

// OpenWriter creates or truncates the named file and returns it for appending.
//
// Missing parent directories are created. A full disk surfaces as
// content.ErrStorageFull.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - name: Relative content name
//
// Returns:
//   - io.WriteCloser: Open file (must be closed by caller)
//   - error: Returns error if the name is invalid, open fails, or context is cancelled
func (r *FSContentStore) OpenWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := r.getFilePath(name)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Ensure the parent directory exists
	// ========================================================================

	if err := os.MkdirAll(filepath.Dir(filePath), r.dirMode); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for %s: %w", name, mapErr(err))
	}

	// ========================================================================
	// Step 3: Open with truncation
	// ========================================================================

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, r.fileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open content %s for writing: %w", name, mapErr(err))
	}

	return &fileWriter{file: file}, nil
}

// Delete removes the named file. A missing file is not an error.
func (r *FSContentStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := r.getFilePath(name)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		// Idempotent
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete content %s: %w", name, err)
	}

	return nil
}

// fileWriter maps disk-full errors onto content.ErrStorageFull.
type fileWriter struct {
	file *os.File
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, mapErr(err)
	}
	return n, nil
}

func (w *fileWriter) Close() error {
	return w.file.Close()
}

func mapErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", content.ErrStorageFull, err)
	}
	if errors.Is(err, syscall.EROFS) {
		return fmt.Errorf("%w: %v", content.ErrReadOnly, err)
	}
	return err
}
