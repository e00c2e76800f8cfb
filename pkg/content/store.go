package content

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Store is the backing storage for file bytes.
//
// Content is addressed by a relative, slash-separated name rooted at Root().
// The file registry owns the mapping from opaque identifiers to these names;
// backends only see names.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Concurrent writers on the
// same name are not coordinated by the store; the registry serializes them.
type Store interface {
	// Root identifies the location every name is relative to. For the
	// filesystem backend it is the base directory, for object stores the
	// bucket and key prefix. Registry snapshots record it so they are not
	// restored against a different store.
	Root() string

	// OpenWriter creates the named content, truncating any existing bytes,
	// and returns a handle that appends in call order. Bytes become visible
	// to readers no later than Close.
	OpenWriter(ctx context.Context, name string) (io.WriteCloser, error)

	// OpenReader returns a reader positioned at offset 0.
	// Returns ErrContentNotFound when the name does not exist.
	OpenReader(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the named content. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether content is stored under name.
	Exists(ctx context.Context, name string) (bool, error)

	// Size returns the stored length of name in bytes.
	Size(ctx context.Context, name string) (int64, error)
}

// Entry is one child returned by an Enumerator.
type Entry struct {
	// Name is relative to the store root, not to the listed directory.
	Name  string
	IsDir bool
}

// Enumerator lists the immediate children of a directory without recursing.
// Tree walks are composed by callers with their own queue.
type Enumerator interface {
	// ListChildren returns the entries directly under dir. An empty dir
	// lists the root.
	ListChildren(ctx context.Context, dir string) ([]Entry, error)
}

// CleanName normalizes a caller supplied name into the canonical form used
// as a storage key: slash separated, no leading slash, no "." or ".."
// segments. Names that are empty, absolute or that would escape the root
// fail with ErrInvalidPath.
func CleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty name: %w", ErrInvalidPath)
	}

	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("name %q is absolute: %w", name, ErrInvalidPath)
	}

	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("name %q escapes the root: %w", name, ErrInvalidPath)
	}

	return cleaned, nil
}

// Walk visits every file below dir breadth-first using only ListChildren.
// Directories are queued, files are passed to fn. Returning an error from fn
// stops the walk.
func Walk(ctx context.Context, e Enumerator, dir string, fn func(Entry) error) error {
	queue := []string{dir}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := queue[0]
		queue = queue[1:]

		children, err := e.ListChildren(ctx, current)
		if err != nil {
			return fmt.Errorf("list %q: %w", current, err)
		}

		for _, child := range children {
			if child.IsDir {
				queue = append(queue, child.Name)
				continue
			}
			if err := fn(child); err != nil {
				return err
			}
		}
	}

	return nil
}
