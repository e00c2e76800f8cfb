package filestore

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/hasher"
)

// Rescan walks the backing store breadth-first and registers every file
// that has no registry entry yet. Adopted files are Readable, with their
// digest recomputed from content. Returns how many files were adopted.
func (s *FileStore) Rescan(ctx context.Context, e content.Enumerator) (int, error) {
	adopted := 0

	err := content.Walk(ctx, e, "", func(entry content.Entry) error {
		if _, known := s.Lookup(entry.Name); known {
			return nil
		}

		digest, size, err := s.digestOf(ctx, entry.Name)
		if err != nil {
			return fmt.Errorf("rescan %s: %w", entry.Name, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		// Registered concurrently while we were hashing
		if _, known := s.byName[entry.Name]; known {
			return nil
		}

		id := NewFileID()
		s.byID[id] = &FileRecord{ID: id, Name: entry.Name, Hash: digest, State: StateReadable, Size: size}
		s.byName[entry.Name] = id
		adopted++
		return nil
	})
	if err != nil {
		return adopted, err
	}

	if adopted > 0 {
		logger.Info("filestore: rescan adopted %d files under %s", adopted, s.Root())
	}
	return adopted, nil
}

func (s *FileStore) digestOf(ctx context.Context, name string) (string, int64, error) {
	r, err := s.content.OpenReader(ctx, name)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = r.Close() }()

	counter := &countingReader{r: r}
	digest, err := hasher.Sum(ctx, counter, s.alg)
	if err != nil {
		return "", 0, err
	}
	return digest, counter.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
