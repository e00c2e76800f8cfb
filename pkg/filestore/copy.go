package filestore

import (
	"context"
	"fmt"

	"github.com/marmos91/dittostore/internal/logger"
)

// Copy streams the content of srcID in src into destName in dst and
// returns the destination id. The destination is created or reused and
// closed afterwards, so its digest is computed while copying. Used to
// promote a file from a staging registry into a permanent one.
func Copy(ctx context.Context, src, dst *FileStore, srcID FileID, destName string) (FileID, error) {
	if _, err := src.Stat(srcID); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}

	dstID, err := dst.CreateOrReuse(ctx, destName)
	if err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}

	n, copyErr := src.ReadInto(ctx, srcID, &registryWriter{ctx: ctx, store: dst, id: dstID})

	// Always release the destination handle, even on a partial copy
	_ = dst.Close(ctx, dstID)

	if copyErr != nil {
		return dstID, fmt.Errorf("copy %s to %s: %w", srcID, destName, copyErr)
	}

	logger.Info("filestore: copied %s to %s (%s), %d bytes", srcID, destName, dstID, n)
	return dstID, nil
}

// registryWriter adapts FileStore.Write to io.Writer.
type registryWriter struct {
	ctx   context.Context
	store *FileStore
	id    FileID
}

func (w *registryWriter) Write(p []byte) (int, error) {
	if err := w.store.Write(w.ctx, w.id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
