package metadata

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marmos91/dittostore/pkg/filestore"
)

// ErrEmptyRoot is returned when saving a snapshot without a root directory.
var ErrEmptyRoot = errors.New("snapshot has no root directory")

// EncodeSnapshot serializes snap as JSON, the value format of the key-value
// backends.
func EncodeSnapshot(snap *filestore.Snapshot) ([]byte, error) {
	if snap == nil || snap.RootDirectory == "" {
		return nil, ErrEmptyRoot
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot for %s: %w", snap.RootDirectory, err)
	}
	return data, nil
}

// DecodeSnapshot parses data produced by EncodeSnapshot and validates it.
func DecodeSnapshot(data []byte) (*filestore.Snapshot, error) {
	var snap filestore.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CloneSnapshot returns a deep copy of snap.
func CloneSnapshot(snap *filestore.Snapshot) *filestore.Snapshot {
	out := &filestore.Snapshot{
		RootDirectory: snap.RootDirectory,
		Algorithm:     snap.Algorithm,
		IDs:           append([]filestore.FileID(nil), snap.IDs...),
		Names:         make(map[string]filestore.FileID, len(snap.Names)),
		Hashes:        make(map[filestore.FileID]string, len(snap.Hashes)),
	}
	for k, v := range snap.Names {
		out.Names[k] = v
	}
	for k, v := range snap.Hashes {
		out.Hashes[k] = v
	}
	return out
}
