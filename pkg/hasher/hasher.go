// Package hasher maintains running content digests.
//
// A Hasher accumulates bytes as they are written and produces a lowercase hex
// digest once the write session ends. Feeding chunks c1..cn and finalizing
// yields the same digest as hashing concat(c1..cn) in one pass, which is what
// Sum computes directly from a reader.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm identifies a digest function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"

	// Default is used when no algorithm is configured.
	Default = SHA256
)

var (
	// ErrFinalized is returned by Update and Finalize after Finalize has
	// already produced a digest. The accumulator cannot be reused.
	ErrFinalized = errors.New("hasher already finalized")

	// ErrUnsupportedAlgorithm is returned for unknown algorithm names.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
)

// ParseAlgorithm maps a configuration string to an Algorithm.
// The empty string selects Default.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return Default, nil
	case SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case "", SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Hasher is a single-use incremental digest accumulator.
//
// Hasher is not safe for concurrent use; callers serialize access per file.
type Hasher struct {
	alg       Algorithm
	h         hash.Hash
	written   int64
	finalized bool
}

// New creates an accumulator for the given algorithm.
func New(alg Algorithm) (*Hasher, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	if alg == "" {
		alg = Default
	}
	return &Hasher{alg: alg, h: h}, nil
}

// Algorithm returns the digest function in use.
func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// Written reports how many bytes have been folded in so far.
func (h *Hasher) Written() int64 {
	return h.written
}

// Update folds p into the running digest. An empty slice is a no-op.
func (h *Hasher) Update(p []byte) error {
	if h.finalized {
		return ErrFinalized
	}
	// hash.Hash.Write never returns an error
	_, _ = h.h.Write(p)
	h.written += int64(len(p))
	return nil
}

// Finalize returns the lowercase hex digest of everything passed to Update
// and invalidates the accumulator.
func (h *Hasher) Finalize() (string, error) {
	if h.finalized {
		return "", ErrFinalized
	}
	h.finalized = true
	digest := hex.EncodeToString(h.h.Sum(nil))
	h.h = nil
	return digest, nil
}

// Sum recomputes the digest of everything readable from r.
// It checks ctx between reads so a long stream can be abandoned.
func Sum(ctx context.Context, r io.Reader, alg Algorithm) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to read content for hashing: %w", readErr)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes is a convenience wrapper around Sum for in-memory data.
func SumBytes(data []byte, alg Algorithm) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
