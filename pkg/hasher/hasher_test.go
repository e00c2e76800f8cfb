package hasher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", SHA256, false},
		{"sha256", SHA256, false},
		{"SHA256", SHA256, false},
		{" blake3 ", BLAKE3, false},
		{"md5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIncrementalMatchesOneShot(t *testing.T) {
	chunks := [][]byte{
		[]byte("hello "),
		{},
		[]byte("world"),
		bytes.Repeat([]byte{0xAB}, 100_000),
	}
	all := bytes.Join(chunks, nil)

	for _, alg := range []Algorithm{SHA256, BLAKE3} {
		t.Run(string(alg), func(t *testing.T) {
			h, err := New(alg)
			require.NoError(t, err)
			for _, c := range chunks {
				require.NoError(t, h.Update(c))
			}
			assert.Equal(t, int64(len(all)), h.Written())

			incremental, err := h.Finalize()
			require.NoError(t, err)

			full, err := Sum(context.Background(), bytes.NewReader(all), alg)
			require.NoError(t, err)
			assert.Equal(t, full, incremental)

			direct, err := SumBytes(all, alg)
			require.NoError(t, err)
			assert.Equal(t, full, direct)
		})
	}
}

func TestSHA256KnownDigest(t *testing.T) {
	h, err := New(SHA256)
	require.NoError(t, err)
	require.NoError(t, h.Update([]byte("abc")))

	got, err := h.Finalize()
	require.NoError(t, err)

	want := sha256.Sum256([]byte("abc"))
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestEmptyInputDigest(t *testing.T) {
	h, err := New(SHA256)
	require.NoError(t, err)

	got, err := h.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)
}

func TestFinalizeInvalidates(t *testing.T) {
	h, err := New(BLAKE3)
	require.NoError(t, err)
	require.NoError(t, h.Update([]byte("data")))

	_, err = h.Finalize()
	require.NoError(t, err)

	assert.ErrorIs(t, h.Update([]byte("more")), ErrFinalized)
	_, err = h.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestSumHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Sum(ctx, bytes.NewReader([]byte("x")), SHA256)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	_, err := New("crc32")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
