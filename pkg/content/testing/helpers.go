package testing

import (
	"errors"
	"io"
	"testing"

	"github.com/marmos91/dittostore/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// mustWriteContent writes data through a single writer and closes it.
func mustWriteContent(t *testing.T, store content.Store, name string, chunks ...[]byte) {
	t.Helper()
	w, err := store.OpenWriter(testContext(), name)
	require.NoError(t, err, "OpenWriter should succeed")

	for _, chunk := range chunks {
		_, err := w.Write(chunk)
		require.NoError(t, err, "Write should succeed")
	}
	require.NoError(t, w.Close(), "Close should succeed")
}

// mustReadContent reads content and fails the test if it errors.
func mustReadContent(t *testing.T, store content.Store, name string) []byte {
	t.Helper()
	reader, err := store.OpenReader(testContext(), name)
	require.NoError(t, err, "OpenReader should succeed")
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err, "Reading content should succeed")
	return data
}

// mustDelete deletes content and fails the test if it errors.
func mustDelete(t *testing.T, store content.Store, name string) {
	t.Helper()
	err := store.Delete(testContext(), name)
	require.NoError(t, err, "Delete should succeed")
}

// assertContentExists checks if content exists.
func assertContentExists(t *testing.T, store content.Store, name string, expected bool) {
	t.Helper()
	exists, err := store.Exists(testContext(), name)
	require.NoError(t, err, "Exists should not error")
	assert.Equal(t, expected, exists, "Content existence mismatch")
}

// assertContentEquals checks if content matches expected data.
func assertContentEquals(t *testing.T, store content.Store, name string, expected []byte) {
	t.Helper()
	actual := mustReadContent(t, store, name)
	assert.Equal(t, expected, actual, "Content data mismatch")
}

// assertContentSize checks if content size matches expected.
func assertContentSize(t *testing.T, store content.Store, name string, expected int64) {
	t.Helper()
	actual, err := store.Size(testContext(), name)
	require.NoError(t, err, "Size should succeed")
	assert.Equal(t, expected, actual, "Content size mismatch")
}

// generateTestData creates test data of specified size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}

// generateTestName generates a unique test content name.
func generateTestName(name string) string {
	return "test-" + name
}
