package testing

import (
	"context"
	"testing"
)

// RunWriteTests executes the write side of the content.Store contract.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("Write_Basic", suite.testWriteBasic)
	t.Run("Write_AppendsInOrder", suite.testWriteAppendsInOrder)
	t.Run("Write_Empty", suite.testWriteEmpty)
	t.Run("Write_Large", suite.testWriteLarge)
	t.Run("OpenWriter_Truncates", suite.testOpenWriterTruncates)
	t.Run("Write_NestedName", suite.testWriteNestedName)
	t.Run("Delete_Success", suite.testDeleteSuccess)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
}

// ============================================================================
// Write Tests
// ============================================================================

func (suite *StoreTestSuite) testWriteBasic(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("write-basic")
	testData := []byte("Hello, World!")

	mustWriteContent(t, store, name, testData)

	assertContentEquals(t, store, name, testData)
	assertContentSize(t, store, name, int64(len(testData)))
}

func (suite *StoreTestSuite) testWriteAppendsInOrder(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("write-order")

	mustWriteContent(t, store, name, []byte("who\n"), []byte("what\n"), []byte("why"))

	assertContentEquals(t, store, name, []byte("who\nwhat\nwhy"))
}

func (suite *StoreTestSuite) testWriteEmpty(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("write-empty")

	mustWriteContent(t, store, name)

	assertContentExists(t, store, name, true)
	assertContentSize(t, store, name, 0)
}

func (suite *StoreTestSuite) testWriteLarge(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("write-large")
	data := generateTestData(3*1024*1024 + 17)

	mustWriteContent(t, store, name, data[:1024*1024], data[1024*1024:])

	assertContentEquals(t, store, name, data)
}

func (suite *StoreTestSuite) testOpenWriterTruncates(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("write-truncate")

	mustWriteContent(t, store, name, []byte("Old data that is longer"))
	mustWriteContent(t, store, name, []byte("New"))

	assertContentEquals(t, store, name, []byte("New"))
	assertContentSize(t, store, name, 3)
}

func (suite *StoreTestSuite) testWriteNestedName(t *testing.T) {
	store := suite.NewStore(t)
	name := "nested/dir/" + generateTestName("file")

	mustWriteContent(t, store, name, []byte("deep"))

	assertContentEquals(t, store, name, []byte("deep"))
	// Non-canonical spelling resolves to the same content
	assertContentEquals(t, store, "nested/./dir//"+generateTestName("file"), []byte("deep"))
}

// ============================================================================
// Delete Tests
// ============================================================================

func (suite *StoreTestSuite) testDeleteSuccess(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("delete")

	mustWriteContent(t, store, name, []byte("bye"))
	mustDelete(t, store, name)

	assertContentExists(t, store, name, false)
}

func (suite *StoreTestSuite) testDeleteIdempotent(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("delete-twice")

	mustDelete(t, store, name)
	mustWriteContent(t, store, name, []byte("x"))
	mustDelete(t, store, name)
	mustDelete(t, store, name)

	assertContentExists(t, store, name, false)
}

func newCancelledContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx, cancel
}
