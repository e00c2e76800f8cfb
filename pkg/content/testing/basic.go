package testing

import (
	"testing"

	"github.com/marmos91/dittostore/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes the read side of the content.Store contract.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Root_NotEmpty", suite.testRootNotEmpty)
	t.Run("OpenReader_NotFound", suite.testOpenReaderNotFound)
	t.Run("Size_NotFound", suite.testSizeNotFound)
	t.Run("Exists", suite.testExists)
	t.Run("InvalidNames", suite.testInvalidNames)
	t.Run("ContextCancelled", suite.testContextCancelled)
}

func (suite *StoreTestSuite) testRootNotEmpty(t *testing.T) {
	store := suite.NewStore(t)
	assert.NotEmpty(t, store.Root())
}

func (suite *StoreTestSuite) testOpenReaderNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.OpenReader(testContext(), generateTestName("missing"))
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

func (suite *StoreTestSuite) testSizeNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.Size(testContext(), generateTestName("missing"))
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

func (suite *StoreTestSuite) testExists(t *testing.T) {
	store := suite.NewStore(t)
	name := generateTestName("exists")

	assertContentExists(t, store, name, false)
	mustWriteContent(t, store, name, []byte("x"))
	assertContentExists(t, store, name, true)
}

func (suite *StoreTestSuite) testInvalidNames(t *testing.T) {
	store := suite.NewStore(t)

	for _, name := range []string{"", "/abs", "../escape", "a/../../b"} {
		_, err := store.OpenWriter(testContext(), name)
		AssertErrorIs(t, content.ErrInvalidPath, err)
	}
}

func (suite *StoreTestSuite) testContextCancelled(t *testing.T) {
	store := suite.NewStore(t)

	ctx, cancel := newCancelledContext()
	defer cancel()

	_, err := store.OpenWriter(ctx, generateTestName("cancelled"))
	require.Error(t, err)
	_, err = store.OpenReader(ctx, generateTestName("cancelled"))
	require.Error(t, err)
}
