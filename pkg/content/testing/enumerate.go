package testing

import (
	"testing"

	"github.com/marmos91/dittostore/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunEnumerationTests checks content.Enumerator for stores that implement it.
func (suite *StoreTestSuite) RunEnumerationTests(t *testing.T) {
	t.Run("ListChildren_Root", suite.testListChildrenRoot)
	t.Run("ListChildren_Subdir", suite.testListChildrenSubdir)
	t.Run("Walk_BreadthFirst", suite.testWalk)
}

func enumeratorOrSkip(t *testing.T, store content.Store) content.Enumerator {
	t.Helper()
	e, ok := store.(content.Enumerator)
	if !ok {
		t.Skip("Store does not implement Enumerator")
	}
	return e
}

func (suite *StoreTestSuite) testListChildrenRoot(t *testing.T) {
	store := suite.NewStore(t)
	e := enumeratorOrSkip(t, store)

	mustWriteContent(t, store, "a.txt", []byte("a"))
	mustWriteContent(t, store, "dir/b.txt", []byte("b"))

	children, err := e.ListChildren(testContext(), "")
	require.NoError(t, err)
	assert.Equal(t, []content.Entry{
		{Name: "a.txt", IsDir: false},
		{Name: "dir", IsDir: true},
	}, children)
}

func (suite *StoreTestSuite) testListChildrenSubdir(t *testing.T) {
	store := suite.NewStore(t)
	e := enumeratorOrSkip(t, store)

	mustWriteContent(t, store, "dir/b.txt", []byte("b"))
	mustWriteContent(t, store, "dir/sub/c.txt", []byte("c"))

	children, err := e.ListChildren(testContext(), "dir")
	require.NoError(t, err)
	assert.Equal(t, []content.Entry{
		{Name: "dir/b.txt", IsDir: false},
		{Name: "dir/sub", IsDir: true},
	}, children)
}

func (suite *StoreTestSuite) testWalk(t *testing.T) {
	store := suite.NewStore(t)
	e := enumeratorOrSkip(t, store)

	mustWriteContent(t, store, "top.txt", []byte("1"))
	mustWriteContent(t, store, "x/mid.txt", []byte("2"))
	mustWriteContent(t, store, "x/y/deep.txt", []byte("3"))

	var visited []string
	err := content.Walk(testContext(), e, "", func(entry content.Entry) error {
		visited = append(visited, entry.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"top.txt", "x/mid.txt", "x/y/deep.txt"}, visited)
}
