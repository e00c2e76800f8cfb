package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/content"
)

// StoreTestSuite is a conformance suite for content.Store implementations.
// It tests the interface contract, not implementation details, making it
// reusable across the memory, filesystem and S3 backends.
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &contenttesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh store for each test. This ensures test isolation.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("Enumeration", suite.RunEnumerationTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
