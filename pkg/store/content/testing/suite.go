// Package testing provides conformance suites for content.Store and
// content.BlockStore implementations.
package testing

import (
	"context"
	"math/rand"
	"testing"

	"github.com/marmos91/agentfs/pkg/store/content"
)

// BlockStoreTestSuite tests the BlockStore contract, not implementation
// details, so every tier (memory, fs, badger) runs the same checks.
//
// Usage:
//
//	func TestMyBlockStore(t *testing.T) {
//	    suite := &contenttesting.BlockStoreTestSuite{
//	        NewStore: func(t *testing.T) content.BlockStore {
//	            return mytier.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type BlockStoreTestSuite struct {
	// NewStore creates a fresh, empty tier for each test.
	NewStore func(t *testing.T) content.BlockStore
}

// Run executes all block tier tests.
func (suite *BlockStoreTestSuite) Run(t *testing.T) {
	t.Run("BlockOperations", suite.RunBlockTests)
}

// StoreTestSuite tests the content.Store contract: byte I/O, reference
// counting, sealing and copy-on-write cloning.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) content.Store

	// BlockSize is the store's copy-on-write granularity. Tests size their
	// data relative to it. Zero means 4096.
	BlockSize int
}

// Run executes all store tests.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("CopyOnWrite", suite.RunCopyOnWriteTests)
	t.Run("Statistics", suite.RunStatsTests)
}

func (suite *StoreTestSuite) blockSize() int {
	if suite.BlockSize == 0 {
		return 4096
	}
	return suite.BlockSize
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

// generateTestData returns deterministic pseudo-random bytes.
func generateTestData(size int, seed int64) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}
