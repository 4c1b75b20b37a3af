package testing

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/store/content"
)

// RunBlockTests executes all BlockStore tests.
func (suite *BlockStoreTestSuite) RunBlockTests(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("Put_Replace", suite.testPutReplace)
	t.Run("Put_Empty", suite.testPutEmpty)
	t.Run("Put_CopiesInput", suite.testPutCopiesInput)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
	t.Run("Stats", suite.testBlockStats)
}

// ============================================================================
// Put / Get Tests
// ============================================================================

func (suite *BlockStoreTestSuite) testPutGet(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	data := generateTestData(64*1024, 1)
	require.NoError(t, store.Put(ctx, 1, data))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func (suite *BlockStoreTestSuite) testGetNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.Get(testContext(), 42)
	AssertErrorIs(t, content.ErrBlockNotFound, err)
}

func (suite *BlockStoreTestSuite) testPutReplace(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Put(ctx, 1, bytes.Repeat([]byte("a"), 1000)))
	require.NoError(t, store.Put(ctx, 1, []byte("short")))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), got)

	larger := generateTestData(8192, 2)
	require.NoError(t, store.Put(ctx, 1, larger))
	got, err = store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, larger, got)
}

func (suite *BlockStoreTestSuite) testPutEmpty(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Put(ctx, 5, []byte{}))
	got, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func (suite *BlockStoreTestSuite) testPutCopiesInput(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	data := []byte("original")
	require.NoError(t, store.Put(ctx, 1, data))
	data[0] = 'X'

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

// ============================================================================
// Delete and Stats Tests
// ============================================================================

func (suite *BlockStoreTestSuite) testDeleteIdempotent(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Put(ctx, 1, []byte("data")))
	require.NoError(t, store.Delete(ctx, 1))
	require.NoError(t, store.Delete(ctx, 1))
	require.NoError(t, store.Delete(ctx, 999))

	_, err := store.Get(ctx, 1)
	AssertErrorIs(t, content.ErrBlockNotFound, err)
}

func (suite *BlockStoreTestSuite) testBlockStats(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Blocks)
	assert.Equal(t, uint64(0), stats.Bytes)

	require.NoError(t, store.Put(ctx, 1, make([]byte, 100)))
	require.NoError(t, store.Put(ctx, 2, make([]byte, 300)))
	require.NoError(t, store.Put(ctx, 2, make([]byte, 200)))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Blocks)
	assert.Equal(t, uint64(300), stats.Bytes)

	require.NoError(t, store.Delete(ctx, 1))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Blocks)
	assert.Equal(t, uint64(200), stats.Bytes)
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t *testing.T, target, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, target), "expected %v, got %v", target, err)
}
