package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/store/content"
)

// RunBasicTests executes byte I/O and reference counting tests.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Allocate_ReadBack", suite.testAllocateReadBack)
	t.Run("Allocate_Empty", suite.testAllocateEmpty)
	t.Run("ReadAt_PastEnd", suite.testReadPastEnd)
	t.Run("WriteAt_Sparse", suite.testWriteSparse)
	t.Run("WriteAt_SpansBlocks", suite.testWriteSpansBlocks)
	t.Run("Truncate_ShrinkThenExtend", suite.testTruncateShrinkExtend)
	t.Run("Release_Reclaims", suite.testReleaseReclaims)
	t.Run("Retain_KeepsAlive", suite.testRetainKeepsAlive)
	t.Run("NotFound", suite.testNotFound)
	t.Run("CancelledContext", suite.testCancelledContext)
}

// ============================================================================
// Read / Write Tests
// ============================================================================

func (suite *StoreTestSuite) testAllocateReadBack(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	id, err := store.Allocate(ctx, []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, []byte("hello"), mustReadAll(t, store, id))

	size, err := store.Size(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), size)
}

func (suite *StoreTestSuite) testAllocateEmpty(t *testing.T) {
	store := suite.NewStore(t)

	id, err := store.Allocate(testContext(), nil)
	require.NoError(t, err)
	assert.Empty(t, mustReadAll(t, store, id))
}

func (suite *StoreTestSuite) testReadPastEnd(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	id, err := store.Allocate(ctx, []byte("abc"))
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := store.ReadAt(ctx, id, buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("bc"), buf[:n])

	n, err = store.ReadAt(ctx, id, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = store.ReadAt(ctx, id, buf, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func (suite *StoreTestSuite) testWriteSparse(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()
	bs := suite.blockSize()

	id, err := store.Allocate(ctx, nil)
	require.NoError(t, err)

	offset := uint64(2*bs + 10)
	n, err := store.WriteAt(ctx, id, []byte("tail"), offset)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	data := mustReadAll(t, store, id)
	require.Len(t, data, int(offset)+4)
	assert.Equal(t, make([]byte, offset), data[:offset], "hole reads as zeros")
	assert.Equal(t, []byte("tail"), data[offset:])
}

func (suite *StoreTestSuite) testWriteSpansBlocks(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()
	bs := suite.blockSize()

	data := generateTestData(3*bs+17, 3)
	id, err := store.Allocate(ctx, data)
	require.NoError(t, err)

	patch := generateTestData(bs+2, 4)
	_, err = store.WriteAt(ctx, id, patch, uint64(bs-1))
	require.NoError(t, err)
	copy(data[bs-1:], patch)

	assert.Equal(t, data, mustReadAll(t, store, id))
}

func (suite *StoreTestSuite) testTruncateShrinkExtend(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()
	bs := suite.blockSize()

	data := generateTestData(2*bs+100, 5)
	id, err := store.Allocate(ctx, data)
	require.NoError(t, err)

	cut := uint64(bs + 7)
	require.NoError(t, store.Truncate(ctx, id, cut))
	assert.Equal(t, data[:cut], mustReadAll(t, store, id))

	require.NoError(t, store.Truncate(ctx, id, uint64(2*bs)))
	got := mustReadAll(t, store, id)
	require.Len(t, got, 2*bs)
	assert.Equal(t, data[:cut], got[:cut])
	assert.Equal(t, make([]byte, uint64(2*bs)-cut), got[cut:], "extension reads as zeros")

	require.NoError(t, store.Truncate(ctx, id, 0))
	assert.Empty(t, mustReadAll(t, store, id))
}

// ============================================================================
// Reference Counting Tests
// ============================================================================

func (suite *StoreTestSuite) testReleaseReclaims(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	id, err := store.Allocate(ctx, []byte("bye"))
	require.NoError(t, err)

	refs, err := store.RefCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refs)

	require.NoError(t, store.Release(ctx, id))

	_, err = store.Size(ctx, id)
	AssertErrorIs(t, content.ErrContentNotFound, err)

	err = store.Release(ctx, id)
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

func (suite *StoreTestSuite) testRetainKeepsAlive(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	id, err := store.Allocate(ctx, []byte("shared"))
	require.NoError(t, err)
	require.NoError(t, store.Retain(ctx, id))

	refs, err := store.RefCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), refs)

	require.NoError(t, store.Release(ctx, id))
	assert.Equal(t, []byte("shared"), mustReadAll(t, store, id))

	require.NoError(t, store.Release(ctx, id))
	_, err = store.Size(ctx, id)
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

func (suite *StoreTestSuite) testNotFound(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()
	missing := content.ContentID(987654)

	_, err := store.ReadAt(ctx, missing, make([]byte, 1), 0)
	AssertErrorIs(t, content.ErrContentNotFound, err)
	_, err = store.WriteAt(ctx, missing, []byte("x"), 0)
	AssertErrorIs(t, content.ErrContentNotFound, err)
	_, err = store.Clone(ctx, missing)
	AssertErrorIs(t, content.ErrContentNotFound, err)
	AssertErrorIs(t, content.ErrContentNotFound, store.Seal(ctx, missing))
	AssertErrorIs(t, content.ErrContentNotFound, store.Retain(ctx, missing))
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.NewStore(t)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := store.Allocate(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

// mustReadAll reads the whole content.
func mustReadAll(t *testing.T, store content.Store, id content.ContentID) []byte {
	t.Helper()
	ctx := testContext()

	size, err := store.Size(ctx, id)
	require.NoError(t, err)

	buf := make([]byte, size)
	n, err := store.ReadAt(ctx, id, buf, 0)
	require.NoError(t, err)
	require.Equal(t, int(size), n)
	return buf
}
