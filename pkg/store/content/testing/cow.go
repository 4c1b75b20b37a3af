package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/store/content"
)

// RunCopyOnWriteTests executes sealing and cloning tests.
func (suite *StoreTestSuite) RunCopyOnWriteTests(t *testing.T) {
	t.Run("Seal_RejectsWrites", suite.testSealRejectsWrites)
	t.Run("Clone_SharesBytes", suite.testCloneSharesBytes)
	t.Run("Clone_WriteIsolation", suite.testCloneWriteIsolation)
	t.Run("Clone_OfSealedIsWritable", suite.testCloneOfSealed)
	t.Run("Clone_SurvivesSourceRelease", suite.testCloneSurvivesRelease)
	t.Run("Clone_TruncateIsolation", suite.testCloneTruncateIsolation)
}

func (suite *StoreTestSuite) testSealRejectsWrites(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	id, err := store.Allocate(ctx, []byte("frozen"))
	require.NoError(t, err)
	require.NoError(t, store.Seal(ctx, id))
	require.NoError(t, store.Seal(ctx, id))

	sealed, err := store.IsSealed(ctx, id)
	require.NoError(t, err)
	assert.True(t, sealed)

	_, err = store.WriteAt(ctx, id, []byte("X"), 0)
	AssertErrorIs(t, content.ErrSealed, err)
	AssertErrorIs(t, content.ErrSealed, store.Truncate(ctx, id, 0))

	assert.Equal(t, []byte("frozen"), mustReadAll(t, store, id))
}

func (suite *StoreTestSuite) testCloneSharesBytes(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()
	bs := suite.blockSize()

	id, err := store.Allocate(ctx, generateTestData(4*bs, 10))
	require.NoError(t, err)

	before, err := store.GetStorageStats(ctx)
	require.NoError(t, err)

	clone, err := store.Clone(ctx, id)
	require.NoError(t, err)

	after, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.UsedSize, after.UsedSize, "clone must not copy bytes")
	assert.Equal(t, before.ContentCount+1, after.ContentCount)

	// One written byte copies exactly one block.
	_, err = store.WriteAt(ctx, clone, []byte{1}, uint64(bs+3))
	require.NoError(t, err)

	written, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.UsedSize+uint64(bs), written.UsedSize)
}

func (suite *StoreTestSuite) testCloneWriteIsolation(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	id, err := store.Allocate(ctx, []byte("hello"))
	require.NoError(t, err)
	clone, err := store.Clone(ctx, id)
	require.NoError(t, err)

	_, err = store.WriteAt(ctx, clone, []byte("HELLO"), 0)
	require.NoError(t, err)
	_, err = store.WriteAt(ctx, id, []byte("!"), 5)
	require.NoError(t, err)

	assert.Equal(t, []byte("hello!"), mustReadAll(t, store, id))
	assert.Equal(t, []byte("HELLO"), mustReadAll(t, store, clone))
}

func (suite *StoreTestSuite) testCloneOfSealed(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	id, err := store.Allocate(ctx, []byte("base"))
	require.NoError(t, err)
	require.NoError(t, store.Seal(ctx, id))

	clone, err := store.Clone(ctx, id)
	require.NoError(t, err)

	sealed, err := store.IsSealed(ctx, clone)
	require.NoError(t, err)
	assert.False(t, sealed)

	_, err = store.WriteAt(ctx, clone, []byte("B"), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("Base"), mustReadAll(t, store, clone))
	assert.Equal(t, []byte("base"), mustReadAll(t, store, id))
}

func (suite *StoreTestSuite) testCloneSurvivesRelease(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()
	bs := suite.blockSize()

	data := generateTestData(2*bs+5, 11)
	id, err := store.Allocate(ctx, data)
	require.NoError(t, err)
	clone, err := store.Clone(ctx, id)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, id))
	assert.Equal(t, data, mustReadAll(t, store, clone))

	require.NoError(t, store.Release(ctx, clone))
	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.UsedSize, "last release frees shared blocks")
	assert.Equal(t, uint64(0), stats.BlockCount)
}

func (suite *StoreTestSuite) testCloneTruncateIsolation(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()
	bs := suite.blockSize()

	data := generateTestData(bs+50, 12)
	id, err := store.Allocate(ctx, data)
	require.NoError(t, err)
	clone, err := store.Clone(ctx, id)
	require.NoError(t, err)

	require.NoError(t, store.Truncate(ctx, clone, uint64(bs+10)))
	require.NoError(t, store.Truncate(ctx, clone, uint64(bs+50)))

	got := mustReadAll(t, store, clone)
	assert.Equal(t, data[:bs+10], got[:bs+10])
	assert.Equal(t, make([]byte, 40), got[bs+10:])
	assert.Equal(t, data, mustReadAll(t, store, id), "source keeps its tail")
}
