package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStatsTests executes storage statistics tests.
func (suite *StoreTestSuite) RunStatsTests(t *testing.T) {
	t.Run("GetStorageStats_Empty", suite.testStatsEmpty)
	t.Run("GetStorageStats_Counts", suite.testStatsCounts)
}

func (suite *StoreTestSuite) testStatsEmpty(t *testing.T) {
	store := suite.NewStore(t)

	stats, err := store.GetStorageStats(testContext())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.ContentCount)
	assert.Equal(t, uint64(0), stats.UsedSize)
	assert.Equal(t, uint64(0), stats.AverageSize)
}

func (suite *StoreTestSuite) testStatsCounts(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	_, err := store.Allocate(ctx, make([]byte, 100))
	require.NoError(t, err)
	_, err = store.Allocate(ctx, make([]byte, 300))
	require.NoError(t, err)

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.ContentCount)
	assert.Equal(t, uint64(400), stats.LogicalSize)
	assert.Equal(t, uint64(200), stats.AverageSize)
	assert.Equal(t, uint64(400), stats.UsedSize)
	assert.Equal(t, stats.UsedSize, stats.BytesInMemory+stats.BytesSpilled)
}
