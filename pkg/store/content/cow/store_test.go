package cow

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/store/content"
	"github.com/marmos91/agentfs/pkg/store/content/badger"
	"github.com/marmos91/agentfs/pkg/store/content/fs"
	"github.com/marmos91/agentfs/pkg/store/content/memory"
	contenttesting "github.com/marmos91/agentfs/pkg/store/content/testing"
)

const testBlockSize = 4096

func newStore(t *testing.T, budget uint64, cold content.BlockStore) *Store {
	t.Helper()
	ctx := context.Background()

	hot, err := memory.NewMemoryBlockStore(ctx)
	require.NoError(t, err)

	store, err := New(ctx, Config{BlockSize: testBlockSize, MaxBytesInMemory: budget}, hot, cold)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newFSTier(t *testing.T) content.BlockStore {
	t.Helper()
	tier, err := fs.NewFSBlockStore(context.Background(), fs.Config{
		Directory:       t.TempDir(),
		Compression:     fs.CompressionLZ4,
		VerifyChecksums: true,
	})
	require.NoError(t, err)
	return tier
}

func newBadgerTier(t *testing.T) content.BlockStore {
	t.Helper()
	tier, err := badger.NewBadgerBlockStore(context.Background(), badger.Config{Directory: t.TempDir()})
	require.NoError(t, err)
	return tier
}

// TestStoreConformance runs the content.Store suite over every tier layout.
func TestStoreConformance(t *testing.T) {
	layouts := map[string]func(t *testing.T) content.Store{
		"MemoryOnly": func(t *testing.T) content.Store {
			return newStore(t, 0, nil)
		},
		"SpillToFile": func(t *testing.T) content.Store {
			return newStore(t, 2*testBlockSize, newFSTier(t))
		},
		"SpillToBadger": func(t *testing.T) content.Store {
			return newStore(t, 2*testBlockSize, newBadgerTier(t))
		},
	}

	for name, factory := range layouts {
		t.Run(name, func(t *testing.T) {
			suite := &contenttesting.StoreTestSuite{NewStore: factory, BlockSize: testBlockSize}
			suite.Run(t)
		})
	}
}

func TestBudgetExhaustedWithoutSpill(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, testBlockSize, nil)

	id, err := store.Allocate(ctx, make([]byte, testBlockSize))
	require.NoError(t, err)

	n, err := store.WriteAt(ctx, id, []byte("more"), testBlockSize)
	assert.ErrorIs(t, err, content.ErrStorageFull)
	assert.Equal(t, 0, n)

	size, err := store.Size(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(testBlockSize), size, "failed write must not change the size")

	_, err = store.Allocate(ctx, []byte("x"))
	assert.ErrorIs(t, err, content.ErrStorageFull)
}

func TestSpillIsTransparent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 2*testBlockSize, newFSTier(t))

	data := bytes.Repeat([]byte("0123456789abcdef"), 5*testBlockSize/16)
	id, err := store.Allocate(ctx, data)
	require.NoError(t, err)

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*testBlockSize), stats.BytesInMemory)
	assert.Equal(t, uint64(3*testBlockSize), stats.BytesSpilled)
	assert.Equal(t, uint64(0), stats.AvailableSize)

	buf := make([]byte, len(data))
	n, err := store.ReadAt(ctx, id, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)

	require.NoError(t, store.Release(ctx, id))
	stats, err = store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.BytesInMemory)
	assert.Equal(t, uint64(0), stats.BytesSpilled)
}

func TestGrowingHotBlockMovesToSpill(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 100, newFSTier(t))

	id, err := store.Allocate(ctx, make([]byte, 100))
	require.NoError(t, err)

	_, err = store.WriteAt(ctx, id, []byte("grow"), 100)
	require.NoError(t, err)

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.BytesInMemory)
	assert.Equal(t, uint64(104), stats.BytesSpilled)

	buf := make([]byte, 4)
	_, err = store.ReadAt(ctx, id, buf, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("grow"), buf)
}

func TestConcurrentClonesAndWrites(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 0, nil)

	base, err := store.Allocate(ctx, bytes.Repeat([]byte{'.'}, 3*testBlockSize))
	require.NoError(t, err)
	require.NoError(t, store.Seal(ctx, base))

	const writers = 16
	ids := make([]content.ContentID, writers)

	p := pool.New().WithErrors().WithMaxGoroutines(8)
	for i := 0; i < writers; i++ {
		p.Go(func() error {
			clone, err := store.Clone(ctx, base)
			if err != nil {
				return err
			}
			ids[i] = clone
			marker := []byte(fmt.Sprintf("writer-%02d", i))
			for off := uint64(0); off < 3*testBlockSize; off += testBlockSize {
				if _, err := store.WriteAt(ctx, clone, marker, off); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, p.Wait())

	for i, id := range ids {
		marker := []byte(fmt.Sprintf("writer-%02d", i))
		buf := make([]byte, len(marker))
		_, err := store.ReadAt(ctx, id, buf, 2*testBlockSize)
		require.NoError(t, err)
		assert.Equal(t, marker, buf)
	}

	buf := make([]byte, 9)
	_, err = store.ReadAt(ctx, base, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("........."), buf)
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, Config{}, nil, nil)
	assert.Error(t, err)

	hot, err := memory.NewMemoryBlockStore(ctx)
	require.NoError(t, err)
	_, err = New(ctx, Config{BlockSize: -1}, hot, nil)
	assert.Error(t, err)

	store, err := New(ctx, Config{}, hot, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockSize, store.BlockSize())
}
