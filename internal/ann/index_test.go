package ann

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomEntries(n, dim int, seed int64) []Entry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]Entry, n)
	for i := range entries {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		entries[i] = Entry{BlockID: fmt.Sprintf("block_%d", i), Vector: vec}
	}
	return entries
}

func TestBuild_QueryFindsExactMatch(t *testing.T) {
	entries := randomEntries(200, 16, 1)
	idx, err := Build(entries)
	require.NoError(t, err)
	assert.Equal(t, 200, idx.Len())
	assert.Equal(t, 16, idx.Dimension())

	for _, at := range []int{0, 57, 199} {
		hits, err := idx.Query(entries[at].Vector, 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, entries[at].BlockID, hits[0].BlockID)
		assert.InDelta(t, 0, hits[0].Distance, 1e-5)

		for i := 1; i < len(hits); i++ {
			assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
		}
	}
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	_, err = Build([]Entry{
		{BlockID: "a", Vector: []float32{1, 0}},
		{BlockID: "b", Vector: []float32{1, 0, 0}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Build([]Entry{{BlockID: "z", Vector: []float32{0, 0}}})
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestBuild_SkipsZeroVectors(t *testing.T) {
	idx, err := Build([]Entry{
		{BlockID: "zero", Vector: []float32{0, 0, 0}},
		{BlockID: "x", Vector: []float32{1, 0, 0}},
		{BlockID: "y", Vector: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	hits, err := idx.Query([]float32{0.9, 0.1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].BlockID)
	assert.Equal(t, "y", hits[1].BlockID)
}

func TestQuery_DimensionMismatch(t *testing.T) {
	idx, err := Build(randomEntries(10, 8, 2))
	require.NoError(t, err)

	_, err = idx.Query(make([]float32, 4), 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQuery_KLargerThanIndex(t *testing.T) {
	idx, err := Build(randomEntries(5, 8, 3))
	require.NoError(t, err)

	hits, err := idx.Query(randomEntries(1, 8, 4)[0].Vector, 50)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), 5)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	entries := randomEntries(100, 12, 5)
	idx, err := Build(entries)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "brain.hnsw")
	require.NoError(t, idx.Save(path))
	assert.True(t, Exists(path))
	assert.FileExists(t, path+IDsSuffix)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, 12, loaded.Dimension())
	assert.Empty(t, loaded.Revision())

	hits, err := loaded.Query(entries[42].Vector, 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "block_42", hits[0].BlockID)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.hnsw"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_MismatchedIDs(t *testing.T) {
	idx, err := Build(randomEntries(10, 4, 6))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "idx.hnsw")
	require.NoError(t, idx.Save(path))
	require.NoError(t, os.WriteFile(path+IDsSuffix, []byte(`{"ids":["only_one"]}`), 0o644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)

	require.NoError(t, os.WriteFile(path+IDsSuffix, []byte(`not json`), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestRemove(t *testing.T) {
	idx, err := Build(randomEntries(3, 4, 7))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "idx.hnsw")
	require.NoError(t, idx.Save(path))

	require.NoError(t, Remove(path))
	assert.False(t, Exists(path))
	require.NoError(t, Remove(path), "removing twice is fine")
}

func TestHolder(t *testing.T) {
	var h Holder
	assert.Nil(t, h.Current())

	first, err := Build(randomEntries(5, 4, 8))
	require.NoError(t, err)
	h.Publish(first)
	snapshot := h.Current()
	assert.Same(t, first, snapshot)

	second, err := Build(randomEntries(7, 4, 9))
	require.NoError(t, err)
	h.Publish(second)
	assert.Same(t, second, h.Current())
	assert.Equal(t, 5, snapshot.Len(), "earlier snapshot is unaffected")

	h.Clear()
	assert.Nil(t, h.Current())
}

func TestHolder_WritesMakeIndexStale(t *testing.T) {
	var h Holder
	got, stale := h.Snapshot()
	assert.Nil(t, got)
	assert.False(t, stale)

	idx, err := Build(randomEntries(5, 4, 12))
	require.NoError(t, err)

	gen := h.Generation()
	h.MarkWrite() // lands while the index is being built
	h.PublishAt(idx, gen)
	got, stale = h.Snapshot()
	assert.Same(t, idx, got)
	assert.True(t, stale)

	h.Publish(idx)
	_, stale = h.Snapshot()
	assert.False(t, stale)

	h.MarkWrite()
	_, stale = h.Snapshot()
	assert.True(t, stale)
	assert.Same(t, idx, h.Current(), "stale index stays published")
}

func TestSaveLoad_Revision(t *testing.T) {
	idx, err := Build(randomEntries(6, 4, 13))
	require.NoError(t, err)
	idx.SetRevision("rev-1")

	path := filepath.Join(t.TempDir(), "idx.hnsw")
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", loaded.Revision())
}

func TestHolder_ConcurrentReaders(t *testing.T) {
	var h Holder
	idx, err := Build(randomEntries(50, 8, 10))
	require.NoError(t, err)
	h.Publish(idx)
	query := randomEntries(1, 8, 11)[0].Vector

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if cur := h.Current(); cur != nil {
					_, err := cur.Query(query, 5)
					assert.NoError(t, err)
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		h.Publish(idx)
	}
	wg.Wait()
}

func TestRebuildLock(t *testing.T) {
	var l RebuildLock
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire(), "second acquire fails without blocking")
	l.Release()
	assert.True(t, l.TryAcquire())
}
