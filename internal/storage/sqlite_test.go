package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semdex/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

// testBlocks builds n blocks for path with matching 3-dim vectors
func testBlocks(path string, n int) ([]*types.Block, [][]float32) {
	rid := types.ResourceID(path)
	blocks := make([]*types.Block, n)
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		blocks[i] = &types.Block{
			ID:         types.BlockID(rid, i),
			ResourceID: rid,
			BlockType:  types.BlockTypeText,
			Content:    fmt.Sprintf("block %d of %s", i, path),
			StartLine:  i*10 + 1,
			EndLine:    i*10 + 10,
		}
		blocks[i].ComputeTokenCount()
		vectors[i] = []float32{float32(i + 1), 1, 0}
	}
	return blocks, vectors
}

func indexTestResource(t *testing.T, s *SQLiteStorage, path string, n int, tags []string, date string) {
	t.Helper()
	blocks, vectors := testBlocks(path, n)
	res := &types.Resource{
		Path:        path,
		ContentHash: types.ContentHash(path),
		ContentDate: date,
		Tags:        tags,
	}
	require.NoError(t, s.ReplaceResource(context.Background(), res, blocks, vectors))
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage)
	assert.NotNil(t, storage.db)
}

func TestNewSQLiteStorage_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.db")

	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	indexTestResource(t, s, "/docs/a.md", 2, nil, "")
	require.NoError(t, s.Close())

	// Reopen: migrations are idempotent and data persists
	s, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s.Close()

	status, err := s.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Resources)
	assert.Equal(t, 2, status.Blocks)
}

func TestClose(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.Close()
	assert.NoError(t, err)
}

func TestReplaceResource(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 3, []string{"finance", "q3"}, "2024-06-01")

	res, err := storage.GetResourceByPath(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceID("/docs/a.md"), res.ID)
	assert.Equal(t, types.ContentHash("/docs/a.md"), res.ContentHash)
	assert.Equal(t, "2024-06-01", res.ContentDate)
	assert.Equal(t, []string{"finance", "q3"}, res.Tags)
	assert.False(t, res.LastIndexedAt.IsZero())

	blocks, err := storage.ListBlocksByResource(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, types.BlockID(res.ID, 0), blocks[0].ID)
	assert.Equal(t, 1, blocks[0].StartLine)
	assert.Equal(t, types.BlockTypeText, blocks[0].BlockType)
}

func TestReplaceResource_PurgesOldBlocks(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 5, nil, "")
	indexTestResource(t, storage, "/docs/a.md", 2, nil, "")

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Resources)
	assert.Equal(t, 2, status.Blocks)
	assert.Equal(t, 2, status.Vectors)
}

func TestReplaceResource_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 3, []string{"x"}, "")
	first, err := storage.Candidates(ctx, CandidateFilter{})
	require.NoError(t, err)

	indexTestResource(t, storage, "/docs/a.md", 3, []string{"x"}, "")
	second, err := storage.Candidates(ctx, CandidateFilter{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReplaceResource_TagsKeptWhenNil(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 1, []string{"keep"}, "")
	indexTestResource(t, storage, "/docs/a.md", 1, nil, "")

	res, err := storage.GetResourceByPath(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, res.Tags)

	// An explicit empty set clears them
	indexTestResource(t, storage, "/docs/a.md", 1, []string{}, "")
	res, err = storage.GetResourceByPath(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.Empty(t, res.Tags)
}

func TestReplaceResource_CountMismatch(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	blocks, vectors := testBlocks("/docs/a.md", 2)
	err := storage.ReplaceResource(context.Background(),
		&types.Resource{Path: "/docs/a.md", ContentHash: "h"}, blocks, vectors[:1])
	assert.ErrorIs(t, err, ErrVectorCount)
}

func TestReplaceResource_RollsBackOnInvalidBlock(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 2, nil, "")

	blocks, vectors := testBlocks("/docs/a.md", 2)
	blocks[1].Content = ""
	err := storage.ReplaceResource(ctx,
		&types.Resource{Path: "/docs/a.md", ContentHash: "new"}, blocks, vectors)
	require.ErrorIs(t, err, types.ErrEmptyContent)

	// Previous state survives
	hash, err := storage.GetResourceHash(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, types.ContentHash("/docs/a.md"), hash)

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Blocks)
}

func TestGetResourceByPath_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	_, err := storage.GetResourceByPath(context.Background(), "/missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = storage.GetResourceHash(context.Background(), "/missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteResource(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 3, []string{"t"}, "")
	indexTestResource(t, storage, "/docs/b.md", 1, nil, "")

	deleted, err := storage.DeleteResource(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.True(t, deleted)

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Resources)
	assert.Equal(t, 1, status.Blocks)
	assert.Equal(t, 1, status.Vectors)
	assert.Equal(t, 0, status.Tags)

	// Second delete is a no-op
	deleted, err = storage.DeleteResource(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCascadeDelete(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 2, []string{"t"}, "")

	// Delete the owner row only; foreign keys remove the rest
	_, err := storage.db.ExecContext(ctx, "DELETE FROM resources WHERE path = ?", "/docs/a.md")
	require.NoError(t, err)

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Blocks)
	assert.Equal(t, 0, status.Vectors)
	assert.Equal(t, 0, status.Tags)
}

func TestListResources(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	indexTestResource(t, storage, "/docs/b.md", 1, nil, "")
	indexTestResource(t, storage, "/docs/a.md", 1, []string{"x"}, "")

	resources, err := storage.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "/docs/a.md", resources[0].Path)
	assert.Equal(t, []string{"x"}, resources[0].Tags)
	assert.Equal(t, "/docs/b.md", resources[1].Path)
}

func TestCandidates_Filters(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/ws/Notes/a.md", 2, []string{"finance"}, "2024-01-01")
	indexTestResource(t, storage, "/ws/Knowledge/b.md", 1, []string{"ops"}, "")
	indexTestResource(t, storage, "/ws/Documents/c.md", 3, nil, "")

	tests := []struct {
		name   string
		filter CandidateFilter
		want   int
	}{
		{"no filter", CandidateFilter{}, 6},
		{"tag", CandidateFilter{Tag: "finance"}, 2},
		{"unknown tag", CandidateFilter{Tag: "nope"}, 0},
		{"single prefix", CandidateFilter{PathPrefixes: []string{"/ws/Documents/"}}, 3},
		{"prefixes are OR-ed", CandidateFilter{PathPrefixes: []string{"/ws/Notes/", "/ws/Knowledge/"}}, 3},
		{"tag and prefix are AND-ed", CandidateFilter{Tag: "ops", PathPrefixes: []string{"/ws/Notes/"}}, 0},
		{"block ids", CandidateFilter{BlockIDs: []string{
			types.BlockID(types.ResourceID("/ws/Documents/c.md"), 1),
			types.BlockID(types.ResourceID("/ws/Notes/a.md"), 0),
			"missing_0",
		}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := storage.Candidates(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, cands, tt.want)
		})
	}
}

func TestCandidates_Fields(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 1, nil, "2024-03-15")

	cands, err := storage.Candidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, types.BlockID(types.ResourceID("/docs/a.md"), 0), c.BlockID)
	assert.Equal(t, types.ResourceID("/docs/a.md"), c.ResourceID)
	assert.Equal(t, "/docs/a.md", c.Path)
	assert.Equal(t, "block 0 of /docs/a.md", c.Content)
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 10, c.EndLine)
	assert.Equal(t, "2024-03-15", c.ContentDate)
	assert.Equal(t, []float32{1, 1, 0}, c.Vector)
}

func TestCandidates_PrefixEscaping(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/ws/a_b/x.md", 1, nil, "")
	indexTestResource(t, storage, "/ws/aXb/y.md", 1, nil, "")
	indexTestResource(t, storage, "/ws/100%/z.md", 1, nil, "")
	indexTestResource(t, storage, "/ws/100x/w.md", 1, nil, "")

	cands, err := storage.Candidates(ctx, CandidateFilter{PathPrefixes: []string{"/ws/a_b/"}})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "/ws/a_b/x.md", cands[0].Path)

	cands, err = storage.Candidates(ctx, CandidateFilter{PathPrefixes: []string{"/ws/100%"}})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "/ws/100%/z.md", cands[0].Path)
}

func TestCandidates_Empty(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	cands, err := storage.Candidates(context.Background(), CandidateFilter{})
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestListVectorsAndDimension(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	dim, err := storage.VectorDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dim)

	indexTestResource(t, storage, "/docs/a.md", 2, nil, "")

	dim, err = storage.VectorDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	records, err := storage.ListVectors(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, types.BlockID(types.ResourceID("/docs/a.md"), 0), records[0].BlockID)
	assert.Equal(t, []float32{1, 1, 0}, records[0].Vector)
}

func TestTransaction_Rollback(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.UpsertResource(ctx, &types.Resource{Path: "/docs/tx.md", ContentHash: "h"}))
	got, err := tx.GetResourceByPath(ctx, "/docs/tx.md")
	require.NoError(t, err)
	assert.Equal(t, "h", got.ContentHash)

	require.NoError(t, tx.Rollback())

	_, err = storage.GetResourceByPath(ctx, "/docs/tx.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransaction_Commit(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)

	res := &types.Resource{Path: "/docs/tx.md", ContentHash: "h"}
	require.NoError(t, tx.UpsertResource(ctx, res))
	require.NoError(t, tx.SetTags(ctx, res.ID, []string{"b", "a", " ", "a"}))
	require.NoError(t, tx.Commit())

	got, err := storage.GetResourceByPath(ctx, "/docs/tx.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	indexTestResource(t, storage, "/docs/a.md", 2, []string{"x", "y"}, "")
	indexTestResource(t, storage, "/docs/b.md", 1, []string{"x"}, "")

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Resources)
	assert.Equal(t, 3, status.Blocks)
	assert.Equal(t, 3, status.Vectors)
	assert.Equal(t, 2, status.Tags)
	assert.Equal(t, 3, status.Dimension)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Greater(t, status.SizeMB, 0.0)
}

func TestMigrations_Rollback(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))

	var n int
	err := storage.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='resources'").Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Re-apply from scratch
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	_, err = storage.GetStatus(ctx)
	assert.NoError(t, err)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\_b\%c\\d`, escapeLike(`a_b%c\d`))
	assert.Equal(t, "plain/path/", escapeLike("plain/path/"))
}
