package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/semdex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = fmt.Errorf("storage: %w", types.ErrNotFound)
	// ErrVectorCount is returned when blocks and vectors don't pair up
	ErrVectorCount = errors.New("block and vector counts differ")
	// ErrCorruptVector is returned when a stored vector blob is malformed
	ErrCorruptVector = fmt.Errorf("corrupt vector blob: %w", types.ErrData)
)

// timeLayout is used for last_indexed_at
const timeLayout = time.RFC3339Nano

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Cascading deletes depend on this
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the store at dbPath and applies migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Resource operations

func (s *SQLiteStorage) upsertResourceWithQuerier(ctx context.Context, q querier, res *types.Resource) error {
	if res.Path == "" {
		return types.ErrMissingPath
	}
	if res.ID == "" {
		res.ID = types.ResourceID(res.Path)
	}
	if res.LastIndexedAt.IsZero() {
		res.LastIndexedAt = time.Now().UTC()
	}

	// Updating in place keeps existing tag rows; a DELETE would cascade them away.
	query := `
		INSERT INTO resources (id, path, hash, last_indexed_at, content_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			hash = excluded.hash,
			last_indexed_at = excluded.last_indexed_at,
			content_date = excluded.content_date
	`
	_, err := q.ExecContext(ctx, query,
		res.ID, res.Path, res.ContentHash,
		res.LastIndexedAt.UTC().Format(timeLayout), nullString(res.ContentDate))
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertResource(ctx context.Context, res *types.Resource) error {
	return s.upsertResourceWithQuerier(ctx, s.querier(), res)
}

func (s *SQLiteStorage) getResourceByPathWithQuerier(ctx context.Context, q querier, path string) (*types.Resource, error) {
	query := `
		SELECT id, path, hash, last_indexed_at, content_date
		FROM resources
		WHERE path = ?
	`
	res, err := scanResource(q.QueryRowContext(ctx, query, path))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	tags, err := s.listTagsWithQuerier(ctx, q, res.ID)
	if err != nil {
		return nil, err
	}
	res.Tags = tags
	return res, nil
}

func (s *SQLiteStorage) GetResourceByPath(ctx context.Context, path string) (*types.Resource, error) {
	return s.getResourceByPathWithQuerier(ctx, s.querier(), path)
}

// GetResourceHash returns the stored content hash for path, or ErrNotFound
func (s *SQLiteStorage) GetResourceHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT hash FROM resources WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get resource hash: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStorage) deleteResourceWithQuerier(ctx context.Context, q querier, path string) (bool, error) {
	id := types.ResourceID(path)

	// Explicit deletes mirror the cascade so a database opened without
	// foreign keys is still cleaned up.
	stmts := []string{
		"DELETE FROM vectors WHERE block_id IN (SELECT id FROM blocks WHERE resource_id = ?)",
		"DELETE FROM blocks WHERE resource_id = ?",
		"DELETE FROM tags WHERE resource_id = ?",
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, id); err != nil {
			return false, fmt.Errorf("failed to delete resource data: %w", err)
		}
	}

	result, err := q.ExecContext(ctx, "DELETE FROM resources WHERE path = ? OR id = ?", path, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete resource: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteResource removes a resource and everything it owns.
// It reports whether a resource was actually removed.
func (s *SQLiteStorage) DeleteResource(ctx context.Context, path string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	deleted, err := s.deleteResourceWithQuerier(ctx, tx, path)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

// ListResources returns every stored resource ordered by path
func (s *SQLiteStorage) ListResources(ctx context.Context) ([]*types.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, hash, last_indexed_at, content_date
		FROM resources
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resources []*types.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, res := range resources {
		tags, err := s.listTagsWithQuerier(ctx, s.db, res.ID)
		if err != nil {
			return nil, err
		}
		res.Tags = tags
	}
	return resources, nil
}

// Tag operations

func (s *SQLiteStorage) setTagsWithQuerier(ctx context.Context, q querier, resourceID string, tags []string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM tags WHERE resource_id = ?", resourceID); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	for _, tag := range types.NormalizeTags(tags) {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO tags (resource_id, tag) VALUES (?, ?)", resourceID, tag); err != nil {
			return fmt.Errorf("failed to insert tag %q: %w", tag, err)
		}
	}
	return nil
}

// SetTags replaces the tag set of a resource
func (s *SQLiteStorage) SetTags(ctx context.Context, resourceID string, tags []string) error {
	return s.setTagsWithQuerier(ctx, s.querier(), resourceID, tags)
}

func (s *SQLiteStorage) listTagsWithQuerier(ctx context.Context, q querier, resourceID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT tag FROM tags WHERE resource_id = ? ORDER BY tag", resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Block operations

func (s *SQLiteStorage) insertBlockWithQuerier(ctx context.Context, q querier, block *types.Block) error {
	if err := block.Validate(); err != nil {
		return err
	}
	if block.BlockType == "" {
		block.BlockType = types.BlockTypeText
	}

	query := `
		INSERT INTO blocks (id, resource_id, block_type, content, start_line, end_line, token_count, content_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		block.ID, block.ResourceID, block.BlockType, block.Content,
		block.StartLine, block.EndLine, block.TokenCount, nullString(block.ContentDate))
	if err != nil {
		return fmt.Errorf("failed to insert block %s: %w", block.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) InsertBlock(ctx context.Context, block *types.Block) error {
	return s.insertBlockWithQuerier(ctx, s.querier(), block)
}

func (s *SQLiteStorage) deleteBlocksByResourceWithQuerier(ctx context.Context, q querier, resourceID string) error {
	if _, err := q.ExecContext(ctx,
		"DELETE FROM vectors WHERE block_id IN (SELECT id FROM blocks WHERE resource_id = ?)", resourceID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM blocks WHERE resource_id = ?", resourceID); err != nil {
		return fmt.Errorf("failed to delete blocks: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteBlocksByResource(ctx context.Context, resourceID string) error {
	return s.deleteBlocksByResourceWithQuerier(ctx, s.querier(), resourceID)
}

// ListBlocksByResource returns a resource's blocks in document order
func (s *SQLiteStorage) ListBlocksByResource(ctx context.Context, resourceID string) ([]*types.Block, error) {
	query := `
		SELECT id, resource_id, block_type, content, start_line, end_line, token_count, content_date
		FROM blocks
		WHERE resource_id = ?
		ORDER BY start_line
	`
	rows, err := s.db.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []*types.Block
	for rows.Next() {
		var b types.Block
		var contentDate sql.NullString
		if err := rows.Scan(&b.ID, &b.ResourceID, &b.BlockType, &b.Content,
			&b.StartLine, &b.EndLine, &b.TokenCount, &contentDate); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		b.ContentDate = contentDate.String
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

// Vector operations

func (s *SQLiteStorage) upsertVectorWithQuerier(ctx context.Context, q querier, blockID string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for block %s", blockID)
	}
	query := `
		INSERT INTO vectors (block_id, embedding, dimension)
		VALUES (?, ?, ?)
		ON CONFLICT(block_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension
	`
	if _, err := q.ExecContext(ctx, query, blockID, serializeVector(vector), len(vector)); err != nil {
		return fmt.Errorf("failed to upsert vector for block %s: %w", blockID, err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertVector(ctx context.Context, blockID string, vector []float32) error {
	return s.upsertVectorWithQuerier(ctx, s.querier(), blockID, vector)
}

// ListVectors returns every stored vector ordered by block id
func (s *SQLiteStorage) ListVectors(ctx context.Context) ([]VectorRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT block_id, embedding FROM vectors ORDER BY block_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []VectorRecord
	for rows.Next() {
		var rec VectorRecord
		var blob []byte
		if err := rows.Scan(&rec.BlockID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", rec.BlockID, err)
		}
		rec.Vector = vec
		records = append(records, rec)
	}
	return records, rows.Err()
}

// VectorDimension returns the dimension of stored vectors, or 0 when none are stored
func (s *SQLiteStorage) VectorDimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM vectors LIMIT 1").Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read vector dimension: %w", err)
	}
	return dim, nil
}

// ReplaceResource stores a resource together with its blocks and vectors in one
// transaction, purging whatever was stored for it before. Tags are replaced when
// resource.Tags is non-nil and kept otherwise.
func (s *SQLiteStorage) ReplaceResource(ctx context.Context, res *types.Resource, blocks []*types.Block, vectors [][]float32) error {
	if len(blocks) != len(vectors) {
		return fmt.Errorf("%w: %d blocks, %d vectors", ErrVectorCount, len(blocks), len(vectors))
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertResource(ctx, res); err != nil {
		return err
	}
	if res.Tags != nil {
		if err := tx.SetTags(ctx, res.ID, res.Tags); err != nil {
			return err
		}
	}
	if err := tx.DeleteBlocksByResource(ctx, res.ID); err != nil {
		return err
	}
	for i, block := range blocks {
		block.ResourceID = res.ID
		if err := tx.InsertBlock(ctx, block); err != nil {
			return err
		}
		if err := tx.UpsertVector(ctx, block.ID, vectors[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resource %s: %w", res.Path, err)
	}
	return nil
}

// Candidates returns blocks that have a vector, restricted by filter
func (s *SQLiteStorage) Candidates(ctx context.Context, filter CandidateFilter) ([]*Candidate, error) {
	query, args := buildCandidateQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []*Candidate
	for rows.Next() {
		var c Candidate
		var contentDate sql.NullString
		var blob []byte
		if err := rows.Scan(&c.BlockID, &c.ResourceID, &c.Content, &c.StartLine, &c.EndLine,
			&contentDate, &c.Path, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", c.BlockID, err)
		}
		c.ContentDate = contentDate.String
		c.Vector = vec
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}

// buildCandidateQuery renders the candidate SELECT for filter
func buildCandidateQuery(filter CandidateFilter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT b.id, b.resource_id, b.content, b.start_line, b.end_line,
		       COALESCE(b.content_date, r.content_date), r.path, v.embedding
		FROM blocks b
		JOIN resources r ON b.resource_id = r.id
		JOIN vectors v ON b.id = v.block_id
		WHERE 1=1`)
	var args []interface{}

	if filter.Tag != "" {
		sb.WriteString(" AND EXISTS (SELECT 1 FROM tags t WHERE t.resource_id = r.id AND t.tag = ?)")
		args = append(args, filter.Tag)
	}

	if len(filter.PathPrefixes) > 0 {
		clauses := make([]string, 0, len(filter.PathPrefixes))
		for _, prefix := range filter.PathPrefixes {
			clauses = append(clauses, `r.path LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(prefix)+"%")
		}
		sb.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	}

	if len(filter.BlockIDs) > 0 {
		ids := dedupe(filter.BlockIDs)
		sb.WriteString(" AND b.id IN (" + placeholders(len(ids)) + ")")
		for _, id := range ids {
			args = append(args, id)
		}
	}

	sb.WriteString(" ORDER BY r.path, b.start_line")
	return sb.String(), args
}

// GetStatus returns store counts and size
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM resources", &status.Resources},
		{"SELECT COUNT(*) FROM blocks", &status.Blocks},
		{"SELECT COUNT(*) FROM vectors", &status.Vectors},
		{"SELECT COUNT(DISTINCT tag) FROM tags", &status.Tags},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	dim, err := s.VectorDimension(ctx)
	if err != nil {
		return nil, err
	}
	status.Dimension = dim

	_ = s.db.QueryRowContext(ctx,
		"SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&status.SchemaVersion)

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// Helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResource(row rowScanner) (*types.Resource, error) {
	var res types.Resource
	var indexedAt string
	var contentDate sql.NullString
	if err := row.Scan(&res.ID, &res.Path, &res.ContentHash, &indexedAt, &contentDate); err != nil {
		return nil, err
	}
	if t, err := time.Parse(timeLayout, indexedAt); err == nil {
		res.LastIndexedAt = t
	}
	res.ContentDate = contentDate.String
	return &res, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// escapeLike escapes LIKE wildcards so a prefix matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Transaction method implementations (delegate to storage with tx querier)

func (t *sqliteTx) UpsertResource(ctx context.Context, res *types.Resource) error {
	return t.storage.upsertResourceWithQuerier(ctx, t.querier(), res)
}

func (t *sqliteTx) GetResourceByPath(ctx context.Context, path string) (*types.Resource, error) {
	return t.storage.getResourceByPathWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) DeleteResource(ctx context.Context, path string) (bool, error) {
	return t.storage.deleteResourceWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) SetTags(ctx context.Context, resourceID string, tags []string) error {
	return t.storage.setTagsWithQuerier(ctx, t.querier(), resourceID, tags)
}

func (t *sqliteTx) InsertBlock(ctx context.Context, block *types.Block) error {
	return t.storage.insertBlockWithQuerier(ctx, t.querier(), block)
}

func (t *sqliteTx) DeleteBlocksByResource(ctx context.Context, resourceID string) error {
	return t.storage.deleteBlocksByResourceWithQuerier(ctx, t.querier(), resourceID)
}

func (t *sqliteTx) UpsertVector(ctx context.Context, blockID string, vector []float32) error {
	return t.storage.upsertVectorWithQuerier(ctx, t.querier(), blockID, vector)
}
