package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/semdex/internal/chunker"
	"github.com/dshills/semdex/internal/embedder"
	"github.com/dshills/semdex/internal/storage"
	"github.com/dshills/semdex/pkg/types"
)

// embedBatchSize bounds the texts sent in one embedding request
const embedBatchSize = 32

// Indexer coordinates the indexing pipeline: read -> chunk -> embed -> store
type Indexer struct {
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	storage  storage.Storage
	logger   *slog.Logger
	onWrite  func()
	now      func() time.Time

	// Worker pool configuration
	workers int
}

// Options configures an Indexer
type Options struct {
	Chunker *chunker.Chunker
	Workers int    // Concurrent documents in IndexPaths (default: runtime.NumCPU())
	OnWrite func() // Called after every successful write, e.g. to invalidate caches
	Logger  *slog.Logger
	Now     func() time.Time
}

// IndexOptions controls how a single document is indexed
type IndexOptions struct {
	Tags        []string // Replaces stored tags when non-nil
	ContentDate string   // Overrides the front matter date
	Force       bool     // Re-index even when the content hash is unchanged
}

// Result describes the outcome of indexing one document
type Result struct {
	Path       string
	ResourceID string
	Blocks     int
	Strategy   chunker.Strategy
	Skipped    bool
}

// Statistics contains statistics about a bulk indexing operation
type Statistics struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	BlocksCreated int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, opts Options) *Indexer {
	if opts.Chunker == nil {
		opts.Chunker = chunker.New()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnWrite == nil {
		opts.OnWrite = func() {}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Indexer{
		chunker:  opts.Chunker,
		embedder: emb,
		storage:  store,
		logger:   opts.Logger.With("component", "indexer"),
		onWrite:  opts.OnWrite,
		now:      opts.Now,
		workers:  opts.Workers,
	}
}

// NormalizePath returns the absolute, cleaned form used as a resource's identity
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// IndexDocument reads, chunks, embeds and stores one document. Every chunk is
// embedded before the store transaction starts, so a provider failure leaves
// the previous version intact.
func (idx *Indexer) IndexDocument(ctx context.Context, path string, opts IndexOptions) (*Result, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		idx.logger.Warn("file not found", "path", path)
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	opts.Tags = types.NormalizeTags(opts.Tags)
	content := string(data)
	hash := types.ContentHash(content)
	result := &Result{Path: path, ResourceID: types.ResourceID(path)}

	if !opts.Force {
		unchanged, err := idx.unchanged(ctx, path, hash, opts)
		if err != nil {
			return nil, err
		}
		if unchanged {
			result.Skipped = true
			idx.logger.Debug("document unchanged", "path", path)
			return result, nil
		}
	}

	contentDate := opts.ContentDate
	if contentDate == "" {
		contentDate = ExtractContentDate(content)
	}

	segments, strategy := idx.chunker.ChunkWithStrategy(content)
	vectors, err := idx.embedSegments(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", path, err)
	}

	blocks := make([]*types.Block, len(segments))
	for i, seg := range segments {
		blocks[i] = &types.Block{
			ID:          types.BlockID(result.ResourceID, i),
			ResourceID:  result.ResourceID,
			BlockType:   types.BlockTypeText,
			Content:     seg.Text,
			StartLine:   seg.StartLine,
			EndLine:     seg.EndLine,
			ContentDate: contentDate,
		}
		blocks[i].ComputeTokenCount()
	}

	resource := &types.Resource{
		ID:            result.ResourceID,
		Path:          path,
		ContentHash:   hash,
		LastIndexedAt: idx.now().UTC(),
		ContentDate:   contentDate,
		Tags:          opts.Tags,
	}
	if err := idx.storage.ReplaceResource(ctx, resource, blocks, vectors); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", path, err)
	}
	idx.onWrite()

	result.Blocks = len(blocks)
	result.Strategy = strategy
	idx.logger.Info("indexed document", "path", path, "blocks", len(blocks), "strategy", strategy)
	return result, nil
}

// unchanged reports whether the stored copy of path already matches hash and
// the requested metadata
func (idx *Indexer) unchanged(ctx context.Context, path, hash string, opts IndexOptions) (bool, error) {
	stored, err := idx.storage.GetResourceByPath(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored.ContentHash != hash {
		return false, nil
	}
	if opts.ContentDate != "" && opts.ContentDate != stored.ContentDate {
		return false, nil
	}
	if opts.Tags != nil && !slices.Equal(opts.Tags, types.NormalizeTags(stored.Tags)) {
		return false, nil
	}
	return true, nil
}

// embedSegments embeds every segment in order, in batches
func (idx *Indexer) embedSegments(ctx context.Context, segments []chunker.Segment) ([][]float32, error) {
	vectors := make([][]float32, 0, len(segments))
	for start := 0; start < len(segments); start += embedBatchSize {
		end := min(start+embedBatchSize, len(segments))
		texts := make([]string, 0, end-start)
		for _, seg := range segments[start:end] {
			texts = append(texts, seg.Text)
		}

		resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
				embedder.ErrProviderFailed, len(resp.Embeddings), len(texts))
		}
		for _, emb := range resp.Embeddings {
			if len(emb.Vector) != idx.embedder.Dimension() {
				return nil, types.NewConfigurationError("index", fmt.Errorf("%w: %s returned %d values, expected %d",
					embedder.ErrDimensionMismatch, idx.embedder.Provider(), len(emb.Vector), idx.embedder.Dimension()))
			}
			vectors = append(vectors, emb.Vector)
		}
	}
	return vectors, nil
}

// NeedsIndexing reports whether path is missing from the store or has changed.
// A file that doesn't exist never needs indexing.
func (idx *Indexer) NeedsIndexing(ctx context.Context, path string) (bool, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	stored, err := idx.storage.GetResourceHash(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stored != types.ContentHash(string(data)), nil
}

// DeleteResource removes path from the store. It reports false, without error,
// when path was never indexed.
func (idx *Indexer) DeleteResource(ctx context.Context, path string) (bool, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return false, err
	}

	deleted, err := idx.storage.DeleteResource(ctx, path)
	if err != nil {
		return false, err
	}
	if deleted {
		idx.onWrite()
		idx.logger.Info("deleted resource", "path", path)
	}
	return deleted, nil
}

// IndexPaths indexes many documents concurrently. Duplicate paths are indexed
// once, so no two workers ever write the same resource. Per-file failures are
// recorded in the statistics; only cancellation aborts the run.
func (idx *Indexer) IndexPaths(ctx context.Context, paths []string, opts IndexOptions) (*Statistics, error) {
	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	unique, err := distinctPaths(paths)
	if err != nil {
		return nil, err
	}

	var (
		indexed atomic.Int32
		skipped atomic.Int32
		failed  atomic.Int32
		blocks  atomic.Int32
		mu      sync.Mutex // Protect stats.ErrorMessages
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for _, path := range unique {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := idx.IndexDocument(gctx, path, opts)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
				mu.Unlock()
				return nil
			}
			if res.Skipped {
				skipped.Add(1)
				return nil
			}
			indexed.Add(1)
			blocks.Add(int32(res.Blocks))
			return nil
		})
	}

	waitErr := g.Wait()

	stats.FilesIndexed = int(indexed.Load())
	stats.FilesSkipped = int(skipped.Load())
	stats.FilesFailed = int(failed.Load())
	stats.BlocksCreated = int(blocks.Load())
	stats.Duration = time.Since(startTime)

	if waitErr != nil {
		return stats, waitErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	idx.logger.Info("bulk indexing finished",
		"indexed", stats.FilesIndexed, "skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed, "blocks", stats.BlocksCreated, "duration", stats.Duration)
	return stats, nil
}

// IndexTree indexes paths, walking each directory among them for documents
// with the given extensions. Other paths are indexed as given, so a missing
// file shows up as a per-file failure.
func (idx *Indexer) IndexTree(ctx context.Context, paths []string, exts []string, opts IndexOptions) (*Statistics, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := Walk(p, exts)
		if err != nil {
			return nil, fmt.Errorf("failed to discover files in %s: %w", p, err)
		}
		files = append(files, found...)
	}
	return idx.IndexPaths(ctx, files, opts)
}

// Prune deletes stored resources under root whose files no longer exist.
// It returns the removed paths.
func (idx *Indexer) Prune(ctx context.Context, root string) ([]string, error) {
	root, err := NormalizePath(root)
	if err != nil {
		return nil, err
	}

	resources, err := idx.storage.ListResources(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, res := range resources {
		if !within(root, res.Path) {
			continue
		}
		if _, err := os.Stat(res.Path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		deleted, err := idx.storage.DeleteResource(ctx, res.Path)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed = append(removed, res.Path)
		}
	}
	if len(removed) > 0 {
		idx.onWrite()
		idx.logger.Info("pruned missing documents", "root", root, "count", len(removed))
	}
	return removed, nil
}

func distinctPaths(paths []string) ([]string, error) {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		norm, err := NormalizePath(p)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out, nil
}

// within reports whether path is root or below it
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
