// Package engine is the single entry point collaborators use: it opens the
// store, selects the embedding, lexical and rerank capabilities, loads the ANN
// index and exposes indexing and search over them.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/semdex/internal/ann"
	"github.com/dshills/semdex/internal/chunker"
	"github.com/dshills/semdex/internal/config"
	"github.com/dshills/semdex/internal/embedder"
	"github.com/dshills/semdex/internal/indexer"
	"github.com/dshills/semdex/internal/lexical"
	"github.com/dshills/semdex/internal/rerank"
	"github.com/dshills/semdex/internal/searcher"
	"github.com/dshills/semdex/internal/storage"
	"github.com/dshills/semdex/pkg/types"
)

var (
	// ErrRebuildInProgress is returned when RebuildIndex is called during a rebuild
	ErrRebuildInProgress = errors.New("ann index rebuild already in progress")

	// ErrStaleIndex is returned by LoadIndex when the store changed after the index was built
	ErrStaleIndex = errors.New("ann index is older than the store")
)

// Options overrides pieces of the engine, mainly for tests
type Options struct {
	Embedder embedder.Embedder // Used instead of building one from config
	Reranker rerank.Reranker   // Used instead of building one from config
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine owns every component for one store
type Engine struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	lexical  lexical.Scorer
	reranker rerank.Reranker
	ann      *ann.Holder
	rebuild  ann.RebuildLock
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	logger   *slog.Logger
}

// Stats summarises the engine's state
type Stats struct {
	Resources     int     `json:"resources"`
	Blocks        int     `json:"blocks"`
	Vectors       int     `json:"vectors"`
	Tags          int     `json:"tags"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Dimension     int     `json:"dimension"`
	HasANNIndex   bool    `json:"has_ann_index"`
	ANNSize       int     `json:"ann_size"`
	ANNStale      bool    `json:"ann_stale"` // Writes landed after the build; searches brute-force
	CachedQueries int     `json:"cached_queries"`
	Lexical       string  `json:"lexical"`
	Reranker      string  `json:"reranker"`
	SchemaVersion string  `json:"schema_version"`
	SizeMB        float64 `json:"size_mb"`
	DBPath        string  `json:"db_path"`
}

// RebuildResult describes a finished ANN rebuild
type RebuildResult struct {
	Vectors  int
	Path     string
	Duration time.Duration
}

// Open builds an engine from cfg. A missing embedding provider or a store
// whose vectors don't match the provider's dimension is fatal; a missing or
// unreadable ANN index only disables acceleration.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	emb := opts.Embedder
	if emb == nil {
		var err error
		emb, err = embedder.NewFromConfig(ctx, embedder.Config{
			Provider:    cfg.Embedding.Provider,
			Model:       cfg.Embedding.Model,
			Dimension:   cfg.Embedding.Dimension,
			APIKey:      cfg.Embedding.APIKey,
			JinaAPIKey:  cfg.Embedding.JinaAPIKey,
			BaseURL:     cfg.Embedding.BaseURL,
			LocalURL:    cfg.Embedding.LocalURL,
			Workspace:   cfg.Workspace,
			CacheSize:   cfg.Embedding.CacheSize,
			MinInterval: cfg.Embedding.MinInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	lex, err := lexical.New(cfg.Lexical)
	if err != nil {
		_ = emb.Close()
		return nil, types.NewConfigurationError("open", err)
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	stored, err := store.VectorDimension(ctx)
	if err != nil {
		_ = store.Close()
		_ = emb.Close()
		return nil, err
	}
	if stored > 0 && stored != emb.Dimension() {
		_ = store.Close()
		_ = emb.Close()
		return nil, types.NewConfigurationError("open", fmt.Errorf(
			"%w: store holds %d-dimensional vectors, %s produces %d; re-index or switch provider",
			embedder.ErrDimensionMismatch, stored, emb.Provider(), emb.Dimension()))
	}

	rr := opts.Reranker
	if rr == nil {
		rr = rerank.New(rerank.Config{
			Provider:    cfg.Reranker.Provider,
			APIKey:      firstNonEmpty(cfg.Reranker.APIKey, cfg.Embedding.JinaAPIKey),
			Model:       cfg.Reranker.Model,
			BaseURL:     cfg.Reranker.BaseURL,
			MinInterval: cfg.Reranker.MinInterval,
		}, logger)
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		embedder: emb,
		lexical:  lex,
		reranker: rr,
		ann:      &ann.Holder{},
		logger:   logger.With("component", "engine"),
	}

	e.searcher = searcher.NewSearcher(store, emb, searcher.Options{
		Lexical:   lex,
		Reranker:  rr,
		ANN:       e.ann,
		Profiles:  cfg.Profiles,
		Overfetch: cfg.Search.Overfetch,
		CacheSize: cfg.Search.CacheSize,
		CacheTTL:  cfg.Search.CacheTTL,
		Now:       opts.Now,
		Logger:    logger,
	})
	e.indexer = indexer.New(store, emb, indexer.Options{
		Chunker: chunker.NewWithConfig(chunker.Config{
			ChunkSize:    cfg.Chunker.ChunkSize,
			MinChunkSize: cfg.Chunker.MinChunkSize,
		}),
		Workers: cfg.Indexer.Workers,
		OnWrite: e.markWrite,
		Logger:  logger,
		Now:     opts.Now,
	})

	if cfg.UseVectorIndex {
		if err := e.LoadIndex(ctx); err != nil {
			switch {
			case errors.Is(err, os.ErrNotExist):
				e.logger.Info("no ANN index found, using brute-force search", "path", cfg.IndexPath)
			case errors.Is(err, ErrStaleIndex):
				e.logger.Info("ANN index is behind the store, using brute-force search until rebuilt", "path", cfg.IndexPath)
			default:
				e.logger.Warn("ANN index unusable, using brute-force search", "path", cfg.IndexPath, "error", err)
			}
		}
	}

	e.logger.Info("engine ready",
		"db", cfg.DBPath, "provider", emb.Provider(), "dimension", emb.Dimension(),
		"lexical", lex.Name(), "reranker", rr.Name(), "ann", e.ann.Current() != nil)
	return e, nil
}

func openStore(path string) (*storage.SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// IndexDocument indexes one document
func (e *Engine) IndexDocument(ctx context.Context, path string, opts indexer.IndexOptions) (*indexer.Result, error) {
	return e.indexer.IndexDocument(ctx, path, opts)
}

// IndexPaths indexes files and directories. Directories are walked for the
// configured extensions.
func (e *Engine) IndexPaths(ctx context.Context, paths []string, opts indexer.IndexOptions) (*indexer.Statistics, error) {
	return e.indexer.IndexTree(ctx, paths, e.cfg.Indexer.Extensions, opts)
}

// NeedsIndexing reports whether path is new or changed
func (e *Engine) NeedsIndexing(ctx context.Context, path string) (bool, error) {
	return e.indexer.NeedsIndexing(ctx, path)
}

// DeleteResource removes a document and everything derived from it
func (e *Engine) DeleteResource(ctx context.Context, path string) (bool, error) {
	return e.indexer.DeleteResource(ctx, path)
}

// Prune deletes stored documents under root that no longer exist on disk
func (e *Engine) Prune(ctx context.Context, root string) ([]string, error) {
	return e.indexer.Prune(ctx, root)
}

// Search runs a ranked query
func (e *Engine) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	return e.searcher.Search(ctx, req)
}

// Profiles lists the named retrieval profiles
func (e *Engine) Profiles() []string {
	return e.searcher.Profiles()
}

// Embed returns the active provider's vector for text
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedder.Vector(ctx, e.embedder, text)
}

// Watch keeps the store in sync with roots until ctx is done
func (e *Engine) Watch(ctx context.Context, roots []string, opts indexer.IndexOptions) error {
	w, err := indexer.NewWatcher(e.indexer, e.cfg.Indexer.Extensions, opts, e.cfg.Indexer.Debounce)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	for _, root := range roots {
		if err := w.Add(root); err != nil {
			return err
		}
	}
	return w.Run(ctx)
}

// LoadIndex reads the ANN index from disk and publishes it. An index whose
// dimension differs from the embedder's is rejected as a data error; one
// built before the latest store write is not published.
func (e *Engine) LoadIndex(ctx context.Context) error {
	idx, err := ann.Load(e.cfg.IndexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("%w: load ann index: %v", types.ErrData, err)
	}
	if idx.Dimension() != e.embedder.Dimension() {
		return fmt.Errorf("%w: ann index has dimension %d, embedder %d",
			types.ErrData, idx.Dimension(), e.embedder.Dimension())
	}

	gen := e.ann.Generation()
	rev, err := e.storeRevision(ctx)
	if err != nil {
		return err
	}
	if idx.Revision() != rev {
		return fmt.Errorf("%w: %s", ErrStaleIndex, e.cfg.IndexPath)
	}

	e.ann.PublishAt(idx, gen)
	e.searcher.InvalidateCache()
	e.logger.Info("ANN index loaded", "path", e.cfg.IndexPath, "vectors", idx.Len())
	return nil
}

// RebuildIndex builds a fresh ANN index from every stored vector, saves it and
// publishes it. Searches keep using the previous snapshot until the swap.
// Only one rebuild runs at a time.
func (e *Engine) RebuildIndex(ctx context.Context) (*RebuildResult, error) {
	if !e.rebuild.TryAcquire() {
		return nil, ErrRebuildInProgress
	}
	defer e.rebuild.Release()

	start := time.Now()
	gen := e.ann.Generation()
	rev, err := e.storeRevision(ctx)
	if err != nil {
		return nil, err
	}
	records, err := e.store.ListVectors(ctx)
	if err != nil {
		return nil, err
	}
	result := &RebuildResult{Path: e.cfg.IndexPath}

	if len(records) == 0 {
		e.ann.Clear()
		if err := ann.Remove(e.cfg.IndexPath); err != nil {
			return nil, err
		}
		e.searcher.InvalidateCache()
		result.Duration = time.Since(start)
		e.logger.Info("no vectors stored, ANN index removed")
		return result, nil
	}

	entries := make([]ann.Entry, len(records))
	for i, rec := range records {
		entries[i] = ann.Entry{BlockID: rec.BlockID, Vector: rec.Vector}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := ann.Build(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to build ann index: %w", err)
	}
	idx.SetRevision(rev)
	if err := os.MkdirAll(filepath.Dir(e.cfg.IndexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if err := idx.Save(e.cfg.IndexPath); err != nil {
		return nil, fmt.Errorf("failed to save ann index: %w", err)
	}

	if e.cfg.UseVectorIndex {
		e.ann.PublishAt(idx, gen)
		e.searcher.InvalidateCache()
	}

	result.Vectors = idx.Len()
	result.Duration = time.Since(start)
	e.logger.Info("ANN index rebuilt", "vectors", result.Vectors, "path", result.Path, "duration", result.Duration)
	return result, nil
}

// Stats reports store counts and the capabilities in use
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	status, err := e.store.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Resources:     status.Resources,
		Blocks:        status.Blocks,
		Vectors:       status.Vectors,
		Tags:          status.Tags,
		Provider:      e.embedder.Provider(),
		Model:         e.embedder.Model(),
		Dimension:     e.embedder.Dimension(),
		Lexical:       e.lexical.Name(),
		Reranker:      e.reranker.Name(),
		SchemaVersion: status.SchemaVersion,
		SizeMB:        status.SizeMB,
		DBPath:        e.cfg.DBPath,
	}
	if idx, stale := e.ann.Snapshot(); idx != nil {
		stats.HasANNIndex = true
		stats.ANNSize = idx.Len()
		stats.ANNStale = stale
	}
	stats.CachedQueries = e.searcher.CacheLen()
	return stats, nil
}

// Blocks returns the stored blocks of the document at path in order
func (e *Engine) Blocks(ctx context.Context, path string) ([]*types.Block, error) {
	path, err := indexer.NormalizePath(path)
	if err != nil {
		return nil, err
	}
	res, err := e.store.GetResourceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.store.ListBlocksByResource(ctx, res.ID)
}

// markWrite runs after every store write: the published ANN index no
// longer covers the store and cached responses may be wrong
func (e *Engine) markWrite() {
	e.ann.MarkWrite()
	e.searcher.InvalidateCache()
}

// storeRevision fingerprints the stored resources, listed in path order.
// Indexing or deleting a document changes it.
func (e *Engine) storeRevision(ctx context.Context) (string, error) {
	resources, err := e.store.ListResources(ctx)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, r := range resources {
		fmt.Fprintf(h, "%s\x00%s\x00%s\n", r.Path, r.ContentHash, r.LastIndexedAt.UTC().Format(time.RFC3339Nano))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Close releases the store and the embedder
func (e *Engine) Close() error {
	return errors.Join(e.store.Close(), e.embedder.Close())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
