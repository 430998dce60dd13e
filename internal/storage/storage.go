package storage

import (
	"context"

	"github.com/dshills/semdex/pkg/types"
)

// Storage defines the persistence interface for resources, blocks, vectors and tags
type Storage interface {
	Writer

	// Atomic replacement of everything stored for one resource
	ReplaceResource(ctx context.Context, resource *types.Resource, blocks []*types.Block, vectors [][]float32) error

	// Resource reads
	GetResourceHash(ctx context.Context, path string) (string, error)
	ListResources(ctx context.Context) ([]*types.Resource, error)
	ListBlocksByResource(ctx context.Context, resourceID string) ([]*types.Block, error)

	// Retrieval
	Candidates(ctx context.Context, filter CandidateFilter) ([]*Candidate, error)
	ListVectors(ctx context.Context) ([]VectorRecord, error)
	VectorDimension(ctx context.Context) (int, error)

	// Status
	GetStatus(ctx context.Context) (*Status, error)

	// Transaction support
	BeginTx(ctx context.Context) (Tx, error)

	// Lifecycle
	Close() error
}

// Writer holds the operations available both directly and inside a transaction
type Writer interface {
	UpsertResource(ctx context.Context, resource *types.Resource) error
	GetResourceByPath(ctx context.Context, path string) (*types.Resource, error)
	DeleteResource(ctx context.Context, path string) (bool, error)
	SetTags(ctx context.Context, resourceID string, tags []string) error

	InsertBlock(ctx context.Context, block *types.Block) error
	DeleteBlocksByResource(ctx context.Context, resourceID string) error

	UpsertVector(ctx context.Context, blockID string, vector []float32) error
}

// Tx represents a database transaction
type Tx interface {
	Writer
	Commit() error
	Rollback() error
}

// CandidateFilter narrows the blocks considered for a search.
// Zero values mean "no restriction".
type CandidateFilter struct {
	Tag          string
	PathPrefixes []string // OR-combined
	BlockIDs     []string // restricts to these blocks, e.g. ANN hits
}

// Active reports whether the filter restricts by tag or path
func (f CandidateFilter) Active() bool {
	return f.Tag != "" || len(f.PathPrefixes) > 0
}

// Candidate is a block joined with its resource and vector, ready for scoring
type Candidate struct {
	BlockID     string
	ResourceID  string
	Path        string
	Content     string
	StartLine   int
	EndLine     int
	ContentDate string
	Vector      []float32
}

// VectorRecord pairs a stored vector with its block
type VectorRecord struct {
	BlockID string
	Vector  []float32
}

// Status summarizes the store contents
type Status struct {
	Resources     int
	Blocks        int
	Vectors       int
	Tags          int
	Dimension     int
	SchemaVersion string
	SizeMB        float64
}
