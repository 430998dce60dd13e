package ann

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/coder/hnsw"
)

// IDsSuffix is appended to the graph path to name the block ID list
const IDsSuffix = ".ids"

// Graph tuning
const (
	DefaultM        = 16
	DefaultEfSearch = 64
)

var (
	ErrEmptyIndex        = errors.New("ann: no vectors to index")
	ErrDimensionMismatch = errors.New("ann: vector dimension mismatch")
	ErrCorruptIndex      = errors.New("ann: index files do not correspond")
)

// Entry is a block vector to index
type Entry struct {
	BlockID string
	Vector  []float32
}

// Hit is a query result; Distance is cosine distance (1 - similarity)
type Hit struct {
	BlockID  string
	Distance float32
}

// Index is an immutable HNSW index over block vectors
type Index struct {
	graph    *hnsw.Graph[int]
	ids      []string
	dim      int
	revision string
}

// idsFile is the JSON layout of the sidecar written next to the graph
type idsFile struct {
	Revision string   `json:"revision"`
	IDs      []string `json:"ids"`
}

func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance
	g.M = DefaultM
	g.EfSearch = DefaultEfSearch
	return g
}

// Build indexes entries. All vectors must share one dimension; zero vectors
// are skipped since they have no direction.
func Build(entries []Entry) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyIndex
	}

	dim := len(entries[0].Vector)
	g := newGraph()
	ids := make([]string, 0, len(entries))
	nodes := make([]hnsw.Node[int], 0, len(entries))

	for _, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: block %s has %d, expected %d", ErrDimensionMismatch, e.BlockID, len(e.Vector), dim)
		}
		if isZero(e.Vector) {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(len(ids), e.Vector))
		ids = append(ids, e.BlockID)
	}
	if len(nodes) == 0 || dim == 0 {
		return nil, ErrEmptyIndex
	}

	g.Add(nodes...)
	return &Index{graph: g, ids: ids, dim: dim}, nil
}

// Len returns the number of indexed vectors
func (i *Index) Len() int {
	return len(i.ids)
}

// Dimension returns the vector dimension of the index
func (i *Index) Dimension() int {
	return i.dim
}

// Revision returns the store revision the index was built from
func (i *Index) Revision() string {
	return i.revision
}

// SetRevision records the store revision the vectors were read at.
// Call it before the index is saved or published.
func (i *Index) SetRevision(rev string) {
	i.revision = rev
}

// Query returns up to k nearest blocks ordered by ascending distance
func (i *Index) Query(vec []float32, k int) ([]Hit, error) {
	if len(vec) != i.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vec), i.dim)
	}
	if k <= 0 || len(i.ids) == 0 || isZero(vec) {
		return nil, nil
	}

	nodes := i.graph.Search(vec, k)
	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		if n.Key < 0 || n.Key >= len(i.ids) {
			continue
		}
		hits = append(hits, Hit{
			BlockID:  i.ids[n.Key],
			Distance: hnsw.CosineDistance(vec, n.Value),
		})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})
	return hits, nil
}

// Save writes the graph to path and the ID list, with the revision, to
// path + IDsSuffix.
// Each file is written to a temporary name and renamed into place.
func (i *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	if err := writeAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := i.graph.Export(w); err != nil {
			return err
		}
		return w.Flush()
	}); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}

	if err := writeAtomic(path+IDsSuffix, func(f *os.File) error {
		return json.NewEncoder(f).Encode(idsFile{Revision: i.revision, IDs: i.ids})
	}); err != nil {
		return fmt.Errorf("save ids: %w", err)
	}
	return nil
}

// Load reads an index written by Save. Missing files return an error
// satisfying errors.Is(err, os.ErrNotExist).
func Load(path string) (*Index, error) {
	idsData, err := os.ReadFile(path + IDsSuffix)
	if err != nil {
		return nil, err
	}
	var sidecar idsFile
	if err := json.Unmarshal(idsData, &sidecar); err != nil {
		return nil, fmt.Errorf("%w: parse ids: %v", ErrCorruptIndex, err)
	}
	ids := sidecar.IDs

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	g := newGraph()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("%w: import graph: %v", ErrCorruptIndex, err)
	}

	if g.Len() != len(ids) || len(ids) == 0 {
		return nil, fmt.Errorf("%w: graph has %d nodes, id list has %d", ErrCorruptIndex, g.Len(), len(ids))
	}
	first, ok := g.Lookup(0)
	if !ok {
		return nil, fmt.Errorf("%w: position 0 missing", ErrCorruptIndex)
	}
	if _, ok := g.Lookup(len(ids) - 1); !ok {
		return nil, fmt.Errorf("%w: position %d missing", ErrCorruptIndex, len(ids)-1)
	}

	return &Index{graph: g, ids: ids, dim: len(first), revision: sidecar.Revision}, nil
}

// Exists reports whether both index files are present at path
func Exists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_, err := os.Stat(path + IDsSuffix)
	return err == nil
}

// Remove deletes both index files, ignoring ones already absent
func Remove(path string) error {
	for _, p := range []string{path, path + IDsSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func isZero(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return sum == 0 || math.IsNaN(sum)
}
