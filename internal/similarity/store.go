// Package similarity holds the precomputed item-item similarity matrix.
//
// The matrix is kept in compressed sparse row form. Row i and column i both
// refer to row i of the movie table; the loaders check the shape, callers check
// the alignment with Validate.
package similarity

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotSquare         = errors.New("similarity: matrix is not square")
	ErrDimensionMismatch = errors.New("similarity: matrix dimension does not match movie table")
	ErrRowOutOfRange     = errors.New("similarity: row out of range")
	ErrUnsupportedFormat = errors.New("similarity: unsupported matrix format")
	ErrSelfNotMaximal    = errors.New("similarity: self score is not the row maximum")
)

// Entry is one stored score.
type Entry struct {
	Row   int
	Col   int
	Score float64
}

// Neighbor is a ranked column of a matrix row.
type Neighbor struct {
	Index int
	Score float64
}

// Store is an immutable square CSR matrix.
type Store struct {
	n       int
	indptr  []int
	indices []int
	data    []float64
}

// NewStore builds an n x n store from COO entries. Repeated coordinates are
// summed.
func NewStore(n int, entries []Entry) (*Store, error) {
	if n <= 0 {
		return nil, fmt.Errorf("similarity: invalid dimension %d", n)
	}
	for _, e := range entries {
		if e.Row < 0 || e.Row >= n || e.Col < 0 || e.Col >= n {
			return nil, fmt.Errorf("similarity: entry (%d,%d) outside %dx%d", e.Row, e.Col, n, n)
		}
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Row != sorted[b].Row {
			return sorted[a].Row < sorted[b].Row
		}
		return sorted[a].Col < sorted[b].Col
	})

	s := &Store{
		n:       n,
		indptr:  make([]int, n+1),
		indices: make([]int, 0, len(sorted)),
		data:    make([]float64, 0, len(sorted)),
	}
	for i, e := range sorted {
		if i > 0 && sorted[i-1].Row == e.Row && sorted[i-1].Col == e.Col {
			s.data[len(s.data)-1] += e.Score
			continue
		}
		s.indices = append(s.indices, e.Col)
		s.data = append(s.data, e.Score)
		s.indptr[e.Row+1]++
	}
	for i := 0; i < n; i++ {
		s.indptr[i+1] += s.indptr[i]
	}
	return s, nil
}

// NewDenseStore builds a store from a row-major dense slice of n*n scores.
// Zero scores are not stored.
func NewDenseStore(n int, scores []float64) (*Store, error) {
	if len(scores) != n*n {
		return nil, fmt.Errorf("%w: %d scores for %dx%d", ErrNotSquare, len(scores), n, n)
	}
	entries := make([]Entry, 0, len(scores))
	for i, v := range scores {
		if v != 0 {
			entries = append(entries, Entry{Row: i / n, Col: i % n, Score: v})
		}
	}
	return NewStore(n, entries)
}

// Dim returns the number of rows (and columns).
func (s *Store) Dim() int {
	return s.n
}

// NNZ returns the number of stored scores.
func (s *Store) NNZ() int {
	return len(s.data)
}

// Row returns row i as a dense vector covering every column.
func (s *Store) Row(i int) (*mat.VecDense, error) {
	if i < 0 || i >= s.n {
		return nil, fmt.Errorf("%w: %d (dim %d)", ErrRowOutOfRange, i, s.n)
	}
	v := mat.NewVecDense(s.n, nil)
	for p := s.indptr[i]; p < s.indptr[i+1]; p++ {
		v.SetVec(s.indices[p], s.data[p])
	}
	return v, nil
}

// At returns the score at (i, j).
func (s *Store) At(i, j int) float64 {
	if i < 0 || i >= s.n {
		return 0
	}
	for p := s.indptr[i]; p < s.indptr[i+1]; p++ {
		if s.indices[p] == j {
			return s.data[p]
		}
	}
	return 0
}

// Dense materializes the full matrix.
func (s *Store) Dense() *mat.Dense {
	d := mat.NewDense(s.n, s.n, nil)
	for i := 0; i < s.n; i++ {
		for p := s.indptr[i]; p < s.indptr[i+1]; p++ {
			d.Set(i, s.indices[p], s.data[p])
		}
	}
	return d
}

// Entries returns the stored scores in row-major order.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.data))
	for i := 0; i < s.n; i++ {
		for p := s.indptr[i]; p < s.indptr[i+1]; p++ {
			out = append(out, Entry{Row: i, Col: s.indices[p], Score: s.data[p]})
		}
	}
	return out
}

// TopSimilar ranks every column of row i except i itself by descending score
// and returns the first k. Equal scores keep ascending column order. NaN
// scores rank last.
func (s *Store) TopSimilar(i, k int) ([]Neighbor, error) {
	row, err := s.Row(i)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	ranked := make([]Neighbor, 0, s.n-1)
	for j := 0; j < s.n; j++ {
		if j == i {
			continue
		}
		ranked = append(ranked, Neighbor{Index: j, Score: row.AtVec(j)})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return rankKey(ranked[a].Score) > rankKey(ranked[b].Score)
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k], nil
}

func rankKey(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

// SelfNotMaximal lists rows whose diagonal score is lower than some other
// score in the same row.
func (s *Store) SelfNotMaximal() []int {
	var rows []int
	for i := 0; i < s.n; i++ {
		self := 0.0
		best := math.Inf(-1)
		offStored := 0
		for p := s.indptr[i]; p < s.indptr[i+1]; p++ {
			if s.indices[p] == i {
				self = s.data[p]
				continue
			}
			offStored++
			if s.data[p] > best {
				best = s.data[p]
			}
		}
		// unstored columns score zero
		if offStored < s.n-1 && best < 0 {
			best = 0
		}
		if best > self {
			rows = append(rows, i)
		}
	}
	return rows
}

// Validate checks the store against a movie table of the given length. Rows
// whose self score is not maximal are logged, or rejected when strict is set.
func (s *Store) Validate(movies int, strict bool) error {
	if s.n != movies {
		return fmt.Errorf("%w: matrix is %dx%d, table has %d rows", ErrDimensionMismatch, s.n, s.n, movies)
	}
	bad := s.SelfNotMaximal()
	if len(bad) == 0 {
		return nil
	}
	if strict {
		return fmt.Errorf("%w: %d rows (first %d)", ErrSelfNotMaximal, len(bad), bad[0])
	}
	log.Warn().
		Int("rows", len(bad)).
		Int("first", bad[0]).
		Float64("first_self_score", s.At(bad[0], bad[0])).
		Msg("Self similarity is not maximal, neighbors are still ranked without the queried row")
	return nil
}
