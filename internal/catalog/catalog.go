// Package catalog loads the movie metadata table. Row order in the table is the
// index space shared with the similarity matrix.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// DefaultTitleColumn is the header of the column holding movie titles.
const DefaultTitleColumn = "Title"

var (
	ErrNoTitleColumn = errors.New("catalog: title column not found")
	ErrEmpty         = errors.New("catalog: table has no rows")
)

// MovieRecord is one row of the metadata table.
type MovieRecord struct {
	Title string
	Index int
}

// Table is the immutable, in-memory metadata table.
type Table struct {
	records    []MovieRecord
	index      map[string]int
	duplicates map[string][]int
}

// New builds a table from titles in row order. When a title appears more than
// once, the first row wins the lookup.
func New(titles []string) *Table {
	t := &Table{
		records:    make([]MovieRecord, len(titles)),
		index:      make(map[string]int, len(titles)),
		duplicates: make(map[string][]int),
	}
	for i, title := range titles {
		t.records[i] = MovieRecord{Title: title, Index: i}
		key := Normalize(title)
		if first, ok := t.index[key]; ok {
			if _, seen := t.duplicates[key]; !seen {
				t.duplicates[key] = []int{first}
			}
			t.duplicates[key] = append(t.duplicates[key], i)
			continue
		}
		t.index[key] = i
	}
	return t
}

// Load reads a CSV file with a header row and builds a table from the named
// title column.
func Load(path, column string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	t, err := Read(f, column)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("movies", t.Len()).Msg("Loaded movie table")
	for key, rows := range t.duplicates {
		log.Warn().Str("title", key).Ints("rows", rows).Msg("Duplicate title, first row wins")
	}
	return t, nil
}

// Read parses CSV from r. Rows may have differing field counts.
func Read(r io.Reader, column string) (*Table, error) {
	if column == "" {
		column = DefaultTitleColumn
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoTitleColumn, column)
	}

	var titles []string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(titles)+1, err)
		}
		if col >= len(row) {
			return nil, fmt.Errorf("row %d has no %q field", len(titles)+1, column)
		}
		titles = append(titles, row[col])
	}
	if len(titles) == 0 {
		return nil, ErrEmpty
	}
	return New(titles), nil
}

// Normalize maps a title to its lookup key.
func Normalize(title string) string {
	return norm.NFC.String(title)
}

// Index returns the row of the first record with the given title.
func (t *Table) Index(title string) (int, bool) {
	i, ok := t.index[Normalize(title)]
	return i, ok
}

// Title returns the title stored at row i.
func (t *Table) Title(i int) (string, bool) {
	if i < 0 || i >= len(t.records) {
		return "", false
	}
	return t.records[i].Title, true
}

// Titles returns every title in table order.
func (t *Table) Titles() []string {
	out := make([]string, len(t.records))
	for i, r := range t.records {
		out[i] = r.Title
	}
	return out
}

func (t *Table) Len() int {
	return len(t.records)
}

// Duplicates maps each repeated title to every row it occupies.
func (t *Table) Duplicates() map[string][]int {
	out := make(map[string][]int, len(t.duplicates))
	for k, v := range t.duplicates {
		out[k] = append([]int(nil), v...)
	}
	return out
}
