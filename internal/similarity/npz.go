package similarity

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoadNPZ reads a matrix written by scipy.sparse.save_npz. CSR, CSC and COO
// archives are accepted.
func LoadNPZ(path string) (*Store, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	s, err := readNPZ(&zr.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("dim", s.Dim()).Int("nnz", s.NNZ()).Msg("Loaded similarity matrix")
	return s, nil
}

// ReadNPZ reads an npz archive from r.
func ReadNPZ(r io.ReaderAt, size int64) (*Store, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return readNPZ(zr)
}

func readNPZ(zr *zip.Reader) (*Store, error) {
	members := make(map[string]*npyArray)
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, ".npy")
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		arr, err := readNPY(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		members[name] = arr
	}

	get := func(name string) (*npyArray, error) {
		a, ok := members[name]
		if !ok {
			return nil, fmt.Errorf("%w: archive has no %s.npy", ErrUnsupportedFormat, name)
		}
		return a, nil
	}

	formatArr, err := get("format")
	if err != nil {
		return nil, err
	}
	format, err := formatArr.text()
	if err != nil {
		return nil, err
	}
	shapeArr, err := get("shape")
	if err != nil {
		return nil, err
	}
	shape, err := shapeArr.ints()
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: shape %v", ErrUnsupportedFormat, shape)
	}
	if shape[0] < 0 || shape[1] < 0 || shape[0] > maxElements {
		return nil, fmt.Errorf("%w: shape %v", ErrUnsupportedFormat, shape)
	}
	if shape[0] != shape[1] {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, shape[0], shape[1])
	}
	n := shape[0]

	dataArr, err := get("data")
	if err != nil {
		return nil, err
	}
	data, err := dataArr.floats()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	switch format {
	case "csr", "csc":
		entries, err = compressedEntries(get, format, n, data)
	case "coo":
		entries, err = cooEntries(get, data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return NewStore(n, entries)
}

func compressedEntries(get func(string) (*npyArray, error), format string, n int, data []float64) ([]Entry, error) {
	ptrArr, err := get("indptr")
	if err != nil {
		return nil, err
	}
	indptr, err := ptrArr.ints()
	if err != nil {
		return nil, err
	}
	idxArr, err := get("indices")
	if err != nil {
		return nil, err
	}
	indices, err := idxArr.ints()
	if err != nil {
		return nil, err
	}
	if len(indptr) != n+1 {
		return nil, fmt.Errorf("%w: indptr has %d entries for dim %d", ErrUnsupportedFormat, len(indptr), n)
	}
	if len(indices) != len(data) || indptr[n] > len(data) {
		return nil, fmt.Errorf("%w: %d indices, %d values, indptr ends at %d", ErrUnsupportedFormat, len(indices), len(data), indptr[n])
	}
	if indptr[0] < 0 {
		return nil, fmt.Errorf("%w: indptr starts at %d", ErrUnsupportedFormat, indptr[0])
	}
	for major := 0; major < n; major++ {
		if indptr[major] > indptr[major+1] {
			return nil, fmt.Errorf("%w: indptr is not monotonic at %d", ErrUnsupportedFormat, major)
		}
	}

	entries := make([]Entry, 0, len(data))
	for major := 0; major < n; major++ {
		for p := indptr[major]; p < indptr[major+1]; p++ {
			e := Entry{Row: major, Col: indices[p], Score: data[p]}
			if format == "csc" {
				e.Row, e.Col = e.Col, e.Row
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func cooEntries(get func(string) (*npyArray, error), data []float64) ([]Entry, error) {
	rowArr, err := get("row")
	if err != nil {
		return nil, err
	}
	rows, err := rowArr.ints()
	if err != nil {
		return nil, err
	}
	colArr, err := get("col")
	if err != nil {
		return nil, err
	}
	cols, err := colArr.ints()
	if err != nil {
		return nil, err
	}
	if len(rows) != len(data) || len(cols) != len(data) {
		return nil, fmt.Errorf("%w: coo arrays have %d/%d/%d entries", ErrUnsupportedFormat, len(rows), len(cols), len(data))
	}
	entries := make([]Entry, len(data))
	for i := range data {
		entries[i] = Entry{Row: rows[i], Col: cols[i], Score: data[i]}
	}
	return entries, nil
}
