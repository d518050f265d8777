package similarity

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
)

// Column names and schema metadata of the Arrow COO layout.
const (
	RowColumn   = "row"
	ColColumn   = "col"
	ScoreColumn = "score"
	DimKey      = "dim"
)

// Load picks a loader from the file extension.
func Load(path string) (*Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npz":
		return LoadNPZ(path)
	case ".arrow", ".arrows", ".ipc":
		return LoadArrow(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadArrow reads an Arrow IPC stream of (row, col, score) batches.
func LoadArrow(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	s, err := ReadArrow(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("dim", s.Dim()).Int("nnz", s.NNZ()).Msg("Loaded similarity matrix")
	return s, nil
}

// ReadArrow decodes a COO stream. The dimension comes from the "dim" schema
// metadata key, or from the largest index when the key is absent.
func ReadArrow(r io.Reader) (*Store, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to create IPC reader: %w", err)
	}
	defer reader.Release()

	dim := -1
	md := reader.Schema().Metadata()
	if idx := md.FindKey(DimKey); idx >= 0 {
		dim, err = strconv.Atoi(md.Values()[idx])
		if err != nil {
			return nil, fmt.Errorf("%w: dim metadata %q", ErrUnsupportedFormat, md.Values()[idx])
		}
	}

	var entries []Entry
	maxIndex := -1
	for reader.Next() {
		rec := reader.Record()
		rows, err := intColumn(rec, RowColumn)
		if err != nil {
			return nil, err
		}
		cols, err := intColumn(rec, ColColumn)
		if err != nil {
			return nil, err
		}
		scores, err := floatColumn(rec, ScoreColumn)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			entries = append(entries, Entry{Row: rows[i], Col: cols[i], Score: scores[i]})
			maxIndex = max(maxIndex, rows[i], cols[i])
		}
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("error reading Arrow stream: %w", err)
	}

	if dim < 0 {
		dim = maxIndex + 1
	}
	return NewStore(dim, entries)
}

// WriteArrow encodes the store as a single-batch COO stream.
func WriteArrow(w io.Writer, s *Store) error {
	pool := memory.NewGoAllocator()
	md := arrow.NewMetadata([]string{DimKey}, []string{strconv.Itoa(s.Dim())})
	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: RowColumn, Type: arrow.PrimitiveTypes.Int32},
			{Name: ColColumn, Type: arrow.PrimitiveTypes.Int32},
			{Name: ScoreColumn, Type: arrow.PrimitiveTypes.Float64},
		},
		&md,
	)

	rowB := array.NewInt32Builder(pool)
	defer rowB.Release()
	colB := array.NewInt32Builder(pool)
	defer colB.Release()
	scoreB := array.NewFloat64Builder(pool)
	defer scoreB.Release()

	entries := s.Entries()
	for _, e := range entries {
		rowB.Append(int32(e.Row))
		colB.Append(int32(e.Col))
		scoreB.Append(e.Score)
	}

	rowArr := rowB.NewArray()
	defer rowArr.Release()
	colArr := colB.NewArray()
	defer colArr.Release()
	scoreArr := scoreB.NewArray()
	defer scoreArr.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{rowArr, colArr, scoreArr}, int64(len(entries)))
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func column(rec arrow.RecordBatch, name string) (arrow.Array, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: missing %q column", ErrUnsupportedFormat, name)
	}
	return rec.Column(indices[0]), nil
}

func intColumn(rec arrow.RecordBatch, name string) ([]int, error) {
	col, err := column(rec, name)
	if err != nil {
		return nil, err
	}
	out := make([]int, col.Len())
	switch c := col.(type) {
	case *array.Int32:
		for i := range out {
			out[i] = int(c.Value(i))
		}
	case *array.Int64:
		for i := range out {
			out[i] = int(c.Value(i))
		}
	case *array.Uint32:
		for i := range out {
			out[i] = int(c.Value(i))
		}
	default:
		return nil, fmt.Errorf("%w: column %q has type %s", ErrUnsupportedFormat, name, col.DataType())
	}
	return out, nil
}

func floatColumn(rec arrow.RecordBatch, name string) ([]float64, error) {
	col, err := column(rec, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, col.Len())
	switch c := col.(type) {
	case *array.Float64:
		for i := range out {
			out[i] = c.Value(i)
		}
	case *array.Float32:
		for i := range out {
			out[i] = float64(c.Value(i))
		}
	default:
		return nil, fmt.Errorf("%w: column %q has type %s", ErrUnsupportedFormat, name, col.DataType())
	}
	return out, nil
}
