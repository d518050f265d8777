package similarity

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrowRoundTrip(t *testing.T) {
	src := sixByOne(t)

	var buf bytes.Buffer
	require.NoError(t, WriteArrow(&buf, src))

	got, err := ReadArrow(&buf)
	require.NoError(t, err)
	assert.Equal(t, src.Dim(), got.Dim())
	assert.Equal(t, src.Entries(), got.Entries())
}

func TestReadArrow_InferredDim(t *testing.T) {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: RowColumn, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColColumn, Type: arrow.PrimitiveTypes.Int64},
		{Name: ScoreColumn, Type: arrow.PrimitiveTypes.Float32},
	}, nil)

	rb := array.NewInt64Builder(pool)
	defer rb.Release()
	rb.AppendValues([]int64{0, 0, 3}, nil)
	cb := array.NewInt64Builder(pool)
	defer cb.Release()
	cb.AppendValues([]int64{0, 2, 3}, nil)
	sb := array.NewFloat32Builder(pool)
	defer sb.Release()
	sb.AppendValues([]float32{1, 0.5, 1}, nil)

	rows, cols, scores := rb.NewArray(), cb.NewArray(), sb.NewArray()
	defer rows.Release()
	defer cols.Release()
	defer scores.Release()
	rec := array.NewRecordBatch(schema, []arrow.Array{rows, cols, scores}, 3)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())

	s, err := ReadArrow(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Dim())
	assert.Equal(t, 0.5, s.At(0, 2))
}

func TestReadArrow_MissingColumn(t *testing.T) {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: RowColumn, Type: arrow.PrimitiveTypes.Int32}}, nil)
	b := array.NewInt32Builder(pool)
	defer b.Release()
	b.Append(0)
	a := b.NewArray()
	defer a.Release()
	rec := array.NewRecordBatch(schema, []arrow.Array{a}, 1)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())

	_, err := ReadArrow(&buf)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
