package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-marquee/internal/recommend"
)

func TestBuildRecordBatch(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch(nil)
		require.NoError(t, err)
		defer rb.Release()
		assert.Equal(t, int64(0), rb.NumRows())
		assert.True(t, rb.Schema().Equal(RecommendationSchema))
	})

	t.Run("Valid input", func(t *testing.T) {
		recs := []recommend.Recommendation{
			{Rank: 1, Title: "B", Score: 0.9, PosterURL: "https://image.tmdb.org/t/p/w500/b.jpg"},
			{Rank: 2, Title: "D", Score: 0.8, PosterURL: "https://via.placeholder.com/500x750?text=No+Poster"},
		}

		rb, err := builder.BuildRecordBatch(recs)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(2), rb.NumRows())
		assert.Equal(t, int64(4), rb.NumCols())
		assert.Equal(t, "title", rb.ColumnName(1))

		titles := rb.Column(1).(*array.String)
		assert.Equal(t, "D", titles.Value(1))

		got, err := ReadRecommendations(rb)
		require.NoError(t, err)
		assert.Equal(t, recs, got)
	})
}

func TestReadRecommendations_WrongSchema(t *testing.T) {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "vector", Type: arrow.PrimitiveTypes.Float32}}, nil)
	b := array.NewFloat32Builder(pool)
	defer b.Release()
	b.Append(1)
	a := b.NewArray()
	defer a.Release()
	rec := array.NewRecordBatch(schema, []arrow.Array{a}, 1)
	defer rec.Release()

	_, err := ReadRecommendations(rec)
	assert.Error(t, err)
}
