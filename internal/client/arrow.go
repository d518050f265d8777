package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-marquee/internal/recommend"
)

// RecommendationSchema is the Arrow layout of a recommendation list.
var RecommendationSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "rank", Type: arrow.PrimitiveTypes.Int32},
		{Name: "title", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "poster_url", Type: arrow.BinaryTypes.String},
	},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from recommendations.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch converts recommendations into a RecordBatch with one row
// per recommendation. An empty list yields a batch with zero rows.
func (b *RecordBatchBuilder) BuildRecordBatch(recs []recommend.Recommendation) (arrow.RecordBatch, error) {
	rankB := array.NewInt32Builder(b.mem)
	defer rankB.Release()
	titleB := array.NewStringBuilder(b.mem)
	defer titleB.Release()
	scoreB := array.NewFloat64Builder(b.mem)
	defer scoreB.Release()
	posterB := array.NewStringBuilder(b.mem)
	defer posterB.Release()

	for _, r := range recs {
		rankB.Append(int32(r.Rank))
		titleB.Append(r.Title)
		scoreB.Append(r.Score)
		posterB.Append(r.PosterURL)
	}

	cols := []arrow.Array{rankB.NewArray(), titleB.NewArray(), scoreB.NewArray(), posterB.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(RecommendationSchema, cols, int64(len(recs))), nil
}

// ReadRecommendations decodes a batch produced by BuildRecordBatch.
func ReadRecommendations(rec arrow.RecordBatch) ([]recommend.Recommendation, error) {
	if int(rec.NumCols()) != len(RecommendationSchema.Fields()) {
		return nil, fmt.Errorf("unexpected recommendation schema: %s", rec.Schema())
	}
	for i, f := range RecommendationSchema.Fields() {
		if rec.ColumnName(i) != f.Name {
			return nil, fmt.Errorf("unexpected recommendation column %d: %q", i, rec.ColumnName(i))
		}
	}
	ranks, ok1 := rec.Column(0).(*array.Int32)
	titles, ok2 := rec.Column(1).(*array.String)
	scores, ok3 := rec.Column(2).(*array.Float64)
	posters, ok4 := rec.Column(3).(*array.String)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("unexpected recommendation column types")
	}

	out := make([]recommend.Recommendation, rec.NumRows())
	for i := range out {
		out[i] = recommend.Recommendation{
			Rank:      int(ranks.Value(i)),
			Title:     titles.Value(i),
			Score:     scores.Value(i),
			PosterURL: posters.Value(i),
		}
	}
	return out, nil
}
