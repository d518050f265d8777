// Package recommend ranks the titles most similar to a selected movie and
// attaches their poster URLs.
package recommend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-marquee/internal/catalog"
	"github.com/23skdu/longbow-marquee/internal/similarity"
)

// DefaultK is the number of recommendations per request.
const DefaultK = 5

var (
	recommendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marquee_recommend_duration_seconds",
		Help:    "Time spent ranking and resolving posters for one request",
		Buckets: prometheus.DefBuckets,
	})

	recommendationsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marquee_recommendations_total",
		Help: "Recommended titles returned",
	})

	unknownTitles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marquee_unknown_titles_total",
		Help: "Requests for titles missing from the movie table",
	})
)

// PosterResolver maps a title to a displayable poster URL. It never fails;
// unresolvable titles map to a placeholder.
type PosterResolver interface {
	PosterURL(ctx context.Context, title string) string
}

// Recommendation is one ranked neighbor of the selected title.
type Recommendation struct {
	Rank      int     `json:"rank" cbor:"rank"`
	Title     string  `json:"title" cbor:"title"`
	Score     float64 `json:"score" cbor:"score"`
	PosterURL string  `json:"poster_url" cbor:"poster_url"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithK sets how many neighbors are returned.
func WithK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.k = k
		}
	}
}

// WithConcurrency bounds the number of concurrent poster lookups per request.
// One means lookups happen sequentially in rank order.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// Engine orchestrates lookup, ranking and poster resolution.
type Engine struct {
	table       *catalog.Table
	store       *similarity.Store
	posters     PosterResolver
	k           int
	concurrency int
}

// New creates an engine. The store must have one row per table record.
func New(table *catalog.Table, store *similarity.Store, posters PosterResolver, opts ...Option) (*Engine, error) {
	if store.Dim() != table.Len() {
		return nil, fmt.Errorf("%w: matrix is %dx%d, table has %d rows",
			similarity.ErrDimensionMismatch, store.Dim(), store.Dim(), table.Len())
	}
	e := &Engine{
		table:       table,
		store:       store,
		posters:     posters,
		k:           DefaultK,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

var tracer = otel.Tracer("marquee-recommend")

// Titles lists every known title in table order.
func (e *Engine) Titles() []string {
	return e.table.Titles()
}

// K returns the configured recommendation count.
func (e *Engine) K() int {
	return e.k
}

// Recommend returns the recommended titles and their poster URLs as parallel
// slices. An unknown title yields two empty slices.
func (e *Engine) Recommend(ctx context.Context, title string) ([]string, []string) {
	recs, _ := e.Recommendations(ctx, title)
	titles := make([]string, len(recs))
	posters := make([]string, len(recs))
	for i, r := range recs {
		titles[i] = r.Title
		posters[i] = r.PosterURL
	}
	return titles, posters
}

// Recommendations ranks the neighbors of title and resolves their posters.
// The boolean reports whether title is in the movie table.
func (e *Engine) Recommendations(ctx context.Context, title string) ([]Recommendation, bool) {
	ctx, span := tracer.Start(ctx, "Recommend")
	defer span.End()
	span.SetAttributes(attribute.String("title", title))

	start := time.Now()
	defer func() {
		recommendDuration.Observe(time.Since(start).Seconds())
	}()

	row, ok := e.table.Index(title)
	if !ok {
		unknownTitles.Inc()
		log.Info().Str("title", title).Msg("Title not in movie table")
		return []Recommendation{}, false
	}

	neighbors, err := e.store.TopSimilar(row, e.k)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("title", title).Int("row", row).Msg("Similarity lookup failed")
		return []Recommendation{}, true
	}

	recs := make([]Recommendation, 0, len(neighbors))
	for _, n := range neighbors {
		t, ok := e.table.Title(n.Index)
		if !ok {
			continue
		}
		recs = append(recs, Recommendation{Rank: len(recs) + 1, Title: t, Score: n.Score})
	}

	e.resolvePosters(ctx, recs)
	span.SetAttributes(attribute.Int("recommendation_count", len(recs)))
	recommendationsServed.Add(float64(len(recs)))
	return recs, true
}

// resolvePosters fills PosterURL in place. Each goroutine writes only its own
// slot, so rank order is kept regardless of completion order.
func (e *Engine) resolvePosters(ctx context.Context, recs []Recommendation) {
	if e.concurrency <= 1 {
		for i := range recs {
			log.Debug().Str("title", recs[i].Title).Int("rank", recs[i].Rank).Msg("Fetching poster")
			recs[i].PosterURL = e.posters.PosterURL(ctx, recs[i].Title)
		}
		return
	}

	sem := semaphore.NewWeighted(int64(e.concurrency))
	var wg sync.WaitGroup
	for i := range recs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// canceled: resolve the rest inline; the resolver degrades to its fallback
			recs[i].PosterURL = e.posters.PosterURL(ctx, recs[i].Title)
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			log.Debug().Str("title", recs[i].Title).Int("rank", recs[i].Rank).Msg("Fetching poster")
			recs[i].PosterURL = e.posters.PosterURL(ctx, recs[i].Title)
		}(i)
	}
	wg.Wait()
}
