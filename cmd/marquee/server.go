package main

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-marquee/internal/recommend"
)

const cborContentType = "application/cbor"

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marquee_http_request_duration_seconds",
		Help:    "Time spent serving HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// RecommenderInterface is the part of the engine the servers depend on.
type RecommenderInterface interface {
	Recommendations(ctx context.Context, title string) ([]recommend.Recommendation, bool)
	Titles() []string
}

type Server struct {
	engine  RecommenderInterface
	timeout time.Duration
	page    *template.Template
}

func NewServer(engine RecommenderInterface, timeout time.Duration) *Server {
	return &Server{
		engine:  engine,
		timeout: timeout,
		page:    template.Must(template.New("index").Funcs(template.FuncMap{"hasPoster": hasPoster}).Parse(indexHTML)),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)
	r.Get("/", s.instrument("index", s.handleIndex))
	r.Get("/api/titles", s.instrument("titles", s.handleTitles))
	r.Get("/api/recommend", s.instrument("recommend", s.handleRecommend))
	r.Post("/api/recommend", s.instrument("recommend", s.handleRecommend))
	return r
}

func startServer(ctx context.Context, addr string, srv *Server) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting Marquee Server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}

var tracer = otel.Tracer("marquee-server")

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}()
		h(w, r)
	}
}

type recommendRequest struct {
	Title string `json:"title" cbor:"title"`
}

type recommendResponse struct {
	Title           string                     `json:"title" cbor:"title"`
	Found           bool                       `json:"found" cbor:"found"`
	Titles          []string                   `json:"titles" cbor:"titles"`
	Posters         []string                   `json:"posters" cbor:"posters"`
	Recommendations []recommend.Recommendation `json:"recommendations" cbor:"recommendations"`
}

func newRecommendResponse(title string, recs []recommend.Recommendation, found bool) recommendResponse {
	resp := recommendResponse{
		Title:           title,
		Found:           found,
		Titles:          make([]string, len(recs)),
		Posters:         make([]string, len(recs)),
		Recommendations: recs,
	}
	for i, rec := range recs {
		resp.Titles[i] = rec.Title
		resp.Posters[i] = rec.PosterURL
	}
	return resp
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleRecommend")
	defer span.End()

	var req recommendRequest
	if r.Method == http.MethodPost {
		if err := decodeBody(r, &req); err != nil {
			span.RecordError(err)
			http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
			return
		}
	} else {
		req.Title = r.URL.Query().Get("title")
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "Bad Request: title is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("title", req.Title))

	recs, found := s.engine.Recommendations(ctx, req.Title)
	span.SetAttributes(attribute.Bool("found", found), attribute.Int("count", len(recs)))

	writeResponse(w, r, newRecommendResponse(req.Title, recs, found))
}

func (s *Server) handleTitles(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, s.engine.Titles())
}

type indexView struct {
	Titles          []string
	Selected        string
	Submitted       bool
	Found           bool
	Recommendations []recommend.Recommendation
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleIndex")
	defer span.End()

	view := indexView{Titles: s.engine.Titles()}
	if title := r.URL.Query().Get("title"); title != "" {
		view.Selected = title
		view.Submitted = true
		view.Recommendations, view.Found = s.engine.Recommendations(ctx, title)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, view); err != nil {
		log.Error().Err(err).Msg("Failed to render index")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == cborContentType {
		return cbor.Unmarshal(body, v)
	}
	return json.Unmarshal(body, v)
}

func writeResponse(w http.ResponseWriter, r *http.Request, v any) {
	if strings.Contains(r.Header.Get("Accept"), cborContentType) {
		data, err := cbor.Marshal(v)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", cborContentType)
		_, _ = w.Write(data)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// hasPoster reports whether url can be shown as an image.
func hasPoster(url string) bool {
	return strings.HasPrefix(url, "http")
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Movie Recommender System</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.grid { display: flex; gap: 1em; }
.card { width: 250px; text-align: center; }
.card img { width: 250px; }
</style>
</head>
<body>
<h1>Movie Recommender System</h1>
<form method="get" action="/">
<label for="title">Select a movie:</label>
<select id="title" name="title">
{{- range .Titles}}
<option value="{{.}}"{{if eq . $.Selected}} selected{{end}}>{{.}}</option>
{{- end}}
</select>
<button type="submit">Recommend</button>
</form>
{{- if .Submitted}}
{{- if not .Found}}
<p>No recommendations for {{.Selected}}.</p>
{{- else}}
<div class="grid">
{{- range .Recommendations}}
<div class="card">
<p>{{.Title}}</p>
{{- if hasPoster .PosterURL}}
<img src="{{.PosterURL}}" alt="{{.Title}}">
{{- else}}
<p>No poster available.</p>
{{- end}}
</div>
{{- end}}
</div>
{{- end}}
{{- end}}
</body>
</html>
`
