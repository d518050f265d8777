// Package tmdb resolves movie titles to poster image URLs through The Movie
// Database API.
//
// Title search is retried with exponential backoff; the detail lookup is a
// single attempt. Every failure path resolves to the configured fallback URL,
// so PosterURL never returns an error.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/23skdu/longbow-marquee/internal/cache"
)

const (
	DefaultBaseURL      = "https://api.themoviedb.org/3"
	DefaultImageBaseURL = "https://image.tmdb.org/t/p"
	DefaultPosterSize   = "w500"
	DefaultFallbackURL  = "https://via.placeholder.com/500x750?text=No+Poster"
)

// maxBodySize caps how much of a catalog response is read.
const maxBodySize = 4 << 20

var (
	ErrCircuitOpen = errors.New("tmdb: circuit breaker open")
	ErrStatus      = errors.New("tmdb: unexpected status")
)

// StatusError is returned for non-2xx catalog responses.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tmdb: %s returned status %d", e.Endpoint, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Config holds the catalog client settings.
type Config struct {
	APIKey       string
	BaseURL      string
	ImageBaseURL string
	PosterSize   string
	FallbackURL  string
	Timeout      time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	// RateLimit is the outbound request rate per second; zero or less means unlimited.
	RateLimit float64
	// BreakerFailures opens the circuit after that many consecutive request
	// failures; zero disables the breaker.
	BreakerFailures int
	BreakerTimeout  time.Duration
	// Offline skips the network and always answers with FallbackURL.
	Offline bool
}

// DefaultConfig returns the settings of the public TMDb API.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		ImageBaseURL:    DefaultImageBaseURL,
		PosterSize:      DefaultPosterSize,
		FallbackURL:     DefaultFallbackURL,
		Timeout:         10 * time.Second,
		MaxAttempts:     3,
		BaseBackoff:     time.Second,
		RateLimit:       40,
		BreakerFailures: 0,
		BreakerTimeout:  30 * time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache replaces the default LRU poster cache.
func WithCache(pc cache.PosterCache) Option {
	return func(c *Client) { c.cache = pc }
}

// WithSleep replaces the function used to wait between search attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithBreaker replaces the circuit breaker built from Config.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// Client is the catalog client. It is safe for concurrent use; concurrent
// PosterURL calls for one title share a single fetch.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   cache.PosterCache
	limiter *rate.Limiter
	breaker *CircuitBreaker
	sleep   func(context.Context, time.Duration) error
	group   singleflight.Group
}

// New creates a client. Empty URLs, an empty poster size, a non-positive
// Timeout and a non-positive MaxAttempts take their defaults; RateLimit and
// BreakerFailures keep their zero meaning (unlimited, disabled).
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = def.ImageBaseURL
	}
	if cfg.PosterSize == "" {
		cfg.PosterSize = def.PosterSize
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = def.FallbackURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff < 0 {
		cfg.BaseBackoff = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.ImageBaseURL = strings.TrimRight(cfg.ImageBaseURL, "/")

	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		sleep: sleepContext,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerTimeout)
	}
	if c.cache == nil {
		pc, err := cache.NewLRUCache(cache.DefaultSize, 5*time.Minute)
		if err != nil {
			return nil, err
		}
		c.cache = pc
	}
	return c, nil
}

// FallbackURL returns the placeholder served when no poster can be resolved.
func (c *Client) FallbackURL() string {
	return c.cfg.FallbackURL
}

var tracer = otel.Tracer("marquee-tmdb")

type searchResponse struct {
	Results []struct {
		ID *int64 `json:"id"`
	} `json:"results"`
}

type movieDetail struct {
	PosterPath string `json:"poster_path"`
}

// ResolveCatalogID searches the catalog for title and returns the id of the
// first result. Request failures are retried up to MaxAttempts times, waiting
// BaseBackoff*2^attempt between attempts.
func (c *Client) ResolveCatalogID(ctx context.Context, title string) (int64, bool) {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("query", title)
	endpoint := c.cfg.BaseURL + "/search/movie?" + q.Encode()

	var body []byte
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		var err error
		body, err = c.get(ctx, "search", endpoint)
		if err == nil {
			break
		}
		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
			log.Warn().Err(err).Str("title", title).Msg("Catalog search skipped")
			return 0, false
		}
		if attempt == c.cfg.MaxAttempts-1 {
			log.Error().Err(err).Str("title", title).Int("attempts", c.cfg.MaxAttempts).Msg("Failed to fetch catalog id")
			return 0, false
		}

		wait := c.cfg.BaseBackoff << attempt
		log.Warn().Err(err).
			Str("title", title).
			Int("attempt", attempt+1).
			Int("max_attempts", c.cfg.MaxAttempts).
			Dur("wait", wait).
			Msg("Retrying catalog search")
		retriesTotal.Inc()
		backoffSeconds.Add(wait.Seconds())
		if err := c.sleep(ctx, wait); err != nil {
			return 0, false
		}
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("Malformed catalog search response")
		return 0, false
	}
	if len(resp.Results) == 0 {
		log.Debug().Str("title", title).Msg("Catalog search returned no results")
		return 0, false
	}
	if resp.Results[0].ID == nil || *resp.Results[0].ID == 0 {
		log.Debug().Str("title", title).Msg("First catalog search result has no id")
		return 0, false
	}
	id := *resp.Results[0].ID
	log.Debug().Str("title", title).Int64("tmdb_id", id).Msg("Resolved catalog id")
	return id, true
}

// PosterURL returns the poster image URL for title, or the fallback URL.
// Results are cached by title.
func (c *Client) PosterURL(ctx context.Context, title string) string {
	if c.cfg.Offline {
		return c.cfg.FallbackURL
	}
	if u, ok := c.cache.Get(title); ok {
		return u
	}

	// The shared fetch outlives any single caller; a canceled caller gets the
	// fallback while the others keep waiting.
	ch := c.group.DoChan(title, func() (any, error) {
		if u, ok := c.cache.Get(title); ok {
			return u, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchBudget())
		defer cancel()
		u, found := c.fetchPoster(fetchCtx, title)
		if fetchCtx.Err() == nil {
			c.cache.Put(title, u, !found)
		}
		return u, nil
	})
	select {
	case res := <-ch:
		return res.Val.(string)
	case <-ctx.Done():
		return c.cfg.FallbackURL
	}
}

// fetchBudget bounds one poster resolution: every search attempt, the waits
// between them and the detail request.
func (c *Client) fetchBudget() time.Duration {
	budget := time.Duration(c.cfg.MaxAttempts+1) * c.cfg.Timeout
	for attempt := 0; attempt < c.cfg.MaxAttempts-1; attempt++ {
		budget += c.cfg.BaseBackoff << attempt
	}
	return budget
}

func (c *Client) fetchPoster(ctx context.Context, title string) (string, bool) {
	ctx, span := tracer.Start(ctx, "PosterURL",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("title", title)),
	)
	defer span.End()

	u, found := c.resolvePoster(ctx, title)
	span.SetAttributes(attribute.Bool("fallback", !found))
	if found {
		resolutionsTotal.WithLabelValues("poster").Inc()
	} else {
		resolutionsTotal.WithLabelValues("fallback").Inc()
	}
	return u, found
}

func (c *Client) resolvePoster(ctx context.Context, title string) (string, bool) {
	id, ok := c.ResolveCatalogID(ctx, title)
	if !ok {
		log.Warn().Str("title", title).Msg("No valid poster found")
		return c.cfg.FallbackURL, false
	}

	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	endpoint := c.cfg.BaseURL + "/movie/" + strconv.FormatInt(id, 10) + "?" + q.Encode()

	body, err := c.get(ctx, "detail", endpoint)
	if err != nil {
		log.Error().Err(err).Str("title", title).Int64("tmdb_id", id).Msg("Poster fetch failed")
		return c.cfg.FallbackURL, false
	}

	var detail movieDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("Malformed catalog detail response")
		return c.cfg.FallbackURL, false
	}
	log.Debug().Str("title", title).Str("poster_path", detail.PosterPath).Msg("Poster path")
	if detail.PosterPath == "" {
		log.Warn().Str("title", title).Msg("No valid poster found")
		return c.cfg.FallbackURL, false
	}
	return c.imageURL(detail.PosterPath), true
}

func (c *Client) imageURL(posterPath string) string {
	if !strings.HasPrefix(posterPath, "/") {
		posterPath = "/" + posterPath
	}
	return c.cfg.ImageBaseURL + "/" + c.cfg.PosterSize + posterPath
}

// get performs one guarded GET and returns the response body of a 2xx reply.
func (c *Client) get(ctx context.Context, name, endpoint string) ([]byte, error) {
	if !c.breaker.Allow() {
		requestsTotal.WithLabelValues(name, "rejected").Inc()
		return nil, ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		requestsTotal.WithLabelValues(name, "rejected").Inc()
		return nil, fmt.Errorf("tmdb: %s rate limit: %w", name, err)
	}

	start := time.Now()
	body, err := c.do(ctx, name, endpoint)
	requestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		c.breaker.Failure()
		requestsTotal.WithLabelValues(name, "failure").Inc()
		return nil, err
	}
	c.breaker.Success()
	requestsTotal.WithLabelValues(name, "success").Inc()
	return body, nil
}

func (c *Client) do(ctx context.Context, name, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// drop the request URL, it carries the api key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("tmdb: %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &StatusError{Endpoint: name, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("tmdb: %s: reading body: %w", name, err)
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
