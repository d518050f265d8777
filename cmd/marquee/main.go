package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-marquee/internal/cache"
	"github.com/23skdu/longbow-marquee/internal/catalog"
	"github.com/23skdu/longbow-marquee/internal/client"
	"github.com/23skdu/longbow-marquee/internal/config"
	"github.com/23skdu/longbow-marquee/internal/recommend"
	"github.com/23skdu/longbow-marquee/internal/similarity"
	"github.com/23skdu/longbow-marquee/internal/tmdb"
)

var (
	configPath     = flag.String("config", "", "Path to YAML config file (default $MARQUEE_CONFIG)")
	title          = flag.String("title", "", "Print recommendations for this title and exit")
	serverAddr     = flag.String("server", "", "Remote marquee Flight server to query with -title (e.g. localhost:9090)")
	listenAddr     = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr     = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	moviesPath     = flag.String("movies", "", "Path to the movie metadata CSV")
	similarityPath = flag.String("similarity", "", "Path to the similarity matrix (.npz or .arrow)")
	convertPath    = flag.String("convert", "", "Write the loaded similarity matrix as an Arrow IPC stream to this path and exit")
	concurrency    = flag.Int("concurrency", 0, "Concurrent poster lookups per request")
	offline        = flag.Bool("offline", false, "Never call TMDb; every poster is the fallback image")
	enableOTel     = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	logLevel       = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logJSON        = flag.Bool("log-json", false, "Log JSON instead of console output")
	cpuProfile     = flag.String("cpuprofile", "", "Write cpu profile to file")
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	// Remote mode needs neither data files nor an API key.
	if *serverAddr != "" && *title != "" {
		if err := queryRemote(*serverAddr, *title, os.Stdout); err != nil {
			log.Fatal().Err(err).Str("server", *serverAddr).Msg("Remote recommendation failed")
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	if cfg.Server.OTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	table, store, err := loadData(cfg.Data)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load data")
	}

	if *convertPath != "" {
		if err := convert(store, *convertPath); err != nil {
			log.Fatal().Err(err).Str("path", *convertPath).Msg("Failed to write Arrow matrix")
		}
		log.Info().Str("path", *convertPath).Int("nnz", store.NNZ()).Msg("Wrote similarity matrix")
		return
	}

	engine, err := newEngine(cfg, table, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create recommendation engine")
	}

	if *title != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout)
		defer cancel()
		recs, found := engine.Recommendations(ctx, *title)
		if !found {
			log.Warn().Str("title", *title).Msg("Title not in catalog")
		}
		printRecommendations(os.Stdout, recs)
		return
	}

	if cfg.Server.Listen == "" && cfg.Server.Flight == "" {
		log.Fatal().Msg("Nothing to do: pass -title, -listen or -flight")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Server.Listen != "" {
		g.Go(func() error {
			return startServer(ctx, cfg.Server.Listen, NewServer(engine, cfg.Server.RequestTimeout))
		})
	}
	if cfg.Server.Flight != "" {
		g.Go(func() error {
			return startFlightServer(ctx, cfg.Server.Flight, engine)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// loadConfig reads the layered configuration and applies explicitly set flags on top.
func loadConfig() (*config.Config, error) {
	if *offline {
		// The API key requirement is checked during Load.
		if err := os.Setenv("MARQUEE_TMDB_OFFLINE", "true"); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.Listen = *listenAddr
		case "flight":
			cfg.Server.Flight = *flightAddr
		case "movies":
			cfg.Data.Movies = *moviesPath
		case "similarity":
			cfg.Data.Similarity = *similarityPath
		case "concurrency":
			cfg.Recommend.Concurrency = *concurrency
		case "otel":
			cfg.Server.OTel = *enableOTel
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-json":
			cfg.Log.JSON = *logJSON
		}
	})
	return cfg, cfg.Validate()
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
}

func loadData(cfg config.DataConfig) (*catalog.Table, *similarity.Store, error) {
	table, err := catalog.Load(cfg.Movies, cfg.TitleColumn)
	if err != nil {
		return nil, nil, err
	}
	store, err := similarity.Load(cfg.Similarity)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Validate(table.Len(), cfg.Strict); err != nil {
		return nil, nil, err
	}
	log.Info().
		Int("movies", table.Len()).
		Int("nnz", store.NNZ()).
		Str("similarity", cfg.Similarity).
		Msg("Loaded recommendation data")
	return table, store, nil
}

func newEngine(cfg *config.Config, table *catalog.Table, store *similarity.Store) (*recommend.Engine, error) {
	posters, err := cache.NewLRUCache(cfg.Cache.Size, cfg.Cache.FallbackTTL)
	if err != nil {
		return nil, err
	}
	catalogClient, err := tmdb.New(cfg.TMDBClient(), tmdb.WithCache(posters))
	if err != nil {
		return nil, err
	}
	return recommend.New(table, store, catalogClient,
		recommend.WithK(cfg.Recommend.K),
		recommend.WithConcurrency(cfg.Recommend.Concurrency),
	)
}

func convert(store *similarity.Store, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := similarity.WriteArrow(f, store); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func queryRemote(addr, title string, w io.Writer) error {
	fc, err := client.NewFlightClient(addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	recs, err := fc.DoGet(ctx, title)
	if err != nil {
		return err
	}
	printRecommendations(w, recs)
	return nil
}

func printRecommendations(w io.Writer, recs []recommend.Recommendation) {
	for _, rec := range recs {
		fmt.Fprintf(w, "%d. %s\t%s\n", rec.Rank, rec.Title, rec.PosterURL)
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("marquee"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
