package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/23skdu/longbow-marquee/internal/tmdb"
)

// PathEnvVar names a config file when no path is passed to Load.
const PathEnvVar = "MARQUEE_CONFIG"

// EnvPrefix prefixes every environment override, e.g. MARQUEE_CACHE_SIZE.
const EnvPrefix = "MARQUEE_"

// Config is the complete service configuration.
type Config struct {
	TMDB      TMDBConfig      `koanf:"tmdb"`
	Cache     CacheConfig     `koanf:"cache"`
	Data      DataConfig      `koanf:"data"`
	Recommend RecommendConfig `koanf:"recommend"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
}

// TMDBConfig holds the catalog API settings.
type TMDBConfig struct {
	APIKey          string        `koanf:"api_key" validate:"required_unless=Offline true"`
	BaseURL         string        `koanf:"base_url" validate:"required,url"`
	ImageBaseURL    string        `koanf:"image_base_url" validate:"required,url"`
	PosterSize      string        `koanf:"poster_size" validate:"required"`
	FallbackURL     string        `koanf:"fallback_url" validate:"required"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxAttempts     int           `koanf:"max_attempts" validate:"min=1"`
	BaseBackoff     time.Duration `koanf:"base_backoff" validate:"min=0"`
	RateLimit       float64       `koanf:"rate_limit" validate:"min=0"`
	BreakerFailures int           `koanf:"breaker_failures" validate:"min=0"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"min=0"`
	Offline         bool          `koanf:"offline"`
}

// CacheConfig sizes the poster cache.
type CacheConfig struct {
	Size int `koanf:"size" validate:"min=1"`
	// FallbackTTL bounds how long a fallback answer is reused; zero disables it.
	FallbackTTL time.Duration `koanf:"fallback_ttl" validate:"min=0"`
}

// DataConfig locates the catalog and similarity files.
type DataConfig struct {
	Movies      string `koanf:"movies" validate:"required"`
	Similarity  string `koanf:"similarity" validate:"required"`
	TitleColumn string `koanf:"title_column" validate:"required"`
	Strict      bool   `koanf:"strict"`
}

// RecommendConfig tunes the engine.
type RecommendConfig struct {
	K           int `koanf:"k" validate:"min=1"`
	Concurrency int `koanf:"concurrency" validate:"min=1"`
}

// ServerConfig holds listener addresses. Empty addresses disable the listener.
type ServerConfig struct {
	Listen         string        `koanf:"listen"`
	Flight         string        `koanf:"flight"`
	OTel           bool          `koanf:"otel"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	def := tmdb.DefaultConfig()
	return &Config{
		TMDB: TMDBConfig{
			BaseURL:         def.BaseURL,
			ImageBaseURL:    def.ImageBaseURL,
			PosterSize:      def.PosterSize,
			FallbackURL:     def.FallbackURL,
			Timeout:         def.Timeout,
			MaxAttempts:     def.MaxAttempts,
			BaseBackoff:     def.BaseBackoff,
			RateLimit:       def.RateLimit,
			BreakerFailures: def.BreakerFailures,
			BreakerTimeout:  def.BreakerTimeout,
		},
		Cache: CacheConfig{
			Size:        128,
			FallbackTTL: 5 * time.Minute,
		},
		Data: DataConfig{
			Movies:      "imdb_top_250.csv",
			Similarity:  "similarity.npz",
			TitleColumn: "Title",
		},
		Recommend: RecommendConfig{
			K:           5,
			Concurrency: 1,
		},
		Server: ServerConfig{
			RequestTimeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load layers defaults, the YAML file at path (or $MARQUEE_CONFIG) and
// MARQUEE_* environment variables, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps environment variables onto config paths:
//
//	MARQUEE_TMDB_API_KEY      -> tmdb.api_key
//	MARQUEE_CACHE_FALLBACK_TTL -> cache.fallback_ttl
//	TMDB_API_KEY              -> tmdb.api_key
//
// Anything else is ignored.
func envTransformFunc(key string) string {
	if key == "TMDB_API_KEY" {
		return "tmdb.api_key"
	}
	if !strings.HasPrefix(key, EnvPrefix) || key == PathEnvVar {
		return ""
	}
	section, field, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_")
	if !ok || field == "" {
		return ""
	}
	return section + "." + field
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// TMDBClient converts the catalog section into a client configuration.
func (c *Config) TMDBClient() tmdb.Config {
	t := c.TMDB
	return tmdb.Config{
		APIKey:          t.APIKey,
		BaseURL:         t.BaseURL,
		ImageBaseURL:    t.ImageBaseURL,
		PosterSize:      t.PosterSize,
		FallbackURL:     t.FallbackURL,
		Timeout:         t.Timeout,
		MaxAttempts:     t.MaxAttempts,
		BaseBackoff:     t.BaseBackoff,
		RateLimit:       t.RateLimit,
		BreakerFailures: t.BreakerFailures,
		BreakerTimeout:  t.BreakerTimeout,
		Offline:         t.Offline,
	}
}
