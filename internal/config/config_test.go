package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marquee.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.TMDB.APIKey)
	assert.Equal(t, "https://api.themoviedb.org/3", cfg.TMDB.BaseURL)
	assert.Equal(t, "https://image.tmdb.org/t/p", cfg.TMDB.ImageBaseURL)
	assert.Equal(t, "w500", cfg.TMDB.PosterSize)
	assert.Equal(t, "https://via.placeholder.com/500x750?text=No+Poster", cfg.TMDB.FallbackURL)
	assert.Equal(t, 10*time.Second, cfg.TMDB.Timeout)
	assert.Equal(t, 3, cfg.TMDB.MaxAttempts)
	assert.Equal(t, time.Second, cfg.TMDB.BaseBackoff)
	assert.Zero(t, cfg.TMDB.BreakerFailures, "breaker is opt-in")
	assert.Equal(t, 128, cfg.Cache.Size)
	assert.Equal(t, 5*time.Minute, cfg.Cache.FallbackTTL)
	assert.Equal(t, "imdb_top_250.csv", cfg.Data.Movies)
	assert.Equal(t, "similarity.npz", cfg.Data.Similarity)
	assert.Equal(t, "Title", cfg.Data.TitleColumn)
	assert.Equal(t, 5, cfg.Recommend.K)
	assert.Equal(t, 1, cfg.Recommend.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "")

	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("MARQUEE_TMDB_OFFLINE", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.TMDB.Offline)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
tmdb:
  api_key: from-file
  max_attempts: 5
  base_backoff: 250ms
cache:
  size: 64
data:
  movies: /data/movies.csv
  strict: true
recommend:
  concurrency: 4
server:
  listen: ":8080"
`)
	t.Setenv("MARQUEE_CACHE_SIZE", "32")
	t.Setenv("MARQUEE_CACHE_FALLBACK_TTL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.TMDB.APIKey)
	assert.Equal(t, 5, cfg.TMDB.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.TMDB.BaseBackoff)
	assert.Equal(t, 32, cfg.Cache.Size)
	assert.Equal(t, time.Minute, cfg.Cache.FallbackTTL)
	assert.Equal(t, "/data/movies.csv", cfg.Data.Movies)
	assert.True(t, cfg.Data.Strict)
	assert.Equal(t, 4, cfg.Recommend.Concurrency)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.Recommend.K)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := writeFile(t, "tmdb:\n  api_key: k\nrecommend:\n  k: 3\n")
	t.Setenv(PathEnvVar, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Recommend.K)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "k")

	tests := []struct {
		name string
		body string
	}{
		{"zero cache", "cache:\n  size: 0\n"},
		{"zero attempts", "tmdb:\n  max_attempts: 0\n"},
		{"bad base url", "tmdb:\n  base_url: not a url\n"},
		{"zero k", "recommend:\n  k: 0\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "tmdb.api_key", envTransformFunc("MARQUEE_TMDB_API_KEY"))
	assert.Equal(t, "cache.fallback_ttl", envTransformFunc("MARQUEE_CACHE_FALLBACK_TTL"))
	assert.Equal(t, "tmdb.api_key", envTransformFunc("TMDB_API_KEY"))
	assert.Equal(t, "", envTransformFunc("MARQUEE_CONFIG"))
	assert.Equal(t, "", envTransformFunc("MARQUEE_"))
	assert.Equal(t, "", envTransformFunc("HOME"))
}

func TestTMDBClient(t *testing.T) {
	cfg := Default()
	cfg.TMDB.APIKey = "k"
	cfg.TMDB.Offline = true

	tc := cfg.TMDBClient()
	assert.Equal(t, "k", tc.APIKey)
	assert.True(t, tc.Offline)
	assert.Equal(t, cfg.TMDB.FallbackURL, tc.FallbackURL)
	assert.Equal(t, 3, tc.MaxAttempts)
}
