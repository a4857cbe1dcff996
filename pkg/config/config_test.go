package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearNeo4jEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"NEO4J_URI", "NEO4J_AUTH", "NEO4J_USER", "NEO4J_PASSWORD"} {
		t.Setenv(k, "")
	}
}

// =============================================================================
// Defaults and validation
// =============================================================================

func TestDefault(t *testing.T) {
	clearNeo4jEnv(t)

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "bolt://localhost:7687", cfg.Database.URI)
	assert.Equal(t, "neo4j", cfg.Database.User)
	assert.Equal(t, "neo4j", cfg.Database.Password)
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, 2, cfg.Generation.MinNodeCount)
	assert.Equal(t, 4, cfg.Generation.SubqueryMaxDepth)
	assert.True(t, cfg.Testing.Performance)
	assert.False(t, cfg.Testing.Concurrent)
	assert.False(t, cfg.Testing.Suppress, "cross-round suppression is opt-in")
}

func TestDefault_Neo4jEnv(t *testing.T) {
	clearNeo4jEnv(t)

	t.Run("auth pair", func(t *testing.T) {
		t.Setenv("NEO4J_AUTH", "admin/s3cret")
		cfg := Default()
		assert.Equal(t, "admin", cfg.Database.User)
		assert.Equal(t, "s3cret", cfg.Database.Password)
	})

	t.Run("auth none", func(t *testing.T) {
		t.Setenv("NEO4J_AUTH", "none")
		cfg := Default()
		assert.Empty(t, cfg.Database.User)
		assert.Empty(t, cfg.Database.Password)
	})

	t.Run("explicit user wins", func(t *testing.T) {
		t.Setenv("NEO4J_AUTH", "admin/s3cret")
		t.Setenv("NEO4J_USER", "reader")
		t.Setenv("NEO4J_URI", "http://db:7474")
		cfg := Default()
		assert.Equal(t, "reader", cfg.Database.User)
		assert.Equal(t, "http://db:7474", cfg.Database.URI)
	})
}

func TestValidate(t *testing.T) {
	clearNeo4jEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty uri", func(c *Config) { c.Database.URI = "" }},
		{"no scheme", func(c *Config) { c.Database.URI = "localhost:7687" }},
		{"bad scheme", func(c *Config) { c.Database.URI = "ftp://x" }},
		{"negative timeout", func(c *Config) { c.Database.QueryTimeout = -time.Second }},
		{"bad mode", func(c *Config) { c.Generation.Mode = "grammar" }},
		{"zero min nodes", func(c *Config) { c.Generation.MinNodeCount = 0 }},
		{"max below min", func(c *Config) { c.Generation.MaxNodeCount = 1 }},
		{"rate above one", func(c *Config) { c.Generation.SubqueryRate = 1.5 }},
		{"negative rate", func(c *Config) { c.Generation.CyclicRate = -0.1 }},
		{"symbol length", func(c *Config) { c.Generation.RandomSymbolLen = 0 }},
		{"negative rounds", func(c *Config) { c.Testing.Rounds = -1 }},
		{"threshold", func(c *Config) { c.Testing.Threshold = 1 }},
		{"minimum time", func(c *Config) { c.Testing.MinimumTestMs = -1 }},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"metrics addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("uncapped max", func(t *testing.T) {
		cfg := Default()
		cfg.Generation.MaxNodeCount = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestProtocol(t *testing.T) {
	tests := map[string]string{
		"bolt://a:7687":      "bolt",
		"neo4j+s://a":        "bolt",
		"http://a:7474":      "http",
		"HTTPS://a.example/": "http",
	}
	for uri, want := range tests {
		got, err := DatabaseConfig{URI: uri}.Protocol()
		require.NoError(t, err, uri)
		assert.Equal(t, want, got, uri)
	}
}

func TestString_RedactsPassword(t *testing.T) {
	clearNeo4jEnv(t)

	cfg := Default()
	cfg.Database.Password = "hunter2"
	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "****")
	assert.Contains(t, s, cfg.Database.URI)
}

// =============================================================================
// Viper loading
// =============================================================================

func TestLoad_FileEnvPrecedence(t *testing.T) {
	clearNeo4jEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "graphgenie.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  uri: http://file:7474
  query_timeout: 5s
generation:
  max_node_count: 9
testing:
  threshold: 7.5
  rounds: 3
`), 0o600))

	t.Setenv("GRAPHGENIE_TESTING_ROUNDS", "11")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "http://file:7474", cfg.Database.URI)
	assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, 9, cfg.Generation.MaxNodeCount)
	assert.Equal(t, 7.5, cfg.Testing.Threshold)
	assert.Equal(t, 11, cfg.Testing.Rounds, "env overrides file")
	assert.Equal(t, 2, cfg.Generation.MinNodeCount, "defaults fill gaps")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearNeo4jEnv(t)
	t.Chdir(t.TempDir())

	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default().Testing, cfg.Testing)
}

func TestLoad_Invalid(t *testing.T) {
	clearNeo4jEnv(t)

	v := viper.New()
	SetDefaults(v)
	v.Set("generation.mode", "nope")
	_, err := Load(v)
	assert.ErrorContains(t, err, "invalid generation mode")
}

func TestNewViper_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))
	_, err := NewViper(path)
	assert.Error(t, err)
}

// =============================================================================
// Default file writer
// =============================================================================

func TestWriteDefault_RoundTrip(t *testing.T) {
	clearNeo4jEnv(t)

	path := filepath.Join(t.TempDir(), "conf", "graphgenie.yaml")
	require.NoError(t, WriteDefault(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "query_timeout: 30s")

	assert.ErrorIs(t, WriteDefault(path, false), ErrExists)
	assert.NoError(t, WriteDefault(path, true))

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
