// Package config loads GraphGenie configuration from a YAML file, the
// environment and command-line flags.
//
// Precedence, highest first: flags bound with BindPFlag, GRAPHGENIE_*
// environment variables, the config file, then Default(). Neo4j's own
// connection variables are honored as fallbacks so the tool works against the
// same environment as the database:
//
//   - NEO4J_URI="bolt://localhost:7687"
//   - NEO4J_AUTH="username/password" or "none"
//   - NEO4J_USER / NEO4J_PASSWORD
//
// Example Usage:
//
//	v, err := config.NewViper("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg, err := config.Load(v)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg)
//
// Environment Variables:
//
// Every key maps to GRAPHGENIE_<SECTION>_<KEY>, e.g.
//   - GRAPHGENIE_DATABASE_URI=bolt://db:7687
//   - GRAPHGENIE_TESTING_THRESHOLD=5
//   - GRAPHGENIE_GENERATION_MAX_NODE_COUNT=8
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file name searched for without an explicit path.
const FileName = "graphgenie"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRAPHGENIE"

// ErrExists is returned by WriteDefault when the target file exists.
var ErrExists = errors.New("config: file already exists")

// Config holds all GraphGenie configuration.
//
// Configuration is organized into sections:
//   - Database: connection to the engine under test
//   - Generation: query generator tunables
//   - Testing: oracle tunables and trace files
//   - Logging: structured log output
//   - Metrics: Prometheus endpoint
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Generation GenerationConfig `mapstructure:"generation" yaml:"generation"`
	Testing    TestingConfig    `mapstructure:"testing" yaml:"testing"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// DatabaseConfig holds the connection target.
type DatabaseConfig struct {
	// URI is bolt://, neo4j:// or http(s)://. The scheme picks the executor.
	URI      string `mapstructure:"uri" yaml:"uri"`
	Name     string `mapstructure:"name" yaml:"name"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	// ClearCacheQuery runs before every timed execution. Empty disables it.
	ClearCacheQuery string        `mapstructure:"clear_cache_query" yaml:"clear_cache_query"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// GenerationConfig holds generator tunables. Rates are probabilities.
type GenerationConfig struct {
	// Mode is "graph" (sampled walks) or "label" (schema only).
	Mode                 string  `mapstructure:"mode" yaml:"mode"`
	Seed                 int64   `mapstructure:"seed" yaml:"seed"`
	MinNodeCount         int     `mapstructure:"min_node_count" yaml:"min_node_count"`
	MaxNodeCount         int     `mapstructure:"max_node_count" yaml:"max_node_count"`
	SubqueryRate         float64 `mapstructure:"subquery_rate" yaml:"subquery_rate"`
	SubqueryMaxDepth     int     `mapstructure:"subquery_max_depth" yaml:"subquery_max_depth"`
	SubqueryMaxBranching int     `mapstructure:"subquery_max_branching" yaml:"subquery_max_branching"`
	UnionRate            float64 `mapstructure:"union_rate" yaml:"union_rate"`
	UnionMaxBranches     int     `mapstructure:"union_max_branches" yaml:"union_max_branches"`
	ReturnSymbolRate     float64 `mapstructure:"return_symbol_rate" yaml:"return_symbol_rate"`
	AggregateOnly        bool    `mapstructure:"aggregate_only" yaml:"aggregate_only"`

	NodeSymbolRate     float64 `mapstructure:"node_symbol_rate" yaml:"node_symbol_rate"`
	EdgeSymbolRate     float64 `mapstructure:"edge_symbol_rate" yaml:"edge_symbol_rate"`
	NodeLabelRate      float64 `mapstructure:"node_label_rate" yaml:"node_label_rate"`
	EdgeLabelRate      float64 `mapstructure:"edge_label_rate" yaml:"edge_label_rate"`
	MultiLabelRate     float64 `mapstructure:"multi_label_rate" yaml:"multi_label_rate"`
	CyclicRate         float64 `mapstructure:"cyclic_rate" yaml:"cyclic_rate"`
	VariableLengthRate float64 `mapstructure:"variable_length_rate" yaml:"variable_length_rate"`
	RandomSymbolLen    int     `mapstructure:"random_symbol_len" yaml:"random_symbol_len"`
}

// TestingConfig holds oracle tunables.
type TestingConfig struct {
	// Rounds is the number of test rounds. 0 runs until interrupted.
	Rounds          int  `mapstructure:"rounds" yaml:"rounds"`
	QueriesPerRound int  `mapstructure:"queries_per_round" yaml:"queries_per_round"`
	Concurrent      bool `mapstructure:"concurrent" yaml:"concurrent"`
	Performance     bool `mapstructure:"performance" yaml:"performance"`
	// Variant enables restricted variants and their checks.
	Variant          bool    `mapstructure:"variant" yaml:"variant"`
	Threshold        float64 `mapstructure:"threshold" yaml:"threshold"`
	VariantThreshold float64 `mapstructure:"variant_threshold" yaml:"variant_threshold"`
	// MinimumTestMs is the base time below which timings are noise.
	MinimumTestMs float64 `mapstructure:"minimum_test_ms" yaml:"minimum_test_ms"`
	// LogEvery prints a progress summary every N base queries. 0 disables.
	LogEvery int `mapstructure:"log_every" yaml:"log_every"`
	// Suppress drops bugs whose fingerprint was reported in an earlier round.
	// Off by default so every round's counts stand alone.
	Suppress bool `mapstructure:"suppress" yaml:"suppress"`
	// FingerprintCacheSize bounds cross-round bug suppression.
	FingerprintCacheSize int `mapstructure:"fingerprint_cache_size" yaml:"fingerprint_cache_size"`

	TracePath     string `mapstructure:"trace_path" yaml:"trace_path"`
	BugLogPath    string `mapstructure:"bug_log_path" yaml:"bug_log_path"`
	ExceptionPath string `mapstructure:"exception_path" yaml:"exception_path"`
	// MinSaveLogSizeMB is the size at which trace files rotate.
	MinSaveLogSizeMB int  `mapstructure:"min_save_log_size_mb" yaml:"min_save_log_size_mb"`
	RotateOnStart    bool `mapstructure:"rotate_on_start" yaml:"rotate_on_start"`
}

// LoggingConfig holds structured log settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is console or json for the terminal core.
	Format string `mapstructure:"format" yaml:"format"`
	// File, when set, receives JSON logs through a rotating writer.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig holds the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	user, password := parseAuth(getEnv("NEO4J_AUTH", "neo4j/neo4j"))
	return &Config{
		Database: DatabaseConfig{
			URI:             getEnv("NEO4J_URI", "bolt://localhost:7687"),
			Name:            "neo4j",
			User:            getEnv("NEO4J_USER", user),
			Password:        getEnv("NEO4J_PASSWORD", password),
			ClearCacheQuery: "CALL db.clearQueryCaches()",
			QueryTimeout:    30 * time.Second,
		},
		Generation: GenerationConfig{
			Mode:                 "graph",
			MinNodeCount:         2,
			MaxNodeCount:         6,
			SubqueryRate:         0.8,
			SubqueryMaxDepth:     4,
			SubqueryMaxBranching: 4,
			UnionRate:            0.5,
			UnionMaxBranches:     4,
			ReturnSymbolRate:     0.5,
			NodeSymbolRate:       0.9,
			EdgeSymbolRate:       0.3,
			NodeLabelRate:        0.7,
			EdgeLabelRate:        0.5,
			MultiLabelRate:       0.1,
			CyclicRate:           0.1,
			VariableLengthRate:   0.1,
			RandomSymbolLen:      5,
		},
		Testing: TestingConfig{
			Rounds:               10,
			QueriesPerRound:      100,
			Performance:          true,
			Variant:              true,
			Threshold:            5,
			VariantThreshold:     5,
			MinimumTestMs:        100,
			LogEvery:             50,
			FingerprintCacheSize: 4096,
			TracePath:            "./logs/testing.log",
			BugLogPath:           "./logs/bugs.jsonl",
			ExceptionPath:        "./logs/exception.log",
			MinSaveLogSizeMB:     10,
			RotateOnStart:        true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// SetDefaults registers every default with v so environment variables
// resolve even when the config file omits a key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.uri", d.Database.URI)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.clear_cache_query", d.Database.ClearCacheQuery)
	v.SetDefault("database.query_timeout", d.Database.QueryTimeout)

	g := d.Generation
	v.SetDefault("generation.mode", g.Mode)
	v.SetDefault("generation.seed", g.Seed)
	v.SetDefault("generation.min_node_count", g.MinNodeCount)
	v.SetDefault("generation.max_node_count", g.MaxNodeCount)
	v.SetDefault("generation.subquery_rate", g.SubqueryRate)
	v.SetDefault("generation.subquery_max_depth", g.SubqueryMaxDepth)
	v.SetDefault("generation.subquery_max_branching", g.SubqueryMaxBranching)
	v.SetDefault("generation.union_rate", g.UnionRate)
	v.SetDefault("generation.union_max_branches", g.UnionMaxBranches)
	v.SetDefault("generation.return_symbol_rate", g.ReturnSymbolRate)
	v.SetDefault("generation.aggregate_only", g.AggregateOnly)
	v.SetDefault("generation.node_symbol_rate", g.NodeSymbolRate)
	v.SetDefault("generation.edge_symbol_rate", g.EdgeSymbolRate)
	v.SetDefault("generation.node_label_rate", g.NodeLabelRate)
	v.SetDefault("generation.edge_label_rate", g.EdgeLabelRate)
	v.SetDefault("generation.multi_label_rate", g.MultiLabelRate)
	v.SetDefault("generation.cyclic_rate", g.CyclicRate)
	v.SetDefault("generation.variable_length_rate", g.VariableLengthRate)
	v.SetDefault("generation.random_symbol_len", g.RandomSymbolLen)

	t := d.Testing
	v.SetDefault("testing.rounds", t.Rounds)
	v.SetDefault("testing.queries_per_round", t.QueriesPerRound)
	v.SetDefault("testing.concurrent", t.Concurrent)
	v.SetDefault("testing.performance", t.Performance)
	v.SetDefault("testing.variant", t.Variant)
	v.SetDefault("testing.threshold", t.Threshold)
	v.SetDefault("testing.variant_threshold", t.VariantThreshold)
	v.SetDefault("testing.minimum_test_ms", t.MinimumTestMs)
	v.SetDefault("testing.log_every", t.LogEvery)
	v.SetDefault("testing.suppress", t.Suppress)
	v.SetDefault("testing.fingerprint_cache_size", t.FingerprintCacheSize)
	v.SetDefault("testing.trace_path", t.TracePath)
	v.SetDefault("testing.bug_log_path", t.BugLogPath)
	v.SetDefault("testing.exception_path", t.ExceptionPath)
	v.SetDefault("testing.min_save_log_size_mb", t.MinSaveLogSizeMB)
	v.SetDefault("testing.rotate_on_start", t.RotateOnStart)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// NewViper returns a viper instance with defaults, environment binding and
// the config file read. configFile may be empty, in which case graphgenie.yaml
// is searched in the working directory and $HOME/.graphgenie; a missing file
// is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".graphgenie"))
		}
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.Database.URI == "" {
		return fmt.Errorf("database uri is required")
	}
	if _, err := c.Database.Protocol(); err != nil {
		return err
	}
	if c.Database.QueryTimeout < 0 {
		return fmt.Errorf("invalid query timeout: %s", c.Database.QueryTimeout)
	}

	g := c.Generation
	if g.Mode != "graph" && g.Mode != "label" {
		return fmt.Errorf("invalid generation mode: %q", g.Mode)
	}
	if g.MinNodeCount < 1 {
		return fmt.Errorf("min node count must be at least 1, got %d", g.MinNodeCount)
	}
	if g.MaxNodeCount != 0 && g.MaxNodeCount < g.MinNodeCount {
		return fmt.Errorf("max node count %d below min node count %d", g.MaxNodeCount, g.MinNodeCount)
	}
	rates := map[string]float64{
		"subquery_rate":        g.SubqueryRate,
		"union_rate":           g.UnionRate,
		"return_symbol_rate":   g.ReturnSymbolRate,
		"node_symbol_rate":     g.NodeSymbolRate,
		"edge_symbol_rate":     g.EdgeSymbolRate,
		"node_label_rate":      g.NodeLabelRate,
		"edge_label_rate":      g.EdgeLabelRate,
		"multi_label_rate":     g.MultiLabelRate,
		"cyclic_rate":          g.CyclicRate,
		"variable_length_rate": g.VariableLengthRate,
	}
	for name, r := range rates {
		if r < 0 || r > 1 {
			return fmt.Errorf("generation.%s must be in [0, 1], got %v", name, r)
		}
	}
	if g.RandomSymbolLen < 1 {
		return fmt.Errorf("invalid random symbol length: %d", g.RandomSymbolLen)
	}

	t := c.Testing
	if t.Rounds < 0 || t.QueriesPerRound < 0 {
		return fmt.Errorf("rounds and queries per round must not be negative")
	}
	if t.Threshold <= 1 || t.VariantThreshold <= 1 {
		return fmt.Errorf("time ratio thresholds must exceed 1, got %v and %v", t.Threshold, t.VariantThreshold)
	}
	if t.MinimumTestMs < 0 {
		return fmt.Errorf("invalid minimum test time: %v", t.MinimumTestMs)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics enabled but no address set")
	}
	return nil
}

// Protocol returns "bolt" or "http" from the URI scheme.
func (d DatabaseConfig) Protocol() (string, error) {
	scheme, _, ok := strings.Cut(d.URI, "://")
	if !ok {
		return "", fmt.Errorf("database uri %q has no scheme", d.URI)
	}
	switch strings.ToLower(scheme) {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
		return "bolt", nil
	case "http", "https":
		return "http", nil
	default:
		return "", fmt.Errorf("unsupported database scheme: %q", scheme)
	}
}

// String returns a one-line summary with the password redacted.
func (c *Config) String() string {
	pw := ""
	if c.Database.Password != "" {
		pw = "****"
	}
	return fmt.Sprintf(
		"Config{URI: %s, User: %s, Password: %s, Mode: %s, Nodes: %d..%d, Rounds: %d, Perf: %v, Concurrent: %v}",
		c.Database.URI, c.Database.User, pw,
		c.Generation.Mode, c.Generation.MinNodeCount, c.Generation.MaxNodeCount,
		c.Testing.Rounds, c.Testing.Performance, c.Testing.Concurrent,
	)
}

// WriteDefault writes Default() as YAML to path. An existing file is only
// replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ============================================================================
// Environment helpers
// ============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parseAuth splits NEO4J_AUTH ("user/password" or "none").
func parseAuth(s string) (user, password string) {
	if s == "none" {
		return "", ""
	}
	if u, p, ok := strings.Cut(s, "/"); ok {
		return u, p
	}
	return "neo4j", s
}
