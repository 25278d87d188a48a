// Package config loads codekb settings from defaults, an optional YAML file and
// CODEKB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/codekb/internal/contextbuilder"
	"github.com/dshills/codekb/internal/embedder"
	"github.com/dshills/codekb/internal/searcher"
	"github.com/dshills/codekb/internal/startup"
	"github.com/dshills/codekb/internal/watcher"
)

const (
	// FileName is the config file base name searched in . and ~/.config/codekb
	FileName  = "codekb"
	EnvPrefix = "CODEKB"
)

// Config is the full set of settings
type Config struct {
	// DataDir holds state shared across projects, the global knowledge base among it
	DataDir   string             `mapstructure:"data_dir"`
	Log       LogConfig          `mapstructure:"log"`
	Embedding EmbeddingConfig    `mapstructure:"embedding"`
	Watcher   WatcherConfig      `mapstructure:"watcher"`
	Startup   startup.Thresholds `mapstructure:"startup"`
	Context   ContextConfig      `mapstructure:"context"`
	Search    SearchConfig       `mapstructure:"search"`
	GlobalKB  GlobalKBConfig     `mapstructure:"global_kb"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

type EmbeddingConfig struct {
	Provider          string  `mapstructure:"provider"`
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	BatchSize         int     `mapstructure:"batch_size"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	CacheSize         int     `mapstructure:"cache_size"`
}

type WatcherConfig struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type ContextConfig struct {
	MaxTokens    int `mapstructure:"max_tokens"`
	SemanticTopK int `mapstructure:"semantic_top_k"`
}

type SearchConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type GlobalKBConfig struct {
	// Path of the badger directory; empty means <data_dir>/global
	Path        string `mapstructure:"path"`
	RegistryDir string `mapstructure:"registry_dir"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9464"
	Addr string `mapstructure:"addr"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codekb-global"
	}
	return filepath.Join(home, ".codekb")
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.batch_size", embedder.DefaultBatchSize)
	v.SetDefault("embedding.max_retries", embedder.MaxRetries)
	v.SetDefault("embedding.requests_per_second", 0)
	v.SetDefault("embedding.cache_size", embedder.DefaultCacheSize)

	v.SetDefault("watcher.debounce", watcher.DefaultDebounce)
	v.SetDefault("watcher.quiet_period", watcher.DefaultQuietPeriod)
	v.SetDefault("watcher.stop_timeout", watcher.DefaultStopTimeout)

	th := startup.DefaultThresholds()
	v.SetDefault("startup.max_new_project_files", th.MaxNewProjectFiles)
	v.SetDefault("startup.max_changed_files", th.MaxChangedFiles)
	v.SetDefault("startup.max_age_minutes", th.MaxAgeMinutes)

	v.SetDefault("context.max_tokens", contextbuilder.DefaultMaxTokens)
	v.SetDefault("context.semantic_top_k", contextbuilder.DefaultSemanticTopK)

	v.SetDefault("search.cache_size", searcher.DefaultCacheSize)
	v.SetDefault("search.cache_ttl", searcher.DefaultCacheTTL)

	v.SetDefault("global_kb.path", "")
	v.SetDefault("global_kb.registry_dir", "")

	v.SetDefault("metrics.addr", "")
}

// Load reads configuration into a Config. An explicit file must exist; otherwise
// codekb.yaml is looked up in . and ~/.config/codekb and may be absent.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "codekb"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in settings without reading a file or the environment
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// GlobalKBPath is where the global knowledge base lives
func (c *Config) GlobalKBPath() string {
	if c.GlobalKB.Path != "" {
		return c.GlobalKB.Path
	}
	return filepath.Join(c.DataDir, "global")
}

// EmbedderConfig converts the embedding section for embedder.New
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		APIKey:    c.Embedding.APIKey,
		BaseURL:   c.Embedding.BaseURL,
		CacheSize: c.Embedding.CacheSize,
	}
}

// RetryConfig is the pipeline retry policy with the configured attempt count
func (c *Config) RetryConfig() embedder.RetryConfig {
	r := embedder.DefaultRetryConfig()
	if c.Embedding.MaxRetries > 0 {
		r.MaxRetries = c.Embedding.MaxRetries
	}
	return r
}

// ParseLevel maps a level name to a slog.Level, defaulting to info
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds the process logger. It writes to w, normally stderr since
// stdout carries the MCP stdio stream.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var h slog.Handler
	if strings.EqualFold(c.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
