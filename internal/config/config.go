// Package config loads and validates ccextract configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/ccextract/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. CCEXTRACT_RUN_WORKERS.
const EnvPrefix = "CCEXTRACT"

// Config captures all knobs loaded via Viper.
type Config struct {
	Run     RunConfig      `mapstructure:"run"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Storage storage.Config `mapstructure:"storage"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Server  ServerConfig   `mapstructure:"server"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Join    JoinConfig     `mapstructure:"join"`
}

// RunConfig governs the batch scheduler and the pipelines.
type RunConfig struct {
	Workers     int    `mapstructure:"workers"`
	OutputDir   string `mapstructure:"output_dir"`
	CacheDir    string `mapstructure:"cache_dir"`
	MaxRecords  int    `mapstructure:"max_records"`
	PrefixBytes int    `mapstructure:"prefix_bytes"`
	Decompress  bool   `mapstructure:"decompress"`
	ErrorsLog   string `mapstructure:"errors_log"`
	VerifyDir   string `mapstructure:"verify_dir"`
	// LooseLanguageHeader matches the HTTP language header by the substring
	// "lang" rather than by the exact Content-Language name.
	LooseLanguageHeader bool `mapstructure:"loose_language_header"`
}

// FetchConfig configures shard downloads.
type FetchConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PubSubConfig enables shard completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// JoinConfig configures the correlation index.
type JoinConfig struct {
	TextManifest     string  `mapstructure:"text_manifest"`
	MetadataDir      string  `mapstructure:"metadata_dir"`
	TextDir          string  `mapstructure:"text_dir"`
	Fraction         float64 `mapstructure:"fraction"`
	Seed             uint64  `mapstructure:"seed"`
	IgnoreMissing    bool    `mapstructure:"ignore_missing"`
	IgnoreUnresolved bool    `mapstructure:"ignore_unresolved"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"workers":           "run.workers",
	"output-dir":        "run.output_dir",
	"cache-dir":         "run.cache_dir",
	"max-records":       "run.max_records",
	"decompress":        "run.decompress",
	"errors-log":        "run.errors_log",
	"verify-dir":        "run.verify_dir",
	"loose-lang-header": "run.loose_language_header",
	"base-url":          "fetch.base_url",
	"fetch-timeout":     "fetch.timeout",
	"sink":              "storage.backend",
	"topic":             "pubsub.topic",
	"status-addr":       "server.addr",
	"verbose":           "logging.development",
	"text-manifest":     "join.text_manifest",
	"metadata-dir":      "join.metadata_dir",
	"text-dir":          "join.text_dir",
	"fraction":          "join.fraction",
	"seed":              "join.seed",
	"ignore-missing":    "join.ignore_missing",
	"ignore-unresolved": "join.ignore_unresolved",
}

// Load builds a Config from defaults, an optional file, the environment and
// any changed flags in fs, in increasing order of precedence.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.output_dir", "output")
	v.SetDefault("run.cache_dir", "")
	v.SetDefault("run.max_records", 0)
	v.SetDefault("run.prefix_bytes", 200)
	v.SetDefault("run.decompress", false)
	v.SetDefault("run.errors_log", "")
	v.SetDefault("run.verify_dir", "")
	v.SetDefault("run.loose_language_header", false)
	v.SetDefault("fetch.base_url", "https://data.commoncrawl.org/")
	v.SetDefault("fetch.user_agent", "ccextract/0.1")
	v.SetDefault("fetch.timeout", "0s")
	v.SetDefault("storage.backend", storage.BackendLocal)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table_prefix", "cc_")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("join.text_manifest", "wet.paths")
	v.SetDefault("join.metadata_dir", "output")
	v.SetDefault("join.text_dir", "")
	v.SetDefault("join.fraction", 1.0)
	v.SetDefault("join.seed", 0)
	v.SetDefault("join.ignore_missing", false)
	v.SetDefault("join.ignore_unresolved", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be > 0")
	}
	if c.Run.MaxRecords < 0 {
		return fmt.Errorf("run.max_records must be >= 0")
	}
	if c.Run.PrefixBytes <= 0 {
		return fmt.Errorf("run.prefix_bytes must be > 0")
	}
	if c.Fetch.Timeout < 0 {
		return fmt.Errorf("fetch.timeout must be >= 0")
	}
	switch c.Storage.Backend {
	case storage.BackendLocal, storage.BackendMemory:
	case storage.BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case storage.BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is")
	}
	if !(c.Join.Fraction > 0 && c.Join.Fraction <= 1) {
		return fmt.Errorf("join.fraction must be in (0, 1]")
	}
	return nil
}
