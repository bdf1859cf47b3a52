// Package config loads and validates dossier-crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Bounds applied by Clamp.
const (
	MinWorkers        = 1
	MaxWorkers        = 50
	MinRetries        = 0
	MaxRetries        = 20
	MinRequestTimeout = 5 * time.Second
	MaxRequestTimeout = 300 * time.Second
	MinBatchSize      = 1
	MaxBatchSize      = 10000
)

// DefaultURLTemplate points at the portal's dossier page.
const DefaultURLTemplate = "https://portal.stf.jus.br/processos/detalhe.asp?incidente={id}"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Preset       string             `mapstructure:"preset"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Store        StoreConfig        `mapstructure:"store"`
	Source       SourceConfig       `mapstructure:"source"`
	Fetcher      FetcherConfig      `mapstructure:"fetcher"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	BaseDosDados BaseDosDadosConfig `mapstructure:"basedosdados"`
	Server       ServerConfig       `mapstructure:"server"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// SchedulerConfig sizes the task pool.
type SchedulerConfig struct {
	Workers int `mapstructure:"workers"`
}

// HTTPConfig configures sessions, retries, and the global rate limit.
type HTTPConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	RateLimitDelay    time.Duration `mapstructure:"rate_limit_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	UserAgent         string        `mapstructure:"user_agent"`
	UserAgentRotation bool          `mapstructure:"user_agent_rotation"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	UseProxies        bool          `mapstructure:"use_proxies"`
	ProxyList         []string      `mapstructure:"proxy_list"`
	ProxyQuarantine   time.Duration `mapstructure:"proxy_quarantine"`
}

// StoreConfig controls batching and merging.
type StoreConfig struct {
	BatchSize          int    `mapstructure:"batch_size"`
	CheckpointInterval int    `mapstructure:"checkpoint_interval"`
	MergePolicy        string `mapstructure:"merge_policy"`
	TempDir            string `mapstructure:"temp_dir"`
}

// SourceConfig describes where dossiers are fetched from.
type SourceConfig struct {
	URLTemplate string `mapstructure:"url_template"`
	BaseURL     string `mapstructure:"base_url"`
}

// FetcherConfig selects the primary session kind.
type FetcherConfig struct {
	Mode string `mapstructure:"mode"`
}

// HeadlessConfig configures the browser sessions.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Fallback    bool          `mapstructure:"fallback"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	MaxParallel int           `mapstructure:"max_parallel"`
	QPS         float64       `mapstructure:"qps"`
	// PromoteBelow is the body size under which a script-heavy HTTP page is
	// fetched again through the browser.
	PromoteBelow int `mapstructure:"promote_below_bytes"`
}

// StorageConfig carries object store settings for s3:// destinations.
type StorageConfig struct {
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
}

// DatabaseConfig controls the optional Postgres mirror.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// BaseDosDadosConfig controls the BigQuery lookup that answers identifiers
// before they are fetched. ProjectID is the billing project.
type BaseDosDadosConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Table     string `mapstructure:"table"`
	IDColumn  string `mapstructure:"id_column"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

// ServerConfig controls the status server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig tunes progress reporting.
type ProgressConfig struct {
	LogInterval time.Duration `mapstructure:"log_interval"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Fetcher modes.
const (
	FetcherHTTP     = "http"
	FetcherHeadless = "headless"
)

// FlagKeys maps CLI flag names to configuration keys.
var FlagKeys = map[string]string{
	"preset":              "preset",
	"workers":             "scheduler.workers",
	"max-retries":         "http.max_retries",
	"rate-limit":          "http.rate_limit_delay",
	"timeout":             "http.request_timeout",
	"batch-size":          "store.batch_size",
	"checkpoint-interval": "store.checkpoint_interval",
	"merge-policy":        "store.merge_policy",
	"use-proxies":         "http.use_proxies",
	"proxies":             "http.proxy_list",
	"headless":            "headless.enabled",
	"fetcher":             "fetcher.mode",
	"url-template":        "source.url_template",
	"status-addr":         "server.addr",
	"database-dsn":        "database.dsn",
	"basedosdados":        "basedosdados.enabled",
	"billing-project":     "basedosdados.project_id",
	"log-level":           "logging.level",
	"dev":                 "logging.development",
}

// Load builds a Config from the optional file at path, DOSSIER_* environment
// variables, and flags. The selected preset replaces the built-in defaults,
// so any explicitly configured value still wins over it.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOSSIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyPreset(v, v.GetString("preset")); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg = cfg.Clamp()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("preset", "")
	v.SetDefault("scheduler.workers", 5)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.rate_limit_delay", time.Second)
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.backoff_base", time.Second)
	v.SetDefault("http.backoff_max", 60*time.Second)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.user_agent_rotation", true)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.use_proxies", false)
	v.SetDefault("http.proxy_list", []string{})
	v.SetDefault("http.proxy_quarantine", 10*time.Minute)
	v.SetDefault("store.batch_size", 500)
	v.SetDefault("store.checkpoint_interval", 100)
	v.SetDefault("store.merge_policy", "last_write")
	v.SetDefault("store.temp_dir", "")
	v.SetDefault("source.url_template", DefaultURLTemplate)
	v.SetDefault("source.base_url", "https://portal.stf.jus.br")
	v.SetDefault("fetcher.mode", FetcherHTTP)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.fallback", true)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.qps", 0.5)
	v.SetDefault("headless.promote_below_bytes", 2048)
	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "dossiers")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("basedosdados.enabled", false)
	v.SetDefault("basedosdados.project_id", "")
	v.SetDefault("basedosdados.table", "basedosdados.br_stf_decisoes.decisao")
	v.SetDefault("basedosdados.id_column", "numero_processo")
	v.SetDefault("basedosdados.chunk_size", 500)
	v.SetDefault("server.addr", "")
	v.SetDefault("progress.log_interval", 5*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Presets bundles defaults for common environments.
var Presets = map[string]map[string]any{
	"development": {
		"http.max_retries":      3,
		"http.request_timeout":  15 * time.Second,
		"store.batch_size":      10,
		"scheduler.workers":     2,
		"http.rate_limit_delay": 2 * time.Second,
		"logging.level":         "debug",
		"logging.development":   true,
		"headless.enabled":      false,
	},
	"production": {
		"http.max_retries":          10,
		"http.request_timeout":      60 * time.Second,
		"store.batch_size":          1000,
		"scheduler.workers":         15,
		"http.rate_limit_delay":     500 * time.Millisecond,
		"logging.level":             "info",
		"headless.enabled":          true,
		"store.checkpoint_interval": 50,
	},
	"testing": {
		"http.max_retries":      1,
		"http.request_timeout":  5 * time.Second,
		"store.batch_size":      5,
		"scheduler.workers":     1,
		"http.rate_limit_delay": 100 * time.Millisecond,
		"logging.level":         "warn",
		"basedosdados.enabled":  false,
	},
}

func applyPreset(v *viper.Viper, name string) error {
	if name == "" {
		return nil
	}
	preset, ok := Presets[name]
	if !ok {
		return fmt.Errorf("unknown preset %q", name)
	}
	for key, value := range preset {
		v.SetDefault(key, value)
	}
	return nil
}

// Clamp pulls numeric settings into their supported ranges.
func (c Config) Clamp() Config {
	c.Scheduler.Workers = clampInt(c.Scheduler.Workers, MinWorkers, MaxWorkers)
	c.HTTP.MaxRetries = clampInt(c.HTTP.MaxRetries, MinRetries, MaxRetries)
	c.Store.BatchSize = clampInt(c.Store.BatchSize, MinBatchSize, MaxBatchSize)
	c.BaseDosDados.ChunkSize = clampInt(c.BaseDosDados.ChunkSize, 1, MaxBatchSize)
	if c.Store.CheckpointInterval < 1 {
		c.Store.CheckpointInterval = 1
	}
	if c.HTTP.RateLimitDelay < 0 {
		c.HTTP.RateLimitDelay = 0
	}
	if c.HTTP.RequestTimeout < MinRequestTimeout {
		c.HTTP.RequestTimeout = MinRequestTimeout
	}
	if c.HTTP.RequestTimeout > MaxRequestTimeout {
		c.HTTP.RequestTimeout = MaxRequestTimeout
	}
	if c.HTTP.BackoffBase < 0 {
		c.HTTP.BackoffBase = 0
	}
	if c.HTTP.BackoffMax < c.HTTP.BackoffBase {
		c.HTTP.BackoffMax = c.HTTP.BackoffBase
	}
	if c.Headless.MaxParallel < 1 {
		c.Headless.MaxParallel = 1
	}
	return c
}

func clampInt(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Validate enforces values that cannot be clamped.
func (c Config) Validate() error {
	switch c.Store.MergePolicy {
	case "last_write", "prefer_success":
	default:
		return fmt.Errorf("store.merge_policy must be last_write or prefer_success, got %q", c.Store.MergePolicy)
	}
	switch c.Fetcher.Mode {
	case FetcherHTTP, FetcherHeadless:
	default:
		return fmt.Errorf("fetcher.mode must be http or headless, got %q", c.Fetcher.Mode)
	}
	if !strings.Contains(c.Source.URLTemplate, "{id}") && !strings.Contains(c.Source.URLTemplate, "{digits}") {
		return fmt.Errorf("source.url_template must contain {id} or {digits}")
	}
	if c.HTTP.UseProxies && len(c.HTTP.ProxyList) == 0 {
		return fmt.Errorf("http.proxy_list must be set when http.use_proxies is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.BaseDosDados.Enabled && c.BaseDosDados.ProjectID == "" {
		return fmt.Errorf("basedosdados.project_id must be set when basedosdados.enabled is true")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}

// HeadlessActive reports whether any browser session is needed.
func (c Config) HeadlessActive() bool {
	return c.Fetcher.Mode == FetcherHeadless || (c.Headless.Enabled && c.Headless.Fallback)
}
