package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Workers != 5 {
		t.Fatalf("expected 5 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.HTTP.MaxRetries != 5 || cfg.HTTP.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected http defaults: %+v", cfg.HTTP)
	}
	if cfg.HTTP.RateLimitDelay != time.Second {
		t.Fatalf("expected 1s rate limit, got %v", cfg.HTTP.RateLimitDelay)
	}
	if cfg.Store.BatchSize != 500 || cfg.Store.CheckpointInterval != 100 {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Store.MergePolicy != "last_write" {
		t.Fatalf("expected last_write merge policy, got %q", cfg.Store.MergePolicy)
	}
	if cfg.Source.URLTemplate != DefaultURLTemplate {
		t.Fatalf("unexpected url template %q", cfg.Source.URLTemplate)
	}
	if cfg.BaseDosDados.Enabled || cfg.BaseDosDados.Table != "basedosdados.br_stf_decisoes.decisao" || cfg.BaseDosDados.ChunkSize != 500 {
		t.Fatalf("unexpected basedosdados defaults: %+v", cfg.BaseDosDados)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
scheduler:
  workers: 8
http:
  max_retries: 2
  rate_limit_delay: 250ms
  request_timeout: 45s
  use_proxies: true
  proxy_list: ["http://proxy-a:3128", "http://proxy-b:3128"]
store:
  batch_size: 50
  merge_policy: prefer_success
database:
  dsn: postgres://localhost/dossiers
logging:
  level: debug
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.HTTP.RateLimitDelay != 250*time.Millisecond || cfg.HTTP.RequestTimeout != 45*time.Second {
		t.Fatalf("expected durations to parse: %+v", cfg.HTTP)
	}
	if len(cfg.HTTP.ProxyList) != 2 {
		t.Fatalf("expected two proxies, got %v", cfg.HTTP.ProxyList)
	}
	if cfg.Store.MergePolicy != "prefer_success" || cfg.Store.BatchSize != 50 {
		t.Fatalf("expected store overrides: %+v", cfg.Store)
	}
	if cfg.Database.DSN == "" || cfg.Database.Table != "dossiers" {
		t.Fatalf("expected database settings: %+v", cfg.Database)
	}
}

func TestLoadAppliesPresetBelowExplicitValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
preset: production
scheduler:
  workers: 3
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Workers != 3 {
		t.Fatalf("explicit workers should win over preset, got %d", cfg.Scheduler.Workers)
	}
	if cfg.HTTP.MaxRetries != 10 || cfg.Store.BatchSize != 1000 || cfg.Store.CheckpointInterval != 50 {
		t.Fatalf("expected production preset values: %+v %+v", cfg.HTTP, cfg.Store)
	}
	if cfg.HTTP.RateLimitDelay != 500*time.Millisecond || !cfg.Headless.Enabled {
		t.Fatalf("expected production rate and headless: %+v", cfg)
	}
}

func TestLoadRejectsUnknownPreset(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "preset: staging\n")
	if _, err := Load(path, nil); err == nil || !strings.Contains(err.Error(), "unknown preset") {
		t.Fatalf("expected unknown preset error, got %v", err)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "scheduler:\n  workers: 4\n")
	flags := pflag.NewFlagSet("scrape", pflag.ContinueOnError)
	flags.Int("workers", 5, "")
	flags.Duration("rate-limit", time.Second, "")
	flags.String("preset", "", "")
	if err := flags.Parse([]string{"--workers", "12", "--preset", "testing"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Workers != 12 {
		t.Fatalf("expected flag to win, got %d", cfg.Scheduler.Workers)
	}
	if cfg.HTTP.RateLimitDelay != 100*time.Millisecond {
		t.Fatalf("unchanged flag must not mask the preset, got %v", cfg.HTTP.RateLimitDelay)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOSSIER_SCHEDULER_WORKERS", "7")
	t.Setenv("DOSSIER_STORE_MERGE_POLICY", "prefer_success")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Workers != 7 {
		t.Fatalf("expected env workers 7, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Store.MergePolicy != "prefer_success" {
		t.Fatalf("expected env merge policy, got %q", cfg.Store.MergePolicy)
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    Config
		check func(Config) bool
	}{
		{
			name:  "workers upper bound",
			in:    Config{Scheduler: SchedulerConfig{Workers: 500}},
			check: func(c Config) bool { return c.Scheduler.Workers == MaxWorkers },
		},
		{
			name:  "workers lower bound",
			in:    Config{Scheduler: SchedulerConfig{Workers: 0}},
			check: func(c Config) bool { return c.Scheduler.Workers == MinWorkers },
		},
		{
			name:  "retries allow zero",
			in:    Config{HTTP: HTTPConfig{MaxRetries: 0}},
			check: func(c Config) bool { return c.HTTP.MaxRetries == 0 },
		},
		{
			name:  "retries upper bound",
			in:    Config{HTTP: HTTPConfig{MaxRetries: 99}},
			check: func(c Config) bool { return c.HTTP.MaxRetries == MaxRetries },
		},
		{
			name:  "timeout bounds",
			in:    Config{HTTP: HTTPConfig{RequestTimeout: time.Second}},
			check: func(c Config) bool { return c.HTTP.RequestTimeout == MinRequestTimeout },
		},
		{
			name:  "negative rate",
			in:    Config{HTTP: HTTPConfig{RateLimitDelay: -time.Second}},
			check: func(c Config) bool { return c.HTTP.RateLimitDelay == 0 },
		},
		{
			name:  "batch and checkpoint",
			in:    Config{Store: StoreConfig{BatchSize: 20000, CheckpointInterval: -3}},
			check: func(c Config) bool { return c.Store.BatchSize == MaxBatchSize && c.Store.CheckpointInterval == 1 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.Clamp(); !tt.check(got) {
				t.Fatalf("Clamp() = %+v", got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	bad := base
	bad.Store.MergePolicy = "first_write"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected merge policy error")
	}

	bad = base
	bad.Source.URLTemplate = "https://example.test/static"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected url template error")
	}

	bad = base
	bad.HTTP.UseProxies = true
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected proxy list error")
	}

	bad = base
	bad.PubSub.Topic = "runs"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected pubsub project error")
	}

	bad = base
	bad.BaseDosDados.Enabled = true
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected basedosdados project error")
	}
	bad.BaseDosDados.ProjectID = "billing"
	if err := bad.Validate(); err != nil {
		t.Fatalf("expected basedosdados config to validate, got %v", err)
	}
}
