package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sieve.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Limiter.Limit != 10 {
		t.Errorf("default limit = %d, want 10", cfg.Limiter.Limit)
	}
	if cfg.Limiter.Window != time.Minute {
		t.Errorf("default window = %s, want 1m", cfg.Limiter.Window)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("default cache ttl = %s, want 1h", cfg.Cache.TTL)
	}
	if cfg.Activity.MaxLen != 100 {
		t.Errorf("default activity max_len = %d, want 100", cfg.Activity.MaxLen)
	}
	if cfg.Storage.Backend != store.BackendMemory {
		t.Errorf("default storage backend = %q, want memory", cfg.Storage.Backend)
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should be valid, got %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero limit", func(c *Config) { c.Limiter.Limit = 0 }},
		{"negative limit", func(c *Config) { c.Limiter.Limit = -1 }},
		{"sub-millisecond window", func(c *Config) { c.Limiter.Window = time.Microsecond }},
		{"negative sample", func(c *Config) { c.Limiter.Sample = -1 }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"zero max_len", func(c *Config) { c.Activity.MaxLen = 0 }},
		{"zero excerpt_len", func(c *Config) { c.Activity.ExcerptLen = 0 }},
		{"inverted latency", func(c *Config) { c.Generator.MaxLatency = c.Generator.MinLatency - time.Millisecond }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "bogus" }},
		{"redis without host", func(c *Config) {
			c.Storage.Backend = store.BackendRedis
			c.Storage.Redis.Host = ""
		}},
		{"redis without port", func(c *Config) {
			c.Storage.Backend = store.BackendRedis
			c.Storage.Redis.Port = 0
		}},
		{"redis cluster without nodes", func(c *Config) {
			c.Storage.Backend = store.BackendRedis
			c.Storage.Redis.Cluster = true
		}},
		{"redis inverted backoff", func(c *Config) {
			c.Storage.Backend = store.BackendRedis
			c.Storage.Redis.MinRetryBackoff = time.Second
			c.Storage.Redis.MaxRetryBackoff = time.Millisecond
		}},
		{"sqlite without path", func(c *Config) {
			c.Storage.Backend = store.BackendSQLite
			c.Storage.SQLite.Path = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFile_Full(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
limiter:
  limit: 100
  window: 30s
  strict: true
cache:
  ttl: 10m
storage:
  backend: redis
  redis:
    host: 127.0.0.1
    port: 6380
    password: secret
    db: 2
    pool_size: 25
    max_retries: 5
    dial_timeout: 4s
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Limiter.Limit != 100 {
		t.Errorf("limit = %d, want 100", cfg.Limiter.Limit)
	}
	if cfg.Limiter.Window != 30*time.Second {
		t.Errorf("window = %v, want 30s", cfg.Limiter.Window)
	}
	if !cfg.Limiter.Strict {
		t.Error("strict should be true")
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("cache ttl = %v, want 10m", cfg.Cache.TTL)
	}
	if cfg.Storage.Backend != store.BackendRedis {
		t.Errorf("storage backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.Storage.Redis.Host != "127.0.0.1" || cfg.Storage.Redis.Port != 6380 {
		t.Errorf("redis endpoint = %s:%d, want 127.0.0.1:6380", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	}
	if cfg.Storage.Redis.DialTimeout != 4*time.Second {
		t.Errorf("redis dial_timeout = %s, want 4s", cfg.Storage.Redis.DialTimeout)
	}
	// Unset nested fields keep their defaults.
	if cfg.Storage.Redis.MaxRetryBackoff != 512*time.Millisecond {
		t.Errorf("redis max_retry_backoff = %s, want 512ms", cfg.Storage.Redis.MaxRetryBackoff)
	}
}

func TestLoadFile_Partial(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "limiter:\n  limit: 42\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Limiter.Limit != 42 {
		t.Errorf("limit = %d, want 42", cfg.Limiter.Limit)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr should stay default, got %q", cfg.Server.Addr)
	}
	if cfg.Limiter.Window != time.Minute {
		t.Errorf("window should stay default, got %v", cfg.Limiter.Window)
	}
	if cfg.Storage.Backend != store.BackendMemory {
		t.Errorf("storage backend should stay default, got %q", cfg.Storage.Backend)
	}
}

func TestLoadFile_ExpandsEnv(t *testing.T) {
	t.Setenv("SIEVE_TEST_DB", "/var/lib/sieve/test.db")
	cfg, err := LoadFile(writeConfig(t, "storage:\n  backend: sqlite\n  sqlite:\n    path: ${SIEVE_TEST_DB}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.SQLite.Path != "/var/lib/sieve/test.db" {
		t.Errorf("sqlite path = %q, want expanded value", cfg.Storage.SQLite.Path)
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	if _, err := LoadFile("/nonexistent/sieve.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFile_BadYAML(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "server: [unclosed")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFile_BadDuration(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "limiter:\n  window: not-a-duration\n")); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExample(path); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config should be valid, got %v", err)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "window: 1m0s") {
		t.Errorf("durations should render as strings, got:\n%s", data)
	}

	cfg, err := LoadFile(writeConfig(t, string(data)))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limiter.Window != time.Minute || cfg.Storage.Redis.Port != 6379 {
		t.Errorf("round trip lost values: %+v", cfg)
	}
}
