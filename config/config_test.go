package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadFrom(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	return LoadConfig()
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadFrom(t, "http:\n  addr: \":8080\"\n")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Service != "rooms-service" || cfg.Logging.Env != "dev" {
		t.Fatalf("logging defaults: %+v", cfg.Logging)
	}
	if cfg.Logging.Backend != "std" {
		t.Fatalf("backend default: %q", cfg.Logging.Backend)
	}
	if len(cfg.HTTP.AllowedOrigins) == 0 {
		t.Fatalf("origins default missing")
	}
	if cfg.PingEvery() != 15*time.Second {
		t.Fatalf("ping default = %v", cfg.PingEvery())
	}
}

func TestLoadConfig_RequiresHTTPAddr(t *testing.T) {
	if _, err := loadFrom(t, "logging:\n  env: dev\n"); err == nil {
		t.Fatalf("expected error without http.addr")
	}
}

func TestLoadConfig_PostgresOptional(t *testing.T) {
	cfg, err := loadFrom(t, "http:\n  addr: \":8080\"\n")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.DSN != "" {
		t.Fatalf("dsn = %q", cfg.Postgres.DSN)
	}
}

func TestLoadConfig_PingInterval(t *testing.T) {
	cfg, err := loadFrom(t, "http:\n  addr: \":8080\"\nws:\n  pingInterval: 5s\n")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PingEvery() != 5*time.Second {
		t.Fatalf("ping = %v", cfg.PingEvery())
	}
}
