package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"taller/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TALLER_REMOTE_KEY", "secret-key")

	yamlContent := `
store:
  driver: sqlite
  path: "test.db"
sync:
  handler_timeout: 3s
  interval: 45s
remote:
  base_url: "http://localhost:9000"
  api_key: "${TALLER_REMOTE_KEY}"
  entities: [clientes, pedidos]
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Remote.APIKey != "secret-key" {
		t.Errorf("expected api_key from environment, got %q", cfg.Remote.APIKey)
	}
	if cfg.Sync.HandlerTimeout != 3*time.Second {
		t.Errorf("expected handler_timeout 3s, got %s", cfg.Sync.HandlerTimeout)
	}
	if cfg.Sync.Interval != 45*time.Second {
		t.Errorf("expected interval 45s, got %s", cfg.Sync.Interval)
	}
	if len(cfg.Remote.Entities) != 2 || cfg.Remote.Entities[1] != models.EntityPedidos {
		t.Errorf("expected entities [clientes pedidos], got %v", cfg.Remote.Entities)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Store: StoreConfig{Driver: DriverSQLite, Path: "offline.db"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "memory driver", mutate: func(c *Config) { c.Store.Driver = DriverMemory; c.Store.Path = "" }, wantErr: false},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.Path = "" }, wantErr: true},
		{name: "redis without address", mutate: func(c *Config) { c.Store.Driver = DriverRedis }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "bolt" }, wantErr: true},
		{name: "zero handler timeout", mutate: func(c *Config) { c.Sync.HandlerTimeout = 0 }, wantErr: true},
		{name: "bad base url", mutate: func(c *Config) { c.Remote.BaseURL = "ftp://x" }, wantErr: true},
		{
			name:    "duplicate entity",
			mutate:  func(c *Config) { c.Remote.Entities = []models.EntityType{"clientes", "clientes"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("expected default driver sqlite, got %s", cfg.Store.Driver)
	}
	if cfg.Sync.HandlerTimeout != models.DefaultHandlerTimeout*time.Second {
		t.Errorf("expected default handler timeout, got %s", cfg.Sync.HandlerTimeout)
	}
	if cfg.Redis.KeyPrefix != models.DefaultRedisKeyPrefix {
		t.Errorf("expected default key prefix, got %s", cfg.Redis.KeyPrefix)
	}
	if len(cfg.Remote.Entities) != 3 {
		t.Errorf("expected three default entities, got %v", cfg.Remote.Entities)
	}
	if cfg.API.Auth.Enabled {
		t.Error("auth should stay disabled while the api is disabled")
	}

	cfg = &Config{API: APIConfig{Enabled: true}}
	cfg.applyDefaults()
	if !cfg.API.Auth.Enabled {
		t.Error("auth should default on when the api is enabled")
	}
}

func TestValidateEntities(t *testing.T) {
	tests := []struct {
		name     string
		entities []models.EntityType
		wantErr  bool
	}{
		{name: "Valid", entities: []models.EntityType{"clientes", "insumos"}, wantErr: false},
		{name: "Duplicate", entities: []models.EntityType{"pedidos", "pedidos"}, wantErr: true},
		{name: "Empty name", entities: []models.EntityType{" "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntities(tt.entities)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEntities() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_Example(t *testing.T) {
	t.Setenv("REMOTE_BASE_URL", "https://taller.example.com")

	cfg, err := Load(filepath.Join("..", "..", "configs", "config.example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}

	if cfg.Connectivity.ProbeURL != "https://taller.example.com/api/health" {
		t.Errorf("unexpected probe url %q", cfg.Connectivity.ProbeURL)
	}
	if len(cfg.API.Auth.APIKeys) != 2 {
		t.Fatalf("expected 2 api keys, got %d", len(cfg.API.Auth.APIKeys))
	}
	if perms := cfg.API.Auth.APIKeys[1].Permissions; len(perms) != 1 || perms[0] != "read:sync" {
		t.Errorf("expected read-only dashboard key, got %v", perms)
	}
	if cfg.Sync.Retry.MaxDelay != 5*time.Minute {
		t.Errorf("expected max_delay 5m, got %s", cfg.Sync.Retry.MaxDelay)
	}
}
