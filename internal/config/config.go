package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"taller/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	Remote       RemoteConfig       `yaml:"remote"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type StoreConfig struct {
	Driver string       `yaml:"driver"`
	Path   string       `yaml:"path"`
	Backup BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

type SyncConfig struct {
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	AutoSync       bool          `yaml:"auto_sync"`
	Interval       time.Duration `yaml:"interval"`
	Retry          RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type RemoteConfig struct {
	BaseURL   string              `yaml:"base_url"`
	APIKey    string              `yaml:"api_key"`
	APIExtra  string              `yaml:"api_extra"`
	Timeout   time.Duration       `yaml:"timeout"`
	RateLimit APIRateLimitConfig  `yaml:"rate_limit"`
	Entities  []models.EntityType `yaml:"entities"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables already in the environment win.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store path is required for the sqlite driver")
		}
	case DriverRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Sync.HandlerTimeout <= 0 {
		return errors.New("sync handler_timeout must be positive")
	}
	if c.Sync.Retry.BackoffFactor < 1 {
		return errors.New("sync retry backoff_factor must be >= 1")
	}

	if c.Remote.BaseURL != "" && !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote base_url must be an http(s) url, got %q", c.Remote.BaseURL)
	}

	return ValidateEntities(c.Remote.Entities)
}

func ValidateEntities(entities []models.EntityType) error {
	seen := make(map[models.EntityType]bool)
	for _, e := range entities {
		if strings.TrimSpace(string(e)) == "" {
			return errors.New("remote entities contain an empty name")
		}
		if seen[e] {
			return fmt.Errorf("duplicate remote entity: %s", e)
		}
		seen[e] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "taller-sync"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Path == "" && c.Store.Driver == DriverSQLite {
		c.Store.Path = "data/offline.db"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = models.DefaultRedisKeyPrefix
	}

	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = models.DefaultProbeInterval * time.Second
	}
	if c.Connectivity.ProbeTimeout == 0 {
		c.Connectivity.ProbeTimeout = models.DefaultProbeTimeout * time.Second
	}
	if c.Connectivity.MaxBackoff == 0 {
		c.Connectivity.MaxBackoff = models.DefaultMaxProbeBackoff * time.Second
	}

	if c.Sync.HandlerTimeout == 0 {
		c.Sync.HandlerTimeout = models.DefaultHandlerTimeout * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = models.DefaultAutoSyncInterval * time.Second
	}
	if c.Sync.Retry.InitialDelay == 0 {
		c.Sync.Retry.InitialDelay = 5 * time.Second
	}
	if c.Sync.Retry.MaxDelay == 0 {
		c.Sync.Retry.MaxDelay = 5 * time.Minute
	}
	if c.Sync.Retry.BackoffFactor == 0 {
		c.Sync.Retry.BackoffFactor = 2
	}

	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 10 * time.Second
	}
	if len(c.Remote.Entities) == 0 {
		c.Remote.Entities = []models.EntityType{models.EntityClientes, models.EntityPedidos, models.EntityInsumos}
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if c.API.Enabled && !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
}
