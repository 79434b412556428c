package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bagoessprasetyo/property-management-sub001/internal/api"
	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/ledger"
	"github.com/bagoessprasetyo/property-management-sub001/internal/logging"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PMS_BACKUP_RETENTION_DAYS.
const EnvPrefix = "PMS"

// Config is the complete service configuration.
type Config struct {
	Backup    backup.Config   `yaml:"backup"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   storage.Config  `yaml:"storage"`
	API       api.Config      `yaml:"api"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   logging.Config  `yaml:"logging"`
}

// GatewayConfig selects the data store the snapshots are taken from.
type GatewayConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=memory postgres sqlite3"`
	DSN             string        `yaml:"dsn" validate:"required_unless=Driver memory"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// SQL returns the connection settings for gateway.OpenSQL.
func (g GatewayConfig) SQL() gateway.SQLConfig {
	return gateway.SQLConfig{
		Driver:          g.Driver,
		DSN:             g.DSN,
		MaxOpenConns:    g.MaxOpenConns,
		MaxIdleConns:    g.MaxIdleConns,
		ConnMaxLifetime: g.ConnMaxLifetime,
	}
}

// LedgerConfig selects the history store.
type LedgerConfig struct {
	ledger.StoreConfig `yaml:",inline"`
	MaxEntries         int `yaml:"max_entries" validate:"gt=0"`
}

// SchedulerConfig configures automatic snapshots and history cleanup.
type SchedulerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" validate:"gte=0"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Backup: backup.DefaultConfig(),
		Gateway: GatewayConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Ledger: LedgerConfig{
			StoreConfig: ledger.StoreConfig{Driver: "sqlite", Path: "data/history.db"},
			MaxEntries:  ledger.DefaultMaxEntries,
		},
		Storage: storage.Config{
			Type:     "local",
			Dir:      "data/snapshots",
			Compress: true,
		},
		API: api.Config{
			Enabled:        true,
			ListenAddr:     "127.0.0.1:8088",
			RateLimit:      5,
			RateBurst:      10,
			MaxUploadBytes: 2 * backup.DefaultMaxSnapshotBytes,
			ReadTimeout:    2 * time.Minute,
			WriteTimeout:   5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			SnapshotInterval: 24 * time.Hour,
			CleanupInterval:  backup.DefaultCleanupInterval,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load builds a configuration from defaults, the YAML file at path (when it
// exists) and PMS_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := NewEnvLoader(EnvPrefix).Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
