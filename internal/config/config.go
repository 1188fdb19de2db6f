// Package config loads the marketd configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Market         MarketConfig         `yaml:"market"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"MARKETD_SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MARKETD_SERVER_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"MARKETD_DB_HOST"`
	Port     int    `yaml:"port" env:"MARKETD_DB_PORT"`
	User     string `yaml:"user" env:"MARKETD_DB_USER"`
	Password string `yaml:"password" env:"MARKETD_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"MARKETD_DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"MARKETD_DB_SSLMODE"`
	Driver   string `yaml:"driver" env:"MARKETD_DB_DRIVER"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// MarketConfig holds the marketplace bootstrap settings, applied only when
// the store has no global config yet.
type MarketConfig struct {
	FeeRateBPS uint16 `yaml:"fee_rate_bps" env:"MARKETD_FEE_RATE_BPS"`
	Treasury   string `yaml:"treasury" env:"MARKETD_TREASURY"`
	Authority  string `yaml:"authority" env:"MARKETD_AUTHORITY"`
	TestMode   bool   `yaml:"test_mode" env:"MARKETD_TEST_MODE"`
}

// TreasuryID parses the treasury identity.
func (m MarketConfig) TreasuryID() (uuid.UUID, error) {
	return uuid.Parse(m.Treasury)
}

// AuthorityID parses the authority identity.
func (m MarketConfig) AuthorityID() (uuid.UUID, error) {
	return uuid.Parse(m.Authority)
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" env:"MARKETD_OTEL_SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"MARKETD_OTEL_ENDPOINT"`
	Insecure       bool   `yaml:"insecure" env:"MARKETD_OTEL_INSECURE"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled" env:"MARKETD_LEADER_ELECTION"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path, then applies
// environment overrides on top of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Market: MarketConfig{
			FeeRateBPS: 200,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "marketd",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "marketd-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Market.FeeRateBPS >= 10000 {
		return fmt.Errorf("market fee rate %d bps: must be below 10000", c.Market.FeeRateBPS)
	}
	if c.Market.Treasury != "" {
		if _, err := c.Market.TreasuryID(); err != nil {
			return fmt.Errorf("parsing treasury id: %w", err)
		}
	}
	if c.Market.Authority != "" {
		if _, err := c.Market.AuthorityID(); err != nil {
			return fmt.Errorf("parsing authority id: %w", err)
		}
	}
	return nil
}
