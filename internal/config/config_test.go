package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jensholdgaard/lotmarket/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
database:
  host: "db.example.com"
  port: 5433
  user: "marketd"
  password: "secret"
  dbname: "lotmarket"
  sslmode: "require"
  driver: "postgres"
server:
  port: 9090
market:
  fee_rate_bps: 300
  treasury: "1d9cefc0-1f0a-4e4a-bc1a-7e4a8f2f2a10"
  authority: "7e6c3a30-9f1e-4f7e-a8d3-0c5b2a1e9f44"
  test_mode: true
telemetry:
  service_name: "my-market"
  otlp_endpoint: "localhost:4318"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5433)
				}
				if cfg.Server.Port != 9090 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 9090)
				}
				if cfg.Market.FeeRateBPS != 300 {
					t.Errorf("got fee rate %d, want %d", cfg.Market.FeeRateBPS, 300)
				}
				if !cfg.Market.TestMode {
					t.Error("test_mode not set")
				}
				if _, err := cfg.Market.TreasuryID(); err != nil {
					t.Errorf("parsing treasury: %v", err)
				}
				if cfg.Telemetry.ServiceName != "my-market" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "my-market")
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
database:
  user: "marketd"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Host != "localhost" {
					t.Errorf("got db host %q, want %q", cfg.Database.Host, "localhost")
				}
				if cfg.Database.Driver != "postgres" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "postgres")
				}
				if cfg.Server.Port != 8080 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 8080)
				}
				if cfg.Market.FeeRateBPS != 200 {
					t.Errorf("got fee rate %d, want %d", cfg.Market.FeeRateBPS, 200)
				}
				if cfg.Telemetry.ServiceName != "marketd" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "marketd")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "unsupported driver",
			yaml: `
database:
  driver: "sqlite"
`,
			wantErr: true,
		},
		{
			name: "fee rate out of range",
			yaml: `
market:
  fee_rate_bps: 10000
`,
			wantErr: true,
		},
		{
			name: "malformed treasury id",
			yaml: `
market:
  treasury: "not-a-uuid"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatalf("writing config: %v", err)
			}
			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_DB_PASSWORD", "from-env")
	t.Setenv("MARKETD_SERVER_PORT", "7070")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
database:
  password: "from-file"
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "from-env" {
		t.Errorf("password = %q, want env override", cfg.Database.Password)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
}

func TestDSN(t *testing.T) {
	d := config.DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", DBName: "m", SSLMode: "disable",
	}
	want := "host=db port=5432 user=u password=p dbname=m sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
