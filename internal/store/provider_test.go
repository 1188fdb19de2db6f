package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jensholdgaard/lotmarket/internal/config"
	"github.com/jensholdgaard/lotmarket/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/jensholdgaard/lotmarket/internal/store/memstore"
	_ "github.com/jensholdgaard/lotmarket/internal/store/postgres"
)

// fakeDriver is a store.Driver that always succeeds without connecting to a DB.
func fakeDriver(_ context.Context, _ config.DatabaseConfig) (*store.Repositories, error) {
	return &store.Repositories{}, nil
}

func TestOpen(t *testing.T) {
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{
			name:    "registered driver succeeds",
			driver:  "test-driver",
			wantErr: false,
		},
		{
			name:    "memory driver succeeds",
			driver:  "memory",
			wantErr: false,
		},
		{
			name:    "unknown driver fails",
			driver:  "nonexistent",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: tt.driver}
			_, err := store.Open(context.Background(), cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestMemoryRepositoriesComplete(t *testing.T) {
	repos, err := store.Open(context.Background(), config.DatabaseConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if repos.Admin == nil || repos.Auctions == nil || repos.Raffles == nil ||
		repos.Pages == nil || repos.Ledger == nil || repos.Funder == nil {
		t.Error("memory driver returned incomplete repositories")
	}
	if err := repos.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := repos.Closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPostgresDriverRegistered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping connection attempt in short mode")
	}
	// The driver will fail to connect (no DB running); the error must be a
	// connection error, not an unknown-driver error.
	cfg := config.DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 1, SSLMode: "disable"}
	_, err := store.Open(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error (no DB running), got nil")
	}
	if strings.Contains(err.Error(), "unknown store driver") {
		t.Errorf("expected connection error, got unknown driver error: %v", err)
	}
}
