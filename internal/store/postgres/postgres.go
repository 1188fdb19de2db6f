// Package postgres provides the sqlx-backed store driver with OTEL
// instrumentation. Atomic wraps an operation in one transaction, and record
// upserts are version-guarded so exactly one of two conflicting writers
// commits; the loser gets market.ErrConflict.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/lotmarket/internal/config"
	"github.com/jensholdgaard/lotmarket/internal/store"
)

func init() {
	store.Register("postgres", openPostgres)
}

// closerFunc adapts a func() error into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openPostgres is the store.Driver for the "postgres" backend.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := NewBackend(db)
	return &store.Repositories{
		Admin:    b,
		Auctions: b,
		Raffles:  b,
		Pages:    b,
		Ledger:   b.Ledger(),
		Funder:   b.Ledger(),
		Closer:   closerFunc(db.Close),
		Ping:     db.PingContext,
	}, nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Backend implements the repository interfaces over one sqlx connection.
type Backend struct {
	db     *sqlx.DB
	ledger *Ledger
}

// NewBackend returns a Backend on an open connection.
func NewBackend(db *sqlx.DB) *Backend {
	return &Backend{db: db, ledger: &Ledger{db: db}}
}

// Ledger returns the ledger stored in the same database.
func (b *Backend) Ledger() *Ledger {
	return b.ledger
}

// Atomic runs fn inside a single transaction. Every query made through the
// backend or its ledger with the context fn receives joins that transaction,
// so an error anywhere in fn rolls back all of its writes.
func (b *Backend) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return atomic(ctx, b.db, fn)
}

type txKey struct{}

// atomic begins a transaction and stores it in the context for q to pick up.
// A context that already carries a transaction is reused as-is, so nested
// Atomic calls stay in the outer transaction.
func atomic(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// q returns the transaction carried by ctx, or db when there is none.
func q(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}
