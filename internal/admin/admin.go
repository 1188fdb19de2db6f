// Package admin implements marketplace administration: one-time
// initialization, config updates, the currency and collection allowlists
// and the test-mode time override. Every mutating operation is gated on the
// authority installed at Init, which is immutable afterwards.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/lotmarket/internal/market"
	"github.com/jensholdgaard/lotmarket/internal/pageindex"
)

var tracer = otel.Tracer("github.com/jensholdgaard/lotmarket/internal/admin")

var (
	ErrNotInitialized     = errors.New("marketplace not initialized")
	ErrAlreadyInitialized = errors.New("marketplace already initialized")
	ErrNotAuthority       = errors.New("caller is not the configured authority")
	ErrTestModeOnly       = errors.New("operation requires test mode")
	ErrAlreadyAllowed     = errors.New("key is already allowlisted")
)

// Store is the persistence surface for admin operations. Config returns
// ErrNotInitialized before Init has run. Atomic runs fn as one
// all-or-nothing unit: writes made inside fn roll back when it fails, and a
// write that raced a concurrently committed operation on the same record
// surfaces as market.ErrConflict.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	Config(ctx context.Context) (market.GlobalConfig, error)
	PutConfig(ctx context.Context, cfg market.GlobalConfig) error
	Allowed(ctx context.Context, kind market.AllowlistKind, key uuid.UUID) (bool, error)
	PutAllowlistEntry(ctx context.Context, entry market.AllowlistEntry) error
}

// Manager runs all admin operations.
type Manager struct {
	store Store
	index *pageindex.Index
	log   *slog.Logger
}

func NewManager(store Store, pages pageindex.PageStore, log *slog.Logger) *Manager {
	return &Manager{
		store: store,
		index: pageindex.New(pages),
		log:   log.With(slog.String("component", "admin")),
	}
}

func allowlistNamespace(kind market.AllowlistKind) string {
	return "allowlist/" + string(kind)
}

// Init installs the global config exactly once. The caller becomes the
// marketplace authority and cannot be replaced later.
func (m *Manager) Init(ctx context.Context, caller uuid.UUID, feeRateBPS uint16, treasury uuid.UUID, testMode bool) (market.GlobalConfig, error) {
	ctx, span := tracer.Start(ctx, "admin.Init")
	defer span.End()

	var cfg market.GlobalConfig
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		cfg, err = m.init(ctx, caller, feeRateBPS, treasury, testMode)
		return err
	})
	if err != nil {
		return market.GlobalConfig{}, err
	}
	m.log.InfoContext(ctx, "marketplace initialized",
		slog.String("authority", caller.String()),
		slog.Bool("test_mode", testMode))
	return cfg, nil
}

func (m *Manager) init(ctx context.Context, caller uuid.UUID, feeRateBPS uint16, treasury uuid.UUID, testMode bool) (market.GlobalConfig, error) {
	_, err := m.store.Config(ctx)
	switch {
	case err == nil:
		return market.GlobalConfig{}, ErrAlreadyInitialized
	case !errors.Is(err, ErrNotInitialized):
		return market.GlobalConfig{}, err
	}
	cfg := market.NewGlobalConfig(feeRateBPS, treasury, caller, testMode)
	if err := cfg.Validate(); err != nil {
		return market.GlobalConfig{}, err
	}
	if err := m.store.PutConfig(ctx, cfg); err != nil {
		return market.GlobalConfig{}, err
	}
	return cfg, nil
}

// UpdateConfigs applies a partial update to the global config. The result
// is validated as a whole before it replaces the stored record; the
// authority itself is not updatable.
func (m *Manager) UpdateConfigs(ctx context.Context, caller uuid.UUID, update market.ConfigUpdate) (market.GlobalConfig, error) {
	ctx, span := tracer.Start(ctx, "admin.UpdateConfigs")
	defer span.End()

	var next market.GlobalConfig
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		cfg, err := m.authorized(ctx, caller)
		if err != nil {
			return err
		}
		next = cfg.Apply(update)
		if err := next.Validate(); err != nil {
			return err
		}
		return m.store.PutConfig(ctx, next)
	})
	if err != nil {
		return market.GlobalConfig{}, err
	}
	m.log.InfoContext(ctx, "config updated")
	return next, nil
}

// AllowCurrency adds a currency to the allowlist. Append-only.
func (m *Manager) AllowCurrency(ctx context.Context, caller, key uuid.UUID) error {
	return m.allow(ctx, caller, market.AllowlistCurrency, key)
}

// AllowCollection adds a collection to the allowlist. Append-only.
func (m *Manager) AllowCollection(ctx context.Context, caller, key uuid.UUID) error {
	return m.allow(ctx, caller, market.AllowlistCollection, key)
}

func (m *Manager) allow(ctx context.Context, caller uuid.UUID, kind market.AllowlistKind, key uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "admin.Allow",
		trace.WithAttributes(attribute.String("allowlist.kind", string(kind))))
	defer span.End()

	if err := m.store.Atomic(ctx, func(ctx context.Context) error {
		return m.appendAllowed(ctx, caller, kind, key)
	}); err != nil {
		return err
	}
	m.log.InfoContext(ctx, "allowlisted",
		slog.String("kind", string(kind)), slog.String("key", key.String()))
	return nil
}

func (m *Manager) appendAllowed(ctx context.Context, caller uuid.UUID, kind market.AllowlistKind, key uuid.UUID) error {
	cfg, err := m.authorized(ctx, caller)
	if err != nil {
		return err
	}
	ok, err := m.store.Allowed(ctx, kind, key)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyAllowed
	}
	var total uint64
	switch kind {
	case market.AllowlistCurrency:
		total = cfg.TotalAllowedCurrencies
	case market.AllowlistCollection:
		total = cfg.TotalAllowedCollections
	}
	if err := m.index.Append(ctx, allowlistNamespace(kind), total, cfg.IndexPageSize, key); err != nil {
		return err
	}
	if err := m.store.PutAllowlistEntry(ctx, market.AllowlistEntry{Kind: kind, Key: key, Allowed: true}); err != nil {
		return err
	}
	switch kind {
	case market.AllowlistCurrency:
		cfg.TotalAllowedCurrencies++
	case market.AllowlistCollection:
		cfg.TotalAllowedCollections++
	}
	return m.store.PutConfig(ctx, cfg)
}

// SetMockTime overrides the clock for all engines. Test mode only; a nil
// value clears the override.
func (m *Manager) SetMockTime(ctx context.Context, caller uuid.UUID, t *time.Time) error {
	ctx, span := tracer.Start(ctx, "admin.SetMockTime")
	defer span.End()

	return m.store.Atomic(ctx, func(ctx context.Context) error {
		cfg, err := m.authorized(ctx, caller)
		if err != nil {
			return err
		}
		if !cfg.TestMode {
			return ErrTestModeOnly
		}
		cfg.MockTime = t
		return m.store.PutConfig(ctx, cfg)
	})
}

// Config returns the current global config.
func (m *Manager) Config(ctx context.Context) (market.GlobalConfig, error) {
	return m.store.Config(ctx)
}

// AllowedCurrencies lists allowlisted currencies in insertion order.
func (m *Manager) AllowedCurrencies(ctx context.Context) ([]uuid.UUID, error) {
	return m.index.Keys(ctx, allowlistNamespace(market.AllowlistCurrency))
}

// AllowedCollections lists allowlisted collections in insertion order.
func (m *Manager) AllowedCollections(ctx context.Context) ([]uuid.UUID, error) {
	return m.index.Keys(ctx, allowlistNamespace(market.AllowlistCollection))
}

func (m *Manager) authorized(ctx context.Context, caller uuid.UUID) (market.GlobalConfig, error) {
	cfg, err := m.store.Config(ctx)
	if err != nil {
		return market.GlobalConfig{}, err
	}
	if caller != cfg.Authority {
		return market.GlobalConfig{}, ErrNotAuthority
	}
	return cfg, nil
}
