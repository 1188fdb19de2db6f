// Package memstore provides an in-memory store driver. Atomic serializes
// whole operations under one mutex, and the record writes compare versions
// so a stale snapshot is rejected with market.ErrConflict, matching the
// postgres driver's version-guarded updates. Intended for tests and local
// development; nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/admin"
	"github.com/jensholdgaard/lotmarket/internal/auction"
	"github.com/jensholdgaard/lotmarket/internal/config"
	"github.com/jensholdgaard/lotmarket/internal/eligibility"
	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/market"
	"github.com/jensholdgaard/lotmarket/internal/pageindex"
	"github.com/jensholdgaard/lotmarket/internal/raffle"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
	"github.com/jensholdgaard/lotmarket/internal/store"
)

func init() {
	store.Register("memory", open)
}

func open(_ context.Context, _ config.DatabaseConfig) (*store.Repositories, error) {
	b := New()
	l := ledger.NewMem()
	return &store.Repositories{
		Admin:    b,
		Auctions: b,
		Raffles:  b,
		Pages:    b,
		Ledger:   l,
		Funder:   l,
		Closer:   closerFunc(func() error { return nil }),
		Ping:     func(context.Context) error { return nil },
	}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Backend implements every repository interface over mutex-guarded maps.
// opMu serializes Atomic blocks; mu guards the maps for callers that skip
// Atomic, such as read-only queries.
type Backend struct {
	opMu      sync.Mutex
	mu        sync.Mutex
	cfg       *market.GlobalConfig
	allow     map[string]market.AllowlistEntry
	auctions  map[uint64]auction.Auction
	bids      map[string]auction.Bid
	raffles   map[uint64]raffle.Raffle
	positions map[string]raffle.TicketPosition
	pages     map[string]pageindex.Page
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		allow:     make(map[string]market.AllowlistEntry),
		auctions:  make(map[uint64]auction.Auction),
		bids:      make(map[string]auction.Bid),
		raffles:   make(map[uint64]raffle.Raffle),
		positions: make(map[string]raffle.TicketPosition),
		pages:     make(map[string]pageindex.Page),
	}
}

func allowKey(kind market.AllowlistKind, key uuid.UUID) string {
	return string(kind) + "/" + key.String()
}

func bidKey(auctionID uint64, bidder uuid.UUID) string {
	return fmt.Sprintf("%d/%s", auctionID, bidder)
}

func positionKey(raffleID uint64, buyer uuid.UUID) string {
	return fmt.Sprintf("%d/%s", raffleID, buyer)
}

func pageKey(namespace string, id uint64) string {
	return fmt.Sprintf("%s/%d", namespace, id)
}

// Atomic runs fn while holding the operation mutex, so two racing operations
// execute one after the other. In-memory writes cannot fail partway, which
// makes a serialized fn all-or-nothing.
func (b *Backend) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return fn(ctx)
}

func (b *Backend) Config(_ context.Context) (market.GlobalConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg == nil {
		return market.GlobalConfig{}, admin.ErrNotInitialized
	}
	return *b.cfg, nil
}

func (b *Backend) PutConfig(_ context.Context, cfg market.GlobalConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg != nil && b.cfg.Version != cfg.Version {
		return fmt.Errorf("config: %w", market.ErrConflict)
	}
	cfg.Version++
	b.cfg = &cfg
	return nil
}

func (b *Backend) Allowed(_ context.Context, kind market.AllowlistKind, key uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.allow[allowKey(kind, key)]
	return ok && e.Allowed, nil
}

func (b *Backend) PutAllowlistEntry(_ context.Context, entry market.AllowlistEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allow[allowKey(entry.Kind, entry.Key)] = entry
	return nil
}

func (b *Backend) GetAuction(_ context.Context, id uint64) (*auction.Auction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.auctions[id]
	if !ok {
		return nil, auction.ErrNotFound
	}
	cp := copyAuction(a)
	return &cp, nil
}

func (b *Backend) PutAuction(_ context.Context, a *auction.Auction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stored, ok := b.auctions[a.ID]; ok && stored.Version != a.Version {
		return fmt.Errorf("auction %d: %w", a.ID, market.ErrConflict)
	}
	cp := copyAuction(*a)
	cp.Version++
	b.auctions[a.ID] = cp
	return nil
}

func (b *Backend) GetBid(_ context.Context, auctionID uint64, bidder uuid.UUID) (*auction.Bid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, ok := b.bids[bidKey(auctionID, bidder)]
	if !ok {
		return nil, nil
	}
	return &bid, nil
}

func (b *Backend) PutBid(_ context.Context, bid *auction.Bid) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids[bidKey(bid.AuctionID, bid.Bidder)] = *bid
	return nil
}

func (b *Backend) GetRaffle(_ context.Context, id uint64) (*raffle.Raffle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.raffles[id]
	if !ok {
		return nil, raffle.ErrNotFound
	}
	cp := copyRaffle(r)
	return &cp, nil
}

func (b *Backend) PutRaffle(_ context.Context, r *raffle.Raffle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stored, ok := b.raffles[r.ID]; ok && stored.Version != r.Version {
		return fmt.Errorf("raffle %d: %w", r.ID, market.ErrConflict)
	}
	cp := copyRaffle(*r)
	cp.Version++
	b.raffles[r.ID] = cp
	return nil
}

func (b *Backend) GetPosition(_ context.Context, raffleID uint64, buyer uuid.UUID) (*raffle.TicketPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[positionKey(raffleID, buyer)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (b *Backend) PutPosition(_ context.Context, p *raffle.TicketPosition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[positionKey(p.RaffleID, p.Buyer)] = *p
	return nil
}

func (b *Backend) GetPage(_ context.Context, namespace string, id uint64) (*pageindex.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pages[pageKey(namespace, id)]
	if !ok {
		return nil, nil
	}
	cp := p
	cp.Keys = append([]uuid.UUID(nil), p.Keys...)
	return &cp, nil
}

func (b *Backend) PutPage(_ context.Context, p *pageindex.Page) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *p
	cp.Keys = append([]uuid.UUID(nil), p.Keys...)
	b.pages[pageKey(p.Namespace, p.ID)] = cp
	return nil
}

func copyAuction(a auction.Auction) auction.Auction {
	cp := a
	cp.EligibleGroups = append([]eligibility.Group(nil), a.EligibleGroups...)
	cp.RevenueShares = append([]revenue.Share(nil), a.RevenueShares...)
	if a.TopBidder != nil {
		v := *a.TopBidder
		cp.TopBidder = &v
	}
	return cp
}

func copyRaffle(r raffle.Raffle) raffle.Raffle {
	cp := r
	cp.EligibleGroups = append([]eligibility.Group(nil), r.EligibleGroups...)
	cp.RevenueShares = append([]revenue.Share(nil), r.RevenueShares...)
	cp.Stats = append([]uint64(nil), r.Stats...)
	cp.Winners = append([]uint64(nil), r.Winners...)
	return cp
}
