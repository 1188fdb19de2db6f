package auction

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/lotmarket/internal/clock"
	"github.com/jensholdgaard/lotmarket/internal/eligibility"
	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/market"
	"github.com/jensholdgaard/lotmarket/internal/pageindex"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
)

var tracer = otel.Tracer("github.com/jensholdgaard/lotmarket/internal/auction")

// Store is the persistence surface the engine needs. Implementations must
// return ErrNotFound from GetAuction for unknown ids and (nil, nil) from
// GetBid when the bidder has never bid.
//
// Atomic runs fn as one all-or-nothing unit: writes made inside fn roll back
// when it fails, and a write that raced a concurrently committed operation on
// the same record surfaces as market.ErrConflict.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error

	Config(ctx context.Context) (market.GlobalConfig, error)
	PutConfig(ctx context.Context, cfg market.GlobalConfig) error
	Allowed(ctx context.Context, kind market.AllowlistKind, key uuid.UUID) (bool, error)

	GetAuction(ctx context.Context, id uint64) (*Auction, error)
	PutAuction(ctx context.Context, a *Auction) error
	GetBid(ctx context.Context, auctionID uint64, bidder uuid.UUID) (*Bid, error)
	PutBid(ctx context.Context, b *Bid) error
}

// Engine runs all auction operations against a Store and a Ledger.
type Engine struct {
	store  Store
	ledger ledger.Ledger
	index  *pageindex.Index
	dist   *revenue.Distributor
	clock  clock.Clock
	log    *slog.Logger
}

func NewEngine(store Store, l ledger.Ledger, pages pageindex.PageStore, clk clock.Clock, log *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		ledger: l,
		index:  pageindex.New(pages),
		dist:   revenue.NewDistributor(l),
		clock:  clk,
		log:    log.With(slog.String("component", "auction")),
	}
}

// CreateParams carries everything needed to list an item for auction.
type CreateParams struct {
	ID         uint64
	Item       uuid.UUID
	Collection uuid.UUID
	Currency   uuid.UUID
	Creator    uuid.UUID
	Duration   time.Duration
	StartBid   uint64

	EligibleGroups []eligibility.Group
	RevenueShares  []revenue.Share
}

// Create lists an item for auction, escrowing it from the creator. The id
// must be dense: exactly the current auction total.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*Auction, error) {
	ctx, span := tracer.Start(ctx, "auction.Create",
		trace.WithAttributes(attribute.Int64("auction.id", int64(p.ID))))
	defer span.End()

	var a *Auction
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		a, err = e.create(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "auction created",
		slog.Uint64("id", a.ID),
		slog.String("creator", a.Creator.String()),
		slog.Time("expires_at", a.ExpiresAt))
	return a, nil
}

func (e *Engine) create(ctx context.Context, p CreateParams) (*Auction, error) {
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.AuctionCreationEnabled {
		return nil, ErrCreationDisabled
	}
	if p.ID != cfg.TotalAuctions {
		return nil, ErrInvalidID
	}
	if p.Duration < cfg.MinAuctionDuration || p.Duration > cfg.MaxAuctionDuration {
		return nil, ErrInvalidDuration
	}
	if err := eligibility.ValidateGroups(p.EligibleGroups); err != nil {
		return nil, err
	}
	if err := revenue.ValidateShares(p.RevenueShares); err != nil {
		return nil, err
	}
	if ok, err := e.store.Allowed(ctx, market.AllowlistCurrency, p.Currency); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrCurrencyNotAllowed
	}
	if ok, err := e.store.Allowed(ctx, market.AllowlistCollection, p.Collection); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrCollectionNotAllowed
	}

	now := cfg.Now(e.clock)
	if err := e.ledger.Transfer(ctx, p.Item, ledger.Owned(p.Creator), LotEscrow(p.ID), 1); err != nil {
		return nil, err
	}

	a := &Auction{
		ID:             p.ID,
		Item:           p.Item,
		Collection:     p.Collection,
		Currency:       p.Currency,
		Creator:        p.Creator,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.Duration),
		StartBid:       p.StartBid,
		EligibleGroups: p.EligibleGroups,
		RevenueShares:  p.RevenueShares,
		Status:         market.StatusInProgress,
	}
	if err := e.store.PutAuction(ctx, a); err != nil {
		return nil, err
	}
	cfg.TotalAuctions++
	if err := e.store.PutConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Bid places or raises a bid. requested is the desired amount, maxAllowed
// caps what the bidder is willing to pay when the outbid floor lifts the
// effective amount. Returns the amount actually escrowed.
func (e *Engine) Bid(ctx context.Context, auctionID uint64, bidder uuid.UUID, requested, maxAllowed uint64, proof *eligibility.Proof) (uint64, error) {
	ctx, span := tracer.Start(ctx, "auction.Bid",
		trace.WithAttributes(attribute.Int64("auction.id", int64(auctionID))))
	defer span.End()

	var actual uint64
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		actual, err = e.bid(ctx, auctionID, bidder, requested, maxAllowed, proof)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.log.InfoContext(ctx, "bid placed",
		slog.Uint64("auction", auctionID),
		slog.String("bidder", bidder.String()),
		slog.Uint64("amount", actual))
	return actual, nil
}

func (e *Engine) bid(ctx context.Context, auctionID uint64, bidder uuid.UUID, requested, maxAllowed uint64, proof *eligibility.Proof) (uint64, error) {
	a, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return 0, err
	}
	if bidder == a.Creator {
		return 0, ErrCreatorCannotBid
	}
	if err := eligibility.Check(a.EligibleGroups, bidder, proof); err != nil {
		return 0, err
	}
	now := cfg.Now(e.clock)
	if a.Status == market.StatusCancelled {
		return 0, ErrCancelled
	}
	if a.Ended(now) {
		return 0, ErrEnded
	}
	if requested == 0 || maxAllowed < requested {
		return 0, ErrInvalidBidAmount
	}
	if requested < a.StartBid {
		return 0, ErrBelowStartBid
	}
	// The rate floor can round down to the standing top bid itself, so a
	// strict ceiling-beats-top check guards ties independently.
	minEligible := MinEligibleBid(a.TopBid, cfg.MinOutbidRateBPS)
	if a.TopBid > 0 && (maxAllowed <= a.TopBid || maxAllowed < minEligible) {
		return 0, ErrBelowMinOutbid
	}
	actual := requested
	if actual < minEligible {
		actual = minEligible
	}

	bid, err := e.store.GetBid(ctx, auctionID, bidder)
	if err != nil {
		return 0, err
	}
	escrow := BidEscrow(auctionID, bidder)
	held, err := e.ledger.Balance(ctx, a.Currency, escrow)
	if err != nil {
		return 0, err
	}
	if actual <= held {
		return 0, ErrInvalidBidAmount
	}
	if err := e.ledger.Transfer(ctx, a.Currency, ledger.Owned(bidder), escrow, actual-held); err != nil {
		return 0, err
	}

	if bid == nil {
		if err := e.index.Append(ctx, BidIndexNamespace(auctionID), a.TotalBids, cfg.IndexPageSize, bidder); err != nil {
			return 0, err
		}
		a.TotalBids++
		bid = &Bid{AuctionID: auctionID, Bidder: bidder}
	}
	bid.Amount = actual
	bid.UpdatedAt = now
	if err := e.store.PutBid(ctx, bid); err != nil {
		return 0, err
	}

	a.TopBid = actual
	a.TopBidder = &bidder
	if now.After(a.ExpiresAt.Add(-cfg.ExtendWindow)) {
		a.ExpiresAt = now.Add(cfg.ExtendLength)
	}
	if err := e.store.PutAuction(ctx, a); err != nil {
		return 0, err
	}
	return actual, nil
}

// Cancel withdraws a listing that received no bids, returning the item to
// the creator.
func (e *Engine) Cancel(ctx context.Context, id uint64, caller uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "auction.Cancel",
		trace.WithAttributes(attribute.Int64("auction.id", int64(id))))
	defer span.End()

	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.cancel(ctx, id, caller)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "auction cancelled", slog.Uint64("id", id))
	return nil
}

func (e *Engine) cancel(ctx context.Context, id uint64, caller uuid.UUID) error {
	a, err := e.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if caller != a.Creator {
		return ErrNotCreator
	}
	if a.TotalBids != 0 {
		return ErrNotCancelable
	}
	escrow := LotEscrow(id)
	if err := e.ledger.Transfer(ctx, a.Item, escrow, ledger.Owned(a.Creator), 1); err != nil {
		return err
	}
	if err := e.ledger.Close(ctx, a.Item, escrow); err != nil {
		return err
	}
	a.Status = market.StatusCancelled
	return e.store.PutAuction(ctx, a)
}

// CancelBid refunds a non-top bid in full and zeroes the bid record. Allowed
// while the auction runs and after it ends; an ended auction is finalized on
// the way out.
func (e *Engine) CancelBid(ctx context.Context, id uint64, bidder uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "auction.CancelBid",
		trace.WithAttributes(attribute.Int64("auction.id", int64(id))))
	defer span.End()

	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.cancelBid(ctx, id, bidder)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "bid cancelled",
		slog.Uint64("auction", id), slog.String("bidder", bidder.String()))
	return nil
}

func (e *Engine) cancelBid(ctx context.Context, id uint64, bidder uuid.UUID) error {
	a, err := e.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return err
	}
	bid, err := e.store.GetBid(ctx, id, bidder)
	if err != nil {
		return err
	}
	if bid == nil || bid.Amount == 0 {
		return ErrNoBid
	}
	if a.TopBidder != nil && *a.TopBidder == bidder {
		return ErrTopBidderCannotCancel
	}
	escrow := BidEscrow(id, bidder)
	held, err := e.ledger.Balance(ctx, a.Currency, escrow)
	if err != nil {
		return err
	}
	if held != bid.Amount {
		return ErrInconsistentEscrow
	}
	if err := e.ledger.Transfer(ctx, a.Currency, escrow, ledger.Owned(bidder), held); err != nil {
		return err
	}
	if err := e.ledger.Close(ctx, a.Currency, escrow); err != nil {
		return err
	}
	now := cfg.Now(e.clock)
	bid.Amount = 0
	bid.UpdatedAt = now
	if err := e.store.PutBid(ctx, bid); err != nil {
		return err
	}
	if a.Ended(now) && a.Status == market.StatusInProgress {
		a.finalize()
		if err := e.store.PutAuction(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// ClaimLot hands the item to the winning bidder once the auction has ended.
func (e *Engine) ClaimLot(ctx context.Context, id uint64, caller uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "auction.ClaimLot",
		trace.WithAttributes(attribute.Int64("auction.id", int64(id))))
	defer span.End()

	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.claimLot(ctx, id, caller)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "lot claimed",
		slog.Uint64("auction", id), slog.String("winner", caller.String()))
	return nil
}

func (e *Engine) claimLot(ctx context.Context, id uint64, caller uuid.UUID) error {
	a, err := e.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return err
	}
	if a.TopBidder == nil || *a.TopBidder != caller {
		return ErrNotTopBidder
	}
	if !a.Ended(cfg.Now(e.clock)) {
		return ErrOngoing
	}
	escrow := LotEscrow(id)
	held, err := e.ledger.Balance(ctx, a.Item, escrow)
	if err != nil {
		return err
	}
	if held != 1 {
		return ErrInconsistentEscrow
	}
	if err := e.ledger.Transfer(ctx, a.Item, escrow, ledger.Owned(caller), 1); err != nil {
		return err
	}
	if err := e.ledger.Close(ctx, a.Item, escrow); err != nil {
		return err
	}
	a.finalize()
	return e.store.PutAuction(ctx, a)
}

// ClaimRevenue pays out the winning bid: the protocol fee to the treasury
// and the rest to the configured revenue shares.
func (e *Engine) ClaimRevenue(ctx context.Context, id uint64, caller uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "auction.ClaimRevenue",
		trace.WithAttributes(attribute.Int64("auction.id", int64(id))))
	defer span.End()

	var amount uint64
	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.claimRevenue(ctx, id, caller, &amount)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "revenue claimed",
		slog.Uint64("auction", id), slog.Uint64("amount", amount))
	return nil
}

func (e *Engine) claimRevenue(ctx context.Context, id uint64, caller uuid.UUID, amount *uint64) error {
	a, err := e.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return err
	}
	if caller != a.Creator {
		return ErrNotCreator
	}
	if !a.Ended(cfg.Now(e.clock)) {
		return ErrOngoing
	}
	if a.TopBidder == nil {
		return ErrNoBids
	}
	escrow := BidEscrow(id, *a.TopBidder)
	held, err := e.ledger.Balance(ctx, a.Currency, escrow)
	if err != nil {
		return err
	}
	if held != a.TopBid {
		return ErrInconsistentEscrow
	}
	if err := e.dist.Distribute(ctx, a.Currency, escrow, cfg.FeeTreasury, cfg.FeeRateBPS, a.RevenueShares); err != nil {
		return err
	}
	*amount = a.TopBid
	a.finalize()
	return e.store.PutAuction(ctx, a)
}

// Get returns a single auction record.
func (e *Engine) Get(ctx context.Context, id uint64) (*Auction, error) {
	return e.store.GetAuction(ctx, id)
}

// Bids returns all bid records for an auction in first-bid order.
func (e *Engine) Bids(ctx context.Context, id uint64) ([]Bid, error) {
	ctx, span := tracer.Start(ctx, "auction.Bids",
		trace.WithAttributes(attribute.Int64("auction.id", int64(id))))
	defer span.End()

	if _, err := e.store.GetAuction(ctx, id); err != nil {
		return nil, err
	}
	keys, err := e.index.Keys(ctx, BidIndexNamespace(id))
	if err != nil {
		return nil, err
	}
	bids := make([]Bid, 0, len(keys))
	for _, bidder := range keys {
		b, err := e.store.GetBid(ctx, id, bidder)
		if err != nil {
			return nil, err
		}
		if b != nil {
			bids = append(bids, *b)
		}
	}
	return bids, nil
}
