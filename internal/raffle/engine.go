package raffle

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
	"github.com/jensholdgaard/lotmarket/internal/sampler"
)

var tracer = otel.Tracer("github.com/jensholdgaard/lotmarket/internal/raffle")

// Store is the persistence surface the engine needs. GetRaffle returns
// ErrNotFound for unknown ids; GetPosition returns (nil, nil) when the buyer
// holds no position.
//
// Atomic runs fn as one all-or-nothing unit: writes made inside fn roll back
// when it fails, and a write that raced a concurrently committed operation on
// the same record surfaces as market.ErrConflict.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error

	Config(ctx context.Context) (market.GlobalConfig, error)
	PutConfig(ctx context.Context, cfg market.GlobalConfig) error
	Allowed(ctx context.Context, kind market.AllowlistKind, key uuid.UUID) (bool, error)

	GetRaffle(ctx context.Context, id uint64) (*Raffle, error)
	PutRaffle(ctx context.Context, r *Raffle) error
	GetPosition(ctx context.Context, raffleID uint64, buyer uuid.UUID) (*TicketPosition, error)
	PutPosition(ctx context.Context, p *TicketPosition) error
}

// Engine runs all raffle operations against a Store and a Ledger.
type Engine struct {
	store   Store
	ledger  ledger.Ledger
	index   *pageindex.Index
	dist    *revenue.Distributor
	clock   clock.Clock
	entropy EntropySource
	log     *slog.Logger
}

func NewEngine(store Store, l ledger.Ledger, pages pageindex.PageStore, clk clock.Clock, entropy EntropySource, log *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		ledger:  l,
		index:   pageindex.New(pages),
		dist:    revenue.NewDistributor(l),
		clock:   clk,
		entropy: entropy,
		log:     log.With(slog.String("component", "raffle")),
	}
}

// CreateParams carries everything needed to list a raffle.
type CreateParams struct {
	ID           uint64
	Item         uuid.UUID
	Collection   uuid.UUID
	NumItems     uint8
	Currency     uuid.UUID
	Creator      uuid.UUID
	Duration     time.Duration
	TicketSupply uint32
	TicketPrice  uint64

	EligibleGroups []eligibility.Group
	RevenueShares  []revenue.Share
}

// Create lists a raffle, escrowing NumItems units of the item from the
// creator. The id must be dense: exactly the current raffle total.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*Raffle, error) {
	ctx, span := tracer.Start(ctx, "raffle.Create",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(p.ID))))
	defer span.End()

	var r *Raffle
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		r, err = e.create(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "raffle created",
		slog.Uint64("id", r.ID),
		slog.String("creator", r.Creator.String()),
		slog.Time("expires_at", r.ExpiresAt))
	return r, nil
}

func (e *Engine) create(ctx context.Context, p CreateParams) (*Raffle, error) {
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.RaffleCreationEnabled {
		return nil, ErrCreationDisabled
	}
	if p.ID != cfg.TotalRaffles {
		return nil, ErrInvalidID
	}
	if p.Duration < cfg.MinRaffleDuration || p.Duration > cfg.MaxRaffleDuration {
		return nil, ErrInvalidDuration
	}
	if p.TicketSupply < uint32(cfg.MinTicketSupply) || p.TicketSupply > uint32(cfg.MaxTicketSupply) {
		return nil, ErrInvalidTicketSupply
	}
	if p.NumItems == 0 || p.NumItems > cfg.MaxRaffledItems {
		return nil, ErrInvalidNumItems
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
	if err := e.ledger.Transfer(ctx, p.Item, ledger.Owned(p.Creator), RewardEscrow(p.ID), uint64(p.NumItems)); err != nil {
		return nil, err
	}

	r := &Raffle{
		ID:             p.ID,
		Item:           p.Item,
		Collection:     p.Collection,
		NumItems:       p.NumItems,
		Currency:       p.Currency,
		Creator:        p.Creator,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.Duration),
		TicketSupply:   p.TicketSupply,
		TicketPrice:    p.TicketPrice,
		EligibleGroups: p.EligibleGroups,
		RevenueShares:  p.RevenueShares,
		Status:         market.StatusInProgress,
	}
	if err := e.store.PutRaffle(ctx, r); err != nil {
		return nil, err
	}
	cfg.TotalRaffles++
	if err := e.store.PutConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// BuyTickets sells count tickets to buyer, moving count*price into the
// revenue escrow. The first purchase by a buyer allocates their position.
func (e *Engine) BuyTickets(ctx context.Context, raffleID uint64, buyer uuid.UUID, count uint32, proof *eligibility.Proof) (*TicketPosition, error) {
	ctx, span := tracer.Start(ctx, "raffle.BuyTickets",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(raffleID))))
	defer span.End()

	var pos *TicketPosition
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		pos, err = e.buyTickets(ctx, raffleID, buyer, count, proof)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "tickets bought",
		slog.Uint64("raffle", raffleID),
		slog.String("buyer", buyer.String()),
		slog.Uint64("count", uint64(count)))
	return pos, nil
}

func (e *Engine) buyTickets(ctx context.Context, raffleID uint64, buyer uuid.UUID, count uint32, proof *eligibility.Proof) (*TicketPosition, error) {
	r, err := e.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return nil, err
	}
	if buyer == r.Creator {
		return nil, ErrCreatorCannotBuy
	}
	if err := eligibility.Check(r.EligibleGroups, buyer, proof); err != nil {
		return nil, err
	}
	now := cfg.Now(e.clock)
	if r.Status == market.StatusCancelled {
		return nil, ErrCancelled
	}
	if r.Ended(now) {
		return nil, ErrEnded
	}
	if count == 0 {
		return nil, ErrZeroTickets
	}
	// TicketsSold never exceeds TicketSupply, so the subtraction cannot
	// wrap even for counts near the uint32 ceiling.
	if count > r.TicketSupply-r.TicketsSold {
		return nil, ErrSupplyExhausted
	}

	if err := e.ledger.Transfer(ctx, r.Currency, ledger.Owned(buyer), RevenueEscrow(raffleID), uint64(count)*r.TicketPrice); err != nil {
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, raffleID, buyer)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		id := uint64(len(r.Stats))
		if err := e.index.Append(ctx, PositionIndexNamespace(raffleID), id, cfg.IndexPageSize, buyer); err != nil {
			return nil, err
		}
		r.Stats = append(r.Stats, 0)
		pos = &TicketPosition{RaffleID: raffleID, Buyer: buyer, PositionID: id}
	}
	pos.Tickets += count
	pos.UpdatedAt = now
	r.Stats[pos.PositionID] += uint64(count)
	r.TicketsSold += count
	if err := e.store.PutPosition(ctx, pos); err != nil {
		return nil, err
	}
	if err := e.store.PutRaffle(ctx, r); err != nil {
		return nil, err
	}
	return pos, nil
}

// Draw picks min(NumItems, participants) distinct winners weighted by ticket
// counts and finalizes the raffle. rerun re-derives winners and is only
// allowed in test mode.
func (e *Engine) Draw(ctx context.Context, id uint64, caller uuid.UUID, rerun bool) (*Raffle, error) {
	ctx, span := tracer.Start(ctx, "raffle.Draw",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(id))))
	defer span.End()

	var r *Raffle
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		r, err = e.draw(ctx, id, caller, rerun)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "raffle drawn",
		slog.Uint64("id", id), slog.Int("winners", len(r.Winners)))
	return r, nil
}

func (e *Engine) draw(ctx context.Context, id uint64, caller uuid.UUID, rerun bool) (*Raffle, error) {
	r, err := e.store.GetRaffle(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return nil, err
	}
	if caller != cfg.Authority {
		return nil, ErrNotAuthority
	}
	if r.Status == market.StatusCancelled {
		return nil, ErrCancelled
	}
	if !r.Ended(cfg.Now(e.clock)) {
		return nil, ErrOngoing
	}
	if rerun && !cfg.TestMode {
		return nil, ErrTestModeOnly
	}
	if r.Drawn() && !rerun {
		return nil, ErrAlreadyDrawn
	}

	numWinners := int(r.NumItems)
	if n := len(r.Stats); n < numWinners {
		numWinners = n
	}
	winners := []uint64(nil)
	if numWinners > 0 {
		entropy, err := e.entropy.Draw(ctx)
		if err != nil {
			return nil, err
		}
		picked, err := sampler.PickWinners(r.Stats, uint64(r.TicketsSold), numWinners, DrawSeed(entropy, r.CreatedAt))
		if err != nil {
			return nil, err
		}
		winners = make([]uint64, len(picked))
		for i, p := range picked {
			winners[i] = uint64(p)
		}
	}
	r.Winners = winners
	r.ClaimMask = 0
	r.RemainingClaimed = false
	r.Status = market.StatusFinished
	if err := e.store.PutRaffle(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SetWinners assigns winners directly, bypassing the draw. Test mode only.
func (e *Engine) SetWinners(ctx context.Context, id uint64, caller uuid.UUID, winners []uint64) (*Raffle, error) {
	ctx, span := tracer.Start(ctx, "raffle.SetWinners",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(id))))
	defer span.End()

	var r *Raffle
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		r, err = e.setWinners(ctx, id, caller, winners)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) setWinners(ctx context.Context, id uint64, caller uuid.UUID, winners []uint64) (*Raffle, error) {
	r, err := e.store.GetRaffle(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return nil, err
	}
	if caller != cfg.Authority {
		return nil, ErrNotAuthority
	}
	if !cfg.TestMode {
		return nil, ErrTestModeOnly
	}
	if r.Status == market.StatusCancelled {
		return nil, ErrCancelled
	}
	if !r.Ended(cfg.Now(e.clock)) {
		return nil, ErrOngoing
	}
	if len(winners) > int(r.NumItems) {
		return nil, ErrInvalidWinners
	}
	seen := make(map[uint64]struct{}, len(winners))
	for _, w := range winners {
		if w >= uint64(len(r.Stats)) {
			return nil, ErrInvalidWinners
		}
		if _, dup := seen[w]; dup {
			return nil, ErrInvalidWinners
		}
		seen[w] = struct{}{}
	}
	r.Winners = winners
	r.ClaimMask = 0
	r.RemainingClaimed = false
	r.Status = market.StatusFinished
	if err := e.store.PutRaffle(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ClaimReward hands one item unit to a winning position holder. Each winner
// slot fires once, tracked by the claim mask.
func (e *Engine) ClaimReward(ctx context.Context, id uint64, caller uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "raffle.ClaimReward",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(id))))
	defer span.End()

	var slot int
	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.claimReward(ctx, id, caller, &slot)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "reward claimed",
		slog.Uint64("raffle", id),
		slog.String("winner", caller.String()),
		slog.Int("slot", slot))
	return nil
}

func (e *Engine) claimReward(ctx context.Context, id uint64, caller uuid.UUID, claimedSlot *int) error {
	r, err := e.store.GetRaffle(ctx, id)
	if err != nil {
		return err
	}
	if r.Status == market.StatusCancelled {
		return ErrCancelled
	}
	if !r.Drawn() {
		return ErrNotDrawn
	}
	pos, err := e.store.GetPosition(ctx, id, caller)
	if err != nil {
		return err
	}
	if pos == nil {
		return ErrNotWinner
	}
	slot := -1
	for i, w := range r.Winners {
		if w == pos.PositionID {
			slot = i
			break
		}
	}
	if slot < 0 {
		return ErrNotWinner
	}
	if r.claimed(slot) {
		return ErrAlreadyClaimed
	}
	escrow := RewardEscrow(id)
	if err := e.ledger.Transfer(ctx, r.Item, escrow, ledger.Owned(caller), 1); err != nil {
		return err
	}
	r.ClaimMask |= 1 << uint(slot)
	if err := e.closeWhenEmpty(ctx, r.Item, escrow); err != nil {
		return err
	}
	*claimedSlot = slot
	return e.store.PutRaffle(ctx, r)
}

// ClaimRemaining returns the undrawn item units to the creator, covering
// raffles with fewer participants than items.
func (e *Engine) ClaimRemaining(ctx context.Context, id uint64, caller uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "raffle.ClaimRemaining",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(id))))
	defer span.End()

	var count uint64
	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.claimRemaining(ctx, id, caller, &count)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "remaining rewards claimed",
		slog.Uint64("raffle", id), slog.Uint64("count", count))
	return nil
}

func (e *Engine) claimRemaining(ctx context.Context, id uint64, caller uuid.UUID, count *uint64) error {
	r, err := e.store.GetRaffle(ctx, id)
	if err != nil {
		return err
	}
	if caller != r.Creator {
		return ErrNotCreator
	}
	if r.Status == market.StatusCancelled {
		return ErrCancelled
	}
	if !r.Drawn() {
		return ErrNotDrawn
	}
	remaining := uint64(r.NumItems) - uint64(len(r.Winners))
	if remaining == 0 || r.RemainingClaimed {
		return ErrNoRemainingRewards
	}
	escrow := RewardEscrow(id)
	held, err := e.ledger.Balance(ctx, r.Item, escrow)
	if err != nil {
		return err
	}
	if held < remaining {
		return ErrInconsistentEscrow
	}
	if err := e.ledger.Transfer(ctx, r.Item, escrow, ledger.Owned(r.Creator), remaining); err != nil {
		return err
	}
	r.RemainingClaimed = true
	if err := e.closeWhenEmpty(ctx, r.Item, escrow); err != nil {
		return err
	}
	*count = remaining
	return e.store.PutRaffle(ctx, r)
}

// ClaimRevenue routes the full ticket-sale escrow through the revenue split.
func (e *Engine) ClaimRevenue(ctx context.Context, id uint64, caller uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "raffle.ClaimRevenue",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(id))))
	defer span.End()

	var amount uint64
	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.claimRevenue(ctx, id, caller, &amount)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "revenue claimed",
		slog.Uint64("raffle", id), slog.Uint64("amount", amount))
	return nil
}

func (e *Engine) claimRevenue(ctx context.Context, id uint64, caller uuid.UUID, amount *uint64) error {
	r, err := e.store.GetRaffle(ctx, id)
	if err != nil {
		return err
	}
	cfg, err := e.store.Config(ctx)
	if err != nil {
		return err
	}
	if caller != r.Creator {
		return ErrNotCreator
	}
	if r.Status == market.StatusCancelled {
		return ErrCancelled
	}
	if !r.Drawn() {
		return ErrNotDrawn
	}
	escrow := RevenueEscrow(id)
	held, err := e.ledger.Balance(ctx, r.Currency, escrow)
	if err != nil {
		return err
	}
	if held != uint64(r.TicketsSold)*r.TicketPrice {
		return ErrInconsistentEscrow
	}
	if err := e.dist.Distribute(ctx, r.Currency, escrow, cfg.FeeTreasury, cfg.FeeRateBPS, r.RevenueShares); err != nil {
		return err
	}
	*amount = held
	return nil
}

// Cancel withdraws a raffle that sold no tickets, returning all item units
// to the creator.
func (e *Engine) Cancel(ctx context.Context, id uint64, caller uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "raffle.Cancel",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(id))))
	defer span.End()

	if err := e.store.Atomic(ctx, func(ctx context.Context) error {
		return e.cancel(ctx, id, caller)
	}); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "raffle cancelled", slog.Uint64("id", id))
	return nil
}

func (e *Engine) cancel(ctx context.Context, id uint64, caller uuid.UUID) error {
	r, err := e.store.GetRaffle(ctx, id)
	if err != nil {
		return err
	}
	if caller != r.Creator {
		return ErrNotCreator
	}
	if r.TicketsSold != 0 {
		return ErrNotCancelable
	}
	escrow := RewardEscrow(id)
	if err := e.ledger.Transfer(ctx, r.Item, escrow, ledger.Owned(r.Creator), uint64(r.NumItems)); err != nil {
		return err
	}
	if err := e.ledger.Close(ctx, r.Item, escrow); err != nil {
		return err
	}
	if err := e.ledger.Close(ctx, r.Currency, RevenueEscrow(id)); err != nil {
		return err
	}
	r.Status = market.StatusCancelled
	return e.store.PutRaffle(ctx, r)
}

// Get returns a single raffle record.
func (e *Engine) Get(ctx context.Context, id uint64) (*Raffle, error) {
	return e.store.GetRaffle(ctx, id)
}

// Positions returns all ticket positions in first-purchase order.
func (e *Engine) Positions(ctx context.Context, id uint64) ([]TicketPosition, error) {
	ctx, span := tracer.Start(ctx, "raffle.Positions",
		trace.WithAttributes(attribute.Int64("raffle.id", int64(id))))
	defer span.End()

	if _, err := e.store.GetRaffle(ctx, id); err != nil {
		return nil, err
	}
	keys, err := e.index.Keys(ctx, PositionIndexNamespace(id))
	if err != nil {
		return nil, err
	}
	positions := make([]TicketPosition, 0, len(keys))
	for _, buyer := range keys {
		p, err := e.store.GetPosition(ctx, id, buyer)
		if err != nil {
			return nil, err
		}
		if p != nil {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}

func (e *Engine) closeWhenEmpty(ctx context.Context, asset uuid.UUID, acct ledger.Account) error {
	held, err := e.ledger.Balance(ctx, asset, acct)
	if err != nil {
		return err
	}
	if held == 0 {
		return e.ledger.Close(ctx, asset, acct)
	}
	return nil
}
