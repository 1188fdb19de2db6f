// Package raffle implements the weighted-lottery raffle engine: ticket
// sales into escrow, a seeded weighted draw over ticket counts, per-slot
// reward claims and revenue settlement.
package raffle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/eligibility"
	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/market"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
)

// Errors returned by raffle operations.
var (
	ErrNotFound             = errors.New("raffle not found")
	ErrCreationDisabled     = errors.New("raffle creation is disabled")
	ErrInvalidID            = errors.New("raffle id must equal the running total")
	ErrInvalidDuration      = errors.New("raffle duration out of bounds")
	ErrInvalidTicketSupply  = errors.New("ticket supply out of bounds")
	ErrInvalidNumItems      = errors.New("number of raffled items out of bounds")
	ErrCurrencyNotAllowed   = errors.New("currency is not allowlisted")
	ErrCollectionNotAllowed = errors.New("collection is not allowlisted")
	ErrEnded                = errors.New("raffle has ended")
	ErrOngoing              = errors.New("raffle is still ongoing")
	ErrCancelled            = errors.New("raffle is cancelled")
	ErrCreatorCannotBuy     = errors.New("the raffle creator cannot buy tickets")
	ErrZeroTickets          = errors.New("ticket count must be positive")
	ErrSupplyExhausted      = errors.New("purchase exceeds the ticket supply")
	ErrNotCreator           = errors.New("caller is not the raffle creator")
	ErrNotAuthority         = errors.New("caller is not the configured authority")
	ErrNotCancelable        = errors.New("raffle with sold tickets cannot be cancelled")
	ErrAlreadyDrawn         = errors.New("winners already drawn")
	ErrTestModeOnly         = errors.New("operation requires test mode")
	ErrNotDrawn             = errors.New("winners not drawn yet")
	ErrNotWinner            = errors.New("caller does not hold a winning position")
	ErrAlreadyClaimed       = errors.New("reward slot already claimed")
	ErrNoRemainingRewards   = errors.New("no undrawn reward slots remain")
	ErrInvalidWinners       = errors.New("invalid winner position ids")
	ErrInconsistentEscrow   = errors.New("escrow balance inconsistent with recorded state")
)

// Raffle is the persistent record of one raffle listing. Stats grows by one
// slot per distinct buyer; slot index equals that buyer's position id, so
// Stats doubles as the weight vector for the draw.
type Raffle struct {
	ID         uint64
	Item       uuid.UUID
	Collection uuid.UUID
	NumItems   uint8
	Currency   uuid.UUID
	Creator    uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  time.Time

	TicketSupply uint32
	TicketPrice  uint64
	TicketsSold  uint32

	EligibleGroups []eligibility.Group
	RevenueShares  []revenue.Share

	Status  market.Status
	Stats   []uint64
	Winners []uint64
	// ClaimMask bit i marks winner slot i as claimed. NumItems is capped
	// well below 64.
	ClaimMask        uint64
	RemainingClaimed bool

	// Version counts committed writes of this record; stores reject a
	// stale write with market.ErrConflict.
	Version uint64
}

// TicketPosition aggregates one buyer's tickets in one raffle. PositionID is
// dense: assigned sequentially at first purchase.
type TicketPosition struct {
	RaffleID   uint64
	Buyer      uuid.UUID
	PositionID uint64
	Tickets    uint32
	UpdatedAt  time.Time
}

// Ended reports whether the raffle is over at now.
func (r *Raffle) Ended(now time.Time) bool {
	return market.Ended(now, r.ExpiresAt)
}

// Drawn reports whether winners have been assigned. A finished raffle with
// no participants is drawn with an empty winner list.
func (r *Raffle) Drawn() bool {
	return r.Status == market.StatusFinished
}

func (r *Raffle) claimed(slot int) bool {
	return r.ClaimMask&(1<<uint(slot)) != 0
}

// RewardEscrow derives the escrow account holding the raffled item units.
func RewardEscrow(id uint64) ledger.Account {
	return ledger.Escrow("raffle", fmt.Sprintf("%d", id), "rewards")
}

// RevenueEscrow derives the escrow account holding ticket-sale proceeds.
func RevenueEscrow(id uint64) ledger.Account {
	return ledger.Escrow("raffle", fmt.Sprintf("%d", id), "revenue")
}

// PositionIndexNamespace is the page-index namespace holding a raffle's
// buyer keys in first-purchase order.
func PositionIndexNamespace(id uint64) string {
	return fmt.Sprintf("raffle/%d/positions", id)
}

// DrawSeed combines an entropy word with the listing timestamp, so a rerun
// against the same entropy and record reproduces the same winners.
func DrawSeed(entropy uint64, createdAt time.Time) uint64 {
	return entropy ^ uint64(createdAt.UnixNano())
}
