// Package auction implements the timed ascending auction engine: bid
// admission with outbid floors, anti-snipe time extension, cancellation and
// the two claim flows that settle an ended auction.
package auction

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

// Errors returned by auction operations.
var (
	ErrNotFound              = errors.New("auction not found")
	ErrCreationDisabled      = errors.New("auction creation is disabled")
	ErrInvalidID             = errors.New("auction id must equal the running total")
	ErrInvalidDuration       = errors.New("auction duration out of bounds")
	ErrCurrencyNotAllowed    = errors.New("currency is not allowlisted")
	ErrCollectionNotAllowed  = errors.New("collection is not allowlisted")
	ErrEnded                 = errors.New("auction has ended")
	ErrOngoing               = errors.New("auction is still ongoing")
	ErrCancelled             = errors.New("auction is cancelled")
	ErrInvalidBidAmount      = errors.New("invalid bid amount")
	ErrBelowStartBid         = errors.New("bid below the start bid")
	ErrBelowMinOutbid        = errors.New("minimum outbid rate not met")
	ErrCreatorCannotBid      = errors.New("the auction creator cannot bid")
	ErrNotCreator            = errors.New("caller is not the auction creator")
	ErrNotCancelable         = errors.New("auction with bids cannot be cancelled")
	ErrNoBid                 = errors.New("no bid recorded for this caller")
	ErrNoBids                = errors.New("auction received no bids")
	ErrNotTopBidder          = errors.New("caller is not the top bidder")
	ErrTopBidderCannotCancel = errors.New("the top bidder cannot cancel their bid")
	ErrInconsistentEscrow    = errors.New("escrow balance inconsistent with recorded state")
)

// Auction is the persistent record of one listing. It is created once and
// then mutated only by bid, cancel and claim operations; records are never
// deleted.
type Auction struct {
	ID         uint64
	Item       uuid.UUID
	Collection uuid.UUID
	Currency   uuid.UUID
	Creator    uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  time.Time
	StartBid   uint64

	EligibleGroups []eligibility.Group
	RevenueShares  []revenue.Share

	Status    market.Status
	TotalBids uint64
	TopBid    uint64
	TopBidder *uuid.UUID

	// Version counts committed writes of this record; stores reject a
	// stale write with market.ErrConflict.
	Version uint64
}

// Bid is the per-bidder record, keyed by (auction, bidder) and reused across
// repeated bids. Amount drops to zero when the bid is cancelled.
type Bid struct {
	AuctionID uint64
	Bidder    uuid.UUID
	Amount    uint64
	UpdatedAt time.Time
}

// MinEligibleBid computes the outbid floor over the current top bid:
// topBid + topBid*rateBPS/10000 in integer arithmetic. Zero when there is
// no prior bid.
func MinEligibleBid(topBid uint64, rateBPS uint16) uint64 {
	return topBid + topBid*uint64(rateBPS)/10000
}

// Ended reports whether the auction is over at now.
func (a *Auction) Ended(now time.Time) bool {
	return market.Ended(now, a.ExpiresAt)
}

// finalize moves the auction to Finished; idempotent.
func (a *Auction) finalize() {
	if a.Status != market.StatusFinished {
		a.Status = market.StatusFinished
	}
}

// LotEscrow derives the escrow account holding the auctioned item.
func LotEscrow(id uint64) ledger.Account {
	return ledger.Escrow("auction", fmt.Sprintf("%d", id), "lot")
}

// BidEscrow derives the per-bidder escrow account holding bid funds.
func BidEscrow(id uint64, bidder uuid.UUID) ledger.Account {
	return ledger.Escrow("auction", fmt.Sprintf("%d", id), "bid", bidder.String())
}

// BidIndexNamespace is the page-index namespace holding an auction's bidder
// keys in first-bid order.
func BidIndexNamespace(id uint64) string {
	return fmt.Sprintf("auction/%d/bids", id)
}
