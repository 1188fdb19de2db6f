package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/lotmarket/internal/auction"
	"github.com/jensholdgaard/lotmarket/internal/market"
)

type auctionRow struct {
	ID         uint64    `db:"id"`
	Item       uuid.UUID `db:"item"`
	Collection uuid.UUID `db:"collection"`
	Currency   uuid.UUID `db:"currency"`
	Creator    uuid.UUID `db:"creator"`
	CreatedAt  time.Time `db:"created_at"`
	ExpiresAt  time.Time `db:"expires_at"`
	StartBid   uint64    `db:"start_bid"`

	EligibleGroups groupsColumn `db:"eligible_groups"`
	RevenueShares  sharesColumn `db:"revenue_shares"`

	Status    string     `db:"status"`
	TotalBids uint64     `db:"total_bids"`
	TopBid    uint64     `db:"top_bid"`
	TopBidder *uuid.UUID `db:"top_bidder"`
	Version   uint64     `db:"version"`
}

func toAuctionRow(a *auction.Auction) auctionRow {
	return auctionRow{
		ID:             a.ID,
		Item:           a.Item,
		Collection:     a.Collection,
		Currency:       a.Currency,
		Creator:        a.Creator,
		CreatedAt:      a.CreatedAt,
		ExpiresAt:      a.ExpiresAt,
		StartBid:       a.StartBid,
		EligibleGroups: groupsColumn(a.EligibleGroups),
		RevenueShares:  sharesColumn(a.RevenueShares),
		Status:         string(a.Status),
		TotalBids:      a.TotalBids,
		TopBid:         a.TopBid,
		TopBidder:      a.TopBidder,
		Version:        a.Version,
	}
}

func (r auctionRow) toAuction() *auction.Auction {
	return &auction.Auction{
		ID:             r.ID,
		Item:           r.Item,
		Collection:     r.Collection,
		Currency:       r.Currency,
		Creator:        r.Creator,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		StartBid:       r.StartBid,
		EligibleGroups: r.EligibleGroups,
		RevenueShares:  r.RevenueShares,
		Status:         market.Status(r.Status),
		TotalBids:      r.TotalBids,
		TopBid:         r.TopBid,
		TopBidder:      r.TopBidder,
		Version:        r.Version,
	}
}

func (b *Backend) GetAuction(ctx context.Context, id uint64) (*auction.Auction, error) {
	var row auctionRow
	err := sqlx.GetContext(ctx, q(ctx, b.db), &row, `SELECT * FROM auctions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return row.toAuction(), nil
}

// PutAuction upserts an auction guarded by its version: the update only
// lands when the stored version still matches the one the caller read, and
// a new row only inserts at version zero. A mismatch means a concurrent
// writer committed first and yields market.ErrConflict.
func (b *Backend) PutAuction(ctx context.Context, a *auction.Auction) error {
	row := toAuctionRow(a)
	res, err := sqlx.NamedExecContext(ctx, q(ctx, b.db), `INSERT INTO auctions (
		id, item, collection, currency, creator, created_at, expires_at,
		start_bid, eligible_groups, revenue_shares, status, total_bids,
		top_bid, top_bidder, version
	) VALUES (
		:id, :item, :collection, :currency, :creator, :created_at, :expires_at,
		:start_bid, :eligible_groups, :revenue_shares, :status, :total_bids,
		:top_bid, :top_bidder, :version + 1
	) ON CONFLICT (id) DO UPDATE SET
		expires_at = EXCLUDED.expires_at,
		status = EXCLUDED.status,
		total_bids = EXCLUDED.total_bids,
		top_bid = EXCLUDED.top_bid,
		top_bidder = EXCLUDED.top_bidder,
		version = auctions.version + 1
	WHERE auctions.version = :version`, row)
	if err != nil {
		return fmt.Errorf("storing auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("auction %d: %w", a.ID, market.ErrConflict)
	}
	return nil
}

type bidRow struct {
	AuctionID uint64    `db:"auction_id"`
	Bidder    uuid.UUID `db:"bidder"`
	Amount    uint64    `db:"amount"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (b *Backend) GetBid(ctx context.Context, auctionID uint64, bidder uuid.UUID) (*auction.Bid, error) {
	var row bidRow
	err := sqlx.GetContext(ctx, q(ctx, b.db), &row,
		`SELECT * FROM bids WHERE auction_id = $1 AND bidder = $2`, auctionID, bidder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting bid: %w", err)
	}
	return &auction.Bid{
		AuctionID: row.AuctionID,
		Bidder:    row.Bidder,
		Amount:    row.Amount,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (b *Backend) PutBid(ctx context.Context, bid *auction.Bid) error {
	_, err := q(ctx, b.db).ExecContext(ctx, `INSERT INTO bids (auction_id, bidder, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auction_id, bidder) DO UPDATE SET
		amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
		bid.AuctionID, bid.Bidder, bid.Amount, bid.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing bid: %w", err)
	}
	return nil
}
