package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/lotmarket/internal/market"
	"github.com/jensholdgaard/lotmarket/internal/raffle"
)

type raffleRow struct {
	ID         uint64    `db:"id"`
	Item       uuid.UUID `db:"item"`
	Collection uuid.UUID `db:"collection"`
	NumItems   uint8     `db:"num_items"`
	Currency   uuid.UUID `db:"currency"`
	Creator    uuid.UUID `db:"creator"`
	CreatedAt  time.Time `db:"created_at"`
	ExpiresAt  time.Time `db:"expires_at"`

	TicketSupply uint32 `db:"ticket_supply"`
	TicketPrice  uint64 `db:"ticket_price"`
	TicketsSold  uint32 `db:"tickets_sold"`

	EligibleGroups groupsColumn `db:"eligible_groups"`
	RevenueShares  sharesColumn `db:"revenue_shares"`

	Status           string    `db:"status"`
	Stats            u64Column `db:"stats"`
	Winners          u64Column `db:"winners"`
	ClaimMask        uint64    `db:"claim_mask"`
	RemainingClaimed bool      `db:"remaining_claimed"`
	Version          uint64    `db:"version"`
}

func toRaffleRow(r *raffle.Raffle) raffleRow {
	return raffleRow{
		ID:               r.ID,
		Item:             r.Item,
		Collection:       r.Collection,
		NumItems:         r.NumItems,
		Currency:         r.Currency,
		Creator:          r.Creator,
		CreatedAt:        r.CreatedAt,
		ExpiresAt:        r.ExpiresAt,
		TicketSupply:     r.TicketSupply,
		TicketPrice:      r.TicketPrice,
		TicketsSold:      r.TicketsSold,
		EligibleGroups:   groupsColumn(r.EligibleGroups),
		RevenueShares:    sharesColumn(r.RevenueShares),
		Status:           string(r.Status),
		Stats:            u64Column(r.Stats),
		Winners:          u64Column(r.Winners),
		ClaimMask:        r.ClaimMask,
		RemainingClaimed: r.RemainingClaimed,
		Version:          r.Version,
	}
}

func (row raffleRow) toRaffle() *raffle.Raffle {
	return &raffle.Raffle{
		ID:               row.ID,
		Item:             row.Item,
		Collection:       row.Collection,
		NumItems:         row.NumItems,
		Currency:         row.Currency,
		Creator:          row.Creator,
		CreatedAt:        row.CreatedAt,
		ExpiresAt:        row.ExpiresAt,
		TicketSupply:     row.TicketSupply,
		TicketPrice:      row.TicketPrice,
		TicketsSold:      row.TicketsSold,
		EligibleGroups:   row.EligibleGroups,
		RevenueShares:    row.RevenueShares,
		Status:           market.Status(row.Status),
		Stats:            row.Stats,
		Winners:          row.Winners,
		ClaimMask:        row.ClaimMask,
		RemainingClaimed: row.RemainingClaimed,
		Version:          row.Version,
	}
}

func (b *Backend) GetRaffle(ctx context.Context, id uint64) (*raffle.Raffle, error) {
	var row raffleRow
	err := sqlx.GetContext(ctx, q(ctx, b.db), &row, `SELECT * FROM raffles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, raffle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting raffle: %w", err)
	}
	return row.toRaffle(), nil
}

// PutRaffle upserts a raffle guarded by its version, the same way
// PutAuction is. A version mismatch yields market.ErrConflict.
func (b *Backend) PutRaffle(ctx context.Context, r *raffle.Raffle) error {
	row := toRaffleRow(r)
	res, err := sqlx.NamedExecContext(ctx, q(ctx, b.db), `INSERT INTO raffles (
		id, item, collection, num_items, currency, creator, created_at,
		expires_at, ticket_supply, ticket_price, tickets_sold,
		eligible_groups, revenue_shares, status, stats, winners,
		claim_mask, remaining_claimed, version
	) VALUES (
		:id, :item, :collection, :num_items, :currency, :creator, :created_at,
		:expires_at, :ticket_supply, :ticket_price, :tickets_sold,
		:eligible_groups, :revenue_shares, :status, :stats, :winners,
		:claim_mask, :remaining_claimed, :version + 1
	) ON CONFLICT (id) DO UPDATE SET
		tickets_sold = EXCLUDED.tickets_sold,
		status = EXCLUDED.status,
		stats = EXCLUDED.stats,
		winners = EXCLUDED.winners,
		claim_mask = EXCLUDED.claim_mask,
		remaining_claimed = EXCLUDED.remaining_claimed,
		version = raffles.version + 1
	WHERE raffles.version = :version`, row)
	if err != nil {
		return fmt.Errorf("storing raffle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("raffle %d: %w", r.ID, market.ErrConflict)
	}
	return nil
}

type positionRow struct {
	RaffleID   uint64    `db:"raffle_id"`
	Buyer      uuid.UUID `db:"buyer"`
	PositionID uint64    `db:"position_id"`
	Tickets    uint32    `db:"tickets"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (b *Backend) GetPosition(ctx context.Context, raffleID uint64, buyer uuid.UUID) (*raffle.TicketPosition, error) {
	var row positionRow
	err := sqlx.GetContext(ctx, q(ctx, b.db), &row,
		`SELECT * FROM ticket_positions WHERE raffle_id = $1 AND buyer = $2`, raffleID, buyer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting ticket position: %w", err)
	}
	return &raffle.TicketPosition{
		RaffleID:   row.RaffleID,
		Buyer:      row.Buyer,
		PositionID: row.PositionID,
		Tickets:    row.Tickets,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func (b *Backend) PutPosition(ctx context.Context, p *raffle.TicketPosition) error {
	_, err := q(ctx, b.db).ExecContext(ctx,
		`INSERT INTO ticket_positions (raffle_id, buyer, position_id, tickets, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (raffle_id, buyer) DO UPDATE SET
		 tickets = EXCLUDED.tickets, updated_at = EXCLUDED.updated_at`,
		p.RaffleID, p.Buyer, p.PositionID, p.Tickets, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing ticket position: %w", err)
	}
	return nil
}
