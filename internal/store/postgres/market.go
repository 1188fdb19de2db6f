package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/lotmarket/internal/admin"
	"github.com/jensholdgaard/lotmarket/internal/market"
)

// configRow mirrors the single global_config row. Durations are stored as
// nanosecond BIGINTs.
type configRow struct {
	FeeRateBPS       uint16    `db:"fee_rate_bps"`
	FeeTreasury      uuid.UUID `db:"fee_treasury"`
	Authority        uuid.UUID `db:"authority"`
	MinOutbidRateBPS uint16    `db:"min_outbid_rate_bps"`

	ExtendWindow time.Duration `db:"extend_window"`
	ExtendLength time.Duration `db:"extend_length"`

	MinAuctionDuration time.Duration `db:"min_auction_duration"`
	MaxAuctionDuration time.Duration `db:"max_auction_duration"`
	MinRaffleDuration  time.Duration `db:"min_raffle_duration"`
	MaxRaffleDuration  time.Duration `db:"max_raffle_duration"`
	MinTicketSupply    uint16        `db:"min_ticket_supply"`
	MaxTicketSupply    uint16        `db:"max_ticket_supply"`
	MaxRaffledItems    uint8         `db:"max_raffled_items"`

	AuctionCreationEnabled bool `db:"auction_creation_enabled"`
	RaffleCreationEnabled  bool `db:"raffle_creation_enabled"`

	TotalAuctions           uint64 `db:"total_auctions"`
	TotalRaffles            uint64 `db:"total_raffles"`
	TotalAllowedCurrencies  uint64 `db:"total_allowed_currencies"`
	TotalAllowedCollections uint64 `db:"total_allowed_collections"`

	IndexPageSize uint16     `db:"index_page_size"`
	TestMode      bool       `db:"test_mode"`
	MockTime      *time.Time `db:"mock_time"`
	Version       uint64     `db:"version"`
}

func toConfigRow(c market.GlobalConfig) configRow {
	return configRow{
		FeeRateBPS:              c.FeeRateBPS,
		FeeTreasury:             c.FeeTreasury,
		Authority:               c.Authority,
		MinOutbidRateBPS:        c.MinOutbidRateBPS,
		ExtendWindow:            c.ExtendWindow,
		ExtendLength:            c.ExtendLength,
		MinAuctionDuration:      c.MinAuctionDuration,
		MaxAuctionDuration:      c.MaxAuctionDuration,
		MinRaffleDuration:       c.MinRaffleDuration,
		MaxRaffleDuration:       c.MaxRaffleDuration,
		MinTicketSupply:         c.MinTicketSupply,
		MaxTicketSupply:         c.MaxTicketSupply,
		MaxRaffledItems:         c.MaxRaffledItems,
		AuctionCreationEnabled:  c.AuctionCreationEnabled,
		RaffleCreationEnabled:   c.RaffleCreationEnabled,
		TotalAuctions:           c.TotalAuctions,
		TotalRaffles:            c.TotalRaffles,
		TotalAllowedCurrencies:  c.TotalAllowedCurrencies,
		TotalAllowedCollections: c.TotalAllowedCollections,
		IndexPageSize:           c.IndexPageSize,
		TestMode:                c.TestMode,
		MockTime:                c.MockTime,
		Version:                 c.Version,
	}
}

func (r configRow) toConfig() market.GlobalConfig {
	return market.GlobalConfig{
		FeeRateBPS:              r.FeeRateBPS,
		FeeTreasury:             r.FeeTreasury,
		Authority:               r.Authority,
		MinOutbidRateBPS:        r.MinOutbidRateBPS,
		ExtendWindow:            r.ExtendWindow,
		ExtendLength:            r.ExtendLength,
		MinAuctionDuration:      r.MinAuctionDuration,
		MaxAuctionDuration:      r.MaxAuctionDuration,
		MinRaffleDuration:       r.MinRaffleDuration,
		MaxRaffleDuration:       r.MaxRaffleDuration,
		MinTicketSupply:         r.MinTicketSupply,
		MaxTicketSupply:         r.MaxTicketSupply,
		MaxRaffledItems:         r.MaxRaffledItems,
		AuctionCreationEnabled:  r.AuctionCreationEnabled,
		RaffleCreationEnabled:   r.RaffleCreationEnabled,
		TotalAuctions:           r.TotalAuctions,
		TotalRaffles:            r.TotalRaffles,
		TotalAllowedCurrencies:  r.TotalAllowedCurrencies,
		TotalAllowedCollections: r.TotalAllowedCollections,
		IndexPageSize:           r.IndexPageSize,
		TestMode:                r.TestMode,
		MockTime:                r.MockTime,
		Version:                 r.Version,
	}
}

func (b *Backend) Config(ctx context.Context) (market.GlobalConfig, error) {
	var row configRow
	err := sqlx.GetContext(ctx, q(ctx, b.db), &row, `SELECT
		fee_rate_bps, fee_treasury, authority, min_outbid_rate_bps,
		extend_window, extend_length,
		min_auction_duration, max_auction_duration,
		min_raffle_duration, max_raffle_duration,
		min_ticket_supply, max_ticket_supply, max_raffled_items,
		auction_creation_enabled, raffle_creation_enabled,
		total_auctions, total_raffles,
		total_allowed_currencies, total_allowed_collections,
		index_page_size, test_mode, mock_time, version
	 FROM global_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return market.GlobalConfig{}, admin.ErrNotInitialized
	}
	if err != nil {
		return market.GlobalConfig{}, fmt.Errorf("getting config: %w", err)
	}
	return row.toConfig(), nil
}

// PutConfig upserts the singleton config row guarded by its version, the
// same way PutAuction is. A version mismatch yields market.ErrConflict.
func (b *Backend) PutConfig(ctx context.Context, cfg market.GlobalConfig) error {
	row := toConfigRow(cfg)
	res, err := sqlx.NamedExecContext(ctx, q(ctx, b.db), `INSERT INTO global_config (
		id, fee_rate_bps, fee_treasury, authority, min_outbid_rate_bps,
		extend_window, extend_length,
		min_auction_duration, max_auction_duration,
		min_raffle_duration, max_raffle_duration,
		min_ticket_supply, max_ticket_supply, max_raffled_items,
		auction_creation_enabled, raffle_creation_enabled,
		total_auctions, total_raffles,
		total_allowed_currencies, total_allowed_collections,
		index_page_size, test_mode, mock_time, version
	) VALUES (
		1, :fee_rate_bps, :fee_treasury, :authority, :min_outbid_rate_bps,
		:extend_window, :extend_length,
		:min_auction_duration, :max_auction_duration,
		:min_raffle_duration, :max_raffle_duration,
		:min_ticket_supply, :max_ticket_supply, :max_raffled_items,
		:auction_creation_enabled, :raffle_creation_enabled,
		:total_auctions, :total_raffles,
		:total_allowed_currencies, :total_allowed_collections,
		:index_page_size, :test_mode, :mock_time, :version + 1
	) ON CONFLICT (id) DO UPDATE SET
		fee_rate_bps = EXCLUDED.fee_rate_bps,
		fee_treasury = EXCLUDED.fee_treasury,
		authority = EXCLUDED.authority,
		min_outbid_rate_bps = EXCLUDED.min_outbid_rate_bps,
		extend_window = EXCLUDED.extend_window,
		extend_length = EXCLUDED.extend_length,
		min_auction_duration = EXCLUDED.min_auction_duration,
		max_auction_duration = EXCLUDED.max_auction_duration,
		min_raffle_duration = EXCLUDED.min_raffle_duration,
		max_raffle_duration = EXCLUDED.max_raffle_duration,
		min_ticket_supply = EXCLUDED.min_ticket_supply,
		max_ticket_supply = EXCLUDED.max_ticket_supply,
		max_raffled_items = EXCLUDED.max_raffled_items,
		auction_creation_enabled = EXCLUDED.auction_creation_enabled,
		raffle_creation_enabled = EXCLUDED.raffle_creation_enabled,
		total_auctions = EXCLUDED.total_auctions,
		total_raffles = EXCLUDED.total_raffles,
		total_allowed_currencies = EXCLUDED.total_allowed_currencies,
		total_allowed_collections = EXCLUDED.total_allowed_collections,
		index_page_size = EXCLUDED.index_page_size,
		test_mode = EXCLUDED.test_mode,
		mock_time = EXCLUDED.mock_time,
		version = global_config.version + 1
	WHERE global_config.version = :version`, row)
	if err != nil {
		return fmt.Errorf("storing config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("config: %w", market.ErrConflict)
	}
	return nil
}

func (b *Backend) Allowed(ctx context.Context, kind market.AllowlistKind, key uuid.UUID) (bool, error) {
	var allowed bool
	err := sqlx.GetContext(ctx, q(ctx, b.db), &allowed,
		`SELECT allowed FROM allowlist WHERE kind = $1 AND key = $2`, string(kind), key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking allowlist: %w", err)
	}
	return allowed, nil
}

func (b *Backend) PutAllowlistEntry(ctx context.Context, entry market.AllowlistEntry) error {
	_, err := q(ctx, b.db).ExecContext(ctx,
		`INSERT INTO allowlist (kind, key, allowed) VALUES ($1, $2, $3)
		 ON CONFLICT (kind, key) DO UPDATE SET allowed = EXCLUDED.allowed`,
		string(entry.Kind), entry.Key, entry.Allowed)
	if err != nil {
		return fmt.Errorf("storing allowlist entry: %w", err)
	}
	return nil
}
