package market

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/clock"
)

// Configuration validation errors.
var (
	ErrInvalidFeeRate       = errors.New("market fee rate must be below 10000 bps")
	ErrInvalidOutbidRate    = errors.New("minimum outbid rate must be within 1..9999 bps")
	ErrInvalidExtension     = errors.New("auction extension window and length must be positive")
	ErrInvalidAuctionBounds = errors.New("auction duration bounds are invalid")
	ErrInvalidSupplyBounds  = errors.New("raffle ticket supply bounds are invalid")
	ErrInvalidRaffleBounds  = errors.New("raffle duration bounds are invalid")
	ErrInvalidMaxRaffled    = errors.New("maximum raffled items must be positive")
	ErrInvalidIndexPageSize = errors.New("index page size must be positive")
)

// ErrConflict is returned by a store when a write raced a concurrently
// committed write of the same record. The losing operation saw a stale
// snapshot and can be retried against fresh state.
var ErrConflict = errors.New("concurrent modification of the same record")

// Default tunables installed by Init.
const (
	DefaultMinOutbidRateBPS   = 500
	DefaultExtendWindow       = 10 * time.Minute
	DefaultExtendLength       = 10 * time.Minute
	DefaultMinAuctionDuration = 6 * time.Hour
	DefaultMaxAuctionDuration = 7 * 24 * time.Hour
	DefaultMinRaffleDuration  = 6 * time.Hour
	DefaultMaxRaffleDuration  = 7 * 24 * time.Hour
	DefaultMinTicketSupply    = 30
	DefaultMaxTicketSupply    = 3000
	DefaultMaxRaffledItems    = 15
	DefaultIndexPageSize      = 100
)

// GlobalConfig is the singleton configuration and counter record. Engines
// read a snapshot per operation; updates replace the whole record so no
// operation ever observes a half-written config.
type GlobalConfig struct {
	FeeRateBPS       uint16
	FeeTreasury      uuid.UUID
	Authority        uuid.UUID
	MinOutbidRateBPS uint16

	// New winning bids inside the trailing ExtendWindow before expiry push
	// the expiry out to now + ExtendLength.
	ExtendWindow time.Duration
	ExtendLength time.Duration

	MinAuctionDuration time.Duration
	MaxAuctionDuration time.Duration
	MinRaffleDuration  time.Duration
	MaxRaffleDuration  time.Duration
	MinTicketSupply    uint16
	MaxTicketSupply    uint16
	MaxRaffledItems    uint8

	AuctionCreationEnabled bool
	RaffleCreationEnabled  bool

	TotalAuctions           uint64
	TotalRaffles            uint64
	TotalAllowedCurrencies  uint64
	TotalAllowedCollections uint64

	IndexPageSize uint16

	// TestMode must never be true in production; it unlocks the mock time
	// override, raffle reruns and direct winner assignment.
	TestMode bool
	MockTime *time.Time

	// Version counts committed writes of this record. A store rejects a
	// write whose version does not match the stored one with ErrConflict.
	Version uint64
}

// NewGlobalConfig returns the config record installed by Init, with default
// tunables and the given immutable authority.
func NewGlobalConfig(feeRateBPS uint16, treasury, authority uuid.UUID, testMode bool) GlobalConfig {
	return GlobalConfig{
		FeeRateBPS:             feeRateBPS,
		FeeTreasury:            treasury,
		Authority:              authority,
		MinOutbidRateBPS:       DefaultMinOutbidRateBPS,
		ExtendWindow:           DefaultExtendWindow,
		ExtendLength:           DefaultExtendLength,
		MinAuctionDuration:     DefaultMinAuctionDuration,
		MaxAuctionDuration:     DefaultMaxAuctionDuration,
		MinRaffleDuration:      DefaultMinRaffleDuration,
		MaxRaffleDuration:      DefaultMaxRaffleDuration,
		MinTicketSupply:        DefaultMinTicketSupply,
		MaxTicketSupply:        DefaultMaxTicketSupply,
		MaxRaffledItems:        DefaultMaxRaffledItems,
		AuctionCreationEnabled: true,
		RaffleCreationEnabled:  true,
		IndexPageSize:          DefaultIndexPageSize,
		TestMode:               testMode,
	}
}

// Validate checks configuration invariants.
func (c GlobalConfig) Validate() error {
	if c.FeeRateBPS >= 10000 {
		return ErrInvalidFeeRate
	}
	if c.MinOutbidRateBPS == 0 || c.MinOutbidRateBPS >= 10000 {
		return ErrInvalidOutbidRate
	}
	if c.ExtendWindow <= 0 || c.ExtendLength <= 0 {
		return ErrInvalidExtension
	}
	if c.MinAuctionDuration <= 0 || c.MaxAuctionDuration <= 0 || c.MinAuctionDuration >= c.MaxAuctionDuration {
		return ErrInvalidAuctionBounds
	}
	if c.MinTicketSupply == 0 || c.MaxTicketSupply == 0 || c.MinTicketSupply >= c.MaxTicketSupply {
		return ErrInvalidSupplyBounds
	}
	if c.MinRaffleDuration <= 0 || c.MaxRaffleDuration <= 0 || c.MinRaffleDuration >= c.MaxRaffleDuration {
		return ErrInvalidRaffleBounds
	}
	if c.MaxRaffledItems == 0 {
		return ErrInvalidMaxRaffled
	}
	if c.IndexPageSize == 0 {
		return ErrInvalidIndexPageSize
	}
	return nil
}

// ConfigUpdate carries a partial configuration update; nil fields are left
// unchanged. The authority, the counters and the test-mode flag are not
// updatable.
type ConfigUpdate struct {
	FeeRateBPS             *uint16
	FeeTreasury            *uuid.UUID
	MinOutbidRateBPS       *uint16
	ExtendWindow           *time.Duration
	ExtendLength           *time.Duration
	MinAuctionDuration     *time.Duration
	MaxAuctionDuration     *time.Duration
	MinRaffleDuration      *time.Duration
	MaxRaffleDuration      *time.Duration
	MinTicketSupply        *uint16
	MaxTicketSupply        *uint16
	MaxRaffledItems        *uint8
	AuctionCreationEnabled *bool
	RaffleCreationEnabled  *bool
	// IndexPageSize is only applied in test mode: resizing pages under live
	// traffic would break the page id computation for already-indexed keys.
	IndexPageSize *uint16
}

// Apply returns a copy of c with the non-nil fields of u applied. The caller
// validates the result before persisting it.
func (c GlobalConfig) Apply(u ConfigUpdate) GlobalConfig {
	out := c
	if u.FeeRateBPS != nil {
		out.FeeRateBPS = *u.FeeRateBPS
	}
	if u.FeeTreasury != nil {
		out.FeeTreasury = *u.FeeTreasury
	}
	if u.MinOutbidRateBPS != nil {
		out.MinOutbidRateBPS = *u.MinOutbidRateBPS
	}
	if u.ExtendWindow != nil {
		out.ExtendWindow = *u.ExtendWindow
	}
	if u.ExtendLength != nil {
		out.ExtendLength = *u.ExtendLength
	}
	if u.MinAuctionDuration != nil {
		out.MinAuctionDuration = *u.MinAuctionDuration
	}
	if u.MaxAuctionDuration != nil {
		out.MaxAuctionDuration = *u.MaxAuctionDuration
	}
	if u.MinRaffleDuration != nil {
		out.MinRaffleDuration = *u.MinRaffleDuration
	}
	if u.MaxRaffleDuration != nil {
		out.MaxRaffleDuration = *u.MaxRaffleDuration
	}
	if u.MinTicketSupply != nil {
		out.MinTicketSupply = *u.MinTicketSupply
	}
	if u.MaxTicketSupply != nil {
		out.MaxTicketSupply = *u.MaxTicketSupply
	}
	if u.MaxRaffledItems != nil {
		out.MaxRaffledItems = *u.MaxRaffledItems
	}
	if u.AuctionCreationEnabled != nil {
		out.AuctionCreationEnabled = *u.AuctionCreationEnabled
	}
	if u.RaffleCreationEnabled != nil {
		out.RaffleCreationEnabled = *u.RaffleCreationEnabled
	}
	if u.IndexPageSize != nil && c.TestMode {
		out.IndexPageSize = *u.IndexPageSize
	}
	return out
}

// Now returns the effective operation timestamp: the mock override when the
// engine runs in test mode with one set, the clock otherwise.
func (c GlobalConfig) Now(clk clock.Clock) time.Time {
	if c.TestMode && c.MockTime != nil {
		return *c.MockTime
	}
	return clk.Now()
}
