package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/admin"
	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/market"
)

type initRequest struct {
	FeeRateBPS uint16    `json:"fee_rate_bps"`
	Treasury   uuid.UUID `json:"treasury"`
	TestMode   bool      `json:"test_mode"`
}

type configView struct {
	FeeRateBPS       uint16    `json:"fee_rate_bps"`
	FeeTreasury      uuid.UUID `json:"fee_treasury"`
	Authority        uuid.UUID `json:"authority"`
	MinOutbidRateBPS uint16    `json:"min_outbid_rate_bps"`

	ExtendWindow duration `json:"extend_window"`
	ExtendLength duration `json:"extend_length"`

	MinAuctionDuration duration `json:"min_auction_duration"`
	MaxAuctionDuration duration `json:"max_auction_duration"`
	MinRaffleDuration  duration `json:"min_raffle_duration"`
	MaxRaffleDuration  duration `json:"max_raffle_duration"`
	MinTicketSupply    uint16   `json:"min_ticket_supply"`
	MaxTicketSupply    uint16   `json:"max_ticket_supply"`
	MaxRaffledItems    uint8    `json:"max_raffled_items"`

	AuctionCreationEnabled bool `json:"auction_creation_enabled"`
	RaffleCreationEnabled  bool `json:"raffle_creation_enabled"`

	TotalAuctions           uint64 `json:"total_auctions"`
	TotalRaffles            uint64 `json:"total_raffles"`
	TotalAllowedCurrencies  uint64 `json:"total_allowed_currencies"`
	TotalAllowedCollections uint64 `json:"total_allowed_collections"`

	IndexPageSize uint16 `json:"index_page_size"`

	TestMode bool       `json:"test_mode"`
	MockTime *time.Time `json:"mock_time,omitempty"`
}

func toConfigView(c market.GlobalConfig) configView {
	return configView{
		FeeRateBPS:              c.FeeRateBPS,
		FeeTreasury:             c.FeeTreasury,
		Authority:               c.Authority,
		MinOutbidRateBPS:        c.MinOutbidRateBPS,
		ExtendWindow:            duration(c.ExtendWindow),
		ExtendLength:            duration(c.ExtendLength),
		MinAuctionDuration:      duration(c.MinAuctionDuration),
		MaxAuctionDuration:      duration(c.MaxAuctionDuration),
		MinRaffleDuration:       duration(c.MinRaffleDuration),
		MaxRaffleDuration:       duration(c.MaxRaffleDuration),
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
	}
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req initRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	cfg, err := s.admins.Init(r.Context(), id, req.FeeRateBPS, req.Treasury, req.TestMode)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConfigView(cfg))
}

type configUpdateRequest struct {
	FeeRateBPS             *uint16    `json:"fee_rate_bps"`
	FeeTreasury            *uuid.UUID `json:"fee_treasury"`
	MinOutbidRateBPS       *uint16    `json:"min_outbid_rate_bps"`
	ExtendWindow           *duration  `json:"extend_window"`
	ExtendLength           *duration  `json:"extend_length"`
	MinAuctionDuration     *duration  `json:"min_auction_duration"`
	MaxAuctionDuration     *duration  `json:"max_auction_duration"`
	MinRaffleDuration      *duration  `json:"min_raffle_duration"`
	MaxRaffleDuration      *duration  `json:"max_raffle_duration"`
	MinTicketSupply        *uint16    `json:"min_ticket_supply"`
	MaxTicketSupply        *uint16    `json:"max_ticket_supply"`
	MaxRaffledItems        *uint8     `json:"max_raffled_items"`
	AuctionCreationEnabled *bool      `json:"auction_creation_enabled"`
	RaffleCreationEnabled  *bool      `json:"raffle_creation_enabled"`
	IndexPageSize          *uint16    `json:"index_page_size"`
}

func (r configUpdateRequest) toUpdate() market.ConfigUpdate {
	return market.ConfigUpdate{
		FeeRateBPS:             r.FeeRateBPS,
		FeeTreasury:            r.FeeTreasury,
		MinOutbidRateBPS:       r.MinOutbidRateBPS,
		ExtendWindow:           (*time.Duration)(r.ExtendWindow),
		ExtendLength:           (*time.Duration)(r.ExtendLength),
		MinAuctionDuration:     (*time.Duration)(r.MinAuctionDuration),
		MaxAuctionDuration:     (*time.Duration)(r.MaxAuctionDuration),
		MinRaffleDuration:      (*time.Duration)(r.MinRaffleDuration),
		MaxRaffleDuration:      (*time.Duration)(r.MaxRaffleDuration),
		MinTicketSupply:        r.MinTicketSupply,
		MaxTicketSupply:        r.MaxTicketSupply,
		MaxRaffledItems:        r.MaxRaffledItems,
		AuctionCreationEnabled: r.AuctionCreationEnabled,
		RaffleCreationEnabled:  r.RaffleCreationEnabled,
		IndexPageSize:          r.IndexPageSize,
	}
}

func (s *Server) handleUpdateConfigs(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req configUpdateRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	cfg, err := s.admins.UpdateConfigs(r.Context(), id, req.toUpdate())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigView(cfg))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.admins.Config(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigView(cfg))
}

type allowRequest struct {
	Key uuid.UUID `json:"key"`
}

func (s *Server) handleAllowCurrency(w http.ResponseWriter, r *http.Request) {
	s.handleAllow(w, r, s.admins.AllowCurrency)
}

func (s *Server) handleAllowCollection(w http.ResponseWriter, r *http.Request) {
	s.handleAllow(w, r, s.admins.AllowCollection)
}

func (s *Server) handleAllow(w http.ResponseWriter, r *http.Request, allow func(ctx context.Context, caller, key uuid.UUID) error) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req allowRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := allow(r.Context(), id, req.Key); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mockTimeRequest struct {
	Time *time.Time `json:"time"`
}

func (s *Server) handleSetMockTime(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req mockTimeRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.admins.SetMockTime(r.Context(), id, req.Time); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type keysView struct {
	Keys []uuid.UUID `json:"keys"`
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	keys, err := s.admins.AllowedCurrencies(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keysView{Keys: keys})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	keys, err := s.admins.AllowedCollections(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keysView{Keys: keys})
}

type faucetRequest struct {
	Asset   uuid.UUID `json:"asset"`
	Account uuid.UUID `json:"account"`
	Amount  uint64    `json:"amount"`
}

// handleFaucet mints balances into an owned account. Only available in
// test mode, on backends that expose a funder.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.admins.Config(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !cfg.TestMode {
		s.respondErr(w, r, admin.ErrTestModeOnly)
		return
	}
	if s.funder == nil {
		s.respondErr(w, r, errFaucetClosed)
		return
	}
	var req faucetRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.funder.Deposit(r.Context(), req.Asset, ledger.Owned(req.Account), req.Amount); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
