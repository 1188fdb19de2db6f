package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/auction"
	"github.com/jensholdgaard/lotmarket/internal/eligibility"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
)

type createAuctionRequest struct {
	ID         uint64    `json:"id"`
	Item       uuid.UUID `json:"item"`
	Collection uuid.UUID `json:"collection"`
	Currency   uuid.UUID `json:"currency"`
	Duration   duration  `json:"duration"`
	StartBid   uint64    `json:"start_bid"`

	EligibleGroups []eligibility.Group `json:"eligible_groups,omitempty"`
	RevenueShares  []revenue.Share     `json:"revenue_shares"`
}

type auctionView struct {
	ID         uint64    `json:"id"`
	Item       uuid.UUID `json:"item"`
	Collection uuid.UUID `json:"collection"`
	Currency   uuid.UUID `json:"currency"`
	Creator    uuid.UUID `json:"creator"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	StartBid   uint64    `json:"start_bid"`

	EligibleGroups []eligibility.Group `json:"eligible_groups,omitempty"`
	RevenueShares  []revenue.Share     `json:"revenue_shares"`

	Status    string     `json:"status"`
	TotalBids uint64     `json:"total_bids"`
	TopBid    uint64     `json:"top_bid"`
	TopBidder *uuid.UUID `json:"top_bidder,omitempty"`
}

func toAuctionView(a *auction.Auction) auctionView {
	return auctionView{
		ID:             a.ID,
		Item:           a.Item,
		Collection:     a.Collection,
		Currency:       a.Currency,
		Creator:        a.Creator,
		CreatedAt:      a.CreatedAt,
		ExpiresAt:      a.ExpiresAt,
		StartBid:       a.StartBid,
		EligibleGroups: a.EligibleGroups,
		RevenueShares:  a.RevenueShares,
		Status:         string(a.Status),
		TotalBids:      a.TotalBids,
		TopBid:         a.TopBid,
		TopBidder:      a.TopBidder,
	}
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req createAuctionRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	a, err := s.auctions.Create(r.Context(), auction.CreateParams{
		ID:             req.ID,
		Item:           req.Item,
		Collection:     req.Collection,
		Currency:       req.Currency,
		Creator:        id,
		Duration:       time.Duration(req.Duration),
		StartBid:       req.StartBid,
		EligibleGroups: req.EligibleGroups,
		RevenueShares:  req.RevenueShares,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionView(a))
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	a, err := s.auctions.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

type bidRequest struct {
	Amount     uint64             `json:"amount"`
	MaxAllowed uint64             `json:"max_allowed"`
	Proof      *eligibility.Proof `json:"proof,omitempty"`
}

type bidResponse struct {
	Amount uint64 `json:"amount"`
}

// handleBid places or raises a bid. The response carries the amount the
// bid actually settled at, which may exceed the requested amount when
// the minimum-outbid floor lifted it (never above max_allowed).
func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	bidder, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req bidRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	actual, err := s.auctions.Bid(r.Context(), id, bidder, req.Amount, req.MaxAllowed, req.Proof)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bidResponse{Amount: actual})
}

type bidView struct {
	Bidder    uuid.UUID `json:"bidder"`
	Amount    uint64    `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	bids, err := s.auctions.Bids(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	views := make([]bidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, bidView{Bidder: b.Bidder, Amount: b.Amount, UpdatedAt: b.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

// auctionAction adapts the single-caller engine operations to a handler.
func (s *Server) auctionAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uint64, caller uuid.UUID) error) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	auctionID, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := op(r.Context(), auctionID, id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelAuction(w http.ResponseWriter, r *http.Request) {
	s.auctionAction(w, r, s.auctions.Cancel)
}

func (s *Server) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	s.auctionAction(w, r, s.auctions.CancelBid)
}

func (s *Server) handleClaimLot(w http.ResponseWriter, r *http.Request) {
	s.auctionAction(w, r, s.auctions.ClaimLot)
}

func (s *Server) handleClaimAuctionRevenue(w http.ResponseWriter, r *http.Request) {
	s.auctionAction(w, r, s.auctions.ClaimRevenue)
}
