package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/eligibility"
	"github.com/jensholdgaard/lotmarket/internal/raffle"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
)

type createRaffleRequest struct {
	ID           uint64    `json:"id"`
	Item         uuid.UUID `json:"item"`
	Collection   uuid.UUID `json:"collection"`
	NumItems     uint8     `json:"num_items"`
	Currency     uuid.UUID `json:"currency"`
	Duration     duration  `json:"duration"`
	TicketSupply uint32    `json:"ticket_supply"`
	TicketPrice  uint64    `json:"ticket_price"`

	EligibleGroups []eligibility.Group `json:"eligible_groups,omitempty"`
	RevenueShares  []revenue.Share     `json:"revenue_shares"`
}

type raffleView struct {
	ID           uint64    `json:"id"`
	Item         uuid.UUID `json:"item"`
	Collection   uuid.UUID `json:"collection"`
	Currency     uuid.UUID `json:"currency"`
	Creator      uuid.UUID `json:"creator"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	TicketSupply uint32    `json:"ticket_supply"`
	TicketsSold  uint32    `json:"tickets_sold"`
	TicketPrice  uint64    `json:"ticket_price"`
	NumItems     uint8     `json:"num_items"`

	EligibleGroups []eligibility.Group `json:"eligible_groups,omitempty"`
	RevenueShares  []revenue.Share     `json:"revenue_shares"`

	Status  string   `json:"status"`
	Winners []uint64 `json:"winners,omitempty"`
}

func toRaffleView(r *raffle.Raffle) raffleView {
	return raffleView{
		ID:             r.ID,
		Item:           r.Item,
		Collection:     r.Collection,
		Currency:       r.Currency,
		Creator:        r.Creator,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		TicketSupply:   r.TicketSupply,
		TicketsSold:    r.TicketsSold,
		TicketPrice:    r.TicketPrice,
		NumItems:       r.NumItems,
		EligibleGroups: r.EligibleGroups,
		RevenueShares:  r.RevenueShares,
		Status:         string(r.Status),
		Winners:        r.Winners,
	}
}

func (s *Server) handleCreateRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req createRaffleRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	ra, err := s.raffles.Create(r.Context(), raffle.CreateParams{
		ID:             req.ID,
		Item:           req.Item,
		Collection:     req.Collection,
		NumItems:       req.NumItems,
		Currency:       req.Currency,
		Creator:        id,
		Duration:       time.Duration(req.Duration),
		TicketSupply:   req.TicketSupply,
		TicketPrice:    req.TicketPrice,
		EligibleGroups: req.EligibleGroups,
		RevenueShares:  req.RevenueShares,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRaffleView(ra))
}

func (s *Server) handleGetRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	ra, err := s.raffles.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRaffleView(ra))
}

type buyTicketsRequest struct {
	Count uint32             `json:"count"`
	Proof *eligibility.Proof `json:"proof,omitempty"`
}

type positionView struct {
	Buyer      uuid.UUID `json:"buyer"`
	PositionID uint64    `json:"position_id"`
	Tickets    uint32    `json:"tickets"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toPositionView(p *raffle.TicketPosition) positionView {
	return positionView{
		Buyer:      p.Buyer,
		PositionID: p.PositionID,
		Tickets:    p.Tickets,
		UpdatedAt:  p.UpdatedAt,
	}
}

func (s *Server) handleBuyTickets(w http.ResponseWriter, r *http.Request) {
	buyer, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req buyTicketsRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	pos, err := s.raffles.BuyTickets(r.Context(), id, buyer, req.Count, req.Proof)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionView(pos))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	positions, err := s.raffles.Positions(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	views := make([]positionView, 0, len(positions))
	for i := range positions {
		views = append(views, toPositionView(&positions[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

type drawRequest struct {
	Rerun bool `json:"rerun"`
}

func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	raffleID, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req drawRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	ra, err := s.raffles.Draw(r.Context(), raffleID, id, req.Rerun)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRaffleView(ra))
}

type setWinnersRequest struct {
	Winners []uint64 `json:"winners"`
}

func (s *Server) handleSetWinners(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	raffleID, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req setWinnersRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	ra, err := s.raffles.SetWinners(r.Context(), raffleID, id, req.Winners)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRaffleView(ra))
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	s.raffleAction(w, r, s.raffles.ClaimReward)
}

func (s *Server) handleClaimRemaining(w http.ResponseWriter, r *http.Request) {
	s.raffleAction(w, r, s.raffles.ClaimRemaining)
}

func (s *Server) handleClaimRaffleRevenue(w http.ResponseWriter, r *http.Request) {
	s.raffleAction(w, r, s.raffles.ClaimRevenue)
}

func (s *Server) handleCancelRaffle(w http.ResponseWriter, r *http.Request) {
	s.raffleAction(w, r, s.raffles.Cancel)
}

func (s *Server) raffleAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uint64, caller uuid.UUID) error) {
	id, err := caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	raffleID, err := pathID(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := op(r.Context(), raffleID, id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
