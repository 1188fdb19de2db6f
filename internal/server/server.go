// Package server exposes the marketplace engines over a JSON HTTP API.
// Each mutating endpoint reads the caller identity from the X-Caller
// header; signature verification happens upstream of this service.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jensholdgaard/lotmarket/internal/admin"
	"github.com/jensholdgaard/lotmarket/internal/auction"
	"github.com/jensholdgaard/lotmarket/internal/eligibility"
	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/market"
	"github.com/jensholdgaard/lotmarket/internal/raffle"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
)

// CallerHeader carries the authenticated caller id set by the edge proxy.
const CallerHeader = "X-Caller"

var (
	errMissingCaller = errors.New("missing or malformed " + CallerHeader + " header")
	errBadRequest    = errors.New("malformed request")
	errFaucetClosed  = errors.New("faucet is not available on this backend")
)

// Server routes marketplace operations to the engines.
type Server struct {
	admins   *admin.Manager
	auctions *auction.Engine
	raffles  *raffle.Engine
	funder   ledger.Funder
	logger   *slog.Logger
}

// New creates a Server. funder may be nil when the backing store cannot
// mint balances; the faucet endpoint then reports itself unavailable.
func New(admins *admin.Manager, auctions *auction.Engine, raffles *raffle.Engine, funder ledger.Funder, logger *slog.Logger) *Server {
	return &Server{
		admins:   admins,
		auctions: auctions,
		raffles:  raffles,
		funder:   funder,
		logger:   logger.With(slog.String("component", "server")),
	}
}

// Handler returns the API routes wrapped with OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/admin/init", s.handleInit)
	mux.HandleFunc("PATCH /v1/admin/config", s.handleUpdateConfigs)
	mux.HandleFunc("GET /v1/admin/config", s.handleGetConfig)
	mux.HandleFunc("POST /v1/admin/currencies", s.handleAllowCurrency)
	mux.HandleFunc("POST /v1/admin/collections", s.handleAllowCollection)
	mux.HandleFunc("PUT /v1/admin/mock-time", s.handleSetMockTime)
	mux.HandleFunc("GET /v1/currencies", s.handleListCurrencies)
	mux.HandleFunc("GET /v1/collections", s.handleListCollections)
	mux.HandleFunc("POST /v1/faucet", s.handleFaucet)

	mux.HandleFunc("POST /v1/auctions", s.handleCreateAuction)
	mux.HandleFunc("GET /v1/auctions/{id}", s.handleGetAuction)
	mux.HandleFunc("GET /v1/auctions/{id}/bids", s.handleListBids)
	mux.HandleFunc("POST /v1/auctions/{id}/bids", s.handleBid)
	mux.HandleFunc("POST /v1/auctions/{id}/cancel", s.handleCancelAuction)
	mux.HandleFunc("POST /v1/auctions/{id}/cancel-bid", s.handleCancelBid)
	mux.HandleFunc("POST /v1/auctions/{id}/claim-lot", s.handleClaimLot)
	mux.HandleFunc("POST /v1/auctions/{id}/claim-revenue", s.handleClaimAuctionRevenue)

	mux.HandleFunc("POST /v1/raffles", s.handleCreateRaffle)
	mux.HandleFunc("GET /v1/raffles/{id}", s.handleGetRaffle)
	mux.HandleFunc("GET /v1/raffles/{id}/positions", s.handleListPositions)
	mux.HandleFunc("POST /v1/raffles/{id}/tickets", s.handleBuyTickets)
	mux.HandleFunc("POST /v1/raffles/{id}/draw", s.handleDraw)
	mux.HandleFunc("PUT /v1/raffles/{id}/winners", s.handleSetWinners)
	mux.HandleFunc("POST /v1/raffles/{id}/claim-reward", s.handleClaimReward)
	mux.HandleFunc("POST /v1/raffles/{id}/claim-remaining", s.handleClaimRemaining)
	mux.HandleFunc("POST /v1/raffles/{id}/claim-revenue", s.handleClaimRaffleRevenue)
	mux.HandleFunc("POST /v1/raffles/{id}/cancel", s.handleCancelRaffle)

	return otelhttp.NewHandler(mux, "marketd")
}

// caller extracts the authenticated caller id from the request headers.
func caller(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.Header.Get(CallerHeader))
	if err != nil {
		return uuid.Nil, errMissingCaller
	}
	return id, nil
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errBadRequest
	}
	return id, nil
}

// duration marshals as a Go duration string ("36h") in request and
// response bodies.
type duration time.Duration

func (d duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errBadRequest
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errBadRequest
	}
	*d = duration(v)
	return nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// statusFor classifies engine errors into HTTP status codes: malformed
// input 400, identity and permission failures 403, missing records 404,
// rejections by current listing state 409, escrow inconsistencies 500,
// recognised-but-unsupported features 501.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, errMissingCaller),
		errors.Is(err, auction.ErrInvalidID),
		errors.Is(err, auction.ErrInvalidDuration),
		errors.Is(err, auction.ErrInvalidBidAmount),
		errors.Is(err, raffle.ErrInvalidID),
		errors.Is(err, raffle.ErrInvalidDuration),
		errors.Is(err, raffle.ErrInvalidTicketSupply),
		errors.Is(err, raffle.ErrInvalidNumItems),
		errors.Is(err, raffle.ErrZeroTickets),
		errors.Is(err, raffle.ErrInvalidWinners),
		errors.Is(err, market.ErrInvalidFeeRate),
		errors.Is(err, market.ErrInvalidOutbidRate),
		errors.Is(err, market.ErrInvalidExtension),
		errors.Is(err, market.ErrInvalidAuctionBounds),
		errors.Is(err, market.ErrInvalidSupplyBounds),
		errors.Is(err, market.ErrInvalidRaffleBounds),
		errors.Is(err, market.ErrInvalidMaxRaffled),
		errors.Is(err, market.ErrInvalidIndexPageSize),
		errors.Is(err, revenue.ErrInvalidShares),
		errors.Is(err, revenue.ErrTooManyShares),
		errors.Is(err, revenue.ErrNoShares),
		errors.Is(err, eligibility.ErrTooManyGroups):
		return http.StatusBadRequest

	case errors.Is(err, admin.ErrNotAuthority),
		errors.Is(err, admin.ErrTestModeOnly),
		errors.Is(err, auction.ErrCreatorCannotBid),
		errors.Is(err, auction.ErrNotCreator),
		errors.Is(err, auction.ErrNotTopBidder),
		errors.Is(err, auction.ErrTopBidderCannotCancel),
		errors.Is(err, raffle.ErrCreatorCannotBuy),
		errors.Is(err, raffle.ErrNotCreator),
		errors.Is(err, raffle.ErrNotAuthority),
		errors.Is(err, raffle.ErrNotWinner),
		errors.Is(err, raffle.ErrTestModeOnly),
		errors.Is(err, eligibility.ErrIneligible),
		errors.Is(err, eligibility.ErrInvalidProof):
		return http.StatusForbidden

	case errors.Is(err, auction.ErrNotFound),
		errors.Is(err, auction.ErrNoBid),
		errors.Is(err, raffle.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, auction.ErrInconsistentEscrow),
		errors.Is(err, raffle.ErrInconsistentEscrow),
		errors.Is(err, ledger.ErrNonZeroBalance):
		return http.StatusInternalServerError

	case errors.Is(err, eligibility.ErrNotImplemented),
		errors.Is(err, errFaucetClosed):
		return http.StatusNotImplemented

	case errors.Is(err, admin.ErrNotInitialized),
		errors.Is(err, admin.ErrAlreadyInitialized),
		errors.Is(err, admin.ErrAlreadyAllowed),
		errors.Is(err, auction.ErrCreationDisabled),
		errors.Is(err, auction.ErrCurrencyNotAllowed),
		errors.Is(err, auction.ErrCollectionNotAllowed),
		errors.Is(err, auction.ErrEnded),
		errors.Is(err, auction.ErrOngoing),
		errors.Is(err, auction.ErrCancelled),
		errors.Is(err, auction.ErrBelowStartBid),
		errors.Is(err, auction.ErrBelowMinOutbid),
		errors.Is(err, auction.ErrNotCancelable),
		errors.Is(err, auction.ErrNoBids),
		errors.Is(err, raffle.ErrCreationDisabled),
		errors.Is(err, raffle.ErrCurrencyNotAllowed),
		errors.Is(err, raffle.ErrCollectionNotAllowed),
		errors.Is(err, raffle.ErrEnded),
		errors.Is(err, raffle.ErrOngoing),
		errors.Is(err, raffle.ErrCancelled),
		errors.Is(err, raffle.ErrSupplyExhausted),
		errors.Is(err, raffle.ErrNotCancelable),
		errors.Is(err, raffle.ErrAlreadyDrawn),
		errors.Is(err, raffle.ErrNotDrawn),
		errors.Is(err, raffle.ErrAlreadyClaimed),
		errors.Is(err, raffle.ErrNoRemainingRewards),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, market.ErrConflict):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
