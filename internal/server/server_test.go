package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/admin"
	"github.com/jensholdgaard/lotmarket/internal/auction"
	"github.com/jensholdgaard/lotmarket/internal/clock"
	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/raffle"
	"github.com/jensholdgaard/lotmarket/internal/server"
	"github.com/jensholdgaard/lotmarket/internal/store/memstore"
)

type fixture struct {
	t   *testing.T
	srv *httptest.Server

	authority uuid.UUID
	treasury  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := memstore.New()
	led := ledger.NewMem()
	clk := clock.Real{}
	logger := slog.Default()

	admins := admin.NewManager(backend, backend, logger)
	auctions := auction.NewEngine(backend, led, backend, clk, logger)
	raffles := raffle.NewEngine(backend, led, backend, clk, raffle.FixedEntropy(7), logger)

	s := server.New(admins, auctions, raffles, led, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	f := &fixture{
		t:         t,
		srv:       srv,
		authority: uuid.New(),
		treasury:  uuid.New(),
	}
	f.do(http.MethodPost, "/v1/admin/init", f.authority, map[string]any{
		"fee_rate_bps": 200,
		"treasury":     f.treasury,
		"test_mode":    true,
	}, http.StatusCreated, nil)
	return f
}

// do sends a JSON request and decodes the response into out when the
// status matches.
func (f *fixture) do(method, path string, caller uuid.UUID, body any, wantStatus int, out any) {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		f.t.Fatal(err)
	}
	if caller != uuid.Nil {
		req.Header.Set(server.CallerHeader, caller.String())
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		f.t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		f.t.Fatalf("%s %s: status = %d (%s), want %d", method, path, resp.StatusCode, e.Error, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			f.t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
}

// allow registers a currency and a collection and mints starter balances.
func (f *fixture) allow(currency, collection uuid.UUID) {
	f.t.Helper()
	f.do(http.MethodPost, "/v1/admin/currencies", f.authority, map[string]any{"key": currency}, http.StatusNoContent, nil)
	f.do(http.MethodPost, "/v1/admin/collections", f.authority, map[string]any{"key": collection}, http.StatusNoContent, nil)
}

func (f *fixture) mint(asset, account uuid.UUID, amount uint64) {
	f.t.Helper()
	f.do(http.MethodPost, "/v1/faucet", f.authority, map[string]any{
		"asset":   asset,
		"account": account,
		"amount":  amount,
	}, http.StatusNoContent, nil)
}

func TestInitAndConfig(t *testing.T) {
	f := newFixture(t)

	var cfg struct {
		Authority  uuid.UUID `json:"authority"`
		FeeRateBPS uint16    `json:"fee_rate_bps"`
		TestMode   bool      `json:"test_mode"`
	}
	f.do(http.MethodGet, "/v1/admin/config", uuid.Nil, nil, http.StatusOK, &cfg)
	if cfg.Authority != f.authority || cfg.FeeRateBPS != 200 || !cfg.TestMode {
		t.Errorf("config = %+v", cfg)
	}

	// A second init is rejected.
	f.do(http.MethodPost, "/v1/admin/init", f.authority, map[string]any{
		"fee_rate_bps": 100,
		"treasury":     f.treasury,
	}, http.StatusConflict, nil)

	// Config updates require the authority.
	f.do(http.MethodPatch, "/v1/admin/config", uuid.New(), map[string]any{
		"fee_rate_bps": 500,
	}, http.StatusForbidden, nil)
	f.do(http.MethodPatch, "/v1/admin/config", f.authority, map[string]any{
		"fee_rate_bps": 500,
	}, http.StatusOK, &cfg)
	if cfg.FeeRateBPS != 500 {
		t.Errorf("FeeRateBPS = %d, want 500", cfg.FeeRateBPS)
	}
}

func TestAllowlistEndpoints(t *testing.T) {
	f := newFixture(t)
	currency, collection := uuid.New(), uuid.New()
	f.allow(currency, collection)

	// Re-allowing the same key conflicts.
	f.do(http.MethodPost, "/v1/admin/currencies", f.authority, map[string]any{"key": currency}, http.StatusConflict, nil)

	var got struct {
		Keys []uuid.UUID `json:"keys"`
	}
	f.do(http.MethodGet, "/v1/currencies", uuid.Nil, nil, http.StatusOK, &got)
	if len(got.Keys) != 1 || got.Keys[0] != currency {
		t.Errorf("currencies = %v, want [%v]", got.Keys, currency)
	}
	f.do(http.MethodGet, "/v1/collections", uuid.Nil, nil, http.StatusOK, &got)
	if len(got.Keys) != 1 || got.Keys[0] != collection {
		t.Errorf("collections = %v, want [%v]", got.Keys, collection)
	}
}

func TestAuctionFlow(t *testing.T) {
	f := newFixture(t)
	currency, collection := uuid.New(), uuid.New()
	f.allow(currency, collection)

	creator, bidder := uuid.New(), uuid.New()
	item := uuid.New()
	f.mint(item, creator, 1)
	f.mint(currency, bidder, 10_000)

	create := map[string]any{
		"id":             0,
		"item":           item,
		"collection":     collection,
		"currency":       currency,
		"duration":       "24h",
		"start_bid":      100,
		"revenue_shares": []map[string]any{{"recipient": creator, "bps": 10_000}},
	}
	var a struct {
		ID        uint64 `json:"id"`
		StartBid  uint64 `json:"start_bid"`
		Status    string `json:"status"`
		TotalBids uint64 `json:"total_bids"`
	}
	f.do(http.MethodPost, "/v1/auctions", creator, create, http.StatusCreated, &a)
	if a.Status != "in_progress" || a.StartBid != 100 {
		t.Fatalf("created auction = %+v", a)
	}

	// Reusing the id conflicts with the dense-id rule.
	f.do(http.MethodPost, "/v1/auctions", creator, create, http.StatusBadRequest, nil)

	// The creator cannot bid on their own listing.
	f.do(http.MethodPost, "/v1/auctions/0/bids", creator, map[string]any{
		"amount": 100, "max_allowed": 100,
	}, http.StatusForbidden, nil)

	var placed struct {
		Amount uint64 `json:"amount"`
	}
	f.do(http.MethodPost, "/v1/auctions/0/bids", bidder, map[string]any{
		"amount": 150, "max_allowed": 200,
	}, http.StatusOK, &placed)
	if placed.Amount != 150 {
		t.Errorf("settled amount = %d, want 150", placed.Amount)
	}

	// A bid below the start bid is a state conflict.
	other := uuid.New()
	f.mint(currency, other, 1_000)
	f.do(http.MethodPost, "/v1/auctions/0/bids", other, map[string]any{
		"amount": 10, "max_allowed": 10,
	}, http.StatusConflict, nil)

	var bids []struct {
		Bidder uuid.UUID `json:"bidder"`
		Amount uint64    `json:"amount"`
	}
	f.do(http.MethodGet, "/v1/auctions/0/bids", uuid.Nil, nil, http.StatusOK, &bids)
	if len(bids) != 1 || bids[0].Bidder != bidder || bids[0].Amount != 150 {
		t.Errorf("bids = %+v", bids)
	}

	f.do(http.MethodGet, "/v1/auctions/7", uuid.Nil, nil, http.StatusNotFound, nil)

	// Cancelling with standing bids is rejected; claiming before expiry too.
	f.do(http.MethodPost, "/v1/auctions/0/cancel", creator, nil, http.StatusConflict, nil)
	f.do(http.MethodPost, "/v1/auctions/0/claim-lot", bidder, nil, http.StatusConflict, nil)
}

func TestRaffleFlow(t *testing.T) {
	f := newFixture(t)
	currency, collection := uuid.New(), uuid.New()
	f.allow(currency, collection)

	creator, buyer := uuid.New(), uuid.New()
	item := uuid.New()
	f.mint(item, creator, 1)
	f.mint(currency, buyer, 10_000)

	var r struct {
		ID      uint64   `json:"id"`
		Status  string   `json:"status"`
		Winners []uint64 `json:"winners"`
	}
	f.do(http.MethodPost, "/v1/raffles", creator, map[string]any{
		"id":             0,
		"item":           item,
		"collection":     collection,
		"num_items":      1,
		"currency":       currency,
		"duration":       "24h",
		"ticket_supply":  100,
		"ticket_price":   50,
		"revenue_shares": []map[string]any{{"recipient": creator, "bps": 10_000}},
	}, http.StatusCreated, &r)
	if r.Status != "in_progress" {
		t.Fatalf("created raffle = %+v", r)
	}

	var pos struct {
		PositionID uint64 `json:"position_id"`
		Tickets    uint32 `json:"tickets"`
	}
	f.do(http.MethodPost, "/v1/raffles/0/tickets", buyer, map[string]any{"count": 4}, http.StatusOK, &pos)
	if pos.Tickets != 4 {
		t.Errorf("position = %+v", pos)
	}

	// Drawing is authority-only and needs the raffle to have ended; in
	// test mode the winners can be pinned directly instead.
	f.do(http.MethodPost, "/v1/raffles/0/draw", creator, map[string]any{}, http.StatusForbidden, nil)
	f.do(http.MethodPost, "/v1/raffles/0/draw", f.authority, map[string]any{}, http.StatusConflict, nil)

	// Advance mock time past expiry so the winner set can be pinned.
	f.do(http.MethodPut, "/v1/admin/mock-time", f.authority, map[string]any{
		"time": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}, http.StatusNoContent, nil)

	f.do(http.MethodPut, "/v1/raffles/0/winners", f.authority, map[string]any{
		"winners": []uint64{0},
	}, http.StatusOK, &r)
	if len(r.Winners) != 1 || r.Winners[0] != 0 {
		t.Fatalf("winners = %v, want [0]", r.Winners)
	}

	f.do(http.MethodPost, "/v1/raffles/0/claim-reward", buyer, nil, http.StatusNoContent, nil)
	f.do(http.MethodPost, "/v1/raffles/0/claim-reward", buyer, nil, http.StatusConflict, nil)
	f.do(http.MethodPost, "/v1/raffles/0/claim-revenue", creator, nil, http.StatusNoContent, nil)
}

func TestCallerHeaderRequired(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/v1/auctions", uuid.Nil, map[string]any{}, http.StatusBadRequest, nil)
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/auctions", bytes.NewBufferString("{nope"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(server.CallerHeader, uuid.NewString())
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFaucetRequiresTestMode(t *testing.T) {
	backend := memstore.New()
	led := ledger.NewMem()
	logger := slog.Default()
	admins := admin.NewManager(backend, backend, logger)
	auctions := auction.NewEngine(backend, led, backend, clock.Real{}, logger)
	raffles := raffle.NewEngine(backend, led, backend, clock.Real{}, raffle.FixedEntropy(7), logger)
	srv := httptest.NewServer(server.New(admins, auctions, raffles, led, logger).Handler())
	t.Cleanup(srv.Close)

	authority := uuid.New()
	f := &fixture{t: t, srv: srv, authority: authority, treasury: uuid.New()}
	f.do(http.MethodPost, "/v1/admin/init", authority, map[string]any{
		"fee_rate_bps": 200,
		"treasury":     f.treasury,
		"test_mode":    false,
	}, http.StatusCreated, nil)

	f.do(http.MethodPost, "/v1/faucet", authority, map[string]any{
		"asset": uuid.New(), "account": uuid.New(), "amount": 1,
	}, http.StatusForbidden, nil)
}

func TestMockTimeEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPut, "/v1/admin/mock-time", f.authority, map[string]any{
		"time": "2026-06-01T00:00:00Z",
	}, http.StatusNoContent, nil)

	var cfg struct {
		MockTime *string `json:"mock_time"`
	}
	f.do(http.MethodGet, "/v1/admin/config", uuid.Nil, nil, http.StatusOK, &cfg)
	if cfg.MockTime == nil {
		t.Fatal("mock_time not set")
	}

	f.do(http.MethodPut, "/v1/admin/mock-time", f.authority, map[string]any{"time": nil}, http.StatusNoContent, nil)
	f.do(http.MethodGet, "/v1/admin/config", uuid.Nil, nil, http.StatusOK, &cfg)
	if cfg.MockTime != nil {
		t.Fatalf("mock_time = %v, want cleared", *cfg.MockTime)
	}
}

func TestPathIDValidation(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/v1/auctions/abc", "/v1/raffles/-1"} {
		req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := f.srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestStatusText(t *testing.T) {
	// The error body always carries a message.
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/auctions/0", nil)
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound || e.Error == "" {
		t.Errorf("got %d %q", resp.StatusCode, fmt.Sprintf("%v", e))
	}
}
