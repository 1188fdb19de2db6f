package revenue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
)

func shares(bps ...uint16) []revenue.Share {
	out := make([]revenue.Share, len(bps))
	for i, b := range bps {
		out[i] = revenue.Share{Recipient: uuid.New(), BPS: b}
	}
	return out
}

func TestValidateShares(t *testing.T) {
	tests := []struct {
		name    string
		shares  []revenue.Share
		wantErr error
	}{
		{"single full share", shares(10000), nil},
		{"six recipients", shares(5000, 1000, 1000, 1000, 1000, 1000), nil},
		{"empty", nil, revenue.ErrNoShares},
		{"seven recipients", shares(4000, 1000, 1000, 1000, 1000, 1000, 1000), revenue.ErrTooManyShares},
		{"sum below 10000", shares(6000, 3000), revenue.ErrInvalidShares},
		{"sum above 10000", shares(6000, 5000), revenue.ErrInvalidShares},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := revenue.ValidateShares(tt.shares); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateShares() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplit_Scenario(t *testing.T) {
	// total=1000, fee 200 bps => fee 20, distributable 980;
	// shares [6000, 4000] => payouts [588, 392].
	fee, payouts, err := revenue.Split(1000, 200, shares(6000, 4000))
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	if fee != 20 {
		t.Errorf("fee = %d, want 20", fee)
	}
	want := []uint64{588, 392}
	for i, p := range payouts {
		if p.Amount != want[i] {
			t.Errorf("payout %d = %d, want %d", i, p.Amount, want[i])
		}
	}
}

func TestSplit_ExactSum(t *testing.T) {
	cases := []struct {
		name   string
		total  uint64
		feeBPS uint16
		bps    []uint16
	}{
		{"rounding dust on last payee", 1001, 333, []uint16{3333, 3333, 3334}},
		{"zero total", 0, 200, []uint16{6000, 4000}},
		{"one recipient takes all", 999, 0, []uint16{10000}},
		{"tiny total many shares", 7, 100, []uint16{1, 1, 1, 9996, 1, 1}},
		{"max fee", 123456789, 9999, []uint16{2500, 2500, 2500, 2500}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, payouts, err := revenue.Split(tc.total, tc.feeBPS, shares(tc.bps...))
			if err != nil {
				t.Fatalf("Split() error: %v", err)
			}
			sum := fee
			for _, p := range payouts {
				sum += p.Amount
			}
			if sum != tc.total {
				t.Errorf("fee %d + payouts sum to %d, want %d", fee, sum, tc.total)
			}
		})
	}
}

func TestSplit_EqualRemainingShareClosesOut(t *testing.T) {
	// Two equal shares: the second one's bps equals the remaining share only
	// at the final step, so it absorbs the dust.
	fee, payouts, err := revenue.Split(101, 0, shares(5000, 5000))
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	if fee != 0 {
		t.Fatalf("fee = %d, want 0", fee)
	}
	if payouts[0].Amount != 50 || payouts[1].Amount != 51 {
		t.Errorf("payouts = [%d, %d], want [50, 51]", payouts[0].Amount, payouts[1].Amount)
	}
}

func TestDistributor_Distribute(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMem()
	currency := uuid.New()
	treasury := uuid.New()
	escrow := ledger.Escrow("auction", "5", "bid", "top")

	recipients := shares(6000, 4000)
	if err := l.Deposit(ctx, currency, escrow, 1000); err != nil {
		t.Fatal(err)
	}

	d := revenue.NewDistributor(l)
	if err := d.Distribute(ctx, currency, escrow, treasury, 200, recipients); err != nil {
		t.Fatalf("Distribute() error: %v", err)
	}

	if got, _ := l.Balance(ctx, currency, ledger.Owned(treasury)); got != 20 {
		t.Errorf("treasury = %d, want 20", got)
	}
	if got, _ := l.Balance(ctx, currency, ledger.Owned(recipients[0].Recipient)); got != 588 {
		t.Errorf("recipient 0 = %d, want 588", got)
	}
	if got, _ := l.Balance(ctx, currency, ledger.Owned(recipients[1].Recipient)); got != 392 {
		t.Errorf("recipient 1 = %d, want 392", got)
	}
	if got, _ := l.Balance(ctx, currency, escrow); got != 0 {
		t.Errorf("escrow = %d, want 0 after close", got)
	}
}

func TestDistributor_InvalidSharesLeaveEscrowIntact(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMem()
	currency := uuid.New()
	escrow := ledger.Escrow("raffle", "3", "revenue")
	if err := l.Deposit(ctx, currency, escrow, 500); err != nil {
		t.Fatal(err)
	}

	d := revenue.NewDistributor(l)
	err := d.Distribute(ctx, currency, escrow, uuid.New(), 100, shares(5000))
	if !errors.Is(err, revenue.ErrInvalidShares) {
		t.Fatalf("Distribute() error = %v, want %v", err, revenue.ErrInvalidShares)
	}
	if got, _ := l.Balance(ctx, currency, escrow); got != 500 {
		t.Errorf("escrow = %d, want untouched 500", got)
	}
}
