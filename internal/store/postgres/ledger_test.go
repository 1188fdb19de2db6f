package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/store/postgres"
)

func TestLedger_DepositAndBalance(t *testing.T) {
	db := newTestDB(t)
	l := postgres.NewBackend(db).Ledger()
	ctx := context.Background()

	asset := uuid.New()
	acct := ledger.Owned(uuid.New())

	if got, err := l.Balance(ctx, asset, acct); err != nil || got != 0 {
		t.Fatalf("fresh balance = (%d, %v), want (0, nil)", got, err)
	}

	if err := l.Deposit(ctx, asset, acct, 500); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := l.Deposit(ctx, asset, acct, 250); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if got, _ := l.Balance(ctx, asset, acct); got != 750 {
		t.Errorf("balance = %d, want 750", got)
	}
}

func TestLedger_Transfer(t *testing.T) {
	db := newTestDB(t)
	l := postgres.NewBackend(db).Ledger()
	ctx := context.Background()

	asset := uuid.New()
	from := ledger.Owned(uuid.New())
	to := ledger.Escrow("auction", "0", "lot")

	if err := l.Deposit(ctx, asset, from, 100); err != nil {
		t.Fatal(err)
	}

	if err := l.Transfer(ctx, asset, from, to, 60); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got, _ := l.Balance(ctx, asset, from); got != 40 {
		t.Errorf("from = %d, want 40", got)
	}
	if got, _ := l.Balance(ctx, asset, to); got != 60 {
		t.Errorf("to = %d, want 60", got)
	}

	// Overdrafts roll back without touching either side.
	if err := l.Transfer(ctx, asset, from, to, 41); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("overdraft err = %v, want ErrInsufficientFunds", err)
	}
	if got, _ := l.Balance(ctx, asset, from); got != 40 {
		t.Errorf("from after overdraft = %d, want 40", got)
	}
	if got, _ := l.Balance(ctx, asset, to); got != 60 {
		t.Errorf("to after overdraft = %d, want 60", got)
	}

	// Transfers from accounts that were never funded fail the same way.
	if err := l.Transfer(ctx, asset, ledger.Owned(uuid.New()), to, 1); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("unfunded err = %v, want ErrInsufficientFunds", err)
	}
}

func TestBackend_AtomicRollsBackLedger(t *testing.T) {
	db := newTestDB(t)
	b := postgres.NewBackend(db)
	l := b.Ledger()
	ctx := context.Background()

	asset := uuid.New()
	from := ledger.Owned(uuid.New())
	to := ledger.Escrow("auction", "0", "bid")
	if err := l.Deposit(ctx, asset, from, 100); err != nil {
		t.Fatal(err)
	}

	// A failure after the transfer aborts the whole operation, so the
	// escrowed funds return to the payer instead of stranding.
	abort := errors.New("operation aborted")
	err := b.Atomic(ctx, func(ctx context.Context) error {
		if err := l.Transfer(ctx, asset, from, to, 60); err != nil {
			return err
		}
		if got, _ := l.Balance(ctx, asset, from); got != 40 {
			t.Errorf("mid-transaction balance = %d, want 40", got)
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("Atomic err = %v, want the aborting error", err)
	}
	if got, _ := l.Balance(ctx, asset, from); got != 100 {
		t.Errorf("from after rollback = %d, want 100", got)
	}
	if got, _ := l.Balance(ctx, asset, to); got != 0 {
		t.Errorf("to after rollback = %d, want 0", got)
	}
}

func TestLedger_Close(t *testing.T) {
	db := newTestDB(t)
	l := postgres.NewBackend(db).Ledger()
	ctx := context.Background()

	asset := uuid.New()
	acct := ledger.Escrow("raffle", "3", "reward")

	// Closing an account that never existed succeeds.
	if err := l.Close(ctx, asset, acct); err != nil {
		t.Fatalf("close missing: %v", err)
	}

	if err := l.Deposit(ctx, asset, acct, 10); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(ctx, asset, acct); !errors.Is(err, ledger.ErrNonZeroBalance) {
		t.Fatalf("close funded err = %v, want ErrNonZeroBalance", err)
	}

	sink := ledger.Owned(uuid.New())
	if err := l.Transfer(ctx, asset, acct, sink, 10); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(ctx, asset, acct); err != nil {
		t.Fatalf("close drained: %v", err)
	}
	if got, _ := l.Balance(ctx, asset, acct); got != 0 {
		t.Errorf("balance after close = %d, want 0", got)
	}
}
