package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/lotmarket/internal/ledger"
)

// Ledger implements ledger.Ledger and ledger.Funder over the
// ledger_accounts table. Every method joins the caller's Backend.Atomic
// transaction when the context carries one, so an engine operation that
// fails after a transfer rolls the transfer back too. Debits are guarded,
// so a racing double-spend loses cleanly instead of going negative.
type Ledger struct {
	db *sqlx.DB
}

func (l *Ledger) Balance(ctx context.Context, asset uuid.UUID, account ledger.Account) (uint64, error) {
	var balance uint64
	err := sqlx.GetContext(ctx, q(ctx, l.db), &balance,
		`SELECT balance FROM ledger_accounts WHERE asset = $1 AND account = $2`,
		asset, string(account))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) Transfer(ctx context.Context, asset uuid.UUID, from, to ledger.Account, amount uint64) error {
	return atomic(ctx, l.db, func(ctx context.Context) error {
		res, err := q(ctx, l.db).ExecContext(ctx,
			`UPDATE ledger_accounts SET balance = balance - $1
			 WHERE asset = $2 AND account = $3 AND balance >= $1`,
			amount, asset, string(from))
		if err != nil {
			return fmt.Errorf("debiting %s: %w", from, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transfer %d from %s: %w", amount, from, ledger.ErrInsufficientFunds)
		}
		if _, err := q(ctx, l.db).ExecContext(ctx,
			`INSERT INTO ledger_accounts (asset, account, balance) VALUES ($1, $2, $3)
			 ON CONFLICT (asset, account) DO UPDATE SET
			 balance = ledger_accounts.balance + EXCLUDED.balance`,
			asset, string(to), amount); err != nil {
			return fmt.Errorf("crediting %s: %w", to, err)
		}
		return nil
	})
}

func (l *Ledger) Close(ctx context.Context, asset uuid.UUID, account ledger.Account) error {
	return atomic(ctx, l.db, func(ctx context.Context) error {
		var balance uint64
		err := sqlx.GetContext(ctx, q(ctx, l.db), &balance,
			`SELECT balance FROM ledger_accounts WHERE asset = $1 AND account = $2 FOR UPDATE`,
			asset, string(account))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("locking account: %w", err)
		}
		if balance != 0 {
			return fmt.Errorf("close %s: %w", account, ledger.ErrNonZeroBalance)
		}
		if _, err := q(ctx, l.db).ExecContext(ctx,
			`DELETE FROM ledger_accounts WHERE asset = $1 AND account = $2`,
			asset, string(account)); err != nil {
			return fmt.Errorf("deleting account: %w", err)
		}
		return nil
	})
}

func (l *Ledger) Deposit(ctx context.Context, asset uuid.UUID, account ledger.Account, amount uint64) error {
	_, err := q(ctx, l.db).ExecContext(ctx,
		`INSERT INTO ledger_accounts (asset, account, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (asset, account) DO UPDATE SET
		 balance = ledger_accounts.balance + EXCLUDED.balance`,
		asset, string(account), amount)
	if err != nil {
		return fmt.Errorf("depositing into %s: %w", account, err)
	}
	return nil
}
