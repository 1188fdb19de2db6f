// Package ledger defines the custodial balance capability the engines settle
// through. Balance transfer execution is an external concern; the engines
// only rely on this interface plus the in-memory implementation used for
// tests and single-node deployments.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNonZeroBalance    = errors.New("closing an account with non-zero balance")
)

// Account identifies a custodial balance holder. Escrow accounts are derived
// deterministically from a namespace and the listing/participant identities
// instead of being freely chosen.
type Account string

// Owned returns the spendable account of a participant.
func Owned(owner uuid.UUID) Account {
	return Account("owner/" + owner.String())
}

// Escrow derives an escrow account from namespace parts, e.g.
// Escrow("auction", "3", "bid", bidder). The parts are joined verbatim; the
// same parts always derive the same account.
func Escrow(parts ...string) Account {
	return Account("escrow/" + strings.Join(parts, "/"))
}

// Ledger moves custodial balances. An asset is either a currency (amounts in
// minor units) or a collectible item (amounts in whole units).
type Ledger interface {
	// Balance returns the balance of an account; unknown accounts hold zero.
	Balance(ctx context.Context, asset uuid.UUID, account Account) (uint64, error)
	// Transfer moves amount of asset between accounts, rejecting with
	// ErrInsufficientFunds when the source balance is too low.
	Transfer(ctx context.Context, asset uuid.UUID, from, to Account, amount uint64) error
	// Close removes an account for an asset, enforcing a zero balance.
	Close(ctx context.Context, asset uuid.UUID, account Account) error
}

// Funder is implemented by ledgers that can create balances out of thin air.
// Production ledgers do not implement it; the memory ledger uses it for
// test and development funding.
type Funder interface {
	Deposit(ctx context.Context, asset uuid.UUID, account Account, amount uint64) error
}

func balanceKey(asset uuid.UUID, account Account) string {
	return fmt.Sprintf("%s|%s", asset, account)
}
