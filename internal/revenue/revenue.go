// Package revenue implements fee collection and proportional multi-recipient
// revenue splitting with exact remainder handling.
package revenue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/ledger"
)

// MaxRecipients bounds the recipient list of a revenue share config.
const MaxRecipients = 6

var (
	ErrInvalidShares = errors.New("revenue shares must sum to exactly 10000 bps")
	ErrTooManyShares = errors.New("too many revenue recipients")
	ErrNoShares      = errors.New("at least one revenue recipient required")
)

// Share assigns a recipient a slice of the post-fee revenue, in basis points.
type Share struct {
	Recipient uuid.UUID `json:"recipient"`
	BPS       uint16    `json:"bps"`
}

// ValidateShares checks a recipient list: 1..MaxRecipients entries whose
// shares sum to exactly 10000 bps.
func ValidateShares(shares []Share) error {
	if len(shares) == 0 {
		return ErrNoShares
	}
	if len(shares) > MaxRecipients {
		return ErrTooManyShares
	}
	var sum uint32
	for _, s := range shares {
		sum += uint32(s.BPS)
	}
	if sum != 10000 {
		return ErrInvalidShares
	}
	return nil
}

// Payout is one recipient's computed cut.
type Payout struct {
	Recipient uuid.UUID
	Amount    uint64
}

// Split computes the fee skim and the per-recipient payouts for a total
// escrowed revenue. All arithmetic is integer; fee = total*feeBps/10000
// rounded down. A recipient whose share equals the share still left to pay
// receives the amount still left in full, so rounding dust is absorbed by
// whichever recipient is processed last and fee + payouts always sum to
// total exactly.
func Split(total uint64, feeBPS uint16, shares []Share) (fee uint64, payouts []Payout, err error) {
	if err := ValidateShares(shares); err != nil {
		return 0, nil, err
	}

	fee = total * uint64(feeBPS) / 10000
	remainingAmount := total - fee
	postFeeTotal := remainingAmount
	remainingShare := uint16(10000)

	payouts = make([]Payout, 0, len(shares))
	for _, share := range shares {
		var amount uint64
		if share.BPS == remainingShare {
			amount = remainingAmount
		} else {
			amount = postFeeTotal * uint64(share.BPS) / 10000
		}
		payouts = append(payouts, Payout{Recipient: share.Recipient, Amount: amount})
		remainingAmount -= amount
		remainingShare -= share.BPS
	}
	return fee, payouts, nil
}

// Distributor drains a revenue escrow through the ledger: fee to the
// treasury, each payout to its recipient's account, then closes the escrow.
type Distributor struct {
	ledger ledger.Ledger
}

// NewDistributor returns a Distributor settling through l.
func NewDistributor(l ledger.Ledger) *Distributor {
	return &Distributor{ledger: l}
}

// Distribute splits the full balance of escrow and pays it out. The escrow
// account is closed afterwards; the zero-balance requirement is what proves
// the split was exact.
func (d *Distributor) Distribute(ctx context.Context, currency uuid.UUID, escrow ledger.Account, treasury uuid.UUID, feeBPS uint16, shares []Share) error {
	total, err := d.ledger.Balance(ctx, currency, escrow)
	if err != nil {
		return fmt.Errorf("reading escrow balance: %w", err)
	}

	fee, payouts, err := Split(total, feeBPS, shares)
	if err != nil {
		return err
	}

	if err := d.ledger.Transfer(ctx, currency, escrow, ledger.Owned(treasury), fee); err != nil {
		return fmt.Errorf("collecting fee: %w", err)
	}
	for _, p := range payouts {
		if err := d.ledger.Transfer(ctx, currency, escrow, ledger.Owned(p.Recipient), p.Amount); err != nil {
			return fmt.Errorf("paying recipient %s: %w", p.Recipient, err)
		}
	}

	if err := d.ledger.Close(ctx, currency, escrow); err != nil {
		return fmt.Errorf("closing revenue escrow: %w", err)
	}
	return nil
}
