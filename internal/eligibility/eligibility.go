// Package eligibility evaluates group-membership predicates for gated
// listings. A listing carries up to MaxGroups OR-combined groups; a caller
// proves membership by presenting a holding attestation. Verifying that the
// attestation itself is genuine (signatures, mint authenticity) happens
// upstream; this package only evaluates the predicate.
package eligibility

import (
	"errors"

	"github.com/google/uuid"
)

// MaxGroups bounds the eligible-group list of a listing.
const MaxGroups = 10

var (
	ErrIneligible     = errors.New("caller is not a member of any eligible group")
	ErrInvalidProof   = errors.New("invalid eligibility proof")
	ErrNotImplemented = errors.New("attestation-based eligibility is not implemented")
	ErrTooManyGroups  = errors.New("too many eligible groups")
)

// GroupKind selects the membership predicate of a group.
type GroupKind string

const (
	// GroupCollectionHolders admits holders of any item in a collection.
	GroupCollectionHolders GroupKind = "collection_holders"
	// GroupTokenHolders admits holders of a specific fungible token.
	GroupTokenHolders GroupKind = "token_holders"
	// GroupAttestation is reserved for off-chain attestation criteria and
	// always rejects.
	GroupAttestation GroupKind = "attestation"
)

// Group is one eligible-group entry: its kind and the collection or token
// identity it refers to.
type Group struct {
	Kind GroupKind `json:"kind"`
	Key  uuid.UUID `json:"key"`
}

// ValidateGroups bounds-checks a listing's group list at creation.
func ValidateGroups(groups []Group) error {
	if len(groups) > MaxGroups {
		return ErrTooManyGroups
	}
	return nil
}

// Holding attests that Owner holds Amount units of Asset. For collection
// membership the holding additionally carries the verified collection the
// asset belongs to.
type Holding struct {
	Owner  uuid.UUID `json:"owner"`
	Asset  uuid.UUID `json:"asset"`
	Amount uint64    `json:"amount"`

	Collection         uuid.UUID `json:"collection,omitempty"`
	CollectionVerified bool      `json:"collection_verified,omitempty"`
}

// Proof is the caller-supplied membership evidence for one group kind.
type Proof struct {
	Kind    GroupKind `json:"kind"`
	Holding Holding   `json:"holding"`
}

// Check evaluates the caller's eligibility for a listing. An empty group
// list admits everyone. Otherwise the caller must present a proof whose
// holding they own with a non-zero amount, matching at least one group.
func Check(groups []Group, caller uuid.UUID, proof *Proof) error {
	if len(groups) == 0 {
		return nil
	}
	if proof == nil {
		return ErrIneligible
	}

	switch proof.Kind {
	case GroupCollectionHolders:
		// Collection membership requires a verified collection link on the
		// held item.
		if proof.Holding.Collection == uuid.Nil || !proof.Holding.CollectionVerified {
			return ErrInvalidProof
		}
	case GroupTokenHolders:
	case GroupAttestation:
		return ErrNotImplemented
	default:
		return ErrInvalidProof
	}

	if proof.Holding.Owner != caller || proof.Holding.Amount == 0 {
		return ErrInvalidProof
	}

	for _, g := range groups {
		if g.Kind != proof.Kind {
			continue
		}
		switch g.Kind {
		case GroupCollectionHolders:
			if g.Key == proof.Holding.Collection {
				return nil
			}
		case GroupTokenHolders:
			if g.Key == proof.Holding.Asset {
				return nil
			}
		}
	}
	return ErrIneligible
}
