package eligibility_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/eligibility"
)

func TestCheck(t *testing.T) {
	caller := uuid.New()
	collection := uuid.New()
	token := uuid.New()
	item := uuid.New()

	collectionGroup := eligibility.Group{Kind: eligibility.GroupCollectionHolders, Key: collection}
	tokenGroup := eligibility.Group{Kind: eligibility.GroupTokenHolders, Key: token}

	tests := []struct {
		name    string
		groups  []eligibility.Group
		proof   *eligibility.Proof
		wantErr error
	}{
		{
			name:    "no groups admits everyone",
			groups:  nil,
			proof:   nil,
			wantErr: nil,
		},
		{
			name:    "missing proof",
			groups:  []eligibility.Group{tokenGroup},
			proof:   nil,
			wantErr: eligibility.ErrIneligible,
		},
		{
			name:   "token holder admitted",
			groups: []eligibility.Group{tokenGroup},
			proof: &eligibility.Proof{
				Kind:    eligibility.GroupTokenHolders,
				Holding: eligibility.Holding{Owner: caller, Asset: token, Amount: 12},
			},
			wantErr: nil,
		},
		{
			name:   "wrong token",
			groups: []eligibility.Group{tokenGroup},
			proof: &eligibility.Proof{
				Kind:    eligibility.GroupTokenHolders,
				Holding: eligibility.Holding{Owner: caller, Asset: uuid.New(), Amount: 12},
			},
			wantErr: eligibility.ErrIneligible,
		},
		{
			name:   "zero balance holding",
			groups: []eligibility.Group{tokenGroup},
			proof: &eligibility.Proof{
				Kind:    eligibility.GroupTokenHolders,
				Holding: eligibility.Holding{Owner: caller, Asset: token, Amount: 0},
			},
			wantErr: eligibility.ErrInvalidProof,
		},
		{
			name:   "holding owned by someone else",
			groups: []eligibility.Group{tokenGroup},
			proof: &eligibility.Proof{
				Kind:    eligibility.GroupTokenHolders,
				Holding: eligibility.Holding{Owner: uuid.New(), Asset: token, Amount: 3},
			},
			wantErr: eligibility.ErrInvalidProof,
		},
		{
			name:   "collection holder admitted",
			groups: []eligibility.Group{collectionGroup},
			proof: &eligibility.Proof{
				Kind: eligibility.GroupCollectionHolders,
				Holding: eligibility.Holding{
					Owner: caller, Asset: item, Amount: 1,
					Collection: collection, CollectionVerified: true,
				},
			},
			wantErr: nil,
		},
		{
			name:   "unverified collection link",
			groups: []eligibility.Group{collectionGroup},
			proof: &eligibility.Proof{
				Kind: eligibility.GroupCollectionHolders,
				Holding: eligibility.Holding{
					Owner: caller, Asset: item, Amount: 1,
					Collection: collection, CollectionVerified: false,
				},
			},
			wantErr: eligibility.ErrInvalidProof,
		},
		{
			name:   "wrong collection",
			groups: []eligibility.Group{collectionGroup},
			proof: &eligibility.Proof{
				Kind: eligibility.GroupCollectionHolders,
				Holding: eligibility.Holding{
					Owner: caller, Asset: item, Amount: 1,
					Collection: uuid.New(), CollectionVerified: true,
				},
			},
			wantErr: eligibility.ErrIneligible,
		},
		{
			name:   "OR across groups",
			groups: []eligibility.Group{collectionGroup, tokenGroup},
			proof: &eligibility.Proof{
				Kind:    eligibility.GroupTokenHolders,
				Holding: eligibility.Holding{Owner: caller, Asset: token, Amount: 1},
			},
			wantErr: nil,
		},
		{
			name:   "attestation kind not implemented",
			groups: []eligibility.Group{{Kind: eligibility.GroupAttestation, Key: uuid.New()}},
			proof: &eligibility.Proof{
				Kind:    eligibility.GroupAttestation,
				Holding: eligibility.Holding{Owner: caller, Asset: token, Amount: 1},
			},
			wantErr: eligibility.ErrNotImplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := eligibility.Check(tt.groups, caller, tt.proof); !errors.Is(err, tt.wantErr) {
				t.Errorf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGroups(t *testing.T) {
	groups := make([]eligibility.Group, eligibility.MaxGroups+1)
	for i := range groups {
		groups[i] = eligibility.Group{Kind: eligibility.GroupTokenHolders, Key: uuid.New()}
	}

	if err := eligibility.ValidateGroups(groups[:eligibility.MaxGroups]); err != nil {
		t.Errorf("ValidateGroups(10 groups) = %v, want nil", err)
	}
	if err := eligibility.ValidateGroups(groups); !errors.Is(err, eligibility.ErrTooManyGroups) {
		t.Errorf("ValidateGroups(11 groups) = %v, want %v", err, eligibility.ErrTooManyGroups)
	}
}
