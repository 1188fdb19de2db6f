package market

import "github.com/google/uuid"

// AllowlistKind distinguishes the two allowlisted identity namespaces.
type AllowlistKind string

const (
	AllowlistCurrency   AllowlistKind = "currency"
	AllowlistCollection AllowlistKind = "collection"
)

// AllowlistEntry marks a currency or collection identity as tradable.
// Entries are append-only; an identity is never removed, only flagged.
type AllowlistEntry struct {
	Kind    AllowlistKind
	Key     uuid.UUID
	Allowed bool
}
