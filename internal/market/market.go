// Package market holds the shared domain types for the marketplace engine:
// the listing status lifecycle, the global configuration record and the
// currency/collection allowlist.
package market

import (
	"time"
)

// Status is the lifecycle state shared by auctions and raffles.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Ended reports whether a listing expiring at expiresAt is over at now.
// A listing is ended strictly after its expiry timestamp.
func Ended(now, expiresAt time.Time) bool {
	return now.After(expiresAt)
}
