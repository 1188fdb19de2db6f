// Package store selects and opens a persistence backend. Each engine
// declares the repository interface it needs; a driver returns one bundle
// implementing all of them.
package store

import (
	"context"
	"io"

	"github.com/jensholdgaard/lotmarket/internal/admin"
	"github.com/jensholdgaard/lotmarket/internal/auction"
	"github.com/jensholdgaard/lotmarket/internal/ledger"
	"github.com/jensholdgaard/lotmarket/internal/pageindex"
	"github.com/jensholdgaard/lotmarket/internal/raffle"
)

// Repositories groups all repository implementations returned by a store
// driver. One backend instance typically serves every field.
type Repositories struct {
	Admin    admin.Store
	Auctions auction.Store
	Raffles  raffle.Store
	Pages    pageindex.PageStore
	Ledger   ledger.Ledger
	// Funder is the deposit surface; nil when the backend does not allow
	// minting balances directly.
	Funder ledger.Funder
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}
