package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/lotmarket/internal/pageindex"
)

type pageRow struct {
	Namespace string      `db:"namespace"`
	ID        uint64      `db:"id"`
	Keys      uuidsColumn `db:"keys"`
}

func (b *Backend) GetPage(ctx context.Context, namespace string, id uint64) (*pageindex.Page, error) {
	var row pageRow
	err := sqlx.GetContext(ctx, q(ctx, b.db), &row,
		`SELECT * FROM index_pages WHERE namespace = $1 AND id = $2`, namespace, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting index page: %w", err)
	}
	return &pageindex.Page{Namespace: row.Namespace, ID: row.ID, Keys: row.Keys}, nil
}

func (b *Backend) PutPage(ctx context.Context, p *pageindex.Page) error {
	_, err := q(ctx, b.db).ExecContext(ctx,
		`INSERT INTO index_pages (namespace, id, keys) VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, id) DO UPDATE SET keys = EXCLUDED.keys`,
		p.Namespace, p.ID, uuidsColumn(p.Keys))
	if err != nil {
		return fmt.Errorf("storing index page: %w", err)
	}
	return nil
}
