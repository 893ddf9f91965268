package records

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/10bedicu/care-abdm/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) CreatePage(ctx context.Context, p *Page) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_record_page (
			id, association_id, transaction_id, page_number, page_count, content_type, entries
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.AssociationID, p.TransactionID, p.PageNumber, p.PageCount, p.ContentType, p.Entries,
	)
	return err
}

func (r *repoPG) ListByAssociation(ctx context.Context, associationID uuid.UUID) ([]*Page, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, association_id, transaction_id, page_number, page_count, content_type, entries, created_at
		FROM health_record_page
		WHERE association_id = $1
		ORDER BY page_number ASC, created_at ASC`, associationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.AssociationID, &p.TransactionID, &p.PageNumber,
			&p.PageCount, &p.ContentType, &p.Entries, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
