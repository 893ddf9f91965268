package ledger

import (
	"context"
	"errors"
	"time"

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

const txnCols = `id, reference_id, type, status, metadata, created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, txn *Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.Status == "" {
		txn.Status = StatusInitiated
	}
	if txn.Metadata == nil {
		txn.Metadata = map[string]any{}
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO abdm_transaction (id, reference_id, type, status, metadata, created_by)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM abdm_transaction
			WHERE reference_id = $2 AND type = $3 AND status <> 'CANCELLED'
		)`,
		txn.ID, txn.ReferenceID, txn.Type, txn.Status, txn.Metadata, txn.CreatedBy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateReference
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return scanTxn(r.conn(ctx).QueryRow(ctx,
		`SELECT `+txnCols+` FROM abdm_transaction WHERE id = $1`, id))
}

func (r *repoPG) GetActiveByReference(ctx context.Context, referenceID string, typ TransactionType) (*Transaction, error) {
	return scanTxn(r.conn(ctx).QueryRow(ctx,
		`SELECT `+txnCols+` FROM abdm_transaction
		 WHERE reference_id = $1 AND type = $2 AND status <> 'CANCELLED'
		 ORDER BY created_at DESC LIMIT 1`, referenceID, typ))
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status TransactionStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE abdm_transaction
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')`,
		id, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a settled one.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadySettled
	}
	return nil
}

func (r *repoPG) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE abdm_transaction SET metadata = $2, updated_at = now() WHERE id = $1`,
		id, metadata,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) FindActiveByMetadata(ctx context.Context, typ TransactionType, key, value string) (*Transaction, error) {
	return scanTxn(r.conn(ctx).QueryRow(ctx, `
		SELECT `+txnCols+` FROM abdm_transaction
		WHERE type = $1 AND status <> 'CANCELLED' AND metadata->>$2 = $3
		ORDER BY created_at DESC LIMIT 1`, typ, key, value))
}

func (r *repoPG) FindStuck(ctx context.Context, typ TransactionType, olderThan time.Time, statuses []TransactionStatus) ([]*Transaction, error) {
	if len(statuses) == 0 {
		statuses = []TransactionStatus{StatusInitiated, StatusFailed}
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+txnCols+` FROM abdm_transaction
		WHERE type = $1 AND created_at < $2 AND status = ANY($3)
		ORDER BY created_at ASC`,
		typ, olderThan, statuses,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTxns(rows)
}

func (r *repoPG) RewriteMetadataKey(ctx context.Context, typ TransactionType, field, from, to string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	var total int64
	for {
		var affected int64
		err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
			tag, err := db.TxFromContext(ctx).Exec(ctx, `
				UPDATE abdm_transaction
				SET metadata = jsonb_set(metadata, ARRAY[$2], to_jsonb($4::text)),
				    updated_at = now()
				WHERE id IN (
					SELECT id FROM abdm_transaction
					WHERE type = $1
					  AND status NOT IN ('COMPLETED', 'CANCELLED')
					  AND metadata->>$2 = $3
					LIMIT $5
				)`,
				typ, field, from, to, batchSize,
			)
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()
			return nil
		})
		if err != nil {
			return total, err
		}
		total += affected
		if affected < int64(batchSize) {
			return total, nil
		}
	}
}

func (r *repoPG) ListByPatient(ctx context.Context, createdBy uuid.UUID, limit, offset int) ([]*Transaction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM abdm_transaction WHERE created_by = $1`, createdBy,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+txnCols+` FROM abdm_transaction
		WHERE created_by = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		createdBy, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txns, err := scanTxns(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func scanTxn(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.ReferenceID, &t.Type, &t.Status, &t.Metadata,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTxns(rows pgx.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ReferenceID, &t.Type, &t.Status, &t.Metadata,
			&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
