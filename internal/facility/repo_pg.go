package facility

import (
	"context"
	"errors"

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

const cols = `id, facility_id, hf_id, name, registered, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, hf *HealthFacility) error {
	if hf.ID == uuid.Nil {
		hf.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_facility (id, facility_id, hf_id, name, registered)
		VALUES ($1,$2,$3,$4,$5)`,
		hf.ID, hf.FacilityID, hf.HFID, hf.Name, hf.Registered,
	)
	return mapUnique(err)
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*HealthFacility, error) {
	return scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM health_facility WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*HealthFacility, error) {
	return scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM health_facility WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetByHFID(ctx context.Context, hfID string) (*HealthFacility, error) {
	return scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM health_facility WHERE hf_id = $1`, hfID))
}

func (r *repoPG) GetByFacilityID(ctx context.Context, facilityID uuid.UUID) (*HealthFacility, error) {
	return scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM health_facility WHERE facility_id = $1`, facilityID))
}

func (r *repoPG) Update(ctx context.Context, hf *HealthFacility) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE health_facility SET hf_id=$2, name=$3, registered=$4, updated_at=now()
		WHERE id=$1`,
		hf.ID, hf.HFID, hf.Name, hf.Registered,
	)
	if err != nil {
		return mapUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*HealthFacility, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM health_facility`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM health_facility ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*HealthFacility
	for rows.Next() {
		hf, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, hf)
	}
	return out, total, rows.Err()
}

func scan(row pgx.Row) (*HealthFacility, error) {
	return scanRow(row)
}

func scanRow(row pgx.Row) (*HealthFacility, error) {
	var hf HealthFacility
	err := row.Scan(&hf.ID, &hf.FacilityID, &hf.HFID, &hf.Name, &hf.Registered,
		&hf.CreatedAt, &hf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &hf, nil
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateHFID
	}
	return err
}
