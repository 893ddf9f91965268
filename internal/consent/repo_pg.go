package consent

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

const reqCols = `id, consent_id, status, purpose, hi_types, access_mode,
	from_time, to_time, expiry, frequency_unit, frequency_value, frequency_repeats,
	patient_id, abha_address, requester_id, requester, created_at, updated_at`

func (r *repoPG) CreateRequest(ctx context.Context, req *ConsentRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_request (
			id, consent_id, status, purpose, hi_types, access_mode,
			from_time, to_time, expiry, frequency_unit, frequency_value, frequency_repeats,
			patient_id, abha_address, requester_id, requester
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		req.ID, req.ConsentID, req.Status, req.Purpose, req.HITypes, req.AccessMode,
		req.FromTime, req.ToTime, req.Expiry, req.FrequencyUnit, req.FrequencyValue, req.FrequencyRepeats,
		req.PatientID, req.ABHAAddress, req.RequesterID, req.Requester,
	)
	return err
}

func (r *repoPG) GetRequest(ctx context.Context, id uuid.UUID) (*ConsentRequest, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM consent_request WHERE id = $1`, id))
}

func (r *repoPG) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*ConsentRequest, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM consent_request WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetRequestByConsentID(ctx context.Context, consentID string) (*ConsentRequest, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM consent_request WHERE consent_id = $1`, consentID))
}

func (r *repoPG) GetRequestByConsentIDForUpdate(ctx context.Context, consentID string) (*ConsentRequest, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM consent_request WHERE consent_id = $1 FOR UPDATE`, consentID))
}

func (r *repoPG) UpdateRequest(ctx context.Context, req *ConsentRequest) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_request SET
			consent_id=$2, status=$3, purpose=$4, hi_types=$5, access_mode=$6,
			from_time=$7, to_time=$8, expiry=$9,
			frequency_unit=$10, frequency_value=$11, frequency_repeats=$12,
			updated_at=now()
		WHERE id=$1`,
		req.ID, req.ConsentID, req.Status, req.Purpose, req.HITypes, req.AccessMode,
		req.FromTime, req.ToTime, req.Expiry,
		req.FrequencyUnit, req.FrequencyValue, req.FrequencyRepeats,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (r *repoPG) ListRequestsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsentRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM consent_request WHERE patient_id = $1`, patientID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reqCols+` FROM consent_request
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ConsentRequest
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

const artCols = `id, consent_request_id, transaction_id, hip, hiu, cm,
	care_contexts, hi_types, status, access_mode,
	from_time, to_time, expiry, frequency_unit, frequency_value, frequency_repeats,
	signature, key_private, key_public, key_nonce, created_at, updated_at`

func (r *repoPG) CreateArtefact(ctx context.Context, a *ConsentArtefact) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_artefact (
			id, consent_request_id, transaction_id, hip, hiu, cm,
			care_contexts, hi_types, status, access_mode,
			from_time, to_time, expiry, frequency_unit, frequency_value, frequency_repeats,
			signature
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		a.ID, a.ConsentRequestID, a.TransactionID, a.HIP, a.HIU, a.CM,
		a.CareContexts, a.HITypes, a.Status, a.AccessMode,
		a.FromTime, a.ToTime, a.Expiry, a.FrequencyUnit, a.FrequencyValue, a.FrequencyRepeats,
		a.Signature,
	)
	return err
}

func (r *repoPG) GetArtefact(ctx context.Context, id uuid.UUID) (*ConsentArtefact, error) {
	return scanArtefact(r.conn(ctx).QueryRow(ctx,
		`SELECT `+artCols+` FROM consent_artefact WHERE id = $1`, id))
}

func (r *repoPG) GetArtefactByTransactionID(ctx context.Context, transactionID string) (*ConsentArtefact, error) {
	return scanArtefact(r.conn(ctx).QueryRow(ctx,
		`SELECT `+artCols+` FROM consent_artefact WHERE transaction_id = $1`, transactionID))
}

func (r *repoPG) UpdateArtefact(ctx context.Context, a *ConsentArtefact) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_artefact SET
			consent_request_id=$2, hip=$3, hiu=$4, cm=$5,
			care_contexts=$6, hi_types=$7, status=$8, access_mode=$9,
			from_time=$10, to_time=$11, expiry=$12,
			frequency_unit=$13, frequency_value=$14, frequency_repeats=$15,
			signature=$16, updated_at=now()
		WHERE id=$1`,
		a.ID, a.ConsentRequestID, a.HIP, a.HIU, a.CM,
		a.CareContexts, a.HITypes, a.Status, a.AccessMode,
		a.FromTime, a.ToTime, a.Expiry,
		a.FrequencyUnit, a.FrequencyValue, a.FrequencyRepeats,
		a.Signature,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrArtefactNotFound
	}
	return nil
}

func (r *repoPG) SetArtefactKeyMaterial(ctx context.Context, a *ConsentArtefact) error {
	// Key columns are write-once. An artefact that already has material
	// keeps it; decrypting stored pages depends on the original keys.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_artefact
		SET key_private=$2, key_public=$3, key_nonce=$4, updated_at=now()
		WHERE id=$1 AND key_private IS NULL`,
		a.ID, a.KeyMaterialPrivateKey, a.KeyMaterialPublicKey, a.KeyMaterialNonce,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Reload whatever was already there so the caller sees the
		// authoritative material.
		existing, err := r.GetArtefact(ctx, a.ID)
		if err != nil {
			return err
		}
		a.KeyMaterialPrivateKey = existing.KeyMaterialPrivateKey
		a.KeyMaterialPublicKey = existing.KeyMaterialPublicKey
		a.KeyMaterialNonce = existing.KeyMaterialNonce
	}
	return nil
}

func (r *repoPG) SetArtefactTransactionID(ctx context.Context, id uuid.UUID, transactionID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_artefact SET transaction_id=$2, updated_at=now() WHERE id=$1`,
		id, transactionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrArtefactNotFound
	}
	return nil
}

func (r *repoPG) ListArtefactsByRequest(ctx context.Context, requestID uuid.UUID) ([]*ConsentArtefact, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+artCols+` FROM consent_artefact
		WHERE consent_request_id = $1 ORDER BY created_at ASC`, requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ConsentArtefact
	for rows.Next() {
		a, err := scanArtefactRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequestInto(s scanner) (*ConsentRequest, error) {
	var req ConsentRequest
	err := s.Scan(&req.ID, &req.ConsentID, &req.Status, &req.Purpose, &req.HITypes, &req.AccessMode,
		&req.FromTime, &req.ToTime, &req.Expiry,
		&req.FrequencyUnit, &req.FrequencyValue, &req.FrequencyRepeats,
		&req.PatientID, &req.ABHAAddress, &req.RequesterID, &req.Requester,
		&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func scanRequest(row pgx.Row) (*ConsentRequest, error) {
	req, err := scanRequestInto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func scanRequestRow(rows pgx.Rows) (*ConsentRequest, error) {
	return scanRequestInto(rows)
}

func scanArtefactInto(s scanner) (*ConsentArtefact, error) {
	var a ConsentArtefact
	err := s.Scan(&a.ID, &a.ConsentRequestID, &a.TransactionID, &a.HIP, &a.HIU, &a.CM,
		&a.CareContexts, &a.HITypes, &a.Status, &a.AccessMode,
		&a.FromTime, &a.ToTime, &a.Expiry,
		&a.FrequencyUnit, &a.FrequencyValue, &a.FrequencyRepeats,
		&a.Signature, &a.KeyMaterialPrivateKey, &a.KeyMaterialPublicKey, &a.KeyMaterialNonce,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanArtefact(row pgx.Row) (*ConsentArtefact, error) {
	a, err := scanArtefactInto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtefactNotFound
	}
	return a, err
}

func scanArtefactRow(rows pgx.Rows) (*ConsentArtefact, error) {
	return scanArtefactInto(rows)
}
