package carecontext

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sourcePG reads care-context records from the EMR schema. The queries run
// against the emr_* views the deployment exposes over its clinical tables,
// so the EMR's own schema can evolve without touching this module.
type sourcePG struct {
	pool *pgxpool.Pool
}

func NewSource(pool *pgxpool.Pool) Source {
	return &sourcePG{pool: pool}
}

func (s *sourcePG) Encounter(ctx context.Context, id string) (*EncounterInfo, error) {
	var enc EncounterInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, class_code, period_start, discharged
		FROM emr_encounter WHERE id = $1`, id,
	).Scan(&enc.ID, &enc.ClassCode, &enc.PeriodStart, &enc.Discharged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("encounter %s: %w", id, ErrNotResolvable)
	}
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

func (s *sourcePG) FileUpload(ctx context.Context, id string) (*FileUploadInfo, error) {
	var f FileUploadInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, completed
		FROM emr_file_upload WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.Completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("file upload %s: %w", id, ErrNotResolvable)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *sourcePG) QuestionnaireResponse(ctx context.Context, id string) (*QuestionnaireResponseInfo, error) {
	var q QuestionnaireResponseInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, submitted_at
		FROM emr_questionnaire_response WHERE id = $1`, id,
	).Scan(&q.ID, &q.Title, &q.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("questionnaire response %s: %w", id, ErrNotResolvable)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}
