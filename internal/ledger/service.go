package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Record opens a new ledger row for an exchange interaction. The reference
// is the durable correlation string later callbacks use to find the row;
// createdBy is the patient or requester the row is listed under.
func (s *Service) Record(ctx context.Context, referenceID string, typ TransactionType, createdBy *uuid.UUID, metadata map[string]any, status TransactionStatus) (*Transaction, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("reference_id is required")
	}
	if typ == "" {
		return nil, fmt.Errorf("type is required")
	}
	if status == "" {
		status = StatusInitiated
	}

	txn := &Transaction{
		ReferenceID: referenceID,
		Type:        typ,
		Status:      status,
		Metadata:    metadata,
		CreatedBy:   createdBy,
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// Settle moves a transaction to a settled status. Transitions out of a
// terminal status are rejected; a settled row never resurrects.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, status TransactionStatus) error {
	if status == StatusInitiated {
		return fmt.Errorf("cannot settle back to %s", StatusInitiated)
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	s.log.Info().Str("transaction_id", id.String()).Str("status", string(status)).
		Msg("transaction settled")
	return nil
}

// SettleByReference settles the active row for (referenceID, typ).
func (s *Service) SettleByReference(ctx context.Context, referenceID string, typ TransactionType, status TransactionStatus) error {
	txn, err := s.repo.GetActiveByReference(ctx, referenceID, typ)
	if err != nil {
		return err
	}
	return s.Settle(ctx, txn.ID, status)
}

// FindActiveByReference returns the active row for (referenceID, typ).
func (s *Service) FindActiveByReference(ctx context.Context, referenceID string, typ TransactionType) (*Transaction, error) {
	return s.repo.GetActiveByReference(ctx, referenceID, typ)
}

// FindActiveByMetadata returns the active row of typ with metadata[key]
// equal to value.
func (s *Service) FindActiveByMetadata(ctx context.Context, typ TransactionType, key, value string) (*Transaction, error) {
	return s.repo.FindActiveByMetadata(ctx, typ, key, value)
}

// AmendMetadata replaces a transaction's metadata.
func (s *Service) AmendMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	return s.repo.UpdateMetadata(ctx, id, metadata)
}

// RewriteMetadataKey rewrites metadata[field] from one value to another on
// non-terminal rows of typ. Safe to re-run after a partial failure.
func (s *Service) RewriteMetadataKey(ctx context.Context, typ TransactionType, field, from, to string, batchSize int) (int64, error) {
	return s.repo.RewriteMetadataKey(ctx, typ, field, from, to, batchSize)
}

// FindStuck returns non-terminal rows of the given type older than the
// cutoff, oldest first so long-stuck rows are never starved.
func (s *Service) FindStuck(ctx context.Context, typ TransactionType, olderThan time.Time) ([]*Transaction, error) {
	return s.repo.FindStuck(ctx, typ, olderThan, nil)
}
