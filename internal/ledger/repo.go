package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("ledger: transaction not found")

	// ErrDuplicateReference means an active row with the same
	// (reference_id, type) already exists.
	ErrDuplicateReference = errors.New("ledger: duplicate active reference")

	// ErrAlreadySettled means the row is in a terminal status and cannot
	// move again.
	ErrAlreadySettled = errors.New("ledger: transaction already settled")
)

type Repository interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// GetActiveByReference returns the newest non-cancelled row for
	// (referenceID, type).
	GetActiveByReference(ctx context.Context, referenceID string, typ TransactionType) (*Transaction, error)
	// UpdateStatus moves a row to status and returns ErrAlreadySettled if
	// the row is already terminal.
	UpdateStatus(ctx context.Context, id uuid.UUID, status TransactionStatus) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error
	// FindActiveByMetadata returns the newest non-cancelled row of the
	// given type whose metadata[key] equals value.
	FindActiveByMetadata(ctx context.Context, typ TransactionType, key, value string) (*Transaction, error)
	// FindStuck returns rows of the given type in any of the given
	// statuses created before olderThan, oldest first.
	FindStuck(ctx context.Context, typ TransactionType, olderThan time.Time, statuses []TransactionStatus) ([]*Transaction, error)
	// RewriteMetadataKey rewrites metadata[field] from one value to
	// another on non-terminal rows of the given type, in batches of
	// batchSize. Re-running after a partial failure only touches
	// remaining rows.
	RewriteMetadataKey(ctx context.Context, typ TransactionType, field, from, to string, batchSize int) (int64, error)
	ListByPatient(ctx context.Context, createdBy uuid.UUID, limit, offset int) ([]*Transaction, int, error)
}
