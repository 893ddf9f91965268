package consent

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrRequestNotFound  = errors.New("consent: request not found")
	ErrArtefactNotFound = errors.New("consent: artefact not found")
)

type Repository interface {
	CreateRequest(ctx context.Context, req *ConsentRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*ConsentRequest, error)
	// GetRequestForUpdate row-locks the request for the duration of the
	// surrounding transaction. Callback handlers use it to serialize
	// concurrent mutations of the same consent.
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*ConsentRequest, error)
	GetRequestByConsentID(ctx context.Context, consentID string) (*ConsentRequest, error)
	GetRequestByConsentIDForUpdate(ctx context.Context, consentID string) (*ConsentRequest, error)
	UpdateRequest(ctx context.Context, req *ConsentRequest) error
	ListRequestsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsentRequest, int, error)

	CreateArtefact(ctx context.Context, a *ConsentArtefact) error
	GetArtefact(ctx context.Context, id uuid.UUID) (*ConsentArtefact, error)
	GetArtefactByTransactionID(ctx context.Context, transactionID string) (*ConsentArtefact, error)
	// UpdateArtefact persists everything except the key-material columns,
	// which are written once by SetArtefactKeyMaterial and frozen.
	UpdateArtefact(ctx context.Context, a *ConsentArtefact) error
	// SetArtefactKeyMaterial writes the key columns only when they are
	// still empty.
	SetArtefactKeyMaterial(ctx context.Context, a *ConsentArtefact) error
	SetArtefactTransactionID(ctx context.Context, id uuid.UUID, transactionID string) error
	ListArtefactsByRequest(ctx context.Context, requestID uuid.UUID) ([]*ConsentArtefact, error)
}
