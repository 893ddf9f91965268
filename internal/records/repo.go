package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNoRecords = errors.New("records: nothing stored for this consent")

type Repository interface {
	CreatePage(ctx context.Context, p *Page) error
	// ListByAssociation returns pages ordered by page number then arrival.
	ListByAssociation(ctx context.Context, associationID uuid.UUID) ([]*Page, error)
}
