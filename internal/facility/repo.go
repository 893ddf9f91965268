package facility

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("facility: not found")

	// ErrDuplicateHFID means another row already owns the registry id.
	ErrDuplicateHFID = errors.New("facility: hf_id already in use")
)

type Repository interface {
	Create(ctx context.Context, hf *HealthFacility) error
	Get(ctx context.Context, id uuid.UUID) (*HealthFacility, error)
	// GetForUpdate row-locks the facility for the surrounding
	// transaction. The HFID rename path uses it.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*HealthFacility, error)
	GetByHFID(ctx context.Context, hfID string) (*HealthFacility, error)
	GetByFacilityID(ctx context.Context, facilityID uuid.UUID) (*HealthFacility, error)
	Update(ctx context.Context, hf *HealthFacility) error
	List(ctx context.Context, limit, offset int) ([]*HealthFacility, int, error)
}
