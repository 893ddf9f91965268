// Package facility maps EMR facilities to health-facility registry ids and
// keeps their exchange registration current. The HFID is what the exchange
// knows a facility by; every outgoing linking call carries it.
package facility

import (
	"time"

	"github.com/google/uuid"
)

// HealthFacility links one EMR facility to its registry identity.
type HealthFacility struct {
	ID uuid.UUID
	// FacilityID is the EMR facility this record belongs to.
	FacilityID uuid.UUID
	// HFID is the health-facility registry id, unique across rows.
	HFID string
	Name string
	// Registered is set once the exchange has accepted this facility as
	// a service provider.
	Registered bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
