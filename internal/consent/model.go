// Package consent tracks consent requests and artefacts through their
// lifecycle. Requests are what we ask the patient for; artefacts are what
// the consent manager grants back, and they alone authorize data flow.
package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/10bedicu/care-abdm/internal/cipher"
)

type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusGranted   Status = "GRANTED"
	StatusDenied    Status = "DENIED"
	StatusExpired   Status = "EXPIRED"
	StatusRevoked   Status = "REVOKED"
)

// IsTerminal reports whether a consent in this status can still move.
// DENIED never leaves; GRANTED can still be revoked or expire.
func (s Status) IsTerminal() bool {
	return s == StatusDenied || s == StatusExpired || s == StatusRevoked
}

const (
	AccessModeView  = "VIEW"
	AccessModeStore = "STORE"
	AccessModeQuery = "QUERY"
)

// ConsentRequest is our side of the ask. Its ID doubles as the REQUEST-ID
// of the init call, which is how the on-init callback finds it.
type ConsentRequest struct {
	ID uuid.UUID
	// ConsentID is the consent manager's id for this request, learned
	// from the on-init callback. Nil until then.
	ConsentID *string
	Status    Status
	Purpose   string
	HITypes   []string

	AccessMode       string
	FromTime         time.Time
	ToTime           time.Time
	Expiry           time.Time
	FrequencyUnit    string
	FrequencyValue   int
	FrequencyRepeats int

	PatientID   uuid.UUID
	ABHAAddress string
	RequesterID *uuid.UUID
	Requester   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CareContextRef is one care context covered by an artefact, as granted.
type CareContextRef struct {
	PatientReference     string `json:"patientReference"`
	CareContextReference string `json:"careContextReference"`
}

// ConsentArtefact is one grant issued by the consent manager. Its ID is the
// manager's artefact id. Key material is generated once when the artefact
// detail first lands and never regenerated; stored pages depend on it.
type ConsentArtefact struct {
	ID               uuid.UUID
	ConsentRequestID *uuid.UUID
	// TransactionID is the data-flow session id the gateway assigns when
	// a health-information request is accepted.
	TransactionID *string

	HIP string
	HIU string
	CM  string

	CareContexts []CareContextRef
	HITypes      []string
	Status       Status

	AccessMode       string
	FromTime         time.Time
	ToTime           time.Time
	Expiry           time.Time
	FrequencyUnit    string
	FrequencyValue   int
	FrequencyRepeats int

	Signature string

	KeyMaterialPrivateKey *string
	KeyMaterialPublicKey  *string
	KeyMaterialNonce      *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasKeyMaterial reports whether the artefact's half of the key agreement
// has been generated.
func (a *ConsentArtefact) HasKeyMaterial() bool {
	return a.KeyMaterialPrivateKey != nil && *a.KeyMaterialPrivateKey != ""
}

// KeyMaterial returns the stored material.
func (a *ConsentArtefact) KeyMaterial() cipher.KeyMaterial {
	km := cipher.KeyMaterial{}
	if a.KeyMaterialPrivateKey != nil {
		km.PrivateKey = *a.KeyMaterialPrivateKey
	}
	if a.KeyMaterialPublicKey != nil {
		km.PublicKey = *a.KeyMaterialPublicKey
	}
	if a.KeyMaterialNonce != nil {
		km.Nonce = *a.KeyMaterialNonce
	}
	return km
}

// SetKeyMaterial stores freshly generated material on the artefact.
func (a *ConsentArtefact) SetKeyMaterial(km cipher.KeyMaterial) {
	a.KeyMaterialPrivateKey = &km.PrivateKey
	a.KeyMaterialPublicKey = &km.PublicKey
	a.KeyMaterialNonce = &km.Nonce
}

// copyDefaultsFrom seeds a freshly discovered artefact with its parent
// request's consent terms until the fetched detail replaces them.
func (a *ConsentArtefact) copyDefaultsFrom(req *ConsentRequest) {
	a.HITypes = req.HITypes
	a.AccessMode = req.AccessMode
	a.FromTime = req.FromTime
	a.ToTime = req.ToTime
	a.Expiry = req.Expiry
	a.FrequencyUnit = req.FrequencyUnit
	a.FrequencyValue = req.FrequencyValue
	a.FrequencyRepeats = req.FrequencyRepeats
}
