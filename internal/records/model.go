// Package records stores the decrypted pages delivered by data transfers
// and serves them back to the EMR.
package records

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is one decrypted care-context payload from a transfer page.
type Entry struct {
	CareContextReference string          `json:"care_context_reference"`
	Content              json.RawMessage `json:"content"`
}

// Page is one transfer page, stored as delivered. Pages are independent;
// out-of-order and duplicate delivery are both harmless, and no reassembly
// into a single document ever happens.
type Page struct {
	ID            uuid.UUID
	AssociationID uuid.UUID
	TransactionID string
	PageNumber    int
	PageCount     int
	ContentType   string
	Entries       []Entry
	CreatedAt     time.Time
}
