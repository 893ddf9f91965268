// Package ledger records every interaction with the national health-data
// exchange as an auditable transaction row.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TypeCreateOrLinkABHANumber TransactionType = "create-or-link-abha-number"
	TypeCreateABHAAddress      TransactionType = "create-abha-address"
	TypeScanAndShare           TransactionType = "scan-and-share"
	TypeLinkCareContext        TransactionType = "link-care-context"
	TypeExchangeData           TransactionType = "exchange-data"
	TypeAccessData             TransactionType = "access-data"
)

type TransactionStatus string

const (
	StatusInitiated TransactionStatus = "INITIATED"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed out of s.
// FAILED is retryable and therefore not terminal.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Transaction is one ledger row. Metadata is free-form jsonb; well-known
// keys include hf_id, abha_number, care_contexts, type, consent_artefact
// and is_incoming.
type Transaction struct {
	ID          uuid.UUID
	ReferenceID string
	Type        TransactionType
	Status      TransactionStatus
	Metadata    map[string]any
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MetaString returns the metadata value for key when it is a string.
func (t *Transaction) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[key].(string)
	return s
}

// MetaInt returns the metadata value for key as an int, tolerating the
// float64 shape jsonb decoding produces.
func (t *Transaction) MetaInt(key string) int {
	if t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// MetaStrings returns the metadata value for key as a string slice,
// tolerating the []any shape jsonb decoding produces.
func (t *Transaction) MetaStrings(key string) []string {
	if t.Metadata == nil {
		return nil
	}
	switch v := t.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
