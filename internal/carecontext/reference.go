// Package carecontext encodes EMR records as durable care-context
// references and resolves references back into displayable descriptors.
//
// A reference is the only thing persisted in ledger metadata, so it must
// survive renames and retries: `v2::<kind>::<id-or-date>`. Legacy bare
// references (a raw encounter id) normalize to v0 and resolve through the
// same dispatch table as v2.
package carecontext

import (
	"fmt"
	"strings"
	"time"
)

// HIType is a health-information category as named by the exchange.
type HIType string

const (
	HITypePrescription         HIType = "Prescription"
	HITypeDiagnosticReport     HIType = "DiagnosticReport"
	HITypeOPConsultation       HIType = "OPConsultation"
	HITypeDischargeSummary     HIType = "DischargeSummary"
	HITypeImmunizationRecord   HIType = "ImmunizationRecord"
	HITypeHealthDocumentRecord HIType = "HealthDocumentRecord"
	HITypeWellnessRecord       HIType = "WellnessRecord"
)

// Kind identifies which EMR record family a reference points at.
type Kind string

const (
	KindEncounter             Kind = "encounter"
	KindPrescription          Kind = "prescription"
	KindFileUpload            Kind = "file_upload"
	KindQuestionnaireResponse Kind = "questionnaire_response"
)

const (
	currentVersion = "v2"
	legacyVersion  = "v0"
	separator      = "::"

	// DateLayout is the day encoding used by prescription references.
	DateLayout = "2006-01-02"
)

// Reference is a parsed care-context reference.
type Reference struct {
	Version string
	Kind    Kind
	ID      string
}

func (r Reference) String() string {
	return r.Version + separator + string(r.Kind) + separator + r.ID
}

// NewReference encodes a record as a current-version reference string.
func NewReference(kind Kind, id string) string {
	return Reference{Version: currentVersion, Kind: kind, ID: id}.String()
}

// NewPrescriptionReference encodes a prescription day reference.
func NewPrescriptionReference(day time.Time) string {
	return NewReference(KindPrescription, day.Format(DateLayout))
}

// ParseReference decodes a reference string. A bare value with no
// separators is a legacy encounter id and normalizes to v0.
func ParseReference(ref string) (Reference, error) {
	if ref == "" {
		return Reference{}, fmt.Errorf("empty care context reference")
	}
	if !strings.Contains(ref, separator) {
		return Reference{Version: legacyVersion, Kind: KindEncounter, ID: ref}, nil
	}

	parts := strings.SplitN(ref, separator, 3)
	if len(parts) != 3 || parts[2] == "" {
		return Reference{}, fmt.Errorf("malformed care context reference %q", ref)
	}
	kind := Kind(parts[1])
	switch kind {
	case KindEncounter, KindPrescription, KindFileUpload, KindQuestionnaireResponse:
	default:
		return Reference{}, fmt.Errorf("unknown care context kind %q", parts[1])
	}
	return Reference{Version: parts[0], Kind: kind, ID: parts[2]}, nil
}

// Descriptor is what the exchange sees for one care context: the durable
// reference plus a human-readable display and the information category.
type Descriptor struct {
	Reference string `json:"referenceNumber"`
	Display   string `json:"display"`
	HIType    HIType `json:"-"`
}
