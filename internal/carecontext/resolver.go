package carecontext

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotResolvable is returned when a reference parses but its underlying
// EMR record no longer exists or is not shareable.
var ErrNotResolvable = errors.New("carecontext: reference not resolvable")

// EncounterInfo is the slice of an EMR encounter the resolver needs.
type EncounterInfo struct {
	ID          string
	ClassCode   string
	PeriodStart time.Time
	Discharged  bool
}

// FileUploadInfo describes a completed patient file upload.
type FileUploadInfo struct {
	ID        string
	Name      string
	Completed bool
}

// QuestionnaireResponseInfo describes a submitted questionnaire with coded
// observations.
type QuestionnaireResponseInfo struct {
	ID          string
	Title       string
	SubmittedAt time.Time
}

// Source is the read-only view of the EMR the resolver works against.
// Implementations return ErrNotResolvable (or wrap it) for missing records.
type Source interface {
	Encounter(ctx context.Context, id string) (*EncounterInfo, error)
	FileUpload(ctx context.Context, id string) (*FileUploadInfo, error)
	QuestionnaireResponse(ctx context.Context, id string) (*QuestionnaireResponseInfo, error)
}

// Resolver turns reference strings back into descriptors. There is exactly
// one resolution path per kind; legacy references share it.
type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve parses ref and rebuilds its descriptor from the EMR.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Descriptor, error) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}

	switch parsed.Kind {
	case KindEncounter:
		return r.resolveEncounter(ctx, parsed)
	case KindPrescription:
		return r.resolvePrescription(parsed)
	case KindFileUpload:
		return r.resolveFileUpload(ctx, parsed)
	case KindQuestionnaireResponse:
		return r.resolveQuestionnaireResponse(ctx, parsed)
	}
	return nil, fmt.Errorf("unknown care context kind %q", parsed.Kind)
}

func (r *Resolver) resolveEncounter(ctx context.Context, ref Reference) (*Descriptor, error) {
	enc, err := r.src.Encounter(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving encounter %s: %w", ref.ID, err)
	}

	hiType := HITypeOPConsultation
	if enc.Discharged {
		hiType = HITypeDischargeSummary
	}
	return &Descriptor{
		// Legacy ids re-encode to the current version so retried links
		// always carry one format.
		Reference: NewReference(KindEncounter, enc.ID),
		Display:   fmt.Sprintf("Encounter on %s", enc.PeriodStart.Format(DateLayout)),
		HIType:    hiType,
	}, nil
}

func (r *Resolver) resolvePrescription(ref Reference) (*Descriptor, error) {
	day, err := time.Parse(DateLayout, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving prescription date %q: %w", ref.ID, err)
	}
	return &Descriptor{
		Reference: NewPrescriptionReference(day),
		Display:   fmt.Sprintf("Medication prescribed on %s", day.Format(DateLayout)),
		HIType:    HITypePrescription,
	}, nil
}

func (r *Resolver) resolveFileUpload(ctx context.Context, ref Reference) (*Descriptor, error) {
	f, err := r.src.FileUpload(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving file upload %s: %w", ref.ID, err)
	}
	if !f.Completed {
		return nil, fmt.Errorf("file upload %s: %w", ref.ID, ErrNotResolvable)
	}
	return &Descriptor{
		Reference: NewReference(KindFileUpload, f.ID),
		Display:   f.Name,
		HIType:    HITypeHealthDocumentRecord,
	}, nil
}

func (r *Resolver) resolveQuestionnaireResponse(ctx context.Context, ref Reference) (*Descriptor, error) {
	q, err := r.src.QuestionnaireResponse(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving questionnaire response %s: %w", ref.ID, err)
	}
	return &Descriptor{
		Reference: NewReference(KindQuestionnaireResponse, q.ID),
		Display:   q.Title,
		HIType:    HITypeWellnessRecord,
	}, nil
}
