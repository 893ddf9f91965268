package carecontext

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockSource struct {
	encounters     map[string]*EncounterInfo
	uploads        map[string]*FileUploadInfo
	questionnaires map[string]*QuestionnaireResponseInfo
}

func newMockSource() *mockSource {
	return &mockSource{
		encounters:     make(map[string]*EncounterInfo),
		uploads:        make(map[string]*FileUploadInfo),
		questionnaires: make(map[string]*QuestionnaireResponseInfo),
	}
}

func (m *mockSource) Encounter(_ context.Context, id string) (*EncounterInfo, error) {
	e, ok := m.encounters[id]
	if !ok {
		return nil, ErrNotResolvable
	}
	return e, nil
}

func (m *mockSource) FileUpload(_ context.Context, id string) (*FileUploadInfo, error) {
	f, ok := m.uploads[id]
	if !ok {
		return nil, ErrNotResolvable
	}
	return f, nil
}

func (m *mockSource) QuestionnaireResponse(_ context.Context, id string) (*QuestionnaireResponseInfo, error) {
	q, ok := m.questionnaires[id]
	if !ok {
		return nil, ErrNotResolvable
	}
	return q, nil
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		in      string
		want    Reference
		wantErr bool
	}{
		{in: "v2::encounter::abc-123", want: Reference{Version: "v2", Kind: KindEncounter, ID: "abc-123"}},
		{in: "v2::prescription::2026-01-15", want: Reference{Version: "v2", Kind: KindPrescription, ID: "2026-01-15"}},
		{in: "bare-encounter-id", want: Reference{Version: "v0", Kind: KindEncounter, ID: "bare-encounter-id"}},
		{in: "v2::unknown_kind::x", wantErr: true},
		{in: "v2::encounter::", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseReference(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseReference(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseReference(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseReference(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestResolve_RoundTrip(t *testing.T) {
	src := newMockSource()
	src.encounters["enc-1"] = &EncounterInfo{ID: "enc-1", PeriodStart: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := NewResolver(src)
	ctx := context.Background()

	ref := NewReference(KindEncounter, "enc-1")
	first, err := r.Resolve(ctx, ref)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(ctx, first.Reference)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if *first != *second {
		t.Errorf("round trip not idempotent: %+v vs %+v", first, second)
	}
}

func TestResolve_LegacyNormalizes(t *testing.T) {
	src := newMockSource()
	src.encounters["enc-2"] = &EncounterInfo{ID: "enc-2", PeriodStart: time.Now()}
	r := NewResolver(src)

	d, err := r.Resolve(context.Background(), "enc-2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Reference != "v2::encounter::enc-2" {
		t.Errorf("legacy reference did not normalize, got %q", d.Reference)
	}
}

func TestResolve_EncounterHIType(t *testing.T) {
	src := newMockSource()
	src.encounters["op"] = &EncounterInfo{ID: "op", PeriodStart: time.Now()}
	src.encounters["ip"] = &EncounterInfo{ID: "ip", PeriodStart: time.Now(), Discharged: true}
	r := NewResolver(src)
	ctx := context.Background()

	op, _ := r.Resolve(ctx, NewReference(KindEncounter, "op"))
	if op.HIType != HITypeOPConsultation {
		t.Errorf("expected OPConsultation, got %s", op.HIType)
	}
	ip, _ := r.Resolve(ctx, NewReference(KindEncounter, "ip"))
	if ip.HIType != HITypeDischargeSummary {
		t.Errorf("expected DischargeSummary, got %s", ip.HIType)
	}
}

func TestResolve_Prescription(t *testing.T) {
	r := NewResolver(newMockSource())
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	d, err := r.Resolve(context.Background(), NewPrescriptionReference(day))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.HIType != HITypePrescription {
		t.Errorf("expected Prescription, got %s", d.HIType)
	}
	if d.Reference != "v2::prescription::2026-02-10" {
		t.Errorf("unexpected reference %q", d.Reference)
	}
}

func TestResolve_IncompleteUpload(t *testing.T) {
	src := newMockSource()
	src.uploads["f1"] = &FileUploadInfo{ID: "f1", Name: "scan.pdf"}
	r := NewResolver(src)

	_, err := r.Resolve(context.Background(), NewReference(KindFileUpload, "f1"))
	if !errors.Is(err, ErrNotResolvable) {
		t.Errorf("expected ErrNotResolvable for incomplete upload, got %v", err)
	}
}
