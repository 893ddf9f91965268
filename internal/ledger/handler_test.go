package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestList_ReturnsRowsRecordedForPatient(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	h := NewHandler(svc)

	patientID := uuid.New()
	otherID := uuid.New()
	ctx := context.Background()

	if _, err := svc.Record(ctx, "ref-mine", TypeLinkCareContext, &patientID, map[string]any{"hf_id": "HF-1"}, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.Record(ctx, "ref-other", TypeLinkCareContext, &otherID, nil, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.Record(ctx, "ref-anon", TypeExchangeData, nil, nil, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/transactions?patient_id="+patientID.String(), nil)
	rec := httptest.NewRecorder()

	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Results []transactionView `json:"results"`
		Total   int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Results) != 1 {
		t.Fatalf("expected exactly the patient's row, got total=%d results=%d", body.Total, len(body.Results))
	}
	if body.Results[0].ReferenceID != "ref-mine" {
		t.Errorf("listed reference = %q, want ref-mine", body.Results[0].ReferenceID)
	}
}

func TestList_RequiresPatientID(t *testing.T) {
	h := NewHandler(newTestService(newMockRepo()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
	rec := httptest.NewRecorder()

	err := h.List(e.NewContext(req, rec))
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing patient_id, got %v", err)
	}
}
