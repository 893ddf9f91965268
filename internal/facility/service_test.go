package facility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
)

type mockFacilityRepo struct {
	rows map[uuid.UUID]*HealthFacility
}

func newMockFacilityRepo() *mockFacilityRepo {
	return &mockFacilityRepo{rows: make(map[uuid.UUID]*HealthFacility)}
}

func (m *mockFacilityRepo) Create(_ context.Context, hf *HealthFacility) error {
	for _, row := range m.rows {
		if row.HFID == hf.HFID {
			return ErrDuplicateHFID
		}
	}
	if hf.ID == uuid.Nil {
		hf.ID = uuid.New()
	}
	cp := *hf
	m.rows[hf.ID] = &cp
	return nil
}

func (m *mockFacilityRepo) Get(_ context.Context, id uuid.UUID) (*HealthFacility, error) {
	hf, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *hf
	return &cp, nil
}

func (m *mockFacilityRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*HealthFacility, error) {
	return m.Get(ctx, id)
}

func (m *mockFacilityRepo) GetByHFID(_ context.Context, hfID string) (*HealthFacility, error) {
	for _, hf := range m.rows {
		if hf.HFID == hfID {
			cp := *hf
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockFacilityRepo) GetByFacilityID(_ context.Context, facilityID uuid.UUID) (*HealthFacility, error) {
	for _, hf := range m.rows {
		if hf.FacilityID == facilityID {
			cp := *hf
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockFacilityRepo) Update(_ context.Context, hf *HealthFacility) error {
	if _, ok := m.rows[hf.ID]; !ok {
		return ErrNotFound
	}
	for _, row := range m.rows {
		if row.ID != hf.ID && row.HFID == hf.HFID {
			return ErrDuplicateHFID
		}
	}
	cp := *hf
	m.rows[hf.ID] = &cp
	return nil
}

func (m *mockFacilityRepo) List(_ context.Context, _, _ int) ([]*HealthFacility, int, error) {
	var out []*HealthFacility
	for _, hf := range m.rows {
		cp := *hf
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockRegGateway struct {
	calls []*gateway.RegisterServicePayload
	err   error
}

func (m *mockRegGateway) RegisterService(_ context.Context, req *gateway.RegisterServicePayload) error {
	m.calls = append(m.calls, req)
	return m.err
}

type rewriteCall struct {
	typ      ledger.TransactionType
	from, to string
}

// rewriteLedgerRepo records metadata rewrites, everything else is unused.
type rewriteLedgerRepo struct {
	calls []rewriteCall
	err   error
}

func (m *rewriteLedgerRepo) Create(context.Context, *ledger.Transaction) error { return nil }
func (m *rewriteLedgerRepo) GetByID(context.Context, uuid.UUID) (*ledger.Transaction, error) {
	return nil, ledger.ErrNotFound
}
func (m *rewriteLedgerRepo) GetActiveByReference(context.Context, string, ledger.TransactionType) (*ledger.Transaction, error) {
	return nil, ledger.ErrNotFound
}
func (m *rewriteLedgerRepo) UpdateStatus(context.Context, uuid.UUID, ledger.TransactionStatus) error {
	return nil
}
func (m *rewriteLedgerRepo) UpdateMetadata(context.Context, uuid.UUID, map[string]any) error {
	return nil
}
func (m *rewriteLedgerRepo) FindActiveByMetadata(context.Context, ledger.TransactionType, string, string) (*ledger.Transaction, error) {
	return nil, ledger.ErrNotFound
}
func (m *rewriteLedgerRepo) FindStuck(context.Context, ledger.TransactionType, time.Time, []ledger.TransactionStatus) ([]*ledger.Transaction, error) {
	return nil, nil
}
func (m *rewriteLedgerRepo) RewriteMetadataKey(_ context.Context, typ ledger.TransactionType, _, from, to string, _ int) (int64, error) {
	m.calls = append(m.calls, rewriteCall{typ: typ, from: from, to: to})
	if m.err != nil {
		return 0, m.err
	}
	return 1, nil
}
func (m *rewriteLedgerRepo) ListByPatient(context.Context, uuid.UUID, int, int) ([]*ledger.Transaction, int, error) {
	return nil, 0, nil
}

func newTestFacility(t *testing.T) (*Service, *mockFacilityRepo, *mockRegGateway, *rewriteLedgerRepo) {
	t.Helper()
	repo := newMockFacilityRepo()
	gw := &mockRegGateway{}
	lr := &rewriteLedgerRepo{}
	svc := &Service{
		repo:   repo,
		gw:     gw,
		ledger: ledger.NewService(lr, zerolog.Nop()),
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
		log: zerolog.Nop(),
	}
	return svc, repo, gw, lr
}

func TestCreateRegistersFacility(t *testing.T) {
	svc, _, gw, _ := newTestFacility(t)

	hf, err := svc.Create(context.Background(), CreateInput{
		FacilityID: uuid.New(),
		HFID:       "IN0410000123",
		Name:       "City Hospital",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !hf.Registered {
		t.Fatal("facility not marked registered")
	}
	if len(gw.calls) != 1 {
		t.Fatalf("register calls = %d, want 1", len(gw.calls))
	}
	call := gw.calls[0]
	if call.FacilityID != "IN0410000123" || call.FacilityName != "City Hospital" {
		t.Fatalf("unexpected payload %+v", call)
	}
	if len(call.HRPRoles) != 2 {
		t.Fatalf("hrp roles = %v, want HIP and HIU", call.HRPRoles)
	}
}

func TestCreateToleratesAlreadyAssociated(t *testing.T) {
	svc, _, gw, _ := newTestFacility(t)
	gw.err = &gateway.Error{
		Kind:       gateway.KindValidation,
		StatusCode: 400,
		Message:    "facility already associated with bridge",
	}

	hf, err := svc.Create(context.Background(), CreateInput{
		FacilityID: uuid.New(),
		HFID:       "IN0410000124",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !hf.Registered {
		t.Fatal("already associated facility must count as registered")
	}
}

func TestCreateSurvivesRegistrationFailure(t *testing.T) {
	svc, repo, gw, _ := newTestFacility(t)
	gw.err = &gateway.Error{Kind: gateway.KindUnavailable, Message: "gateway timeout"}

	hf, err := svc.Create(context.Background(), CreateInput{
		FacilityID: uuid.New(),
		HFID:       "IN0410000125",
	})
	if err != nil {
		t.Fatal(err)
	}
	if hf.Registered {
		t.Fatal("unreachable gateway must not mark the facility registered")
	}

	// Retry succeeds once the gateway is back.
	gw.err = nil
	if err := svc.Register(context.Background(), hf.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.Get(context.Background(), hf.ID)
	if !got.Registered {
		t.Fatal("retried registration not persisted")
	}
}

func TestRenameHFIDRewritesPendingMetadata(t *testing.T) {
	svc, repo, _, lr := newTestFacility(t)
	hf, err := svc.Create(context.Background(), CreateInput{FacilityID: uuid.New(), HFID: "HF-OLD"})
	if err != nil {
		t.Fatal(err)
	}

	renamed, err := svc.RenameHFID(context.Background(), hf.ID, "HF-NEW")
	if err != nil {
		t.Fatal(err)
	}
	if renamed.HFID != "HF-NEW" {
		t.Fatalf("hf_id = %s, want HF-NEW", renamed.HFID)
	}
	if len(lr.calls) != len(hfIDTypes) {
		t.Fatalf("rewrite calls = %d, want %d", len(lr.calls), len(hfIDTypes))
	}
	for _, call := range lr.calls {
		if call.from != "HF-OLD" || call.to != "HF-NEW" {
			t.Fatalf("rewrite %+v, want HF-OLD to HF-NEW", call)
		}
	}
	got, _ := repo.Get(context.Background(), hf.ID)
	if got.HFID != "HF-NEW" {
		t.Fatalf("persisted hf_id = %s, want HF-NEW", got.HFID)
	}
}

func TestRenameHFIDAbortsWhenRewriteFails(t *testing.T) {
	svc, repo, _, lr := newTestFacility(t)
	hf, err := svc.Create(context.Background(), CreateInput{FacilityID: uuid.New(), HFID: "HF-OLD"})
	if err != nil {
		t.Fatal(err)
	}
	lr.err = errors.New("statement timeout")

	if _, err := svc.RenameHFID(context.Background(), hf.ID, "HF-NEW"); err == nil {
		t.Fatal("expected rename to fail when the metadata rewrite fails")
	}
	got, _ := repo.Get(context.Background(), hf.ID)
	if got.HFID != "HF-OLD" {
		t.Fatalf("hf_id = %s after aborted rename, want HF-OLD", got.HFID)
	}
}

func TestRenameHFIDToSameIDIsNoop(t *testing.T) {
	svc, _, _, lr := newTestFacility(t)
	hf, err := svc.Create(context.Background(), CreateInput{FacilityID: uuid.New(), HFID: "HF-SAME"})
	if err != nil {
		t.Fatal(err)
	}

	renamed, err := svc.RenameHFID(context.Background(), hf.ID, "HF-SAME")
	if err != nil {
		t.Fatal(err)
	}
	if renamed.HFID != "HF-SAME" {
		t.Fatalf("hf_id = %s, want HF-SAME", renamed.HFID)
	}
	if len(lr.calls) != 0 {
		t.Fatalf("rewrite calls = %d, want 0 for a same-id rename", len(lr.calls))
	}
}
