package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/gateway"
)

// -- Mock Repository --

type mockRepo struct {
	requests  map[uuid.UUID]*ConsentRequest
	artefacts map[uuid.UUID]*ConsentArtefact
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		requests:  make(map[uuid.UUID]*ConsentRequest),
		artefacts: make(map[uuid.UUID]*ConsentArtefact),
	}
}

func (m *mockRepo) CreateRequest(_ context.Context, req *ConsentRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	m.requests[req.ID] = req
	return nil
}

func (m *mockRepo) GetRequest(_ context.Context, id uuid.UUID) (*ConsentRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

func (m *mockRepo) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*ConsentRequest, error) {
	return m.GetRequest(ctx, id)
}

func (m *mockRepo) GetRequestByConsentID(_ context.Context, consentID string) (*ConsentRequest, error) {
	for _, req := range m.requests {
		if req.ConsentID != nil && *req.ConsentID == consentID {
			return req, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (m *mockRepo) GetRequestByConsentIDForUpdate(ctx context.Context, consentID string) (*ConsentRequest, error) {
	return m.GetRequestByConsentID(ctx, consentID)
}

func (m *mockRepo) UpdateRequest(_ context.Context, req *ConsentRequest) error {
	if _, ok := m.requests[req.ID]; !ok {
		return ErrRequestNotFound
	}
	m.requests[req.ID] = req
	return nil
}

func (m *mockRepo) ListRequestsByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*ConsentRequest, int, error) {
	var out []*ConsentRequest
	for _, req := range m.requests {
		if req.PatientID == patientID {
			out = append(out, req)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) CreateArtefact(_ context.Context, a *ConsentArtefact) error {
	m.artefacts[a.ID] = a
	return nil
}

func (m *mockRepo) GetArtefact(_ context.Context, id uuid.UUID) (*ConsentArtefact, error) {
	a, ok := m.artefacts[id]
	if !ok {
		return nil, ErrArtefactNotFound
	}
	return a, nil
}

func (m *mockRepo) GetArtefactByTransactionID(_ context.Context, transactionID string) (*ConsentArtefact, error) {
	for _, a := range m.artefacts {
		if a.TransactionID != nil && *a.TransactionID == transactionID {
			return a, nil
		}
	}
	return nil, ErrArtefactNotFound
}

func (m *mockRepo) UpdateArtefact(_ context.Context, a *ConsentArtefact) error {
	if _, ok := m.artefacts[a.ID]; !ok {
		return ErrArtefactNotFound
	}
	m.artefacts[a.ID] = a
	return nil
}

func (m *mockRepo) SetArtefactKeyMaterial(_ context.Context, a *ConsentArtefact) error {
	existing, ok := m.artefacts[a.ID]
	if !ok {
		return ErrArtefactNotFound
	}
	if existing.HasKeyMaterial() {
		a.KeyMaterialPrivateKey = existing.KeyMaterialPrivateKey
		a.KeyMaterialPublicKey = existing.KeyMaterialPublicKey
		a.KeyMaterialNonce = existing.KeyMaterialNonce
		return nil
	}
	existing.KeyMaterialPrivateKey = a.KeyMaterialPrivateKey
	existing.KeyMaterialPublicKey = a.KeyMaterialPublicKey
	existing.KeyMaterialNonce = a.KeyMaterialNonce
	return nil
}

func (m *mockRepo) SetArtefactTransactionID(_ context.Context, id uuid.UUID, transactionID string) error {
	a, ok := m.artefacts[id]
	if !ok {
		return ErrArtefactNotFound
	}
	a.TransactionID = &transactionID
	return nil
}

func (m *mockRepo) ListArtefactsByRequest(_ context.Context, requestID uuid.UUID) ([]*ConsentArtefact, error) {
	var out []*ConsentArtefact
	for _, a := range m.artefacts {
		if a.ConsentRequestID != nil && *a.ConsentRequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

// lockingRepo gates the for-update read on a lock the transaction runner
// releases at commit, the way the row lock behaves in Postgres, and keeps
// an ordered log of lock/write/commit events.
type lockingRepo struct {
	*mockRepo
	row sync.Mutex

	mu  sync.Mutex
	ops []string
}

func (r *lockingRepo) record(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *lockingRepo) GetRequestByConsentIDForUpdate(ctx context.Context, consentID string) (*ConsentRequest, error) {
	r.row.Lock()
	r.record("lock")
	return r.mockRepo.GetRequestByConsentIDForUpdate(ctx, consentID)
}

func (r *lockingRepo) UpdateRequest(ctx context.Context, req *ConsentRequest) error {
	r.record("update:" + string(req.Status))
	return r.mockRepo.UpdateRequest(ctx, req)
}

// -- Mock Gateway --

type mockGateway struct {
	initRequestID string
	initErr       error
	notifyErr     error

	statusCalls   []string
	fetchCalls    []string
	notifyAcks    []*gateway.ConsentOnNotifyPayload
	hipNotifyAcks []*gateway.ConsentOnNotifyPayload
}

func (m *mockGateway) ConsentRequestInit(_ context.Context, _ *gateway.ConsentRequestInitPayload) (string, error) {
	if m.initErr != nil {
		return "", m.initErr
	}
	if m.initRequestID == "" {
		m.initRequestID = uuid.NewString()
	}
	return m.initRequestID, nil
}

func (m *mockGateway) ConsentRequestStatus(_ context.Context, consentRequestID string) error {
	m.statusCalls = append(m.statusCalls, consentRequestID)
	return nil
}

func (m *mockGateway) ConsentFetch(_ context.Context, consentID string) error {
	m.fetchCalls = append(m.fetchCalls, consentID)
	return nil
}

func (m *mockGateway) ConsentRequestHIUOnNotify(_ context.Context, ack *gateway.ConsentOnNotifyPayload) error {
	m.notifyAcks = append(m.notifyAcks, ack)
	return m.notifyErr
}

func (m *mockGateway) ConsentRequestHIPOnNotify(_ context.Context, ack *gateway.ConsentOnNotifyPayload) error {
	m.hipNotifyAcks = append(m.hipNotifyAcks, ack)
	return m.notifyErr
}

// -- Mock DataRequester --

type mockDataRequester struct {
	calls []*ConsentArtefact
	err   error
}

func (m *mockDataRequester) RequestHealthInformation(_ context.Context, a *ConsentArtefact) error {
	m.calls = append(m.calls, a)
	return m.err
}

func newTestService(repo Repository, gw Gateway, data DataRequester) *Service {
	s := &Service{
		repo:  repo,
		gw:    gw,
		data:  data,
		hiuID: "HIU-1",
		log:   zerolog.Nop(),
	}
	s.runTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
	return s
}

func seedRequest(t *testing.T, repo *mockRepo, consentID string) *ConsentRequest {
	t.Helper()
	req := &ConsentRequest{
		ID:          uuid.New(),
		ConsentID:   &consentID,
		Status:      StatusRequested,
		Purpose:     "CAREMGT",
		HITypes:     []string{"OPConsultation"},
		AccessMode:  AccessModeView,
		FromTime:    time.Now().AddDate(-1, 0, 0),
		ToTime:      time.Now(),
		Expiry:      time.Now().AddDate(0, 6, 0),
		PatientID:   uuid.New(),
		ABHAAddress: "patient@sbx",
	}
	repo.requests[req.ID] = req
	return req
}

// -- Tests --

func TestCreateRequest_UsesGatewayRequestID(t *testing.T) {
	repo := newMockRepo()
	gw := &mockGateway{initRequestID: uuid.NewString()}
	svc := newTestService(repo, gw, &mockDataRequester{})

	req, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		PatientID:   uuid.New(),
		ABHAAddress: "patient@sbx",
		HITypes:     []string{"Prescription"},
		FromTime:    time.Now().AddDate(-1, 0, 0),
		ToTime:      time.Now(),
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.ID.String() != gw.initRequestID {
		t.Errorf("request id %s does not match init REQUEST-ID %s", req.ID, gw.initRequestID)
	}
	if req.Status != StatusRequested {
		t.Errorf("expected REQUESTED, got %s", req.Status)
	}
}

func TestCreateRequest_GatewayFailureDoesNotPersist(t *testing.T) {
	repo := newMockRepo()
	gw := &mockGateway{initErr: fmt.Errorf("gateway down")}
	svc := newTestService(repo, gw, &mockDataRequester{})

	_, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		ABHAAddress: "patient@sbx",
		HITypes:     []string{"Prescription"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.requests) != 0 {
		t.Error("request persisted despite gateway failure")
	}
}

func TestHandleOnInit_StoresRemoteID(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockGateway{}, &mockDataRequester{})
	req := seedRequest(t, repo, "tmp")
	req.ConsentID = nil

	if err := svc.HandleOnInit(context.Background(), req.ID, "remote-cr-1", nil); err != nil {
		t.Fatalf("on-init: %v", err)
	}
	if req.ConsentID == nil || *req.ConsentID != "remote-cr-1" {
		t.Errorf("remote consent id not stored: %v", req.ConsentID)
	}
}

func TestHandleOnInit_ErrorStaysRequested(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockGateway{}, &mockDataRequester{})
	req := seedRequest(t, repo, "tmp")
	req.ConsentID = nil

	err := svc.HandleOnInit(context.Background(), req.ID, "", &CallbackError{Code: "1413", Message: "invalid patient"})
	if err != nil {
		t.Fatalf("on-init with error block should not fail: %v", err)
	}
	if req.Status != StatusRequested {
		t.Errorf("expected request to stay REQUESTED, got %s", req.Status)
	}
	if req.ConsentID != nil {
		t.Error("consent id should not be set on error")
	}
}

func TestHandleOnInit_UnknownRequest(t *testing.T) {
	svc := newTestService(newMockRepo(), &mockGateway{}, &mockDataRequester{})
	err := svc.HandleOnInit(context.Background(), uuid.New(), "remote", nil)
	if !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestHandleNotify_DeniedNeverCreatesArtefacts(t *testing.T) {
	repo := newMockRepo()
	gw := &mockGateway{}
	svc := newTestService(repo, gw, &mockDataRequester{})
	req := seedRequest(t, repo, "cr-1")

	artefacts := []uuid.UUID{uuid.New(), uuid.New()}
	if err := svc.HandleNotify(context.Background(), "cb-req-1", "cr-1", StatusDenied, artefacts); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if req.Status != StatusDenied {
		t.Errorf("expected DENIED, got %s", req.Status)
	}
	if len(repo.artefacts) != 0 {
		t.Errorf("denial created %d artefacts", len(repo.artefacts))
	}
	if len(gw.notifyAcks) != 0 || len(gw.fetchCalls) != 0 {
		t.Error("denial must not ack or fetch")
	}
}

func TestHandleNotify_GrantedCreatesArtefactsAcksAndFetches(t *testing.T) {
	repo := newMockRepo()
	gw := &mockGateway{}
	svc := newTestService(repo, gw, &mockDataRequester{})
	req := seedRequest(t, repo, "cr-2")

	a1, a2 := uuid.New(), uuid.New()
	if err := svc.HandleNotify(context.Background(), "cb-req-2", "cr-2", StatusGranted, []uuid.UUID{a1, a2}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if req.Status != StatusGranted {
		t.Errorf("expected GRANTED, got %s", req.Status)
	}
	if len(repo.artefacts) != 2 {
		t.Fatalf("expected 2 artefacts, got %d", len(repo.artefacts))
	}
	// New artefacts inherit the parent's consent terms.
	if got := repo.artefacts[a1].HITypes; len(got) != 1 || got[0] != "OPConsultation" {
		t.Errorf("artefact did not inherit hi types: %v", got)
	}
	if len(gw.notifyAcks) != 1 {
		t.Fatalf("expected 1 acknowledgement, got %d", len(gw.notifyAcks))
	}
	if gw.notifyAcks[0].Response.RequestID != "cb-req-2" {
		t.Errorf("ack does not echo callback request id: %q", gw.notifyAcks[0].Response.RequestID)
	}
	if len(gw.fetchCalls) != 2 {
		t.Errorf("expected a fetch per artefact, got %d", len(gw.fetchCalls))
	}
}

func TestHandleNotify_AckFailureDoesNotBlockFetch(t *testing.T) {
	repo := newMockRepo()
	gw := &mockGateway{notifyErr: fmt.Errorf("gateway 500")}
	svc := newTestService(repo, gw, &mockDataRequester{})
	seedRequest(t, repo, "cr-3")

	err := svc.HandleNotify(context.Background(), "cb", "cr-3", StatusGranted, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("ack failure must not fail the callback: %v", err)
	}
	if len(gw.fetchCalls) != 1 {
		t.Errorf("fetch fan-out skipped after ack failure, got %d calls", len(gw.fetchCalls))
	}
}

func TestHandleStatusUpdate_ConcurrentCallbacksSerialize(t *testing.T) {
	repo := &lockingRepo{mockRepo: newMockRepo()}
	svc := newTestService(repo, &mockGateway{}, &mockDataRequester{})
	svc.runTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		err := fn(ctx)
		repo.record("commit")
		repo.row.Unlock()
		return err
	}
	seedRequest(t, repo.mockRepo, "cr-conc")

	artefactID := uuid.New()
	var wg sync.WaitGroup
	for _, status := range []Status{StatusGranted, StatusExpired} {
		wg.Add(1)
		go func(st Status) {
			defer wg.Done()
			if err := svc.HandleStatusUpdate(context.Background(), "cr-conc", st, []uuid.UUID{artefactID}); err != nil {
				t.Errorf("status update %s: %v", st, err)
			}
		}(status)
	}
	wg.Wait()

	// Each callback's read-modify-write must run whole between taking the
	// row lock and committing.
	var open bool
	var pending, lastCommitted string
	for _, op := range repo.ops {
		switch op {
		case "lock":
			if open {
				t.Fatalf("second lock before commit: %v", repo.ops)
			}
			open = true
		case "commit":
			if !open {
				t.Fatalf("commit without lock: %v", repo.ops)
			}
			open = false
			lastCommitted = pending
		default:
			if !open {
				t.Fatalf("write outside a transaction: %v", repo.ops)
			}
			pending = op
		}
	}
	if open {
		t.Fatalf("transaction never committed: %v", repo.ops)
	}

	req, err := repo.GetRequestByConsentID(context.Background(), "cr-conc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := "update:" + string(req.Status); got != lastCommitted {
		t.Errorf("final status %s is not the last committed write %s; an update was lost", req.Status, lastCommitted)
	}
}

func TestHandleHIPNotify_Acknowledges(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(newMockRepo(), gw, &mockDataRequester{})

	if err := svc.HandleHIPNotify(context.Background(), "cb-hip", "artefact-1", StatusGranted); err != nil {
		t.Fatalf("HandleHIPNotify: %v", err)
	}
	if len(gw.hipNotifyAcks) != 1 {
		t.Fatalf("expected 1 provider ack, got %d", len(gw.hipNotifyAcks))
	}
	ack := gw.hipNotifyAcks[0]
	if ack.Response.RequestID != "cb-hip" {
		t.Errorf("ack correlates to %q, want cb-hip", ack.Response.RequestID)
	}
	if len(ack.Acknowledgement) != 1 || ack.Acknowledgement[0].ConsentID != "artefact-1" || ack.Acknowledgement[0].Status != "OK" {
		t.Errorf("unexpected acknowledgement: %+v", ack.Acknowledgement)
	}
}

func TestHandleHIPNotify_GatewayFailureSurfaces(t *testing.T) {
	gw := &mockGateway{notifyErr: fmt.Errorf("gateway 500")}
	svc := newTestService(newMockRepo(), gw, &mockDataRequester{})

	if err := svc.HandleHIPNotify(context.Background(), "cb-hip", "artefact-1", StatusGranted); err == nil {
		t.Fatal("expected error when the ack cannot be delivered")
	}
}

func TestHandleNotify_RevokedUpdatesExistingArtefacts(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockGateway{}, &mockDataRequester{})
	req := seedRequest(t, repo, "cr-4")

	aID := uuid.New()
	repo.artefacts[aID] = &ConsentArtefact{ID: aID, ConsentRequestID: &req.ID, Status: StatusGranted}

	if err := svc.HandleNotify(context.Background(), "cb", "cr-4", StatusRevoked, []uuid.UUID{aID}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if repo.artefacts[aID].Status != StatusRevoked {
		t.Errorf("artefact not revoked, got %s", repo.artefacts[aID].Status)
	}
	if req.Status != StatusRevoked {
		t.Errorf("request not revoked, got %s", req.Status)
	}
}

func TestHandleOnFetch_TriggersExactlyOneDataRequest(t *testing.T) {
	repo := newMockRepo()
	data := &mockDataRequester{}
	svc := newTestService(repo, &mockGateway{}, data)
	req := seedRequest(t, repo, "cr-5")

	detail := &ArtefactDetail{
		ArtefactID:   uuid.New(),
		ConsentID:    "cr-5",
		Status:       StatusGranted,
		HIP:          "HIP-9",
		CareContexts: []CareContextRef{{PatientReference: "p1", CareContextReference: "v2::encounter::e1"}},
		HITypes:      []string{"OPConsultation"},
		FromTime:     req.FromTime,
		ToTime:       req.ToTime,
		Expiry:       req.Expiry,
	}
	if err := svc.HandleOnFetch(context.Background(), detail); err != nil {
		t.Fatalf("on-fetch: %v", err)
	}

	if len(data.calls) != 1 {
		t.Fatalf("expected exactly one health-information request, got %d", len(data.calls))
	}
	a := repo.artefacts[detail.ArtefactID]
	if a == nil {
		t.Fatal("artefact not upserted")
	}
	if !a.HasKeyMaterial() {
		t.Error("key material not generated")
	}
	if a.HIP != "HIP-9" {
		t.Errorf("detail not applied, hip = %q", a.HIP)
	}
}

func TestHandleOnFetch_KeyMaterialImmutable(t *testing.T) {
	repo := newMockRepo()
	data := &mockDataRequester{}
	svc := newTestService(repo, &mockGateway{}, data)
	seedRequest(t, repo, "cr-6")

	detail := &ArtefactDetail{ArtefactID: uuid.New(), ConsentID: "cr-6", Status: StatusGranted}
	if err := svc.HandleOnFetch(context.Background(), detail); err != nil {
		t.Fatalf("first on-fetch: %v", err)
	}
	first := repo.artefacts[detail.ArtefactID].KeyMaterial()

	// A redelivered on-fetch must not rotate the keys.
	if err := svc.HandleOnFetch(context.Background(), detail); err != nil {
		t.Fatalf("second on-fetch: %v", err)
	}
	second := repo.artefacts[detail.ArtefactID].KeyMaterial()

	if first.PrivateKey != second.PrivateKey || first.Nonce != second.Nonce {
		t.Error("key material changed across redelivered on-fetch")
	}
	if len(data.calls) != 2 {
		t.Errorf("each on-fetch triggers one data request, got %d", len(data.calls))
	}
}

func TestHandleOnFetch_ExpiredDoesNotRequestData(t *testing.T) {
	repo := newMockRepo()
	data := &mockDataRequester{}
	svc := newTestService(repo, &mockGateway{}, data)
	seedRequest(t, repo, "cr-7")

	detail := &ArtefactDetail{ArtefactID: uuid.New(), ConsentID: "cr-7", Status: StatusExpired}
	if err := svc.HandleOnFetch(context.Background(), detail); err != nil {
		t.Fatalf("on-fetch: %v", err)
	}
	if len(data.calls) != 0 {
		t.Errorf("expired artefact must not start data flow, got %d calls", len(data.calls))
	}
}

func TestCheckStatus_RequiresRemoteID(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockGateway{}, &mockDataRequester{})
	req := seedRequest(t, repo, "tmp")
	req.ConsentID = nil

	if err := svc.CheckStatus(context.Background(), req.ID); err == nil {
		t.Error("expected error for request without remote id")
	}
}
