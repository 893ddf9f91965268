package records

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/ledger"
)

type mockPageRepo struct {
	pages []*Page
}

func (m *mockPageRepo) CreatePage(_ context.Context, p *Page) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.pages = append(m.pages, p)
	return nil
}

func (m *mockPageRepo) ListByAssociation(_ context.Context, associationID uuid.UUID) ([]*Page, error) {
	var out []*Page
	for _, p := range m.pages {
		if p.AssociationID == associationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

type mockLedgerRepo struct {
	txns []*ledger.Transaction
}

func (m *mockLedgerRepo) Create(_ context.Context, txn *ledger.Transaction) error {
	txn.ID = uuid.New()
	m.txns = append(m.txns, txn)
	return nil
}
func (m *mockLedgerRepo) GetByID(context.Context, uuid.UUID) (*ledger.Transaction, error) {
	return nil, ledger.ErrNotFound
}
func (m *mockLedgerRepo) GetActiveByReference(context.Context, string, ledger.TransactionType) (*ledger.Transaction, error) {
	return nil, ledger.ErrNotFound
}
func (m *mockLedgerRepo) UpdateStatus(context.Context, uuid.UUID, ledger.TransactionStatus) error {
	return nil
}
func (m *mockLedgerRepo) UpdateMetadata(context.Context, uuid.UUID, map[string]any) error {
	return nil
}
func (m *mockLedgerRepo) FindActiveByMetadata(context.Context, ledger.TransactionType, string, string) (*ledger.Transaction, error) {
	return nil, ledger.ErrNotFound
}
func (m *mockLedgerRepo) FindStuck(context.Context, ledger.TransactionType, time.Time, []ledger.TransactionStatus) ([]*ledger.Transaction, error) {
	return nil, nil
}
func (m *mockLedgerRepo) RewriteMetadataKey(context.Context, ledger.TransactionType, string, string, string, int) (int64, error) {
	return 0, nil
}
func (m *mockLedgerRepo) ListByPatient(context.Context, uuid.UUID, int, int) ([]*ledger.Transaction, int, error) {
	return nil, 0, nil
}

func newTestService() (*Service, *mockPageRepo, *mockLedgerRepo) {
	pages := &mockPageRepo{}
	ldg := &mockLedgerRepo{}
	svc := NewService(pages, ledger.NewService(ldg, zerolog.Nop()), zerolog.Nop())
	return svc, pages, ldg
}

func TestRetrieve_MergesPagesInOrder(t *testing.T) {
	svc, pages, _ := newTestService()
	ctx := context.Background()
	assoc := uuid.New()

	// Pages arrive out of order.
	pages.CreatePage(ctx, &Page{AssociationID: assoc, PageNumber: 2, PageCount: 2,
		Entries: []Entry{{CareContextReference: "cc-2", Content: json.RawMessage(`{"b":2}`)}}})
	pages.CreatePage(ctx, &Page{AssociationID: assoc, PageNumber: 1, PageCount: 2,
		Entries: []Entry{{CareContextReference: "cc-1", Content: json.RawMessage(`{"a":1}`)}}})

	entries, err := svc.Retrieve(ctx, assoc, nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].CareContextReference != "cc-1" || entries[1].CareContextReference != "cc-2" {
		t.Errorf("entries not page-ordered: %v", entries)
	}
}

func TestRetrieve_RecordsAccessTransaction(t *testing.T) {
	svc, pages, ldg := newTestService()
	ctx := context.Background()
	assoc := uuid.New()
	pages.CreatePage(ctx, &Page{AssociationID: assoc, PageNumber: 1, PageCount: 1,
		Entries: []Entry{{CareContextReference: "cc", Content: json.RawMessage(`{}`)}}})

	if _, err := svc.Retrieve(ctx, assoc, nil); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(ldg.txns) != 1 {
		t.Fatalf("expected 1 access-data transaction, got %d", len(ldg.txns))
	}
	txn := ldg.txns[0]
	if txn.Type != ledger.TypeAccessData {
		t.Errorf("wrong type %s", txn.Type)
	}
	if txn.Status != ledger.StatusCompleted {
		t.Errorf("access-data must be COMPLETED at creation, got %s", txn.Status)
	}
}

func TestRetrieve_AttributesAccessToReader(t *testing.T) {
	svc, pages, ldg := newTestService()
	ctx := context.Background()
	assoc := uuid.New()
	reader := uuid.New()
	pages.CreatePage(ctx, &Page{AssociationID: assoc, PageNumber: 1, PageCount: 1,
		Entries: []Entry{{CareContextReference: "cc", Content: json.RawMessage(`{}`)}}})

	if _, err := svc.Retrieve(ctx, assoc, &reader); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(ldg.txns) != 1 {
		t.Fatalf("expected 1 access-data transaction, got %d", len(ldg.txns))
	}
	txn := ldg.txns[0]
	if txn.CreatedBy == nil || *txn.CreatedBy != reader {
		t.Errorf("access row not attributed to the reader: %v", txn.CreatedBy)
	}
	if txn.MetaString("accessed_by") != reader.String() {
		t.Errorf("accessed_by metadata = %q", txn.MetaString("accessed_by"))
	}
}

func TestRetrieve_EmptyIs404(t *testing.T) {
	svc, _, ldg := newTestService()

	_, err := svc.Retrieve(context.Background(), uuid.New(), nil)
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
	if len(ldg.txns) != 0 {
		t.Error("no access transaction for an empty read")
	}
}
