package records

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/ledger"
)

type Service struct {
	repo   Repository
	ledger *ledger.Service
	log    zerolog.Logger
}

func NewService(repo Repository, lg *ledger.Service, log zerolog.Logger) *Service {
	return &Service{repo: repo, ledger: lg, log: log.With().Str("component", "records").Logger()}
}

// StorePage persists one decrypted transfer page.
func (s *Service) StorePage(ctx context.Context, p *Page) error {
	return s.repo.CreatePage(ctx, p)
}

// Retrieve returns every stored entry for the association and writes an
// access-data transaction so each read is on the ledger. The access row is
// settled COMPLETED at creation; there is no asynchronous leg to wait for.
func (s *Service) Retrieve(ctx context.Context, associationID uuid.UUID, accessedBy *uuid.UUID) ([]Entry, error) {
	pages, err := s.repo.ListByAssociation(ctx, associationID)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoRecords
	}

	var entries []Entry
	for _, p := range pages {
		entries = append(entries, p.Entries...)
	}

	meta := map[string]any{
		"association_id": associationID.String(),
		"entry_count":    len(entries),
	}
	if accessedBy != nil {
		meta["accessed_by"] = accessedBy.String()
	}
	_, err = s.ledger.Record(ctx, uuid.NewString(), ledger.TypeAccessData, accessedBy, meta, ledger.StatusCompleted)
	if err != nil {
		// The read already happened; an audit write failure is loud but
		// does not hide the data.
		s.log.Error().Err(err).Str("association_id", associationID.String()).
			Msg("recording access-data transaction failed")
	}
	return entries, nil
}
