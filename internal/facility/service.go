package facility

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
	"github.com/10bedicu/care-abdm/internal/platform/db"
)

// Gateway is the slice of the gateway client the facility flow uses.
type Gateway interface {
	RegisterService(ctx context.Context, req *gateway.RegisterServicePayload) error
}

// metadataBatchSize bounds each jsonb rewrite statement during an HFID
// rename.
const metadataBatchSize = 500

// hfIDTypes are the ledger transaction types that carry hf_id metadata and
// must follow an HFID rename.
var hfIDTypes = []ledger.TransactionType{
	ledger.TypeLinkCareContext,
	ledger.TypeScanAndShare,
}

type txRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	repo   Repository
	gw     Gateway
	ledger *ledger.Service
	runTx  txRunner
	log    zerolog.Logger
}

func NewService(repo Repository, pool *pgxpool.Pool, gw Gateway, lg *ledger.Service, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		gw:     gw,
		ledger: lg,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		log: log.With().Str("component", "facility").Logger(),
	}
}

// CreateInput links one EMR facility to its registry id.
type CreateInput struct {
	FacilityID uuid.UUID
	HFID       string
	Name       string
}

// Create persists the mapping and registers the facility as an HIP and HIU
// service provider. Registration failure does not fail creation; Register
// can be retried later.
func (s *Service) Create(ctx context.Context, in CreateInput) (*HealthFacility, error) {
	if in.HFID == "" {
		return nil, fmt.Errorf("hf_id is required")
	}
	if in.FacilityID == uuid.Nil {
		return nil, fmt.Errorf("facility_id is required")
	}

	hf := &HealthFacility{
		FacilityID: in.FacilityID,
		HFID:       in.HFID,
		Name:       in.Name,
	}
	if err := s.repo.Create(ctx, hf); err != nil {
		return nil, err
	}

	if err := s.Register(ctx, hf.ID); err != nil {
		s.log.Warn().Err(err).Str("hf_id", hf.HFID).Msg("facility registration deferred")
	} else {
		hf.Registered = true
	}
	return hf, nil
}

// Register announces the facility to the exchange. A facility the exchange
// already knows is treated as registered, not as a failure.
func (s *Service) Register(ctx context.Context, id uuid.UUID) error {
	hf, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if hf.Registered {
		return nil
	}

	err = s.gw.RegisterService(ctx, &gateway.RegisterServicePayload{
		FacilityID:   hf.HFID,
		FacilityName: hf.Name,
		HRPRoles:     []string{"HIP", "HIU"},
	})
	if err != nil && !alreadyAssociated(err) {
		return err
	}

	hf.Registered = true
	return s.repo.Update(ctx, hf)
}

func alreadyAssociated(err error) bool {
	if !gateway.IsValidation(err) {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "already associated")
}

// RenameHFID changes a facility's registry id and rewrites the hf_id
// metadata on its pending ledger rows so the daily sweep keeps finding
// them. The row rewrite runs first; if it fails mid-way the rename is
// aborted and a retry only touches the rows still carrying the old id.
func (s *Service) RenameHFID(ctx context.Context, id uuid.UUID, newHFID string) (*HealthFacility, error) {
	if newHFID == "" {
		return nil, fmt.Errorf("hf_id is required")
	}

	var out *HealthFacility
	err := s.runTx(ctx, func(ctx context.Context) error {
		hf, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if hf.HFID == newHFID {
			out = hf
			return nil
		}

		for _, typ := range hfIDTypes {
			n, err := s.ledger.RewriteMetadataKey(ctx, typ, "hf_id", hf.HFID, newHFID, metadataBatchSize)
			if err != nil {
				return fmt.Errorf("rewriting %s metadata: %w", typ, err)
			}
			if n > 0 {
				s.log.Info().Str("type", string(typ)).Int64("rows", n).
					Str("from", hf.HFID).Str("to", newHFID).Msg("moved pending transactions")
			}
		}

		hf.HFID = newHFID
		if err := s.repo.Update(ctx, hf); err != nil {
			return err
		}
		out = hf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*HealthFacility, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByFacilityID(ctx context.Context, facilityID uuid.UUID) (*HealthFacility, error) {
	return s.repo.GetByFacilityID(ctx, facilityID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*HealthFacility, int, error) {
	return s.repo.List(ctx, limit, offset)
}
