package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/carecontext"
	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
	"github.com/10bedicu/care-abdm/internal/platform/cache"
)

// MetadataLinkType marks ledger rows created by this flow.
const MetadataLinkType = "hip_initiated_linking"

// Gateway is the slice of the gateway client the link flow uses.
type Gateway interface {
	GenerateLinkToken(ctx context.Context, req *gateway.GenerateLinkTokenPayload) (string, error)
	LinkCareContext(ctx context.Context, linkToken string, req *gateway.LinkCareContextPayload) (string, error)
}

type Service struct {
	gw        Gateway
	ledger    *ledger.Service
	resolver  *carecontext.Resolver
	tokens    *cache.Cache
	batchSize int
	log       zerolog.Logger
}

func NewService(gw Gateway, lg *ledger.Service, resolver *carecontext.Resolver, tokens *cache.Cache, batchSize int, log zerolog.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Service{
		gw:        gw,
		ledger:    lg,
		resolver:  resolver,
		tokens:    tokens,
		batchSize: batchSize,
		log:       log.With().Str("component", "linking").Logger(),
	}
}

func tokenKey(abhaAddress string) string {
	return "link_token:" + abhaAddress
}

// OnCareEvent is the Notifier subscriber: on every shareable record it
// opens a link-care-context ledger row and, when a link token is at hand,
// links immediately. Without a token it asks for one; the pending row is
// picked up when the token arrives. Patients without an ABHA are skipped.
func (s *Service) OnCareEvent(ctx context.Context, ev CareEvent) {
	if ev.ABHANumber == "" {
		return
	}

	desc, err := s.resolver.Resolve(ctx, ev.Reference)
	if err != nil {
		s.log.Error().Err(err).Str("reference", ev.Reference).Msg("care event not resolvable")
		return
	}

	meta := eventMetadata(ev)
	meta["care_contexts"] = []string{desc.Reference}

	var createdBy *uuid.UUID
	if ev.PatientID != uuid.Nil {
		createdBy = &ev.PatientID
	}

	token, ok := s.tokens.GetString(tokenKey(ev.ABHAAddress))
	if !ok {
		// Persist intent first, then ask for a token. The pending row
		// survives a crash between the two.
		if _, err := s.ledger.Record(ctx, uuid.NewString(), ledger.TypeLinkCareContext, createdBy, meta, ledger.StatusInitiated); err != nil {
			s.log.Error().Err(err).Str("reference", desc.Reference).Msg("recording pending link failed")
			return
		}
		if _, err := s.gw.GenerateLinkToken(ctx, &gateway.GenerateLinkTokenPayload{
			ABHAAddress: ev.ABHAAddress,
			Name:        ev.PatientName,
			Gender:      ev.Gender,
			YearOfBirth: ev.YearOfBirth,
		}); err != nil {
			s.log.Error().Err(err).Str("abha_address", ev.ABHAAddress).Msg("link token request failed")
		}
		return
	}

	requestID, err := s.issueLink(ctx, token, ev.ABHANumber, ev.ABHAAddress, ev.PatientName, []*carecontext.Descriptor{desc})
	status := ledger.StatusInitiated
	if err != nil {
		s.log.Error().Err(err).Str("reference", desc.Reference).Msg("link call failed")
		status = ledger.StatusFailed
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if _, err := s.ledger.Record(ctx, requestID, ledger.TypeLinkCareContext, createdBy, meta, status); err != nil {
		s.log.Error().Err(err).Str("reference", desc.Reference).Msg("recording link transaction failed")
	}
}

func eventMetadata(ev CareEvent) map[string]any {
	return map[string]any{
		"type":          MetadataLinkType,
		"hf_id":         ev.HFID,
		"abha_number":   ev.ABHANumber,
		"abha_address":  ev.ABHAAddress,
		"patient_name":  ev.PatientName,
		"gender":        ev.Gender,
		"year_of_birth": ev.YearOfBirth,
	}
}

// issueLink sends one consolidated link call and returns its REQUEST-ID,
// which becomes the ledger reference the on-carecontext callback settles.
func (s *Service) issueLink(ctx context.Context, token, abhaNumber, abhaAddress, patientName string, descs []*carecontext.Descriptor) (string, error) {
	byHIType := make(map[carecontext.HIType][]gateway.CareContext)
	for _, d := range descs {
		byHIType[d.HIType] = append(byHIType[d.HIType], gateway.CareContext{
			PatientReference:     abhaAddress,
			CareContextReference: d.Reference,
			Display:              d.Display,
		})
	}

	payload := &gateway.LinkCareContextPayload{
		ABHANumber:  abhaNumber,
		ABHAAddress: abhaAddress,
	}
	for hiType, contexts := range byHIType {
		payload.Patient = append(payload.Patient, gateway.LinkPatient{
			ReferenceNumber: abhaAddress,
			Display:         patientName,
			CareContexts:    contexts,
			HIType:          string(hiType),
			Count:           len(contexts),
		})
	}
	return s.gw.LinkCareContext(ctx, token, payload)
}

// HandleOnGenerateToken caches a freshly issued link token and fires the
// pending links waiting on it.
func (s *Service) HandleOnGenerateToken(ctx context.Context, abhaAddress, linkToken string, cbErr *gateway.Error) error {
	if cbErr != nil {
		s.log.Warn().Str("abha_address", abhaAddress).Str("message", cbErr.Message).
			Msg("link token generation rejected")
		return nil
	}
	if linkToken == "" {
		return fmt.Errorf("on-generate-token without token")
	}

	// Gateway link tokens are valid for six months; cache without expiry
	// and let eviction or re-generation replace them.
	s.tokens.Set(tokenKey(abhaAddress), linkToken, 0)
	return s.retryPendingForAddress(ctx, abhaAddress, linkToken)
}

// retryPendingForAddress re-issues every non-terminal link row for one
// patient, consolidating them into a single call per facility.
func (s *Service) retryPendingForAddress(ctx context.Context, abhaAddress, token string) error {
	stuck, err := s.ledger.FindStuck(ctx, ledger.TypeLinkCareContext, timeNow())
	if err != nil {
		return err
	}

	var mine []*ledger.Transaction
	for _, txn := range stuck {
		if txn.MetaString("abha_address") == abhaAddress {
			mine = append(mine, txn)
		}
	}
	if len(mine) == 0 {
		return nil
	}

	for key, group := range groupByFacility(mine) {
		if err := s.reissueGroup(ctx, key, group, token); err != nil {
			s.log.Error().Err(err).Str("hf_id", key.hfID).Msg("re-issuing pending links failed")
		}
	}
	return nil
}

// HandleOnCareContext settles the ledger row for one link call.
func (s *Service) HandleOnCareContext(ctx context.Context, callbackRequestID string, accepted bool) error {
	status := ledger.StatusCompleted
	if !accepted {
		status = ledger.StatusFailed
	}
	err := s.ledger.SettleByReference(ctx, callbackRequestID, ledger.TypeLinkCareContext, status)
	if errors.Is(err, ledger.ErrAlreadySettled) {
		// Redelivered callback; the first delivery already settled it.
		return nil
	}
	return err
}
