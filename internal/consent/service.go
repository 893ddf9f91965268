package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/cipher"
	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/platform/db"
)

// Gateway is the slice of the gateway client the consent flow uses.
type Gateway interface {
	ConsentRequestInit(ctx context.Context, req *gateway.ConsentRequestInitPayload) (string, error)
	ConsentRequestStatus(ctx context.Context, consentRequestID string) error
	ConsentFetch(ctx context.Context, consentID string) error
	ConsentRequestHIUOnNotify(ctx context.Context, ack *gateway.ConsentOnNotifyPayload) error
	ConsentRequestHIPOnNotify(ctx context.Context, ack *gateway.ConsentOnNotifyPayload) error
}

// DataRequester starts the data flow for a fetched artefact. Implemented by
// the dataflow service; an interface here keeps the dependency one-way.
type DataRequester interface {
	RequestHealthInformation(ctx context.Context, artefact *ConsentArtefact) error
}

// CallbackError is the error block a callback may carry in place of a
// result.
type CallbackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type txRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	repo  Repository
	gw    Gateway
	data  DataRequester
	runTx txRunner
	hiuID string
	log   zerolog.Logger
}

func NewService(repo Repository, pool *pgxpool.Pool, gw Gateway, data DataRequester, hiuID string, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		gw:   gw,
		data: data,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		hiuID: hiuID,
		log:   log.With().Str("component", "consent").Logger(),
	}
}

// CreateRequestInput is what the EMR supplies to ask for a consent.
type CreateRequestInput struct {
	PatientID   uuid.UUID
	ABHAAddress string
	Purpose     string
	HITypes     []string
	FromTime    time.Time
	ToTime      time.Time
	Expiry      time.Time
	RequesterID *uuid.UUID
	Requester   string
}

// CreateRequest initiates a consent request with the gateway and persists
// our side of it. The REQUEST-ID the init call went out under becomes the
// row's primary key; the on-init callback echoes it back.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*ConsentRequest, error) {
	if in.ABHAAddress == "" {
		return nil, fmt.Errorf("abha address is required")
	}
	if len(in.HITypes) == 0 {
		return nil, fmt.Errorf("at least one hi type is required")
	}
	if in.Purpose == "" {
		in.Purpose = "CAREMGT"
	}
	if in.Expiry.IsZero() {
		in.Expiry = time.Now().UTC().AddDate(0, 6, 0)
	}

	payload := &gateway.ConsentRequestInitPayload{}
	payload.Consent.Purpose = gateway.Purpose{Text: "Care Management", Code: in.Purpose}
	payload.Consent.Patient.ID = in.ABHAAddress
	payload.Consent.HIU.ID = s.hiuID
	payload.Consent.Requester.Name = in.Requester
	payload.Consent.HITypes = in.HITypes
	payload.Consent.Permission = gateway.Permission{
		AccessMode:  AccessModeView,
		DateRange:   gateway.DateRange{From: in.FromTime, To: in.ToTime},
		DataEraseAt: in.Expiry,
		Frequency:   gateway.Frequency{Unit: "HOUR", Value: 1, Repeats: 0},
	}

	requestID, err := s.gw.ConsentRequestInit(ctx, payload)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		return nil, fmt.Errorf("gateway request id %q is not a uuid: %w", requestID, err)
	}

	req := &ConsentRequest{
		ID:             id,
		Status:         StatusRequested,
		Purpose:        in.Purpose,
		HITypes:        in.HITypes,
		AccessMode:     AccessModeView,
		FromTime:       in.FromTime,
		ToTime:         in.ToTime,
		Expiry:         in.Expiry,
		FrequencyUnit:  "HOUR",
		FrequencyValue: 1,
		PatientID:      in.PatientID,
		ABHAAddress:    in.ABHAAddress,
		RequesterID:    in.RequesterID,
		Requester:      in.Requester,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// HandleOnInit records the consent manager's id for a pending request. A
// callback carrying an error leaves the request REQUESTED; there is no
// automatic re-init.
func (s *Service) HandleOnInit(ctx context.Context, requestID uuid.UUID, consentID string, cbErr *CallbackError) error {
	return s.runTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if cbErr != nil {
			s.log.Warn().Str("consent_request_id", requestID.String()).
				Str("code", cbErr.Code).Str("message", cbErr.Message).
				Msg("consent init rejected")
			return nil
		}
		if consentID == "" {
			return fmt.Errorf("on-init without consent id")
		}
		req.ConsentID = &consentID
		return s.repo.UpdateRequest(ctx, req)
	})
}

// HandleStatusUpdate applies an on-status callback: the request moves to
// the reported status and, unless the consent was denied, any artefacts
// named by the callback are created or updated.
func (s *Service) HandleStatusUpdate(ctx context.Context, consentID string, status Status, artefactIDs []uuid.UUID) error {
	return s.runTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetRequestByConsentIDForUpdate(ctx, consentID)
		if err != nil {
			return err
		}
		return s.applyStatus(ctx, req, status, artefactIDs)
	})
}

// HandleNotify applies a consent notification. For a grant it also
// acknowledges the notification and asks the gateway for every artefact's
// detail; both happen after the state is committed, and the
// acknowledgement is deliberately fire-and-forget.
func (s *Service) HandleNotify(ctx context.Context, callbackRequestID, consentID string, status Status, artefactIDs []uuid.UUID) error {
	err := s.runTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetRequestByConsentIDForUpdate(ctx, consentID)
		if err != nil {
			return err
		}
		return s.applyStatus(ctx, req, status, artefactIDs)
	})
	if err != nil {
		return err
	}

	if status != StatusGranted {
		return nil
	}

	ack := &gateway.ConsentOnNotifyPayload{Response: gateway.ResponseRef{RequestID: callbackRequestID}}
	for _, id := range artefactIDs {
		ack.Acknowledgement = append(ack.Acknowledgement, gateway.ConsentAcknowledgement{
			Status:    "OK",
			ConsentID: id.String(),
		})
	}
	if err := s.gw.ConsentRequestHIUOnNotify(ctx, ack); err != nil {
		// Not retried. The consent manager redelivers unacknowledged
		// notifications on its own schedule.
		s.log.Error().Err(err).Str("consent_id", consentID).Msg("consent notify acknowledgement failed")
	}

	for _, id := range artefactIDs {
		if err := s.gw.ConsentFetch(ctx, id.String()); err != nil {
			s.log.Error().Err(err).Str("artefact_id", id.String()).Msg("consent fetch failed")
		}
	}
	return nil
}

// HandleHIPNotify acknowledges a consent notification addressed to this
// service as a provider. Artefact detail is not stored here; serving the
// covered records is driven by the gateway's per-request callbacks.
func (s *Service) HandleHIPNotify(ctx context.Context, callbackRequestID, consentID string, status Status) error {
	ack := &gateway.ConsentOnNotifyPayload{Response: gateway.ResponseRef{RequestID: callbackRequestID}}
	ack.Acknowledgement = append(ack.Acknowledgement, gateway.ConsentAcknowledgement{
		Status:    "OK",
		ConsentID: consentID,
	})
	if err := s.gw.ConsentRequestHIPOnNotify(ctx, ack); err != nil {
		return err
	}
	s.log.Info().Str("consent_id", consentID).Str("status", string(status)).
		Msg("provider consent notification acknowledged")
	return nil
}

// applyStatus is the single place consent state moves. A denial never
// creates or touches artefacts.
func (s *Service) applyStatus(ctx context.Context, req *ConsentRequest, status Status, artefactIDs []uuid.UUID) error {
	if status == StatusDenied {
		req.Status = StatusDenied
		return s.repo.UpdateRequest(ctx, req)
	}

	for _, id := range artefactIDs {
		existing, err := s.repo.GetArtefact(ctx, id)
		if errors.Is(err, ErrArtefactNotFound) {
			a := &ConsentArtefact{
				ID:               id,
				ConsentRequestID: &req.ID,
				HIU:              s.hiuID,
				Status:           status,
			}
			a.copyDefaultsFrom(req)
			if err := s.repo.CreateArtefact(ctx, a); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if existing.Status.IsTerminal() {
			continue
		}
		existing.Status = status
		if err := s.repo.UpdateArtefact(ctx, existing); err != nil {
			return err
		}
	}

	req.Status = status
	return s.repo.UpdateRequest(ctx, req)
}

// ArtefactDetail is the full consent detail delivered by on-fetch.
type ArtefactDetail struct {
	ArtefactID   uuid.UUID
	ConsentID    string
	Status       Status
	HIP          string
	HIU          string
	CM           string
	CareContexts []CareContextRef
	HITypes      []string
	AccessMode   string
	FromTime     time.Time
	ToTime       time.Time
	Expiry       time.Time
	Frequency    gateway.Frequency
	Signature    string
}

// HandleOnFetch upserts the fetched artefact detail, generates the
// artefact's key material if it does not have any yet, and starts exactly
// one health-information request for a granted artefact.
func (s *Service) HandleOnFetch(ctx context.Context, detail *ArtefactDetail) error {
	var artefact *ConsentArtefact

	err := s.runTx(ctx, func(ctx context.Context) error {
		var parent *ConsentRequest
		if detail.ConsentID != "" {
			p, err := s.repo.GetRequestByConsentIDForUpdate(ctx, detail.ConsentID)
			if err != nil && !errors.Is(err, ErrRequestNotFound) {
				return err
			}
			parent = p
		}

		a, err := s.repo.GetArtefact(ctx, detail.ArtefactID)
		if errors.Is(err, ErrArtefactNotFound) {
			a = &ConsentArtefact{ID: detail.ArtefactID}
			if parent != nil {
				a.ConsentRequestID = &parent.ID
			}
			applyDetail(a, detail)
			if err := s.repo.CreateArtefact(ctx, a); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			applyDetail(a, detail)
			if err := s.repo.UpdateArtefact(ctx, a); err != nil {
				return err
			}
		}

		if !a.HasKeyMaterial() {
			km, err := cipher.Generate()
			if err != nil {
				return err
			}
			a.SetKeyMaterial(km)
			if err := s.repo.SetArtefactKeyMaterial(ctx, a); err != nil {
				return err
			}
		}

		artefact = a
		return nil
	})
	if err != nil {
		return err
	}

	if artefact.Status != StatusGranted {
		return nil
	}
	return s.data.RequestHealthInformation(ctx, artefact)
}

func applyDetail(a *ConsentArtefact, d *ArtefactDetail) {
	a.HIP = d.HIP
	a.HIU = d.HIU
	a.CM = d.CM
	a.CareContexts = d.CareContexts
	a.HITypes = d.HITypes
	a.Status = d.Status
	a.AccessMode = d.AccessMode
	a.FromTime = d.FromTime
	a.ToTime = d.ToTime
	a.Expiry = d.Expiry
	a.FrequencyUnit = d.Frequency.Unit
	a.FrequencyValue = d.Frequency.Value
	a.FrequencyRepeats = d.Frequency.Repeats
	a.Signature = d.Signature
}

// CheckStatus asks the gateway where a pending request stands. The answer
// arrives on the on-status callback.
func (s *Service) CheckStatus(ctx context.Context, id uuid.UUID) error {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.ConsentID == nil {
		return fmt.Errorf("consent request %s has no remote id yet", id)
	}
	return s.gw.ConsentRequestStatus(ctx, *req.ConsentID)
}

// Refetch re-requests the detail of every artefact under a request.
func (s *Service) Refetch(ctx context.Context, id uuid.UUID) error {
	artefacts, err := s.repo.ListArtefactsByRequest(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range artefacts {
		if err := s.gw.ConsentFetch(ctx, a.ID.String()); err != nil {
			s.log.Error().Err(err).Str("artefact_id", a.ID.String()).Msg("consent re-fetch failed")
		}
	}
	return nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*ConsentRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsentRequest, int, error) {
	return s.repo.ListRequestsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListArtefacts(ctx context.Context, requestID uuid.UUID) ([]*ConsentArtefact, error) {
	return s.repo.ListArtefactsByRequest(ctx, requestID)
}
