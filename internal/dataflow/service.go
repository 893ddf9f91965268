// Package dataflow drives the health-information exchange leg: asking HIPs
// to push data under a consent artefact, and receiving, decrypting and
// storing the pushed pages.
package dataflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/cipher"
	"github.com/10bedicu/care-abdm/internal/consent"
	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
	"github.com/10bedicu/care-abdm/internal/records"
)

// TransferPath is where this deployment receives pushed data; the full
// push URL is the backend domain plus this path.
const TransferPath = "/v3/hiu/health-information/transfer"

// Gateway is the slice of the gateway client the data flow uses.
type Gateway interface {
	HealthInformationRequest(ctx context.Context, req *gateway.HealthInformationRequestPayload) (string, error)
	HealthInformationNotify(ctx context.Context, n *gateway.HealthInformationNotifyPayload) error
	HealthInformationHIPOnRequest(ctx context.Context, ack *gateway.HIPOnRequestPayload) error
}

type Service struct {
	consents consent.Repository
	gw       Gateway
	ledger   *ledger.Service
	pages    *records.Service

	backendDomain string
	log           zerolog.Logger
}

func NewService(consents consent.Repository, gw Gateway, lg *ledger.Service, pages *records.Service, backendDomain string, log zerolog.Logger) *Service {
	return &Service{
		consents:      consents,
		gw:            gw,
		ledger:        lg,
		pages:         pages,
		backendDomain: backendDomain,
		log:           log.With().Str("component", "dataflow").Logger(),
	}
}

// RequestHealthInformation asks the gateway for the data an artefact
// covers. The INITIATED exchange-data row keyed by the call's REQUEST-ID
// is how the on-request callback later finds the artefact.
func (s *Service) RequestHealthInformation(ctx context.Context, artefact *consent.ConsentArtefact) error {
	if !artefact.HasKeyMaterial() {
		return fmt.Errorf("artefact %s has no key material", artefact.ID)
	}

	payload := &gateway.HealthInformationRequestPayload{}
	payload.HIRequest.Consent = gateway.IDHolder{ID: artefact.ID.String()}
	payload.HIRequest.DateRange = gateway.DateRange{From: artefact.FromTime, To: artefact.ToTime}
	payload.HIRequest.DataPushURL = s.backendDomain + TransferPath

	km := artefact.KeyMaterial()
	payload.HIRequest.KeyMaterial.CryptoAlg = "ECDH"
	payload.HIRequest.KeyMaterial.Curve = "Curve25519"
	payload.HIRequest.KeyMaterial.DHPublicKey.Expiry = artefact.Expiry
	payload.HIRequest.KeyMaterial.DHPublicKey.Parameters = "Curve25519/32byte random key"
	payload.HIRequest.KeyMaterial.DHPublicKey.KeyValue = km.PublicKey
	payload.HIRequest.KeyMaterial.Nonce = km.Nonce

	var createdBy *uuid.UUID
	if artefact.ConsentRequestID != nil {
		if req, err := s.consents.GetRequest(ctx, *artefact.ConsentRequestID); err == nil {
			createdBy = &req.PatientID
		} else {
			s.log.Warn().Err(err).Str("artefact_id", artefact.ID.String()).
				Msg("consent request lookup for audit attribution failed")
		}
	}

	requestID, err := s.gw.HealthInformationRequest(ctx, payload)
	if err != nil {
		return err
	}

	_, err = s.ledger.Record(ctx, requestID, ledger.TypeExchangeData, createdBy, map[string]any{
		"consent_artefact": artefact.ID.String(),
		"is_incoming":      true,
	}, ledger.StatusInitiated)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return nil
	}
	return err
}

// HandleHIPRequest acknowledges a data request addressed to this service
// as a provider and records it. The row stays INITIATED until the serving
// pipeline settles it.
func (s *Service) HandleHIPRequest(ctx context.Context, callbackRequestID, transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("provider data request without transaction id")
	}

	ack := &gateway.HIPOnRequestPayload{}
	ack.HIRequest.TransactionID = transactionID
	ack.HIRequest.SessionStatus = "ACKNOWLEDGED"
	ack.Response.RequestID = callbackRequestID
	if err := s.gw.HealthInformationHIPOnRequest(ctx, ack); err != nil {
		return err
	}

	_, err := s.ledger.Record(ctx, callbackRequestID, ledger.TypeExchangeData, nil, map[string]any{
		"transaction_id": transactionID,
		"is_incoming":    false,
	}, ledger.StatusInitiated)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return nil
	}
	return err
}

// HandleOnRequest stores the gateway-assigned data-flow transaction id on
// the artefact so the transfer push can be matched back to its consent.
func (s *Service) HandleOnRequest(ctx context.Context, callbackRequestID, transactionID, sessionStatus string, cbErr *consent.CallbackError) error {
	txn, err := s.ledger.FindActiveByReference(ctx, callbackRequestID, ledger.TypeExchangeData)
	if err != nil {
		return err
	}

	if cbErr != nil {
		s.log.Warn().Str("code", cbErr.Code).Str("message", cbErr.Message).
			Str("reference", callbackRequestID).Msg("health-information request rejected")
		return s.ledger.Settle(ctx, txn.ID, ledger.StatusFailed)
	}
	if transactionID == "" {
		return fmt.Errorf("on-request without transaction id")
	}

	artefactID, err := uuid.Parse(txn.MetaString("consent_artefact"))
	if err != nil {
		return fmt.Errorf("exchange-data row %s has no artefact reference: %w", txn.ID, err)
	}
	if err := s.consents.SetArtefactTransactionID(ctx, artefactID, transactionID); err != nil {
		return err
	}

	meta := txn.Metadata
	meta["transaction_id"] = transactionID
	meta["session_status"] = sessionStatus
	return s.ledger.AmendMetadata(ctx, txn.ID, meta)
}

// TransferEntry is one encrypted care-context payload in a push.
type TransferEntry struct {
	Content              string `json:"content"`
	Media                string `json:"media"`
	Checksum             string `json:"checksum"`
	CareContextReference string `json:"careContextReference"`
}

// TransferPage is the body of a data push from an HIP.
type TransferPage struct {
	PageNumber    int                        `json:"pageNumber"`
	PageCount     int                        `json:"pageCount"`
	TransactionID string                     `json:"transactionId"`
	Entries       []TransferEntry            `json:"entries"`
	KeyMaterial   gateway.KeyMaterialPayload `json:"keyMaterial"`
}

// HandleTransfer decrypts and stores one pushed page. Entries decrypt
// independently; one bad entry is logged and skipped while its siblings
// land. After the page is stored, the exchange-data row settles COMPLETED
// and the gateway is notified of the transfer.
func (s *Service) HandleTransfer(ctx context.Context, page *TransferPage) error {
	artefact, err := s.consents.GetArtefactByTransactionID(ctx, page.TransactionID)
	if err != nil {
		return err
	}

	km := artefact.KeyMaterial()
	dec, err := cipher.New(km.PrivateKey, km.Nonce,
		page.KeyMaterial.DHPublicKey.KeyValue, page.KeyMaterial.Nonce)
	if err != nil {
		return fmt.Errorf("building transfer cipher: %w", err)
	}

	var entries []records.Entry
	var results []gateway.StatusResponse
	for _, e := range page.Entries {
		plaintext, err := dec.Decrypt(e.Content)
		if err != nil {
			s.log.Error().Err(err).Str("care_context", e.CareContextReference).
				Str("transaction_id", page.TransactionID).Msg("entry decryption failed")
			results = append(results, gateway.StatusResponse{
				CareContextReference: e.CareContextReference,
				HIStatus:             "ERRORED",
				Description:          "decryption failed",
			})
			continue
		}
		entries = append(entries, records.Entry{
			CareContextReference: e.CareContextReference,
			Content:              plaintext,
		})
		results = append(results, gateway.StatusResponse{
			CareContextReference: e.CareContextReference,
			HIStatus:             "OK",
			Description:          "delivered",
		})
	}

	associationID := artefact.ID
	if artefact.ConsentRequestID != nil {
		associationID = *artefact.ConsentRequestID
	}
	err = s.pages.StorePage(ctx, &records.Page{
		AssociationID: associationID,
		TransactionID: page.TransactionID,
		PageNumber:    page.PageNumber,
		PageCount:     page.PageCount,
		ContentType:   "application/fhir+json",
		Entries:       entries,
	})
	if err != nil {
		return err
	}

	if txn, err := s.ledger.FindActiveByMetadata(ctx, ledger.TypeExchangeData, "transaction_id", page.TransactionID); err == nil {
		if err := s.ledger.Settle(ctx, txn.ID, ledger.StatusCompleted); err != nil && !errors.Is(err, ledger.ErrAlreadySettled) {
			s.log.Error().Err(err).Str("transaction_id", page.TransactionID).Msg("settling exchange-data row failed")
		}
	}

	s.notifyTransferred(ctx, artefact, page.TransactionID, results)
	return nil
}

func (s *Service) notifyTransferred(ctx context.Context, artefact *consent.ConsentArtefact, transactionID string, results []gateway.StatusResponse) {
	n := &gateway.HealthInformationNotifyPayload{}
	n.Notification.ConsentID = artefact.ID.String()
	n.Notification.TransactionID = transactionID
	n.Notification.DoneAt = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	n.Notification.Notifier.Type = "HIU"
	n.Notification.Notifier.ID = artefact.HIU
	n.Notification.StatusNotification.SessionStatus = "TRANSFERRED"
	n.Notification.StatusNotification.HIPID = artefact.HIP
	n.Notification.StatusNotification.StatusResponses = results

	if err := s.gw.HealthInformationNotify(ctx, n); err != nil {
		s.log.Error().Err(err).Str("transaction_id", transactionID).Msg("transfer notification failed")
	}
}
