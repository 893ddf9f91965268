package dataflow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/consent"
	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
)

type CallbackHandler struct {
	svc *Service
	log zerolog.Logger
}

func NewCallbackHandler(svc *Service, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{svc: svc, log: log.With().Str("component", "dataflow_callback").Logger()}
}

func (h *CallbackHandler) Register(g *echo.Group) {
	g.POST("/health-information/on-request", h.OnRequest)
	g.POST("/health-information/transfer", h.Transfer)
}

// RegisterHIP mounts the provider-side data-flow callbacks.
func (h *CallbackHandler) RegisterHIP(g *echo.Group) {
	g.POST("/health-information/request", h.HIPRequest)
}

type hipRequestBody struct {
	TransactionID string `json:"transactionId"`
	HIRequest     struct {
		Consent gateway.IDHolder `json:"consent"`
	} `json:"hiRequest"`
}

func (h *CallbackHandler) HIPRequest(c echo.Context) error {
	var body hipRequestBody
	if err := c.Bind(&body); err != nil {
		h.log.Warn().Err(err).Str("path", c.Path()).Msg("malformed callback payload")
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}
	if body.TransactionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing transactionId")
	}

	err := h.svc.HandleHIPRequest(c.Request().Context(),
		c.Request().Header.Get("REQUEST-ID"), body.TransactionID)
	if err != nil {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("callback processing failed")
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

type onRequestBody struct {
	HIRequest struct {
		TransactionID string `json:"transactionId"`
		SessionStatus string `json:"sessionStatus"`
	} `json:"hiRequest"`
	Error    *consent.CallbackError `json:"error"`
	Response gateway.ResponseRef    `json:"response"`
}

func (h *CallbackHandler) OnRequest(c echo.Context) error {
	var body onRequestBody
	if err := c.Bind(&body); err != nil {
		h.log.Warn().Err(err).Str("path", c.Path()).Msg("malformed callback payload")
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}
	if body.Response.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing response.requestId")
	}

	err := h.svc.HandleOnRequest(c.Request().Context(),
		body.Response.RequestID, body.HIRequest.TransactionID, body.HIRequest.SessionStatus, body.Error)
	if errors.Is(err, ledger.ErrNotFound) {
		h.log.Warn().Str("request_id", body.Response.RequestID).Msg("on-request for unknown exchange")
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("callback processing failed")
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *CallbackHandler) Transfer(c echo.Context) error {
	var page TransferPage
	if err := c.Bind(&page); err != nil {
		h.log.Warn().Err(err).Str("path", c.Path()).Msg("malformed transfer payload")
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}
	if page.TransactionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing transactionId")
	}

	err := h.svc.HandleTransfer(c.Request().Context(), &page)
	if errors.Is(err, consent.ErrArtefactNotFound) {
		h.log.Warn().Str("transaction_id", page.TransactionID).Msg("transfer for unknown artefact")
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("transfer processing failed")
		return err
	}
	return c.NoContent(http.StatusAccepted)
}
