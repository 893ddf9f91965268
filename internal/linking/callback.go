package linking

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
)

// CallbackHandler receives the gateway's provider-side linking callbacks.
type CallbackHandler struct {
	svc *Service
	log zerolog.Logger
}

func NewCallbackHandler(svc *Service, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{svc: svc, log: log.With().Str("component", "linking_callback").Logger()}
}

func (h *CallbackHandler) Register(g *echo.Group) {
	g.POST("/token/on-generate-token", h.OnGenerateToken)
	g.POST("/link/on-carecontext", h.OnCareContext)
}

func (h *CallbackHandler) bindError(c echo.Context, err error) error {
	h.log.Warn().Err(err).Str("path", c.Path()).Str("method", c.Request().Method).
		Msg("malformed callback payload")
	return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
}

type onGenerateTokenBody struct {
	AbhaAddress string              `json:"abhaAddress"`
	LinkToken   string              `json:"linkToken"`
	Error       *gateway.Error      `json:"error"`
	Response    gateway.ResponseRef `json:"response"`
}

func (h *CallbackHandler) OnGenerateToken(c echo.Context) error {
	var body onGenerateTokenBody
	if err := c.Bind(&body); err != nil {
		return h.bindError(c, err)
	}
	if body.AbhaAddress == "" {
		return h.bindError(c, errors.New("missing abha address"))
	}

	if err := h.svc.HandleOnGenerateToken(c.Request().Context(), body.AbhaAddress, body.LinkToken, body.Error); err != nil {
		h.log.Error().Err(err).Str("abha_address", body.AbhaAddress).Msg("on-generate-token processing failed")
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

type onCareContextBody struct {
	Acknowledgement struct {
		Status string `json:"status"`
	} `json:"acknowledgement"`
	Error    *gateway.Error      `json:"error"`
	Response gateway.ResponseRef `json:"response"`
}

func (h *CallbackHandler) OnCareContext(c echo.Context) error {
	var body onCareContextBody
	if err := c.Bind(&body); err != nil {
		return h.bindError(c, err)
	}
	if body.Response.RequestID == "" {
		return h.bindError(c, errors.New("missing response request id"))
	}

	accepted := body.Error == nil && body.Acknowledgement.Status == "SUCCESS"
	err := h.svc.HandleOnCareContext(c.Request().Context(), body.Response.RequestID, accepted)
	if errors.Is(err, ledger.ErrNotFound) {
		h.log.Warn().Str("request_id", body.Response.RequestID).Msg("callback for unknown link transaction")
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}
