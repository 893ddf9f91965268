package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/gateway"
)

// CallbackHandler receives the gateway's consent callbacks. Handlers never
// surface processing errors back to the gateway as 5xx when the cause is a
// correlation miss; the remote owns redelivery.
type CallbackHandler struct {
	svc *Service
	log zerolog.Logger
}

func NewCallbackHandler(svc *Service, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{svc: svc, log: log.With().Str("component", "consent_callback").Logger()}
}

func (h *CallbackHandler) Register(g *echo.Group) {
	g.POST("/consent/request/on-init", h.OnInit)
	g.POST("/consent/request/on-status", h.OnStatus)
	g.POST("/consent/request/notify", h.Notify)
	g.POST("/consent/on-fetch", h.OnFetch)
}

// RegisterHIP mounts the provider-side consent callbacks.
func (h *CallbackHandler) RegisterHIP(g *echo.Group) {
	g.POST("/consent/request/notify", h.NotifyHIP)
}

func (h *CallbackHandler) bindError(c echo.Context, err error) error {
	h.log.Warn().Err(err).Str("path", c.Path()).Str("method", c.Request().Method).
		Msg("malformed callback payload")
	return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
}

func (h *CallbackHandler) dispatchError(c echo.Context, err error) error {
	if errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrArtefactNotFound) {
		h.log.Warn().Err(err).Str("path", c.Path()).Msg("callback for unknown consent")
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	h.log.Error().Err(err).Str("path", c.Path()).Msg("callback processing failed")
	return err
}

type artefactRef struct {
	ID uuid.UUID `json:"id"`
}

func artefactIDs(refs []artefactRef) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(refs))
	for _, r := range refs {
		if r.ID != uuid.Nil {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

type onInitBody struct {
	ConsentRequest struct {
		ID string `json:"id"`
	} `json:"consentRequest"`
	Error    *CallbackError      `json:"error"`
	Response gateway.ResponseRef `json:"response"`
}

func (h *CallbackHandler) OnInit(c echo.Context) error {
	var body onInitBody
	if err := c.Bind(&body); err != nil {
		return h.bindError(c, err)
	}
	requestID, err := uuid.Parse(body.Response.RequestID)
	if err != nil {
		return h.bindError(c, err)
	}

	if err := h.svc.HandleOnInit(c.Request().Context(), requestID, body.ConsentRequest.ID, body.Error); err != nil {
		return h.dispatchError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type onStatusBody struct {
	ConsentRequest struct {
		ID               string        `json:"id"`
		Status           Status        `json:"status"`
		ConsentArtefacts []artefactRef `json:"consentArtefacts"`
	} `json:"consentRequest"`
	Error    *CallbackError      `json:"error"`
	Response gateway.ResponseRef `json:"response"`
}

func (h *CallbackHandler) OnStatus(c echo.Context) error {
	var body onStatusBody
	if err := c.Bind(&body); err != nil {
		return h.bindError(c, err)
	}
	if body.Error != nil {
		h.log.Warn().Str("code", body.Error.Code).Str("message", body.Error.Message).
			Msg("consent status check failed upstream")
		return c.NoContent(http.StatusAccepted)
	}
	if body.ConsentRequest.ID == "" || body.ConsentRequest.Status == "" {
		return h.bindError(c, errors.New("missing consent request id or status"))
	}

	err := h.svc.HandleStatusUpdate(c.Request().Context(),
		body.ConsentRequest.ID, body.ConsentRequest.Status,
		artefactIDs(body.ConsentRequest.ConsentArtefacts))
	if err != nil {
		return h.dispatchError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type notifyBody struct {
	Notification struct {
		ConsentRequestID string        `json:"consentRequestId"`
		Status           Status        `json:"status"`
		ConsentArtefacts []artefactRef `json:"consentArtefacts"`
	} `json:"notification"`
}

func (h *CallbackHandler) Notify(c echo.Context) error {
	var body notifyBody
	if err := c.Bind(&body); err != nil {
		return h.bindError(c, err)
	}
	if body.Notification.ConsentRequestID == "" || body.Notification.Status == "" {
		return h.bindError(c, errors.New("missing consent request id or status"))
	}

	err := h.svc.HandleNotify(c.Request().Context(),
		c.Request().Header.Get("REQUEST-ID"),
		body.Notification.ConsentRequestID, body.Notification.Status,
		artefactIDs(body.Notification.ConsentArtefacts))
	if err != nil {
		return h.dispatchError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type hipNotifyBody struct {
	Notification struct {
		ConsentID string `json:"consentId"`
		Status    Status `json:"status"`
	} `json:"notification"`
}

func (h *CallbackHandler) NotifyHIP(c echo.Context) error {
	var body hipNotifyBody
	if err := c.Bind(&body); err != nil {
		return h.bindError(c, err)
	}
	if body.Notification.ConsentID == "" {
		return h.bindError(c, errors.New("missing consent id"))
	}

	err := h.svc.HandleHIPNotify(c.Request().Context(),
		c.Request().Header.Get("REQUEST-ID"),
		body.Notification.ConsentID, body.Notification.Status)
	if err != nil {
		return h.dispatchError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type onFetchBody struct {
	Consent struct {
		Status        Status `json:"status"`
		ConsentDetail struct {
			ConsentID        string `json:"consentId"`
			ConsentRequestID string `json:"consentRequestId"`
			Patient          struct {
				ID string `json:"id"`
			} `json:"patient"`
			CareContexts   []CareContextRef   `json:"careContexts"`
			HIP            gateway.IDHolder   `json:"hip"`
			HIU            gateway.IDHolder   `json:"hiu"`
			ConsentManager gateway.IDHolder   `json:"consentManager"`
			HITypes        []string           `json:"hiTypes"`
			Permission     gateway.Permission `json:"permission"`
		} `json:"consentDetail"`
		Signature string `json:"signature"`
	} `json:"consent"`
	Error    *CallbackError      `json:"error"`
	Response gateway.ResponseRef `json:"response"`
}

func (h *CallbackHandler) OnFetch(c echo.Context) error {
	var body onFetchBody
	if err := c.Bind(&body); err != nil {
		return h.bindError(c, err)
	}
	if body.Error != nil {
		h.log.Warn().Str("code", body.Error.Code).Str("message", body.Error.Message).
			Msg("consent fetch failed upstream")
		return c.NoContent(http.StatusAccepted)
	}
	artefactID, err := uuid.Parse(body.Consent.ConsentDetail.ConsentID)
	if err != nil {
		return h.bindError(c, err)
	}

	detail := &ArtefactDetail{
		ArtefactID:   artefactID,
		ConsentID:    body.Consent.ConsentDetail.ConsentRequestID,
		Status:       body.Consent.Status,
		HIP:          body.Consent.ConsentDetail.HIP.ID,
		HIU:          body.Consent.ConsentDetail.HIU.ID,
		CM:           body.Consent.ConsentDetail.ConsentManager.ID,
		CareContexts: body.Consent.ConsentDetail.CareContexts,
		HITypes:      body.Consent.ConsentDetail.HITypes,
		AccessMode:   body.Consent.ConsentDetail.Permission.AccessMode,
		FromTime:     body.Consent.ConsentDetail.Permission.DateRange.From,
		ToTime:       body.Consent.ConsentDetail.Permission.DateRange.To,
		Expiry:       body.Consent.ConsentDetail.Permission.DataEraseAt,
		Frequency:    body.Consent.ConsentDetail.Permission.Frequency,
		Signature:    body.Consent.Signature,
	}
	if detail.Status == "" {
		detail.Status = StatusGranted
	}
	if detail.Expiry.IsZero() {
		detail.Expiry = time.Now().UTC().AddDate(0, 6, 0)
	}

	if err := h.svc.HandleOnFetch(c.Request().Context(), detail); err != nil {
		return h.dispatchError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}
