package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/10bedicu/care-abdm/pkg/pagination"
)

// Handler is the EMR-facing API for consent requests.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consent-requests", h.CreateRequest)
	api.GET("/consent-requests", h.ListRequests)
	api.GET("/consent-requests/:id", h.GetRequest)
	api.GET("/consent-requests/:id/artefacts", h.ListArtefacts)
	api.POST("/consent-requests/:id/status", h.CheckStatus)
	api.POST("/consent-requests/:id/fetch", h.Refetch)
}

type createRequestBody struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	ABHAAddress string     `json:"abha_address"`
	Purpose     string     `json:"purpose"`
	HITypes     []string   `json:"hi_types"`
	FromTime    time.Time  `json:"from_time"`
	ToTime      time.Time  `json:"to_time"`
	Expiry      time.Time  `json:"expiry"`
	RequesterID *uuid.UUID `json:"requester_id"`
	Requester   string     `json:"requester"`
}

func (h *Handler) CreateRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req, err := h.svc.CreateRequest(c.Request().Context(), CreateRequestInput{
		PatientID:   body.PatientID,
		ABHAAddress: body.ABHAAddress,
		Purpose:     body.Purpose,
		HITypes:     body.HITypes,
		FromTime:    body.FromTime,
		ToTime:      body.ToTime,
		Expiry:      body.Expiry,
		RequesterID: body.RequesterID,
		Requester:   body.Requester,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListRequests(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	page := pagination.FromContext(c)
	reqs, total, err := h.svc.ListRequests(c.Request().Context(), patientID, page.Limit, page.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reqs, total, page))
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if errors.Is(err, ErrRequestNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListArtefacts(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	artefacts, err := h.svc.ListArtefacts(c.Request().Context(), id)
	if err != nil {
		return err
	}
	// Key material never leaves the service boundary.
	type artefactView struct {
		ID           uuid.UUID        `json:"id"`
		Status       Status           `json:"status"`
		HIP          string           `json:"hip"`
		HITypes      []string         `json:"hi_types"`
		CareContexts []CareContextRef `json:"care_contexts"`
		FromTime     time.Time        `json:"from_time"`
		ToTime       time.Time        `json:"to_time"`
		Expiry       time.Time        `json:"expiry"`
	}
	views := make([]artefactView, 0, len(artefacts))
	for _, a := range artefacts {
		views = append(views, artefactView{
			ID: a.ID, Status: a.Status, HIP: a.HIP, HITypes: a.HITypes,
			CareContexts: a.CareContexts, FromTime: a.FromTime, ToTime: a.ToTime, Expiry: a.Expiry,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) CheckStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.CheckStatus(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) Refetch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Refetch(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}
