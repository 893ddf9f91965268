package facility

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/10bedicu/care-abdm/pkg/pagination"
)

// Handler is the EMR-facing API for facility registry mappings.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/facilities", h.Create)
	api.GET("/facilities", h.List)
	api.GET("/facilities/:id", h.Get)
	api.PATCH("/facilities/:id", h.Rename)
	api.POST("/facilities/:id/register", h.Register)
}

type createBody struct {
	FacilityID uuid.UUID `json:"facility_id"`
	HFID       string    `json:"hf_id"`
	Name       string    `json:"name"`
}

func (h *Handler) Create(c echo.Context) error {
	var body createBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	hf, err := h.svc.Create(c.Request().Context(), CreateInput{
		FacilityID: body.FacilityID,
		HFID:       body.HFID,
		Name:       body.Name,
	})
	if errors.Is(err, ErrDuplicateHFID) {
		return echo.NewHTTPError(http.StatusConflict, "hf_id already in use")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, hf)
}

type renameBody struct {
	HFID string `json:"hf_id"`
}

func (h *Handler) Rename(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid facility id")
	}
	var body renameBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	hf, err := h.svc.RenameHFID(c.Request().Context(), id, body.HFID)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "facility not found")
	case errors.Is(err, ErrDuplicateHFID):
		return echo.NewHTTPError(http.StatusConflict, "hf_id already in use")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, hf)
}

func (h *Handler) Register(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid facility id")
	}
	if err := h.svc.Register(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "facility not found")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid facility id")
	}
	hf, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "facility not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hf)
}

func (h *Handler) List(c echo.Context) error {
	page := pagination.FromContext(c)
	facilities, total, err := h.svc.List(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(facilities, total, page))
}
