package records

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/health-information/:id", h.Retrieve)
}

func (h *Handler) Retrieve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var accessedBy *uuid.UUID
	if v := c.QueryParam("accessed_by"); v != "" {
		if u, err := uuid.Parse(v); err == nil {
			accessedBy = &u
		}
	}

	entries, err := h.svc.Retrieve(c.Request().Context(), id, accessedBy)
	if errors.Is(err, ErrNoRecords) {
		return echo.NewHTTPError(http.StatusNotFound, "no health information stored")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}
