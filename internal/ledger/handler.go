package ledger

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/10bedicu/care-abdm/pkg/pagination"
)

// Handler exposes the transaction audit trail to the EMR.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/transactions", h.List)
}

type transactionView struct {
	ID          uuid.UUID         `json:"id"`
	ReferenceID string            `json:"reference_id"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Metadata    map[string]any    `json:"metadata"`
	CreatedAt   string            `json:"created_at"`
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	page := pagination.FromContext(c)
	txns, total, err := h.svc.repo.ListByPatient(c.Request().Context(), patientID, page.Limit, page.Offset)
	if err != nil {
		return err
	}

	views := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, transactionView{
			ID:          t.ID,
			ReferenceID: t.ReferenceID,
			Type:        t.Type,
			Status:      t.Status,
			Metadata:    t.Metadata,
			CreatedAt:   t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, page))
}
