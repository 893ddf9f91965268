package linking

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler lets the EMR publish care events over HTTP. Deployments that
// embed this module in-process publish on the Notifier directly instead.
type Handler struct {
	notifier *Notifier
}

func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/care-events", h.Publish)
}

type careEventBody struct {
	PatientID   uuid.UUID `json:"patient_id"`
	ABHANumber  string    `json:"abha_number"`
	ABHAAddress string    `json:"abha_address"`
	PatientName string    `json:"patient_name"`
	Gender      string    `json:"gender"`
	YearOfBirth int       `json:"year_of_birth"`
	HFID        string    `json:"hf_id"`
	Reference   string    `json:"reference"`
}

func (h *Handler) Publish(c echo.Context) error {
	var body careEventBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Reference == "" || body.HFID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reference and hf_id are required")
	}

	h.notifier.Publish(c.Request().Context(), CareEvent{
		PatientID:   body.PatientID,
		ABHANumber:  body.ABHANumber,
		ABHAAddress: body.ABHAAddress,
		PatientName: body.PatientName,
		Gender:      body.Gender,
		YearOfBirth: body.YearOfBirth,
		HFID:        body.HFID,
		Reference:   body.Reference,
	})
	return c.NoContent(http.StatusAccepted)
}
