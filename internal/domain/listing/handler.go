package listing

import (
	"net/http"

	"github.com/golang-sql/civil"
	"github.com/labstack/echo/v4"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/domain/status"
	"github.com/idclinic/idclinic/internal/platform/auth"
	"github.com/idclinic/idclinic/pkg/caldate"
	"github.com/idclinic/idclinic/pkg/pagination"
)

// Row is one entry of the patient list: the aggregate with its derived values.
type Row struct {
	Patient *patient.Patient `json:"patient"`
	Derived status.Derived   `json:"derived"`
}

type Handler struct {
	svc   *patient.Service
	today func() civil.Date
}

func NewHandler(svc *patient.Service) *Handler {
	return &Handler{svc: svc, today: caldate.Today}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id/summary", h.GetSummary)
}

// ListPatients filters the whole patient collection, sorts it by last
// update and returns the requested page.
func (h *Handler) ListPatients(c echo.Context) error {
	f, err := FilterFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	all, err := h.svc.AllPatients(c.Request().Context())
	if err != nil {
		return patient.HTTPError(err)
	}

	today := h.today()
	matched := Apply(all, f, today)
	page, pg := Page(matched, pagination.PageFromContext(c))

	rows := make([]Row, 0, len(page))
	for _, p := range page {
		rows = append(rows, Row{Patient: p, Derived: status.Derive(p, today)})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rows, pg))
}

func (h *Handler) GetSummary(c echo.Context) error {
	id, err := patient.ParseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return patient.HTTPError(err)
	}
	return c.JSON(http.StatusOK, status.Derive(p, h.today()))
}
