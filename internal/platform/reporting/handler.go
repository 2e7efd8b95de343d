package reporting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/labstack/echo/v4"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/domain/status"
	"github.com/idclinic/idclinic/internal/platform/auth"
	"github.com/idclinic/idclinic/pkg/caldate"
)

// PatientSource returns the full patient collection.
type PatientSource interface {
	AllPatients(ctx context.Context) ([]*patient.Patient, error)
}

// Handler provides HTTP handlers for the dashboard and report API.
type Handler struct {
	patients PatientSource
	today    func() civil.Date
}

func NewHandler(patients PatientSource) *Handler {
	return &Handler{patients: patients, today: caldate.Today}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/dashboard", h.GetDashboard)
	read.GET("/reminders/viral-load", h.ListVLReminders)

	reports := api.Group("/reports", auth.RequireRole(auth.ReadRoles...))
	reports.GET("/categories", h.ListCategories)
	reports.GET("/trends", h.GetTrends)
	reports.GET("/:category", h.GetEntries)
}

// RangeFromContext reads the inclusive "from" and "to" query parameters.
func RangeFromContext(c echo.Context) (Range, error) {
	var r Range
	for name, dst := range map[string]*caldate.Date{"from": &r.From, "to": &r.To} {
		raw := strings.TrimSpace(c.QueryParam(name))
		if raw == "" {
			continue
		}
		d := caldate.Parse(raw)
		if !d.IsSet() {
			return Range{}, fmt.Errorf("invalid %s date: %q", name, raw)
		}
		*dst = d
	}
	if r.From.IsSet() && r.To.IsSet() && r.To.Before(r.From) {
		return Range{}, fmt.Errorf("to %s is before from %s", r.To, r.From)
	}
	return r, nil
}

func (h *Handler) GetDashboard(c echo.Context) error {
	ps, err := h.patients.AllPatients(c.Request().Context())
	if err != nil {
		return patient.HTTPError(err)
	}
	d := ComputeDashboard(ps, h.today())
	observe(d)
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListVLReminders(c echo.Context) error {
	ps, err := h.patients.AllPatients(c.Request().Context())
	if err != nil {
		return patient.HTTPError(err)
	}
	return c.JSON(http.StatusOK, status.VLReminders(ps, h.today()))
}

func (h *Handler) ListCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, Categories)
}

func (h *Handler) GetTrends(c echo.Context) error {
	r, err := RangeFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ps, err := h.patients.AllPatients(c.Request().Context())
	if err != nil {
		return patient.HTTPError(err)
	}
	buckets, err := Trends(ps, r)
	if errors.Is(err, ErrTrendSpan) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return patient.HTTPError(err)
	}
	return c.JSON(http.StatusOK, buckets)
}

func (h *Handler) GetEntries(c echo.Context) error {
	category := Category(c.Param("category"))
	if FindCategory(category) == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown report category")
	}
	r, err := RangeFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ps, err := h.patients.AllPatients(c.Request().Context())
	if err != nil {
		return patient.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Entries(ps, category, r))
}
