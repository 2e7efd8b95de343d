package spreadsheet

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/golang-sql/civil"
	"github.com/labstack/echo/v4"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/platform/auth"
	"github.com/idclinic/idclinic/internal/platform/reporting"
	"github.com/idclinic/idclinic/pkg/caldate"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// MaxUploadBytes caps the size of an uploaded workbook.
const MaxUploadBytes = 20 << 20

// ImportResponse is returned by the upload endpoint.
type ImportResponse struct {
	Result   *patient.ImportResult `json:"result"`
	Problems []Problem             `json:"problems"`
}

type Handler struct {
	svc       *patient.Service
	batchSize int
	today     func() civil.Date
}

func NewHandler(svc *patient.Service, batchSize int) *Handler {
	return &Handler{svc: svc, batchSize: batchSize, today: caldate.Today}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/export/patients", h.ExportPatients)
	read.GET("/reports/:category/export", h.ExportReport)

	write := api.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/import/patients", h.ImportPatients)
}

func attachment(c echo.Context, name string, body []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, ContentType, body)
}

func (h *Handler) ExportPatients(c echo.Context) error {
	ps, err := h.svc.AllPatients(c.Request().Context())
	if err != nil {
		return patient.HTTPError(err)
	}
	today := h.today()
	var buf bytes.Buffer
	if err := WritePatients(&buf, ps, today); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return attachment(c, fmt.Sprintf("patients-%s.xlsx", today), buf.Bytes())
}

func (h *Handler) ExportReport(c echo.Context) error {
	category := reporting.Category(c.Param("category"))
	if reporting.FindCategory(category) == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown report category")
	}
	r, err := reporting.RangeFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ps, err := h.svc.AllPatients(c.Request().Context())
	if err != nil {
		return patient.HTTPError(err)
	}
	var buf bytes.Buffer
	if err := WriteEntries(&buf, reporting.Entries(ps, category, r)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return attachment(c, fmt.Sprintf("%s-%s.xlsx", category, h.today()), buf.Bytes())
}

// ImportPatients reads the multipart "file" field and upserts every patient
// in it by HN.
func (h *Handler) ImportPatients(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file is too large")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open uploaded file")
	}
	defer src.Close()

	ps, problems, err := ReadPatients(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Import(c.Request().Context(), ps, h.batchSize)
	if err != nil {
		return patient.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ImportResponse{Result: res, Problems: problems})
}
