package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/idclinic/idclinic/internal/platform/auth"
)

const patientsPrefix = "/api/v1/patients"

// Audit logs every access to patient records and every bulk import or
// export: who, which patient, what action and the outcome. Other routes
// pass through silently.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			evt := logger.Info()
			if req.Method == http.MethodDelete {
				evt = logger.Warn()
			}
			evt.
				Str("type", "patient_audit").
				Str("request_id", requestID(c)).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("action", methodToAction(req.Method)).
				Str("patient_id", patientIDFromPath(path)).
				Str("method", req.Method).
				Str("path", path).
				Str("remote_ip", c.RealIP()).
				Int("status", responseStatus(c, err)).
				Msg("patient_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, patientsPrefix) ||
		strings.HasPrefix(path, "/api/v1/import/") ||
		strings.HasPrefix(path, "/api/v1/export/")
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// patientIDFromPath returns the numeric id in /api/v1/patients/<id>[/...],
// or "" for collection routes and HN lookups.
func patientIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, patientsPrefix+"/")
	if rest == path {
		return ""
	}
	seg, _, _ := strings.Cut(rest, "/")
	if _, err := strconv.ParseInt(seg, 10, 64); err != nil {
		return ""
	}
	return seg
}
