package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin     = "admin"
	RoleClinician = "clinician"
	RoleStaff     = "staff"
)

// Role groups used by route registration.
var (
	ReadRoles  = []string{RoleAdmin, RoleClinician, RoleStaff}
	WriteRoles = []string{RoleAdmin, RoleClinician}
)

func IsKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleClinician, RoleStaff:
		return true
	}
	return false
}

// RequireRole allows the request when the user holds at least one of roles.
// Administrators are always allowed.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, has := range RolesFromContext(c.Request().Context()) {
				if has == RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
