package listing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/idclinic/idclinic/internal/domain/status"
	"github.com/idclinic/idclinic/pkg/caldate"
)

// FilterFromContext reads a Filter from the query string:
//
//	q, status, appointment_from, appointment_to, hbv, hcv, std, tpt, prep, pep
//
// Unknown statuses, malformed dates and non-boolean flags are rejected.
func FilterFromContext(c echo.Context) (Filter, error) {
	f := Filter{
		Search:     strings.TrimSpace(c.QueryParam("q")),
		HbvStatus:  strings.TrimSpace(c.QueryParam("hbv")),
		HcvStatus:  strings.TrimSpace(c.QueryParam("hcv")),
		StdDisease: strings.TrimSpace(c.QueryParam("std")),
	}

	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		st, ok := status.ParseStatus(raw)
		if !ok {
			return Filter{}, fmt.Errorf("unknown status %q", raw)
		}
		f.Status = st
	}

	var err error
	if f.AppointmentFrom, err = dateParam(c, "appointment_from"); err != nil {
		return Filter{}, err
	}
	if f.AppointmentTo, err = dateParam(c, "appointment_to"); err != nil {
		return Filter{}, err
	}
	if f.TPT, err = boolParam(c, "tpt"); err != nil {
		return Filter{}, err
	}
	if f.PrEP, err = boolParam(c, "prep"); err != nil {
		return Filter{}, err
	}
	if f.PEP, err = boolParam(c, "pep"); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func dateParam(c echo.Context, name string) (caldate.Date, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return caldate.Date{}, nil
	}
	d := caldate.Parse(raw)
	if !d.IsSet() {
		return caldate.Date{}, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return d, nil
}

func boolParam(c echo.Context, name string) (*bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	switch strings.ToLower(raw) {
	case "yes", "y":
		v := true
		return &v, nil
	case "no", "n":
		v := false
		return &v, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &v, nil
}
