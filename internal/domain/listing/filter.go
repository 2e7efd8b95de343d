package listing

import (
	"sort"
	"strings"

	"github.com/golang-sql/civil"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/domain/status"
	"github.com/idclinic/idclinic/pkg/caldate"
	"github.com/idclinic/idclinic/pkg/pagination"
)

// Filter is a conjunction of optional predicates. A zero field matches
// every patient.
type Filter struct {
	Search          string
	Status          status.Status
	AppointmentFrom caldate.Date
	AppointmentTo   caldate.Date
	HbvStatus       string
	HcvStatus       string
	StdDisease      string
	TPT             *bool
	PrEP            *bool
	PEP             *bool
}

// IsZero reports whether f matches everything.
func (f Filter) IsZero() bool {
	return strings.TrimSpace(f.Search) == "" && f.Status == "" &&
		!f.AppointmentFrom.IsSet() && !f.AppointmentTo.IsSet() &&
		f.HbvStatus == "" && f.HcvStatus == "" && strings.TrimSpace(f.StdDisease) == "" &&
		f.TPT == nil && f.PrEP == nil && f.PEP == nil
}

// Matches evaluates every set predicate against p as of today.
func (f Filter) Matches(p *patient.Patient, today civil.Date) bool {
	if !matchesSearch(p, f.Search) {
		return false
	}
	if f.Status != "" {
		st, ok := status.Compute(p, today)
		if !ok || st != f.Status {
			return false
		}
	}
	if f.AppointmentFrom.IsSet() || f.AppointmentTo.IsSet() {
		appt := p.NextAppointmentDate
		if !appt.IsSet() || appt.Before(f.AppointmentFrom) || appt.After(f.AppointmentTo) {
			return false
		}
	}
	if f.HbvStatus != "" && status.DetermineHbv(p).Text != f.HbvStatus {
		return false
	}
	if f.HcvStatus != "" && status.DetermineHcv(p).Text != f.HcvStatus {
		return false
	}
	if !matchesDisease(p, f.StdDisease) {
		return false
	}
	if f.TPT != nil && status.EverReceivedTPT(p) != *f.TPT {
		return false
	}
	if f.PrEP != nil && status.EverReceivedPrEP(p) != *f.PrEP {
		return false
	}
	if f.PEP != nil && status.EverReceivedPEP(p) != *f.PEP {
		return false
	}
	return true
}

func matchesSearch(p *patient.Patient, q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	for _, field := range []string{p.HN, p.NationalID, p.FullName(), p.Nickname, p.Phone} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	if !looksLikePhone(q) {
		return false
	}
	phone := digits(p.Phone)
	if phone == "" {
		return false
	}
	for _, candidate := range []string{digits(q), digits(patient.NormalizePhone(q, patient.DefaultPhoneRegion))} {
		if candidate != "" && strings.Contains(phone, candidate) {
			return true
		}
	}
	return false
}

func looksLikePhone(s string) bool {
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == ' ' || r == '-' || r == '+' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return hasDigit
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchesDisease(p *patient.Patient, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return true
	}
	for _, r := range p.STD.Records {
		for _, disease := range r.Diseases {
			if strings.Contains(strings.ToLower(disease), name) {
				return true
			}
		}
	}
	return false
}

// Apply returns the patients matching f, most recently updated first. Ties
// keep input order. ps is not modified.
func Apply(ps []*patient.Patient, f Filter, today civil.Date) []*patient.Patient {
	out := make([]*patient.Patient, 0, len(ps))
	for _, p := range ps {
		if f.Matches(p, today) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Page cuts the requested page out of an already filtered and sorted list.
func Page(ps []*patient.Patient, page int) ([]*patient.Patient, pagination.Page) {
	pg := pagination.Paginate(len(ps), page, pagination.DefaultPageSize)
	start, end := pg.Slice()
	return ps[start:end], pg
}
