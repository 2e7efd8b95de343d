// Package status derives a patient's clinical state from the dated records
// of the aggregate. Nothing here is stored: every value is recomputed from
// the patient and an explicit "today".
package status

import (
	"strings"

	"github.com/golang-sql/civil"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

// Status is the computed treatment status. It shares its spelling with the
// stored hint so the two can be compared and filtered on directly.
type Status string

const (
	Active      Status = Status(patient.StatusActive)
	LTFU        Status = Status(patient.StatusLTFU)
	Transferred Status = Status(patient.StatusTransferred)
	Expired     Status = Status(patient.StatusExpired)
	Restart     Status = Status(patient.StatusRestart)
)

// All lists every computed status in display order.
var All = []Status{Active, Restart, LTFU, Transferred, Expired}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range All {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// Compute evaluates, in order: death, referral out, then the next
// appointment (missed means LTFU, otherwise a stored Restart is kept, else
// Active). A patient with none of those dates has no status and ok is false.
func Compute(p *patient.Patient, today civil.Date) (st Status, ok bool) {
	switch {
	case p.DeathDate.IsSet():
		return Expired, true
	case p.ReferOutDate.IsSet():
		return Transferred, true
	}
	next, set := p.NextAppointmentDate.Civil()
	if !set {
		return "", false
	}
	if next.Before(today) {
		return LTFU, true
	}
	if p.Status == patient.StatusRestart {
		return Restart, true
	}
	return Active, true
}

// Label renders a computed status, using the placeholder for "no data".
func Label(st Status, ok bool) string {
	if !ok {
		return caldate.Placeholder
	}
	return string(st)
}

// EverReceivedTPT reports whether any prophylaxis event recorded TPT.
func EverReceivedTPT(p *patient.Patient) bool {
	for _, e := range p.MedicalHistory {
		if pr, ok := e.Detail.(patient.Prophylaxis); ok && pr.TPT {
			return true
		}
	}
	return false
}

func EverReceivedPrEP(p *patient.Patient) bool { return len(p.PrEP.Records) > 0 }

func EverReceivedPEP(p *patient.Patient) bool { return len(p.PEP.Records) > 0 }

// latestIndex returns the index of the latest date, or -1 for an empty
// list. Undated entries lose to dated ones; among equals the first wins.
func latestIndex(n int, date func(i int) caldate.Date) int {
	best := -1
	for i := 0; i < n; i++ {
		if best < 0 {
			best = i
			continue
		}
		d, b := date(i), date(best)
		if d.IsSet() && (!b.IsSet() || d.After(b)) {
			best = i
		}
	}
	return best
}
