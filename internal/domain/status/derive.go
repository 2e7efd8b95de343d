package status

import (
	"fmt"

	"github.com/golang-sql/civil"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

// Derived bundles every computed value for one patient.
type Derived struct {
	PatientID     int64              `json:"patient_id"`
	Status        Status             `json:"status"`
	HasStatus     bool               `json:"has_status"`
	StatusLabel   string             `json:"status_label"`
	HBV           Summary            `json:"hbv"`
	HCV           Summary            `json:"hcv"`
	HcvDiagnostic Diagnostic         `json:"hcv_diagnostic"`
	Age           string             `json:"age"`
	AgeBreakdown  *caldate.Breakdown `json:"age_breakdown,omitempty"`
	DOBBuddhist   string             `json:"dob_buddhist"`
	Pregnancy     *PregnancyStatus   `json:"pregnancy,omitempty"`
	EverTPT       bool               `json:"ever_tpt"`
	EverPrEP      bool               `json:"ever_prep"`
	EverPEP       bool               `json:"ever_pep"`
	Warnings      []string           `json:"warnings"`
}

// PregnancyStatus describes the active pregnancy, if any.
type PregnancyStatus struct {
	Record     patient.PregnancyRecord `json:"record"`
	CurrentGA  *CurrentGA              `json:"current_ga,omitempty"`
	VLTestDate caldate.Date            `json:"vl_test_date"`
	VLDue      bool                    `json:"vl_due"`
}

// Derive computes the full set of derived values for p as of today. It
// never modifies p.
func Derive(p *patient.Patient, today civil.Date) Derived {
	st, ok := Compute(p, today)
	d := Derived{
		PatientID:     p.ID,
		Status:        st,
		HasStatus:     ok,
		StatusLabel:   Label(st, ok),
		HBV:           DetermineHbv(p),
		HCV:           DetermineHcv(p),
		HcvDiagnostic: DetermineHcvDiagnostic(p.HCV.Tests),
		Age:           caldate.FormatAge(p.DOB.String(), today),
		DOBBuddhist:   p.DOB.Buddhist(),
		EverTPT:       EverReceivedTPT(p),
		EverPrEP:      EverReceivedPrEP(p),
		EverPEP:       EverReceivedPEP(p),
	}
	if dob, set := p.DOB.Civil(); set && !dob.After(today) {
		b := caldate.AgeBreakdown(dob, today)
		d.AgeBreakdown = &b
	}

	if pr, ok := ActivePregnancy(p); ok {
		ps := &PregnancyStatus{Record: pr}
		if cur, ok := CalculateCurrentGA(pr.GA, pr.GADate.String(), today); ok {
			ps.CurrentGA = &cur
		}
		if due, ok := CalculateVLTestDate(pr.GA, pr.GADate.String()); ok {
			ps.VLTestDate = caldate.FromCivil(due)
		}
		_, ps.VLDue = VLReminderDue(p, today)
		d.Pregnancy = ps
	}
	d.Warnings = warnings(p, today)
	return d
}

func warnings(p *patient.Patient, today civil.Date) []string {
	out := []string{}
	if n := len(p.OpenPregnancies()); n > 1 {
		out = append(out, fmt.Sprintf("%d open pregnancies recorded; using the latest measured", n))
	}
	if p.Sex == patient.SexMale && len(p.Pregnancies) > 0 {
		out = append(out, "pregnancy recorded for a male patient")
	}
	if dob, set := p.DOB.Civil(); set && dob.After(today) {
		out = append(out, "date of birth is in the future")
	}
	if p.DeathDate.IsSet() && p.NextAppointmentDate.After(p.DeathDate) {
		out = append(out, "next appointment is after the date of death")
	}
	return out
}
