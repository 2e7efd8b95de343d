package reporting

import (
	"github.com/golang-sql/civil"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/domain/status"
)

// UnknownBucket counts patients whose value cannot be derived.
const UnknownBucket = "unknown"

// UpcomingWindowDays is how far ahead the dashboard looks for appointments.
const UpcomingWindowDays = 7

type Dashboard struct {
	Total                int               `json:"total"`
	ByStatus             map[string]int    `json:"by_status"`
	ByHbv                map[string]int    `json:"by_hbv"`
	ByHcv                map[string]int    `json:"by_hcv"`
	BySex                map[string]int    `json:"by_sex"`
	ActivePregnancies    int               `json:"active_pregnancies"`
	OnPrEP               int               `json:"on_prep"`
	EverTPT              int               `json:"ever_tpt"`
	UpcomingAppointments int               `json:"upcoming_appointments"`
	Overdue              int               `json:"overdue"`
	VLReminders          []status.Reminder `json:"vl_reminders"`
}

// ComputeDashboard re-derives every patient as of today and counts the
// results. Patients without a computed status count under UnknownBucket.
func ComputeDashboard(ps []*patient.Patient, today civil.Date) Dashboard {
	d := Dashboard{
		Total:    len(ps),
		ByStatus: map[string]int{UnknownBucket: 0},
		ByHbv:    map[string]int{},
		ByHcv:    map[string]int{},
		BySex:    map[string]int{string(patient.SexMale): 0, string(patient.SexFemale): 0, UnknownBucket: 0},
	}
	for _, st := range status.All {
		d.ByStatus[string(st)] = 0
	}
	for _, text := range status.HbvTexts {
		d.ByHbv[text] = 0
	}
	for _, text := range status.HcvTexts {
		d.ByHcv[text] = 0
	}

	upcomingEnd := today.AddDays(UpcomingWindowDays)
	for _, p := range ps {
		st, ok := status.Compute(p, today)
		switch {
		case !ok:
			d.ByStatus[UnknownBucket]++
		default:
			d.ByStatus[string(st)]++
		}
		if ok && st == status.LTFU {
			d.Overdue++
		}

		d.ByHbv[status.DetermineHbv(p).Text]++
		d.ByHcv[status.DetermineHcv(p).Text]++

		switch p.Sex {
		case patient.SexMale, patient.SexFemale:
			d.BySex[string(p.Sex)]++
		default:
			d.BySex[UnknownBucket]++
		}

		if _, ok := status.ActivePregnancy(p); ok {
			d.ActivePregnancies++
		}
		if onPrEP(p) {
			d.OnPrEP++
		}
		if status.EverReceivedTPT(p) {
			d.EverTPT++
		}
		if appt, set := p.NextAppointmentDate.Civil(); set && !appt.Before(today) && !appt.After(upcomingEnd) {
			d.UpcomingAppointments++
		}
	}
	d.VLReminders = status.VLReminders(ps, today)
	return d
}

// onPrEP reports whether any PrEP course is still open.
func onPrEP(p *patient.Patient) bool {
	for _, r := range p.PrEP.Records {
		if r.StartDate.IsSet() && !r.StopDate.IsSet() {
			return true
		}
	}
	return false
}
