package status

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang-sql/civil"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

const (
	// VLTargetGestationDays is 32 weeks, when the HIV viral load is due.
	VLTargetGestationDays = 224
	// OverdueWeeks is the last gestational week shown as a live pregnancy.
	OverdueWeeks = 42
	// ReminderGraceMonths keeps a patient in the reminder feed after the due date.
	ReminderGraceMonths = 2
	// MaxGAWeeks bounds the weeks part of a recorded gestational age.
	MaxGAWeeks = 45
)

var gaPattern = regexp.MustCompile(`^(\d+)\+(\d+)$`)

// parseGA splits "weeks+days" into a day count. Weeks run 0..MaxGAWeeks
// and days 0..6.
func parseGA(ga string) (int, bool) {
	m := gaPattern.FindStringSubmatch(ga)
	if m == nil {
		return 0, false
	}
	weeks, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	days, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	if weeks > MaxGAWeeks || days > 6 {
		return 0, false
	}
	return weeks*7 + days, true
}

// CalculateVLTestDate projects the date the pregnancy reaches 32 weeks from
// a gestational age measured on gaDate. The result may lie before gaDate
// when the measurement was taken after 32 weeks.
func CalculateVLTestDate(ga, gaDate string) (civil.Date, bool) {
	gestation, ok := parseGA(ga)
	if !ok {
		return civil.Date{}, false
	}
	measured, err := caldate.ParseLocal(gaDate)
	if err != nil {
		return civil.Date{}, false
	}
	return measured.AddDays(VLTargetGestationDays - gestation), true
}

// CurrentGA is a gestational age projected to a given day.
type CurrentGA struct {
	GA      string `json:"ga"`
	Weeks   int    `json:"weeks"`
	Days    int    `json:"days"`
	Overdue bool   `json:"overdue"`
}

// CalculateCurrentGA advances startGA by the whole days elapsed since
// startDate. An asOf before startDate returns startGA unchanged. Past
// OverdueWeeks the result is flagged Overdue.
func CalculateCurrentGA(startGA, startDate string, asOf civil.Date) (CurrentGA, bool) {
	gestation, ok := parseGA(startGA)
	if !ok {
		return CurrentGA{}, false
	}
	start, err := caldate.ParseLocal(startDate)
	if err != nil {
		return CurrentGA{}, false
	}
	elapsed := asOf.DaysSince(start)
	if elapsed < 0 {
		elapsed = 0
	}
	total := gestation + elapsed
	weeks, days := total/7, total%7
	return CurrentGA{
		GA:      fmt.Sprintf("%d+%d", weeks, days),
		Weeks:   weeks,
		Days:    days,
		Overdue: weeks > OverdueWeeks,
	}, true
}

// ActivePregnancy returns the open pregnancy with the latest GA measurement
// date. Several open records are tolerated; the latest wins.
func ActivePregnancy(p *patient.Patient) (patient.PregnancyRecord, bool) {
	open := p.OpenPregnancies()
	i := latestIndex(len(open), func(i int) caldate.Date { return open[i].GADate })
	if i < 0 {
		return patient.PregnancyRecord{}, false
	}
	return open[i], true
}

// Reminder is an entry of the viral-load reminder feed.
type Reminder struct {
	PatientID    int64        `json:"patient_id"`
	HN           string       `json:"hn"`
	Name         string       `json:"name"`
	GA           string       `json:"ga"`
	GADate       caldate.Date `json:"ga_date"`
	CurrentGA    *CurrentGA   `json:"current_ga,omitempty"`
	DueDate      caldate.Date `json:"due_date"`
	DaysUntilDue int          `json:"days_until_due"`
	Overdue      bool         `json:"overdue"`
}

// VLReminderDue reports the viral-load reminder for p's active pregnancy.
// A patient stays in the feed until two months after the due date.
func VLReminderDue(p *patient.Patient, today civil.Date) (Reminder, bool) {
	pr, ok := ActivePregnancy(p)
	if !ok {
		return Reminder{}, false
	}
	due, ok := CalculateVLTestDate(pr.GA, pr.GADate.String())
	if !ok {
		return Reminder{}, false
	}
	if today.After(caldate.AddMonths(due, ReminderGraceMonths)) {
		return Reminder{}, false
	}
	r := Reminder{
		PatientID:    p.ID,
		HN:           p.HN,
		Name:         p.FullName(),
		GA:           pr.GA,
		GADate:       pr.GADate,
		DueDate:      caldate.FromCivil(due),
		DaysUntilDue: due.DaysSince(today),
		Overdue:      today.After(due),
	}
	if cur, ok := CalculateCurrentGA(pr.GA, pr.GADate.String(), today); ok {
		r.CurrentGA = &cur
	}
	return r, true
}

// VLReminders collects the reminders for ps, earliest due date first.
func VLReminders(ps []*patient.Patient, today civil.Date) []Reminder {
	out := []Reminder{}
	for _, p := range ps {
		if r, ok := VLReminderDue(p, today); ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}
