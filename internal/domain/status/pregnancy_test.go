package status

import (
	"testing"
	"time"

	"github.com/golang-sql/civil"

	"github.com/idclinic/idclinic/internal/domain/patient"
)

func TestCalculateVLTestDate(t *testing.T) {
	tests := []struct {
		ga, date string
		want     string
		wantOK   bool
	}{
		{"40+0", "2024-01-01", "2023-11-06", true},
		{"32+0", "2024-03-10", "2024-03-10", true},
		{"12+3", "2024-01-01", "2024-05-17", true},
		{"0+0", "2024-01-01", "2024-08-12", true},
		{"12", "2024-01-01", "", false},
		{"12+3 ", "2024-01-01", "", false},
		{"w12+3", "2024-01-01", "", false},
		{"12+3", "2024-02-30", "", false},
		{"12+3", "", "", false},
		{"45+6", "2024-01-01", "2023-09-26", true},
		{"46+0", "2024-01-01", "", false},
		{"12+7", "2024-01-01", "", false},
		{"99999999999999999999+0", "2024-01-01", "", false},
		{"3000000+0", "2024-01-01", "", false},
	}
	for _, tt := range tests {
		got, ok := CalculateVLTestDate(tt.ga, tt.date)
		if ok != tt.wantOK {
			t.Errorf("CalculateVLTestDate(%q, %q) ok = %v, want %v", tt.ga, tt.date, ok, tt.wantOK)
			continue
		}
		if ok && got.String() != tt.want {
			t.Errorf("CalculateVLTestDate(%q, %q) = %s, want %s", tt.ga, tt.date, got, tt.want)
		}
	}
}

func TestCalculateCurrentGA(t *testing.T) {
	asOf := civil.Date{Year: 2024, Month: time.March, Day: 1}
	tests := []struct {
		name      string
		ga, start string
		want      CurrentGA
		wantOK    bool
	}{
		{"advances", "10+2", "2024-02-20", CurrentGA{GA: "11+5", Weeks: 11, Days: 5}, true},
		{"same day", "20+0", "2024-03-01", CurrentGA{GA: "20+0", Weeks: 20}, true},
		{"start in future is unchanged", "8+4", "2024-04-01", CurrentGA{GA: "8+4", Weeks: 8, Days: 4}, true},
		{"past 42 weeks is overdue", "40+0", "2024-01-01", CurrentGA{GA: "48+4", Weeks: 48, Days: 4, Overdue: true}, true},
		{"42 weeks is not overdue", "41+0", "2024-02-23", CurrentGA{GA: "42+0", Weeks: 42}, true},
		{"bad ga", "ten", "2024-02-20", CurrentGA{}, false},
		{"bad date", "10+2", "soon", CurrentGA{}, false},
		{"weeks out of range", "300+0", "2024-02-20", CurrentGA{}, false},
		{"days out of range", "10+9", "2024-02-20", CurrentGA{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CalculateCurrentGA(tt.ga, tt.start, asOf)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("CalculateCurrentGA() = (%+v, %v), want (%+v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestActivePregnancy(t *testing.T) {
	p := &patient.Patient{Pregnancies: []patient.PregnancyRecord{
		{GA: "30+0", GADate: d("2022-01-01"), EndDate: d("2022-03-01")},
		{GA: "10+0", GADate: d("2024-01-10")},
		{GA: "12+0", GADate: d("2024-02-01")},
		{GA: "5+0"},
	}}
	pr, ok := ActivePregnancy(p)
	if !ok || pr.GA != "12+0" {
		t.Errorf("expected latest open record 12+0, got %+v, %v", pr, ok)
	}

	closed := &patient.Patient{Pregnancies: []patient.PregnancyRecord{{GA: "30+0", EndDate: d("2022-03-01")}}}
	if _, ok := ActivePregnancy(closed); ok {
		t.Error("expected no active pregnancy")
	}
	if _, ok := ActivePregnancy(&patient.Patient{}); ok {
		t.Error("expected no active pregnancy for empty patient")
	}
}

func TestVLReminderDue_Window(t *testing.T) {
	// 32+0 on 2024-03-01, so the test is due that day and the reminder
	// lasts until 2024-05-01.
	p := &patient.Patient{ID: 3, HN: "HN3", FirstName: "Nok", Pregnancies: []patient.PregnancyRecord{
		{GA: "32+0", GADate: d("2024-03-01")},
	}}

	tests := []struct {
		today   civil.Date
		due     bool
		overdue bool
		days    int
	}{
		{civil.Date{Year: 2024, Month: time.February, Day: 20}, true, false, 10},
		{civil.Date{Year: 2024, Month: time.March, Day: 1}, true, false, 0},
		{civil.Date{Year: 2024, Month: time.May, Day: 1}, true, true, -61},
		{civil.Date{Year: 2024, Month: time.May, Day: 2}, false, false, 0},
	}
	for _, tt := range tests {
		r, ok := VLReminderDue(p, tt.today)
		if ok != tt.due {
			t.Errorf("%s: due = %v, want %v", tt.today, ok, tt.due)
			continue
		}
		if !ok {
			continue
		}
		if r.Overdue != tt.overdue || r.DaysUntilDue != tt.days {
			t.Errorf("%s: got overdue=%v days=%d, want %v %d", tt.today, r.Overdue, r.DaysUntilDue, tt.overdue, tt.days)
		}
		if r.DueDate.String() != "2024-03-01" || r.HN != "HN3" || r.Name != "Nok" {
			t.Errorf("unexpected reminder %+v", r)
		}
		if r.CurrentGA == nil {
			t.Error("expected current GA on reminder")
		}
	}
}

func TestVLReminders_OrderedByDueDate(t *testing.T) {
	asOf := civil.Date{Year: 2024, Month: time.March, Day: 1}
	ps := []*patient.Patient{
		{ID: 1, Pregnancies: []patient.PregnancyRecord{{GA: "10+0", GADate: d("2024-02-01")}}},
		{ID: 2, Pregnancies: []patient.PregnancyRecord{{GA: "30+0", GADate: d("2024-02-01")}}},
		{ID: 3},
		{ID: 4, Pregnancies: []patient.PregnancyRecord{{GA: "bad", GADate: d("2024-02-01")}}},
		{ID: 5, Pregnancies: []patient.PregnancyRecord{{GA: "20+0", GADate: d("2024-02-01")}}},
	}
	got := VLReminders(ps, asOf)
	if len(got) != 3 {
		t.Fatalf("expected 3 reminders, got %d", len(got))
	}
	want := []int64{2, 5, 1}
	for i, id := range want {
		if got[i].PatientID != id {
			t.Errorf("position %d: got patient %d, want %d", i, got[i].PatientID, id)
		}
	}
	if empty := VLReminders(nil, asOf); empty == nil || len(empty) != 0 {
		t.Error("expected empty non-nil slice")
	}
}
