// Package caldate holds calendar-date helpers for clinic records. Every date
// the clinic stores is a calendar day (year, month, day) with no time of day
// and no timezone; parsing a "YYYY-MM-DD" string must yield that exact day
// on any host.
package caldate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
)

// Placeholder is rendered for missing or unparseable dates and ages.
const Placeholder = "-"

// BuddhistEraOffset converts a Gregorian year to the Thai Buddhist era.
const BuddhistEraOffset = 543

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// permissiveLayouts are tried, in order, for strings that are not plain
// calendar dates.
var permissiveLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseLocal parses s as a calendar date. A "YYYY-MM-DD" string is read
// component by component and never passes through a timezone conversion.
// Timestamps are accepted and reduced to the host-local calendar day. Any
// other input, including impossible days such as "2024-02-30", fails.
func ParseLocal(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}
	if isoDatePattern.MatchString(s) {
		d, err := civil.ParseDate(s)
		if err != nil {
			return civil.Date{}, fmt.Errorf("parse date %q: %w", s, err)
		}
		return d, nil
	}
	for _, layout := range permissiveLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return civil.DateOf(t.In(time.Local)), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognised date %q", s)
}

// ParseLocalTime is ParseLocal returning local midnight of the parsed day.
func ParseLocalTime(s string) (time.Time, error) {
	d, err := ParseLocal(s)
	if err != nil {
		return time.Time{}, err
	}
	return d.In(time.Local), nil
}

// Today returns the host-local calendar day.
func Today() civil.Date {
	return civil.DateOf(time.Now())
}

// FormatBuddhist renders d as DD/MM/YYYY in the Buddhist era.
func FormatBuddhist(d civil.Date) string {
	if !d.IsValid() {
		return Placeholder
	}
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, int(d.Month), d.Year+BuddhistEraOffset)
}

// FormatBuddhistString parses s with ParseLocal and renders it in the
// Buddhist era, or the placeholder when s is missing or malformed.
func FormatBuddhistString(s string) string {
	d, err := ParseLocal(s)
	if err != nil {
		return Placeholder
	}
	return FormatBuddhist(d)
}

// AgeYears returns the completed years between dob and asOf. The second
// result is false when dob is missing or unparseable.
func AgeYears(dob string, asOf civil.Date) (int, bool) {
	d, err := ParseLocal(dob)
	if err != nil {
		return 0, false
	}
	return completedYears(d, asOf), true
}

// FormatAge is AgeYears rendered for display.
func FormatAge(dob string, asOf civil.Date) string {
	years, ok := AgeYears(dob, asOf)
	if !ok {
		return Placeholder
	}
	return strconv.Itoa(years)
}

func completedYears(dob, asOf civil.Date) int {
	years := asOf.Year - dob.Year
	if asOf.Month < dob.Month || (asOf.Month == dob.Month && asOf.Day < dob.Day) {
		years--
	}
	return years
}

// Breakdown is an age expressed as years, months and days.
type Breakdown struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Days   int `json:"days"`
}

// AgeBreakdown decomposes the span from dob to asOf. Whole months are
// counted back from asOf first; the days left over are the distance from
// that month anchor back to dob, so the borrow always uses the real length
// of the month being crossed. A dob after asOf yields the zero Breakdown.
func AgeBreakdown(dob, asOf civil.Date) Breakdown {
	if !dob.IsValid() || !asOf.IsValid() || dob.After(asOf) {
		return Breakdown{}
	}
	months := (asOf.Year-dob.Year)*12 + int(asOf.Month) - int(dob.Month)
	for months > 0 && monthsBefore(asOf, months).Before(dob) {
		months--
	}
	days := monthsBefore(asOf, months).DaysSince(dob)
	return Breakdown{Years: months / 12, Months: months % 12, Days: days}
}

// DateFromAgeBreakdown is the inverse of AgeBreakdown: it steps back from
// asOf by the given years, months and days and returns "YYYY-MM-DD". It
// returns "" when all three inputs are blank, so "no input" is never
// confused with an age of zero. Blank or non-numeric parts count as zero.
func DateFromAgeBreakdown(years, months, days string, asOf civil.Date) string {
	if strings.TrimSpace(years) == "" && strings.TrimSpace(months) == "" && strings.TrimSpace(days) == "" {
		return ""
	}
	y, m, d := atoiOrZero(years), atoiOrZero(months), atoiOrZero(days)
	return monthsBefore(asOf, y*12+m).AddDays(-d).String()
}

func monthsBefore(d civil.Date, months int) civil.Date {
	return civil.DateOf(d.In(time.UTC).AddDate(0, -months, 0))
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// Compare orders two calendar dates: -1, 0 or +1.
func Compare(a, b civil.Date) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// AddMonths shifts d by n calendar months using Go's date normalisation.
func AddMonths(d civil.Date, n int) civil.Date {
	return civil.DateOf(d.In(time.UTC).AddDate(0, n, 0))
}
