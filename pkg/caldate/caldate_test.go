package caldate

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/golang-sql/civil"
)

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestParseLocal_CalendarDateIgnoresTimezone(t *testing.T) {
	orig := time.Local
	defer func() { time.Local = orig }()

	for _, zone := range []string{"America/Los_Angeles", "Asia/Bangkok", "Pacific/Kiritimati", "UTC"} {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			t.Skipf("timezone data unavailable: %v", err)
		}
		time.Local = loc

		got, err := ParseLocal("2024-01-05")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", zone, err)
		}
		if got != day(2024, time.January, 5) {
			t.Errorf("%s: got %v, want 2024-01-05", zone, got)
		}
	}
}

func TestParseLocal_AllDaysOfLeapYear(t *testing.T) {
	d := day(2024, time.January, 1)
	for i := 0; i < 366; i++ {
		got, err := ParseLocal(d.String())
		if err != nil {
			t.Fatalf("ParseLocal(%s): %v", d, err)
		}
		if got != d {
			t.Fatalf("ParseLocal(%s) = %v", d, got)
		}
		d = d.AddDays(1)
	}
}

func TestParseLocal_Rejects(t *testing.T) {
	for _, s := range []string{"", "   ", "2024-02-30", "2024-13-01", "05/01/2024", "yesterday"} {
		if _, err := ParseLocal(s); err == nil {
			t.Errorf("ParseLocal(%q): expected error", s)
		}
	}
}

func TestParseLocal_Timestamp(t *testing.T) {
	orig := time.Local
	defer func() { time.Local = orig }()
	time.Local = time.UTC

	got, err := ParseLocal("2024-03-10T08:30:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != day(2024, time.March, 10) {
		t.Errorf("got %v", got)
	}
}

func TestParseLocalTime_Midnight(t *testing.T) {
	got, err := ParseLocalTime("2023-11-06")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Hour() != 0 || got.Minute() != 0 || got.Day() != 6 || got.Location() != time.Local {
		t.Errorf("expected local midnight on the 6th, got %v", got)
	}
}

func TestFormatBuddhist(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-05", "05/01/2567"},
		{"1999-12-31", "31/12/2542"},
		{"", Placeholder},
		{"not a date", Placeholder},
	}
	for _, tt := range tests {
		if got := FormatBuddhistString(tt.in); got != tt.want {
			t.Errorf("FormatBuddhistString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatBuddhist(civil.Date{}); got != Placeholder {
		t.Errorf("zero date: got %q", got)
	}
}

func TestAgeYears(t *testing.T) {
	asOf := day(2024, time.June, 15)
	tests := []struct {
		dob  string
		want string
	}{
		{"2000-06-15", "24"},
		{"2000-06-16", "23"},
		{"2000-01-01", "24"},
		{"2024-06-15", "0"},
		{"", "-"},
		{"garbage", "-"},
	}
	for _, tt := range tests {
		if got := FormatAge(tt.dob, asOf); got != tt.want {
			t.Errorf("FormatAge(%q) = %q, want %q", tt.dob, got, tt.want)
		}
	}
}

func TestAgeBreakdown(t *testing.T) {
	tests := []struct {
		name string
		dob  civil.Date
		asOf civil.Date
		want Breakdown
	}{
		{"same day", day(2024, 5, 1), day(2024, 5, 1), Breakdown{}},
		{"exact years", day(2000, 5, 1), day(2024, 5, 1), Breakdown{Years: 24}},
		{"no borrow", day(2000, 1, 10), day(2024, 3, 25), Breakdown{Years: 24, Months: 2, Days: 15}},
		{"borrow across May", day(2000, 5, 20), day(2024, 3, 10), Breakdown{Years: 23, Months: 9, Days: 21}},
		{"future dob", day(2025, 1, 1), day(2024, 1, 1), Breakdown{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AgeBreakdown(tt.dob, tt.asOf); got != tt.want {
				t.Errorf("AgeBreakdown(%v, %v) = %+v, want %+v", tt.dob, tt.asOf, got, tt.want)
			}
		})
	}
}

func TestAgeBreakdown_RoundTrip(t *testing.T) {
	asOfs := []civil.Date{
		day(2024, time.March, 1),
		day(2024, time.March, 31),
		day(2023, time.February, 28),
		day(2024, time.February, 29),
		day(2024, time.December, 31),
	}
	for _, asOf := range asOfs {
		dob := asOf.AddDays(-800)
		for !dob.After(asOf) {
			b := AgeBreakdown(dob, asOf)
			got := DateFromAgeBreakdown(strconv.Itoa(b.Years), strconv.Itoa(b.Months), strconv.Itoa(b.Days), asOf)
			if got != dob.String() {
				t.Fatalf("asOf %v dob %v: breakdown %+v maps back to %s", asOf, dob, b, got)
			}
			if b.Days < 0 || b.Months < 0 || b.Months > 11 {
				t.Fatalf("asOf %v dob %v: non-normalised breakdown %+v", asOf, dob, b)
			}
			dob = dob.AddDays(1)
		}
	}
}

func TestDateFromAgeBreakdown(t *testing.T) {
	asOf := day(2024, time.June, 15)
	if got := DateFromAgeBreakdown("", " ", "", asOf); got != "" {
		t.Errorf("blank input: got %q, want empty", got)
	}
	if got := DateFromAgeBreakdown("0", "", "", asOf); got != "2024-06-15" {
		t.Errorf("zero age: got %q", got)
	}
	if got := DateFromAgeBreakdown("30", "", "", asOf); got != "1994-06-15" {
		t.Errorf("30 years: got %q", got)
	}
	if got := DateFromAgeBreakdown("1", "2", "10", asOf); got != "2023-04-05" {
		t.Errorf("1y2m10d: got %q", got)
	}
	if got := DateFromAgeBreakdown("x", "1", "", asOf); got != "2024-05-15" {
		t.Errorf("non-numeric years: got %q", got)
	}
}

func TestDate_JSON(t *testing.T) {
	var payload struct {
		A Date `json:"a"`
		B Date `json:"b"`
		C Date `json:"c"`
		D Date `json:"d"`
	}
	in := `{"a":"2024-01-05","b":null,"c":"31/31/2024","d":""}`
	if err := json.Unmarshal([]byte(in), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.A.String() != "2024-01-05" {
		t.Errorf("a = %q", payload.A.String())
	}
	if payload.B.IsSet() || payload.C.IsSet() || payload.D.IsSet() {
		t.Error("null, malformed and empty values should be absent")
	}

	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":"2024-01-05","b":null,"c":null,"d":null}`
	if string(out) != want {
		t.Errorf("marshal = %s, want %s", out, want)
	}
}

func TestDate_Scan(t *testing.T) {
	var d Date
	if err := d.Scan(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("scan time: %v", err)
	}
	if d.String() != "2024-01-05" {
		t.Errorf("scan time = %s", d)
	}
	if err := d.Scan(nil); err != nil || d.IsSet() {
		t.Errorf("scan nil should clear the date")
	}
	if err := d.Scan([]byte("2023-10-15")); err != nil || d.String() != "2023-10-15" {
		t.Errorf("scan bytes = %s, %v", d, err)
	}
	if err := d.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
	v, _ := Date{}.Value()
	if v != nil {
		t.Errorf("absent date value = %v, want nil", v)
	}
}

func TestDate_Compare(t *testing.T) {
	a, b := MustParse("2024-01-01"), MustParse("2024-01-02")
	if !a.Before(b) || !b.After(a) || a.After(b) {
		t.Error("ordering broken")
	}
	if (Date{}).Before(a) || a.Before(Date{}) {
		t.Error("absent dates must never compare")
	}
	if !(Date{}).Equal(Date{}) || a.Equal(b) {
		t.Error("equality broken")
	}
	if a.Month() != "2024-01" {
		t.Errorf("Month() = %q", a.Month())
	}
}

func TestDate_YearRange(t *testing.T) {
	tests := []struct {
		name string
		got  Date
		set  bool
	}{
		{"first year", Of(1, time.January, 1), true},
		{"last year", Of(9999, time.December, 31), true},
		{"year zero", Of(0, time.January, 1), false},
		{"five digit year", Of(10113, time.September, 19), false},
		{"iso year zero", Parse("0000-01-01"), false},
		{"scanned far future", scanned(time.Date(10113, time.September, 19, 0, 0, 0, 0, time.UTC)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got.IsSet() != tt.set {
				t.Errorf("IsSet() = %v, want %v", tt.got.IsSet(), tt.set)
			}
		})
	}
}

func scanned(v time.Time) Date {
	var d Date
	_ = d.Scan(v)
	return d
}
