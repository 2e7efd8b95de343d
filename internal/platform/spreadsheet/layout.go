// Package spreadsheet maps patient aggregates to and from xlsx workbooks.
// A workbook holds one sheet of patients plus one sheet per child
// collection, linked by HN.
package spreadsheet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

const (
	SheetPatients      = "Patients"
	SheetHistory       = "Medical History"
	SheetPregnancies   = "Pregnancies"
	SheetHBV           = "HBV"
	SheetHCV           = "HCV"
	SheetHCVTreatments = "HCV Treatments"
	SheetSTD           = "STD"
	SheetPrEP          = "PrEP"
	SheetPEP           = "PEP"
	SheetReport        = "Report"
)

// column binds a Patients sheet header to a patient field.
type column struct {
	header string
	get    func(p *patient.Patient) string
	set    func(p *patient.Patient, v string)
	// check, when set, rejects a cell before set is called.
	check func(v string) error
}

func textColumn(header string, field func(p *patient.Patient) *string) column {
	return column{
		header: header,
		get:    func(p *patient.Patient) string { return *field(p) },
		set:    func(p *patient.Patient, v string) { *field(p) = v },
	}
}

func dateColumn(header string, field func(p *patient.Patient) *caldate.Date) column {
	return column{
		header: header,
		get:    func(p *patient.Patient) string { return field(p).String() },
		set:    func(p *patient.Patient, v string) { *field(p), _ = parseCellDate(v) },
		check: func(v string) error {
			_, err := parseCellDate(v)
			return err
		},
	}
}

var patientColumns = []column{
	textColumn("HN", func(p *patient.Patient) *string { return &p.HN }),
	textColumn("National ID", func(p *patient.Patient) *string { return &p.NationalID }),
	textColumn("Prefix", func(p *patient.Patient) *string { return &p.Prefix }),
	textColumn("First Name", func(p *patient.Patient) *string { return &p.FirstName }),
	textColumn("Last Name", func(p *patient.Patient) *string { return &p.LastName }),
	textColumn("Nickname", func(p *patient.Patient) *string { return &p.Nickname }),
	{
		header: "Sex",
		get:    func(p *patient.Patient) string { return string(p.Sex) },
		set:    func(p *patient.Patient, v string) { p.Sex = parseSex(v) },
	},
	dateColumn("DOB", func(p *patient.Patient) *caldate.Date { return &p.DOB }),
	textColumn("Phone", func(p *patient.Patient) *string { return &p.Phone }),
	textColumn("Address", func(p *patient.Patient) *string { return &p.AddressLine }),
	textColumn("Subdistrict", func(p *patient.Patient) *string { return &p.Subdistrict }),
	textColumn("District", func(p *patient.Patient) *string { return &p.District }),
	textColumn("Province", func(p *patient.Patient) *string { return &p.Province }),
	textColumn("Postal Code", func(p *patient.Patient) *string { return &p.PostalCode }),
	textColumn("Healthcare Scheme", func(p *patient.Patient) *string { return &p.HealthcareScheme }),
	{
		header: "Status",
		get:    func(p *patient.Patient) string { return string(p.Status) },
		set:    func(p *patient.Patient, v string) { p.Status = patient.StoredStatus(v) },
	},
	dateColumn("Registration Date", func(p *patient.Patient) *caldate.Date { return &p.RegistrationDate }),
	dateColumn("Next Appointment", func(p *patient.Patient) *caldate.Date { return &p.NextAppointmentDate }),
	dateColumn("Refer In Date", func(p *patient.Patient) *caldate.Date { return &p.ReferInDate }),
	textColumn("Refer From", func(p *patient.Patient) *string { return &p.ReferFrom }),
	dateColumn("Refer Out Date", func(p *patient.Patient) *caldate.Date { return &p.ReferOutDate }),
	textColumn("Refer To", func(p *patient.Patient) *string { return &p.ReferTo }),
	dateColumn("Death Date", func(p *patient.Patient) *caldate.Date { return &p.DeathDate }),
	textColumn("Note", func(p *patient.Patient) *string { return &p.Note }),
	{
		header: "HBV Override",
		get:    func(p *patient.Patient) string { return p.HBV.Override.Text() },
		set:    func(p *patient.Patient, v string) { p.HBV.Override = patient.Manual(v) },
	},
	{
		header: "HCV Override",
		get:    func(p *patient.Patient) string { return p.HCV.Override.Text() },
		set:    func(p *patient.Patient, v string) { p.HCV.Override = patient.Manual(v) },
	},
}

// derivedHeaders are appended to the Patients sheet on export and ignored
// on import.
var derivedHeaders = []string{"Computed Status", "Age", "DOB (BE)", "HBV Summary", "HCV Summary"}

var (
	historyHeaders      = []string{"HN", "Date", "Type", "Detail"}
	pregnancyHeaders    = []string{"HN", "GA", "GA Date", "End Date", "End Reason", "Note"}
	labHeaders          = []string{"HN", "Kind", "Date", "Result"}
	hcvTreatmentHeaders = []string{"HN", "Date", "Regimen", "Note"}
	stdHeaders          = []string{"HN", "Date", "Diseases", "Treatment", "Note"}
	prepHeaders         = []string{"HN", "Start Date", "Stop Date", "Regimen", "Note"}
	pepHeaders          = []string{"HN", "Date", "Type", "Regimen", "Note"}
	reportHeaders       = []string{"HN", "Name", "Date", "Date (BE)", "Detail"}
)

// headerKey folds a header so "First Name", "first_name" and "FIRSTNAME"
// match.
func headerKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r == '_' || r == '-' || r == '(' || r == ')' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var slashDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)

// maxExcelSerial is the serial number of 9999-12-31.
const maxExcelSerial = 2958465

// parseCellDate reads a date cell. It accepts ISO dates, Excel serial
// numbers and DD/MM/YYYY in either era; other text is absent. Serials and
// years beyond the calendar range are an error.
func parseCellDate(s string) (caldate.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return caldate.Date{}, nil
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < 1 {
			return caldate.Date{}, nil
		}
		if serial >= maxExcelSerial+1 {
			return caldate.Date{}, fmt.Errorf("date serial %s is out of range", s)
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return caldate.Date{}, fmt.Errorf("date serial %s: %w", s, err)
		}
		return caldate.Of(t.Year(), t.Month(), t.Day()), nil
	}
	if m := slashDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year > 2400 {
			year -= caldate.BuddhistEraOffset
		}
		if year < caldate.MinYear {
			return caldate.Date{}, fmt.Errorf("date %q is out of range", s)
		}
		return caldate.Of(year, time.Month(month), day), nil
	}
	return caldate.Parse(s), nil
}

func parseSex(s string) patient.Sex {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "ชาย":
		return patient.SexMale
	case "female", "f", "หญิง":
		return patient.SexFemale
	}
	return patient.Sex(strings.TrimSpace(s))
}

// splitList splits a comma or semicolon separated cell.
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
