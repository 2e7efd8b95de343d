package spreadsheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

// Problem describes a row that was skipped while reading a workbook. Rows are
// numbered as Excel shows them, the header being row 1.
type Problem struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// sheet is a header-indexed view over the rows of one worksheet.
type sheet struct {
	name    string
	columns map[string]int
	rows    [][]string
}

func (s *sheet) has(header string) bool {
	_, ok := s.columns[headerKey(header)]
	return ok
}

func (s *sheet) cell(row []string, header string) string {
	i, ok := s.columns[headerKey(header)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// loadSheet returns nil when the workbook has no sheet called name.
func loadSheet(f *excelize.File, name string) (*sheet, error) {
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return nil, fmt.Errorf("look up sheet %s: %w", name, err)
	}
	if idx < 0 {
		return nil, nil
	}
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", name, err)
	}
	s := &sheet{name: name, columns: map[string]int{}}
	if len(rows) == 0 {
		return s, nil
	}
	for i, h := range rows[0] {
		key := headerKey(h)
		if _, dup := s.columns[key]; key != "" && !dup {
			s.columns[key] = i
		}
	}
	s.rows = rows[1:]
	return s, nil
}

// reader accumulates the row set and problems of one workbook.
type reader struct {
	f        *excelize.File
	ids      map[string]int64
	rows     patient.RowSet
	problems []Problem
}

// dates parses the named date cells of row. A bad cell is recorded as a
// problem and ok is false, so the caller skips the row.
func (r *reader) dates(s *sheet, row []string, n int, headers ...string) (out []caldate.Date, ok bool) {
	out = make([]caldate.Date, len(headers))
	for i, h := range headers {
		d, err := parseCellDate(s.cell(row, h))
		if err != nil {
			r.problem(s.name, n, "%s: %v", h, err)
			return nil, false
		}
		out[i] = d
	}
	return out, true
}

func (r *reader) problem(sheet string, row int, format string, args ...interface{}) {
	r.problems = append(r.problems, Problem{Sheet: sheet, Row: row, Message: fmt.Sprintf(format, args...)})
}

// ReadPatients parses a workbook in the layout written by WritePatients.
// Headers are matched loosely and every sheet but Patients is optional.
// Returned patients have no id; rows that could not be used are reported as
// problems rather than failing the whole read.
func ReadPatients(in io.Reader) ([]*patient.Patient, []Problem, error) {
	f, err := excelize.OpenReader(in)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	r := &reader{f: f, ids: map[string]int64{}, problems: []Problem{}}
	if err := r.readPatients(); err != nil {
		return nil, nil, err
	}

	children := []struct {
		name string
		read func(s *sheet, row []string, id int64, n int)
	}{
		{SheetHistory, r.readEvent},
		{SheetPregnancies, r.readPregnancy},
		{SheetHBV, r.readHbv},
		{SheetHCV, r.readHcv},
		{SheetHCVTreatments, r.readHcvTreatment},
		{SheetSTD, r.readStd},
		{SheetPrEP, r.readPrep},
		{SheetPEP, r.readPep},
	}
	for _, child := range children {
		s, err := loadSheet(f, child.name)
		if err != nil {
			return nil, nil, err
		}
		if s == nil {
			continue
		}
		for i, row := range s.rows {
			n := i + 2
			if blank(row) {
				continue
			}
			hn := s.cell(row, "HN")
			id, ok := r.ids[hn]
			if !ok {
				r.problem(s.name, n, "unknown HN %q", hn)
				continue
			}
			child.read(s, row, id, n)
		}
	}

	ps := patient.Assemble(r.rows)
	for _, p := range ps {
		p.ID = 0
	}
	return ps, r.problems, nil
}

func (r *reader) readPatients() error {
	s, err := loadSheet(r.f, SheetPatients)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("workbook has no %s sheet", SheetPatients)
	}
	if !s.has("HN") {
		return fmt.Errorf("%s sheet has no HN column", SheetPatients)
	}
	for i, row := range s.rows {
		n := i + 2
		if blank(row) {
			continue
		}
		hn := s.cell(row, "HN")
		if hn == "" {
			r.problem(s.name, n, "HN is empty")
			continue
		}
		if _, dup := r.ids[hn]; dup {
			r.problem(s.name, n, "duplicate HN %q", hn)
			continue
		}
		p := &patient.Patient{}
		if err := setColumns(p, s, row); err != nil {
			r.problem(s.name, n, "%v", err)
			continue
		}
		p.ID = int64(len(r.rows.Patients) + 1)
		r.ids[hn] = p.ID
		r.rows.Patients = append(r.rows.Patients, p)
	}
	return nil
}

func setColumns(p *patient.Patient, s *sheet, row []string) error {
	for _, col := range patientColumns {
		if !s.has(col.header) {
			continue
		}
		v := s.cell(row, col.header)
		if col.check != nil {
			if err := col.check(v); err != nil {
				return fmt.Errorf("%s: %w", col.header, err)
			}
		}
		col.set(p, v)
	}
	return nil
}

func (r *reader) readEvent(s *sheet, row []string, id int64, n int) {
	ds, ok := r.dates(s, row, n, "Date")
	if !ok {
		return
	}
	var details []byte
	if raw := s.cell(row, "Detail"); raw != "" {
		details = []byte(raw)
	}
	r.rows.Events = append(r.rows.Events, patient.Owned[patient.EventRow]{PatientID: id, Record: patient.EventRow{
		Date:    ds[0],
		Type:    s.cell(row, "Type"),
		Details: details,
	}})
}

func (r *reader) readPregnancy(s *sheet, row []string, id int64, n int) {
	ds, ok := r.dates(s, row, n, "GA Date", "End Date")
	if !ok {
		return
	}
	r.rows.Pregnancies = append(r.rows.Pregnancies, patient.Owned[patient.PregnancyRecord]{PatientID: id, Record: patient.PregnancyRecord{
		GA:        s.cell(row, "GA"),
		GADate:    ds[0],
		EndDate:   ds[1],
		EndReason: s.cell(row, "End Reason"),
		Note:      s.cell(row, "Note"),
	}})
}

var (
	hbvKinds = []patient.HbvKind{patient.HbvKindHBsAg, patient.HbvKindViralLoad, patient.HbvKindUltrasound, patient.HbvKindCT}
	hcvKinds = []patient.HcvKind{patient.HcvKindAntibody, patient.HcvKindAntigen, patient.HcvKindPreVL, patient.HcvKindPostVL}
)

func matchKind[K ~string](kinds []K, s string) (K, bool) {
	for _, k := range kinds {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	var zero K
	return zero, false
}

func (r *reader) readHbv(s *sheet, row []string, id int64, n int) {
	kind, ok := matchKind(hbvKinds, s.cell(row, "Kind"))
	if !ok {
		r.problem(s.name, n, "unknown HBV result kind %q", s.cell(row, "Kind"))
		return
	}
	ds, ok := r.dates(s, row, n, "Date")
	if !ok {
		return
	}
	r.rows.HbvResults = append(r.rows.HbvResults, patient.Owned[patient.HbvRow]{PatientID: id, Record: patient.HbvRow{
		Kind:   kind,
		Date:   ds[0],
		Result: s.cell(row, "Result"),
	}})
}

func (r *reader) readHcv(s *sheet, row []string, id int64, n int) {
	kind, ok := matchKind(hcvKinds, s.cell(row, "Kind"))
	if !ok {
		r.problem(s.name, n, "unknown HCV result kind %q", s.cell(row, "Kind"))
		return
	}
	ds, ok := r.dates(s, row, n, "Date")
	if !ok {
		return
	}
	r.rows.HcvResults = append(r.rows.HcvResults, patient.Owned[patient.HcvRow]{PatientID: id, Record: patient.HcvRow{
		Kind:   kind,
		Date:   ds[0],
		Result: s.cell(row, "Result"),
	}})
}

func (r *reader) readHcvTreatment(s *sheet, row []string, id int64, n int) {
	ds, ok := r.dates(s, row, n, "Date")
	if !ok {
		return
	}
	r.rows.HcvTreatments = append(r.rows.HcvTreatments, patient.Owned[patient.HcvTreatment]{PatientID: id, Record: patient.HcvTreatment{
		Date:    ds[0],
		Regimen: s.cell(row, "Regimen"),
		Note:    s.cell(row, "Note"),
	}})
}

func (r *reader) readStd(s *sheet, row []string, id int64, n int) {
	ds, ok := r.dates(s, row, n, "Date")
	if !ok {
		return
	}
	r.rows.StdRecords = append(r.rows.StdRecords, patient.Owned[patient.StdRecord]{PatientID: id, Record: patient.StdRecord{
		Date:      ds[0],
		Diseases:  splitList(s.cell(row, "Diseases")),
		Treatment: s.cell(row, "Treatment"),
		Note:      s.cell(row, "Note"),
	}})
}

func (r *reader) readPrep(s *sheet, row []string, id int64, n int) {
	ds, ok := r.dates(s, row, n, "Start Date", "Stop Date")
	if !ok {
		return
	}
	r.rows.PrepRecords = append(r.rows.PrepRecords, patient.Owned[patient.PrepRecord]{PatientID: id, Record: patient.PrepRecord{
		StartDate: ds[0],
		StopDate:  ds[1],
		Regimen:   s.cell(row, "Regimen"),
		Note:      s.cell(row, "Note"),
	}})
}

func (r *reader) readPep(s *sheet, row []string, id int64, n int) {
	ds, ok := r.dates(s, row, n, "Date")
	if !ok {
		return
	}
	r.rows.PepRecords = append(r.rows.PepRecords, patient.Owned[patient.PepRecord]{PatientID: id, Record: patient.PepRecord{
		Date:    ds[0],
		Type:    patient.PepType(s.cell(row, "Type")),
		Regimen: s.cell(row, "Regimen"),
		Note:    s.cell(row, "Note"),
	}})
}
