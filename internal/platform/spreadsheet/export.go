package spreadsheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/xuri/excelize/v2"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/domain/status"
	"github.com/idclinic/idclinic/internal/platform/reporting"
	"github.com/idclinic/idclinic/pkg/caldate"
)

// workbook wraps an excelize file with the header styling used on every sheet.
type workbook struct {
	f           *excelize.File
	headerStyle int
	rows        map[string]int
}

func newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	return &workbook{f: f, headerStyle: style, rows: map[string]int{}}, nil
}

// addSheet creates sheet with a bold, frozen header row. The first sheet
// added replaces the default one.
func (w *workbook) addSheet(name string, headers []string) error {
	if len(w.rows) == 0 {
		if err := w.f.SetSheetName(w.f.GetSheetName(0), name); err != nil {
			return fmt.Errorf("rename default sheet: %w", err)
		}
	} else if _, err := w.f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.rows[name] = 1
	if err := w.append(name, headers); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(name, "A1", last, w.headerStyle); err != nil {
		return fmt.Errorf("style header of %s: %w", name, err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := w.f.SetColWidth(name, "A", lastCol, 16); err != nil {
		return fmt.Errorf("size columns of %s: %w", name, err)
	}
	return w.f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// append writes values as text cells on the next free row of sheet.
func (w *workbook) append(sheet string, values []string) error {
	row := w.rows[sheet]
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	w.rows[sheet] = row + 1
	return nil
}

func (w *workbook) writeTo(out io.Writer) error {
	w.f.SetActiveSheet(0)
	if _, err := w.f.WriteTo(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WritePatients writes ps as a workbook: the Patients sheet with derived
// columns computed as of today, and one sheet per child collection.
func WritePatients(out io.Writer, ps []*patient.Patient, today civil.Date) error {
	w, err := newWorkbook()
	if err != nil {
		return err
	}
	defer w.f.Close()

	headers := make([]string, 0, len(patientColumns)+len(derivedHeaders))
	for _, col := range patientColumns {
		headers = append(headers, col.header)
	}
	headers = append(headers, derivedHeaders...)

	sheets := []struct {
		name    string
		headers []string
	}{
		{SheetPatients, headers},
		{SheetHistory, historyHeaders},
		{SheetPregnancies, pregnancyHeaders},
		{SheetHBV, labHeaders},
		{SheetHCV, labHeaders},
		{SheetHCVTreatments, hcvTreatmentHeaders},
		{SheetSTD, stdHeaders},
		{SheetPrEP, prepHeaders},
		{SheetPEP, pepHeaders},
	}
	for _, s := range sheets {
		if err := w.addSheet(s.name, s.headers); err != nil {
			return err
		}
	}

	for _, p := range ps {
		if err := w.writePatient(p, today); err != nil {
			return fmt.Errorf("patient %s: %w", p.HN, err)
		}
	}
	return w.writeTo(out)
}

func (w *workbook) writePatient(p *patient.Patient, today civil.Date) error {
	row := make([]string, 0, len(patientColumns)+len(derivedHeaders))
	for _, col := range patientColumns {
		row = append(row, col.get(p))
	}
	st, ok := status.Compute(p, today)
	row = append(row,
		status.Label(st, ok),
		caldate.FormatAge(p.DOB.String(), today),
		p.DOB.Buddhist(),
		status.DetermineHbv(p).Text,
		status.DetermineHcv(p).Text,
	)
	if err := w.append(SheetPatients, row); err != nil {
		return err
	}

	rs, err := patient.Flatten(p)
	if err != nil {
		return err
	}
	hn := p.HN
	for _, r := range rs.Events {
		e := r.Record
		if err := w.append(SheetHistory, []string{hn, e.Date.String(), e.Type, string(e.Details)}); err != nil {
			return err
		}
	}
	for _, r := range rs.Pregnancies {
		pr := r.Record
		if err := w.append(SheetPregnancies, []string{hn, pr.GA, pr.GADate.String(), pr.EndDate.String(), pr.EndReason, pr.Note}); err != nil {
			return err
		}
	}
	for _, r := range rs.HbvResults {
		if err := w.append(SheetHBV, []string{hn, string(r.Record.Kind), r.Record.Date.String(), r.Record.Result}); err != nil {
			return err
		}
	}
	for _, r := range rs.HcvResults {
		if err := w.append(SheetHCV, []string{hn, string(r.Record.Kind), r.Record.Date.String(), r.Record.Result}); err != nil {
			return err
		}
	}
	for _, r := range rs.HcvTreatments {
		t := r.Record
		if err := w.append(SheetHCVTreatments, []string{hn, t.Date.String(), t.Regimen, t.Note}); err != nil {
			return err
		}
	}
	for _, r := range rs.StdRecords {
		s := r.Record
		if err := w.append(SheetSTD, []string{hn, s.Date.String(), strings.Join(s.Diseases, ", "), s.Treatment, s.Note}); err != nil {
			return err
		}
	}
	for _, r := range rs.PrepRecords {
		pr := r.Record
		if err := w.append(SheetPrEP, []string{hn, pr.StartDate.String(), pr.StopDate.String(), pr.Regimen, pr.Note}); err != nil {
			return err
		}
	}
	for _, r := range rs.PepRecords {
		pe := r.Record
		if err := w.append(SheetPEP, []string{hn, pe.Date.String(), string(pe.Type), pe.Regimen, pe.Note}); err != nil {
			return err
		}
	}
	return nil
}

// WriteEntries writes the rows behind one report category as a single sheet.
func WriteEntries(out io.Writer, entries []reporting.Entry) error {
	w, err := newWorkbook()
	if err != nil {
		return err
	}
	defer w.f.Close()

	if err := w.addSheet(SheetReport, reportHeaders); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.append(SheetReport, []string{e.HN, e.Name, e.Date.String(), e.Date.Buddhist(), e.Detail}); err != nil {
			return err
		}
	}
	return w.writeTo(out)
}
