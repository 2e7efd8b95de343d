package reporting

import (
	"strings"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

type Category string

const (
	HIVDiagnosis Category = "hiv_diagnosis"
	HBVPositive  Category = "hbv_positive"
	TPTGiven     Category = "tpt_given"
	PrEPStart    Category = "prep_start"
	PEPReceived  Category = "pep_received"
	STDEpisode   Category = "std_episode"
)

// CategoryDefinition describes a report category and how its dated
// entries are pulled out of a patient.
type CategoryDefinition struct {
	ID          Category `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	extract     func(p *patient.Patient) []dated
}

// dated is one reportable occurrence within a patient.
type dated struct {
	date   caldate.Date
	detail string
}

// Categories is the list of report categories, in display order.
var Categories = []CategoryDefinition{
	{
		ID:          HIVDiagnosis,
		Name:        "HIV diagnosis",
		Description: "Diagnosis events in the medical history",
		extract: func(p *patient.Patient) []dated {
			var out []dated
			for _, e := range p.MedicalHistory {
				if dx, ok := e.Detail.(patient.Diagnosis); ok {
					out = append(out, dated{e.Date, dx.Condition})
				}
			}
			return out
		},
	},
	{
		ID:          HBVPositive,
		Name:        "HBV positive",
		Description: "Positive HBsAg results",
		extract: func(p *patient.Patient) []dated {
			var out []dated
			for _, t := range p.HBV.HBsAg {
				if t.Result == patient.ResultPositive {
					out = append(out, dated{t.Date, "HBsAg " + string(t.Result)})
				}
			}
			return out
		},
	},
	{
		ID:          TPTGiven,
		Name:        "TPT given",
		Description: "Prophylaxis events recorded as TB preventive therapy",
		extract: func(p *patient.Patient) []dated {
			var out []dated
			for _, e := range p.MedicalHistory {
				if pr, ok := e.Detail.(patient.Prophylaxis); ok && pr.TPT {
					out = append(out, dated{e.Date, pr.Regimen})
				}
			}
			return out
		},
	},
	{
		ID:          PrEPStart,
		Name:        "PrEP start",
		Description: "Start of each PrEP course",
		extract: func(p *patient.Patient) []dated {
			var out []dated
			for _, r := range p.PrEP.Records {
				out = append(out, dated{r.StartDate, r.Regimen})
			}
			return out
		},
	},
	{
		ID:          PEPReceived,
		Name:        "PEP received",
		Description: "Each PEP course, occupational or not",
		extract: func(p *patient.Patient) []dated {
			var out []dated
			for _, r := range p.PEP.Records {
				out = append(out, dated{r.Date, strings.TrimSpace(string(r.Type) + " " + r.Regimen)})
			}
			return out
		},
	},
	{
		ID:          STDEpisode,
		Name:        "STD episode",
		Description: "Each STD episode, with the diseases recorded",
		extract: func(p *patient.Patient) []dated {
			var out []dated
			for _, r := range p.STD.Records {
				out = append(out, dated{r.Date, strings.Join(r.Diseases, ", ")})
			}
			return out
		},
	},
}

// FindCategory looks up a category by id.
func FindCategory(id Category) *CategoryDefinition {
	for i := range Categories {
		if Categories[i].ID == id {
			return &Categories[i]
		}
	}
	return nil
}
