package status

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

type Severity string

const (
	SeverityGood    Severity = "good"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
	SeverityNeutral Severity = "neutral"
)

// Summary is a display text with its severity. Manual is set when the text
// is a clinician's override rather than a computed value.
type Summary struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
	Manual   bool     `json:"manual"`
}

const NoData = "No data"

// HBV summary texts.
const (
	HbvNegative      = "Not HBV"
	HbvPositive      = "Has HBV"
	HbvPendingRetest = "Pending retest"
)

// HCV summary texts.
const (
	HcvNegative             = "Not HCV"
	HcvCured                = "Cured"
	HcvTreatedNotCured      = "Treated, not cured"
	HcvCurrentlyTreating    = "Currently treating"
	HcvSpontaneouslyCleared = "Spontaneously cleared"
	HcvPositive             = "Has HCV"
	HcvAwaitingTesting      = "Awaiting further testing"
)

// HcvUndetectableThreshold is the viral load, in IU/mL, below which HCV is
// considered undetectable.
const HcvUndetectableThreshold = 15.0

var hbvSeverities = map[string]Severity{
	HbvNegative:      SeverityGood,
	HbvPositive:      SeverityDanger,
	HbvPendingRetest: SeverityWarning,
	NoData:           SeverityNeutral,
}

var hcvSeverities = map[string]Severity{
	HcvNegative:             SeverityGood,
	HcvCured:                SeverityGood,
	HcvSpontaneouslyCleared: SeverityGood,
	HcvTreatedNotCured:      SeverityDanger,
	HcvPositive:             SeverityDanger,
	HcvCurrentlyTreating:    SeverityWarning,
	HcvAwaitingTesting:      SeverityWarning,
	NoData:                  SeverityNeutral,
}

// HbvTexts and HcvTexts list the computed summaries, for filters and
// dashboards.
var (
	HbvTexts = []string{HbvNegative, HbvPositive, HbvPendingRetest, NoData}
	HcvTexts = []string{
		HcvNegative, HcvCured, HcvTreatedNotCured, HcvCurrentlyTreating,
		HcvSpontaneouslyCleared, HcvPositive, HcvAwaitingTesting, NoData,
	}
)

func summarize(text string, severities map[string]Severity) Summary {
	return Summary{Text: text, Severity: severities[text]}
}

func override(o patient.SummaryOverride, severities map[string]Severity) Summary {
	sev, ok := severities[o.Text()]
	if !ok {
		sev = SeverityNeutral
	}
	return Summary{Text: o.Text(), Severity: sev, Manual: true}
}

// DetermineHbv returns the manual override when one is set. Otherwise only
// the latest-dated HBsAg result counts.
func DetermineHbv(p *patient.Patient) Summary {
	if p.HBV.Override.IsManual() {
		return override(p.HBV.Override, hbvSeverities)
	}
	tests := p.HBV.HBsAg
	i := latestIndex(len(tests), func(i int) caldate.Date { return tests[i].Date })
	if i < 0 {
		return summarize(NoData, hbvSeverities)
	}
	switch tests[i].Result {
	case patient.ResultNegative:
		return summarize(HbvNegative, hbvSeverities)
	case patient.ResultPositive:
		return summarize(HbvPositive, hbvSeverities)
	default:
		return summarize(HbvPendingRetest, hbvSeverities)
	}
}

type Diagnostic string

const (
	DiagnosticPositive     Diagnostic = "POSITIVE"
	DiagnosticNegative     Diagnostic = "NEGATIVE"
	DiagnosticInconclusive Diagnostic = "INCONCLUSIVE"
	DiagnosticUnknown      Diagnostic = "UNKNOWN"
)

// DetermineHcvDiagnostic reads the latest-dated Anti-HCV or HCV-Ag result.
func DetermineHcvDiagnostic(tests []patient.HcvTest) Diagnostic {
	i := latestIndex(len(tests), func(i int) caldate.Date { return tests[i].Date })
	if i < 0 {
		return DiagnosticUnknown
	}
	switch tests[i].Result {
	case patient.ResultPositive:
		return DiagnosticPositive
	case patient.ResultNegative:
		return DiagnosticNegative
	case patient.ResultInconclusive:
		return DiagnosticInconclusive
	}
	return DiagnosticUnknown
}

var (
	firstNumber     = regexp.MustCompile(`\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`)
	belowLimit      = regexp.MustCompile(`^<\s*(\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)`)
	notDetectedText = []string{"not detected", "undetected"}
)

// ParseViralLoad reads a free-text viral load. Thousands separators are
// ignored, "not detected" reads as 0 and "<N" as N-1. Otherwise the first
// number in the text is used, including an exponent ("1.5e3"); text without
// one, or with a value too large for a float64, is absent.
func ParseViralLoad(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	lower := strings.ToLower(s)
	for _, marker := range notDetectedText {
		if strings.Contains(lower, marker) {
			return 0, true
		}
	}
	if m := belowLimit.FindStringSubmatch(s); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return v - 1, true
	}
	m := firstNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func latestViralLoad(vals []patient.LabValue) (float64, bool) {
	i := latestIndex(len(vals), func(i int) caldate.Date { return vals[i].Date })
	if i < 0 {
		return 0, false
	}
	return ParseViralLoad(vals[i].Result)
}

// DetermineHcv combines the diagnostic result with the latest pre- and
// post-treatment viral loads.
func DetermineHcv(p *patient.Patient) Summary {
	if p.HCV.Override.IsManual() {
		return override(p.HCV.Override, hcvSeverities)
	}
	if len(p.HCV.Tests) == 0 {
		return summarize(NoData, hcvSeverities)
	}
	switch DetermineHcvDiagnostic(p.HCV.Tests) {
	case DiagnosticNegative:
		return summarize(HcvNegative, hcvSeverities)
	case DiagnosticUnknown:
		return summarize(HcvAwaitingTesting, hcvSeverities)
	}

	pre, hasPre := latestViralLoad(p.HCV.PreTreatmentVL)
	post, hasPost := latestViralLoad(p.HCV.PostTreatmentVL)
	treated := len(p.HCV.Treatments) > 0

	switch {
	case hasPre && pre > HcvUndetectableThreshold && treated && hasPost:
		if post < HcvUndetectableThreshold {
			return summarize(HcvCured, hcvSeverities)
		}
		return summarize(HcvTreatedNotCured, hcvSeverities)
	case hasPre && pre > HcvUndetectableThreshold && treated:
		return summarize(HcvCurrentlyTreating, hcvSeverities)
	case hasPre && pre < HcvUndetectableThreshold:
		return summarize(HcvSpontaneouslyCleared, hcvSeverities)
	case hasPre:
		return summarize(HcvPositive, hcvSeverities)
	}
	return summarize(HcvAwaitingTesting, hcvSeverities)
}
