package patient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/idclinic/idclinic/pkg/caldate"
)

// Owned pairs a child record with the id of the patient it belongs to.
type Owned[T any] struct {
	PatientID int64
	Record    T
}

// EventRow is a medical event as stored: the detail is an undecoded JSON
// object whose keys may come from older data entry forms.
type EventRow struct {
	ID      uuid.UUID
	Date    caldate.Date
	Type    string
	Details []byte
}

// HbvKind tags the four HBV result lists that share one table.
type HbvKind string

const (
	HbvKindHBsAg      HbvKind = "HBsAg"
	HbvKindViralLoad  HbvKind = "VL"
	HbvKindUltrasound HbvKind = "US"
	HbvKindCT         HbvKind = "CT"
)

type HbvRow struct {
	ID     uuid.UUID
	Kind   HbvKind
	Date   caldate.Date
	Result string
}

// HcvKind tags the HCV result lists that share one table.
type HcvKind string

const (
	HcvKindAntibody HcvKind = HcvKind(HcvAntibody)
	HcvKindAntigen  HcvKind = HcvKind(HcvAntigen)
	HcvKindPreVL    HcvKind = "PRE_VL"
	HcvKindPostVL   HcvKind = "POST_VL"
)

type HcvRow struct {
	ID     uuid.UUID
	Kind   HcvKind
	Date   caldate.Date
	Result string
}

// RowSet is the normalized, per-category form of a set of patients, as read
// from or written to the store.
type RowSet struct {
	Patients      []*Patient
	Events        []Owned[EventRow]
	Pregnancies   []Owned[PregnancyRecord]
	HbvResults    []Owned[HbvRow]
	HcvResults    []Owned[HcvRow]
	HcvTreatments []Owned[HcvTreatment]
	StdRecords    []Owned[StdRecord]
	PrepRecords   []Owned[PrepRecord]
	PepRecords    []Owned[PepRecord]
}

// Assemble attaches every child row to its patient and returns the patients
// fully hydrated, in input order. Rows whose patient is not in the set are
// dropped. Every collection of every returned patient is non-nil.
func Assemble(rs RowSet) []*Patient {
	byID := make(map[int64]*Patient, len(rs.Patients))
	for _, p := range rs.Patients {
		p.MedicalHistory = nil
		p.Pregnancies = nil
		p.HBV = HbvInfo{Override: p.HBV.Override}
		p.HCV = HcvInfo{Override: p.HCV.Override}
		p.STD = StdInfo{}
		p.PrEP = PrepInfo{}
		p.PEP = PepInfo{}
		byID[p.ID] = p
	}

	for _, r := range rs.Events {
		if p, ok := byID[r.PatientID]; ok {
			p.MedicalHistory = append(p.MedicalHistory, r.Record.event())
		}
	}
	for _, r := range rs.Pregnancies {
		if p, ok := byID[r.PatientID]; ok {
			p.Pregnancies = append(p.Pregnancies, r.Record)
		}
	}
	for _, r := range rs.HbvResults {
		p, ok := byID[r.PatientID]
		if !ok {
			continue
		}
		v := LabValue{ID: r.Record.ID, Date: r.Record.Date, Result: r.Record.Result}
		switch r.Record.Kind {
		case HbvKindHBsAg:
			p.HBV.HBsAg = append(p.HBV.HBsAg, QualitativeTest{ID: v.ID, Date: v.Date, Result: ParseQualitative(v.Result)})
		case HbvKindViralLoad:
			p.HBV.ViralLoads = append(p.HBV.ViralLoads, v)
		case HbvKindUltrasound:
			p.HBV.Ultrasounds = append(p.HBV.Ultrasounds, v)
		case HbvKindCT:
			p.HBV.CTs = append(p.HBV.CTs, v)
		}
	}
	for _, r := range rs.HcvResults {
		p, ok := byID[r.PatientID]
		if !ok {
			continue
		}
		v := LabValue{ID: r.Record.ID, Date: r.Record.Date, Result: r.Record.Result}
		switch r.Record.Kind {
		case HcvKindAntibody, HcvKindAntigen:
			p.HCV.Tests = append(p.HCV.Tests, HcvTest{
				ID: v.ID, Date: v.Date, Kind: HcvTestKind(r.Record.Kind), Result: ParseQualitative(v.Result),
			})
		case HcvKindPreVL:
			p.HCV.PreTreatmentVL = append(p.HCV.PreTreatmentVL, v)
		case HcvKindPostVL:
			p.HCV.PostTreatmentVL = append(p.HCV.PostTreatmentVL, v)
		}
	}
	for _, r := range rs.HcvTreatments {
		if p, ok := byID[r.PatientID]; ok {
			p.HCV.Treatments = append(p.HCV.Treatments, r.Record)
		}
	}
	for _, r := range rs.StdRecords {
		if p, ok := byID[r.PatientID]; ok {
			p.STD.Records = append(p.STD.Records, r.Record)
		}
	}
	for _, r := range rs.PrepRecords {
		if p, ok := byID[r.PatientID]; ok {
			p.PrEP.Records = append(p.PrEP.Records, r.Record)
		}
	}
	for _, r := range rs.PepRecords {
		if p, ok := byID[r.PatientID]; ok {
			p.PEP.Records = append(p.PEP.Records, r.Record)
		}
	}

	for _, p := range rs.Patients {
		p.Normalize()
	}
	return rs.Patients
}

// Flatten is the inverse of Assemble for a single patient: it produces the
// child rows to persist under p.ID.
func Flatten(p *Patient) (RowSet, error) {
	rs := RowSet{Patients: []*Patient{p}}
	own := p.ID

	for _, e := range p.MedicalHistory {
		detail := e.Detail
		if detail == nil {
			detail = Other{}
		}
		raw, err := json.Marshal(detail)
		if err != nil {
			return RowSet{}, fmt.Errorf("encode %s detail: %w", detail.EventType(), err)
		}
		rs.Events = append(rs.Events, Owned[EventRow]{own, EventRow{
			ID: e.ID, Date: e.Date, Type: string(detail.EventType()), Details: raw,
		}})
	}
	for _, r := range p.Pregnancies {
		rs.Pregnancies = append(rs.Pregnancies, Owned[PregnancyRecord]{own, r})
	}
	for _, t := range p.HBV.HBsAg {
		rs.HbvResults = append(rs.HbvResults, Owned[HbvRow]{own, HbvRow{t.ID, HbvKindHBsAg, t.Date, string(t.Result)}})
	}
	hbvLists := []struct {
		kind HbvKind
		vals []LabValue
	}{
		{HbvKindViralLoad, p.HBV.ViralLoads},
		{HbvKindUltrasound, p.HBV.Ultrasounds},
		{HbvKindCT, p.HBV.CTs},
	}
	for _, l := range hbvLists {
		for _, v := range l.vals {
			rs.HbvResults = append(rs.HbvResults, Owned[HbvRow]{own, HbvRow{v.ID, l.kind, v.Date, v.Result}})
		}
	}
	for _, t := range p.HCV.Tests {
		rs.HcvResults = append(rs.HcvResults, Owned[HcvRow]{own, HcvRow{t.ID, HcvKind(t.Kind), t.Date, string(t.Result)}})
	}
	for _, v := range p.HCV.PreTreatmentVL {
		rs.HcvResults = append(rs.HcvResults, Owned[HcvRow]{own, HcvRow{v.ID, HcvKindPreVL, v.Date, v.Result}})
	}
	for _, v := range p.HCV.PostTreatmentVL {
		rs.HcvResults = append(rs.HcvResults, Owned[HcvRow]{own, HcvRow{v.ID, HcvKindPostVL, v.Date, v.Result}})
	}
	for _, t := range p.HCV.Treatments {
		rs.HcvTreatments = append(rs.HcvTreatments, Owned[HcvTreatment]{own, t})
	}
	for _, r := range p.STD.Records {
		rs.StdRecords = append(rs.StdRecords, Owned[StdRecord]{own, r})
	}
	for _, r := range p.PrEP.Records {
		rs.PrepRecords = append(rs.PrepRecords, Owned[PrepRecord]{own, r})
	}
	for _, r := range p.PEP.Records {
		rs.PepRecords = append(rs.PepRecords, Owned[PepRecord]{own, r})
	}
	return rs, nil
}

// event decodes a stored row. Details that cannot be decoded are kept as an
// OTHER event carrying the raw text so nothing recorded is lost.
func (r EventRow) event() MedicalEvent {
	detail, err := DecodeDetail(EventType(strings.ToUpper(strings.TrimSpace(r.Type))), r.Details)
	if err != nil {
		detail = Other{Description: strings.TrimSpace(string(r.Details))}
	}
	return MedicalEvent{ID: r.ID, Date: r.Date, Detail: detail}
}

// ParseQualitative maps free-text lab results onto the three canonical values.
// Unrecognised text is returned unchanged.
func ParseQualitative(s string) QualitativeResult {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pos", "reactive", "+", "บวก":
		return ResultPositive
	case "negative", "neg", "non-reactive", "nonreactive", "-", "ลบ":
		return ResultNegative
	case "inconclusive", "equivocal", "indeterminate", "grey zone", "รอตรวจซ้ำ":
		return ResultInconclusive
	}
	return QualitativeResult(strings.TrimSpace(s))
}

// legacyDetailKeys maps keys written by older forms onto the current field
// names. Matching is case-insensitive.
var legacyDetailKeys = map[string]string{
	"เป็น":                "condition",
	"diagnosis":      "condition",
	"สูตรยา":            "regimen",
	"ยา":                    "regimen",
	"drug":                "regimen",
	"regimen_code": "regimen",
	"สาเหตุ":            "reason",
	"จำนวนวัน":        "days",
	"missed_days":  "days",
	"การติดเชื้อ":  "infection",
	"oi":                    "infection",
	"การตรวจ":          "test",
	"test_name":      "test",
	"ผล":                    "result",
	"ผลตรวจ":            "result",
	"รายละเอียด":    "description",
	"detail":            "description",
	"note":                "description",
	"tpt":                  "tpt",
	"is_tpt":            "tpt",
}

// DecodeDetail builds the detail struct for t from a JSON object. Keys used
// by older forms are renamed first, and loosely typed values (a "yes" for the
// TPT flag, a string day count) are coerced. An empty or null payload yields
// the zero detail of t.
func DecodeDetail(t EventType, raw []byte) (EventDetail, error) {
	fields := map[string]interface{}{}
	if len(raw) > 0 && string(raw) != "null" {
		var src map[string]interface{}
		if err := json.Unmarshal(raw, &src); err != nil {
			return nil, fmt.Errorf("decode %s detail: %w", t, err)
		}
		// Aliases apply in sorted key order; current names overwrite them.
		keys := make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var current []string
		for _, k := range keys {
			key := strings.TrimSpace(k)
			canonical, ok := legacyDetailKeys[strings.ToLower(key)]
			if !ok || canonical == strings.ToLower(key) {
				current = append(current, k)
				continue
			}
			fields[canonical] = src[k]
		}
		for _, k := range current {
			key := strings.TrimSpace(k)
			if canonical, ok := legacyDetailKeys[strings.ToLower(key)]; ok {
				key = canonical
			}
			fields[key] = src[k]
		}
	}

	if v, ok := fields["tpt"]; ok {
		fields["tpt"] = truthy(v)
	}
	if v, ok := fields["days"]; ok {
		fields["days"] = wholeNumber(v)
	}
	for k, v := range fields {
		if k == "tpt" || k == "days" {
			continue
		}
		if v == nil {
			delete(fields, k)
			continue
		}
		if _, isString := v.(string); !isString {
			fields[k] = fmt.Sprint(v)
		}
	}

	var detail EventDetail
	switch t {
	case EventDiagnosis:
		detail = &Diagnosis{}
	case EventARTStart:
		detail = &ARTStart{}
	case EventProphylaxis:
		detail = &Prophylaxis{}
	case EventMissedMeds:
		detail = &MissedMeds{}
	case EventARTChange:
		detail = &ARTChange{}
	case EventOpportunisticInfection:
		detail = &OpportunisticInfection{}
	case EventLabResult:
		detail = &LabResult{}
	case EventOther:
		detail = &Other{}
	default:
		return nil, fmt.Errorf("unknown medical event type %q", t)
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s detail: %w", t, err)
	}
	if err := json.Unmarshal(normalized, detail); err != nil {
		return nil, fmt.Errorf("decode %s detail: %w", t, err)
	}
	return deref(detail), nil
}

func deref(d EventDetail) EventDetail {
	switch v := d.(type) {
	case *Diagnosis:
		return *v
	case *ARTStart:
		return *v
	case *Prophylaxis:
		return *v
	case *MissedMeds:
		return *v
	case *ARTChange:
		return *v
	case *OpportunisticInfection:
		return *v
	case *LabResult:
		return *v
	case *Other:
		return *v
	}
	return d
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1", "ใช่", "ได้รับ", "tpt":
			return true
		}
	}
	return false
}

func wholeNumber(v interface{}) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err == nil {
			return n
		}
	}
	return 0
}

// SortedByDate returns a copy of events ordered by date, undated last.
func SortedByDate(events []MedicalEvent) []MedicalEvent {
	out := append([]MedicalEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return dateLess(out[i].Date, out[j].Date) })
	return out
}
