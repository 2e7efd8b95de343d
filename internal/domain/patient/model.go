package patient

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idclinic/idclinic/pkg/caldate"
)

type Sex string

const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
)

// StoredStatus is the status column as entered by staff. It is only a hint:
// the displayed status is always recomputed from the patient's dates.
type StoredStatus string

const (
	StatusActive      StoredStatus = "Active"
	StatusLTFU        StoredStatus = "LTFU"
	StatusTransferred StoredStatus = "Transferred"
	StatusExpired     StoredStatus = "Expired"
	StatusRestart     StoredStatus = "Restart"
)

var validStoredStatuses = map[StoredStatus]bool{
	StatusActive: true, StatusLTFU: true, StatusTransferred: true, StatusExpired: true, StatusRestart: true,
}

// Patient is the root aggregate. Child collections are owned by composition
// and are always replaced together with the patient.
type Patient struct {
	ID                  int64             `json:"id"`
	HN                  string            `json:"hn"`
	NationalID          string            `json:"national_id"`
	Prefix              string            `json:"prefix"`
	FirstName           string            `json:"first_name"`
	LastName            string            `json:"last_name"`
	Nickname            string            `json:"nickname"`
	Sex                 Sex               `json:"sex"`
	DOB                 caldate.Date      `json:"dob"`
	Phone               string            `json:"phone"`
	AddressLine         string            `json:"address_line"`
	Subdistrict         string            `json:"subdistrict"`
	District            string            `json:"district"`
	Province            string            `json:"province"`
	PostalCode          string            `json:"postal_code"`
	HealthcareScheme    string            `json:"healthcare_scheme"`
	Status              StoredStatus      `json:"status"`
	RegistrationDate    caldate.Date      `json:"registration_date"`
	NextAppointmentDate caldate.Date      `json:"next_appointment_date"`
	ReferInDate         caldate.Date      `json:"refer_in_date"`
	ReferFrom           string            `json:"refer_from"`
	ReferOutDate        caldate.Date      `json:"refer_out_date"`
	ReferTo             string            `json:"refer_to"`
	DeathDate           caldate.Date      `json:"death_date"`
	Note                string            `json:"note"`
	MedicalHistory      []MedicalEvent    `json:"medical_history"`
	Pregnancies         []PregnancyRecord `json:"pregnancies"`
	HBV                 HbvInfo           `json:"hbv"`
	HCV                 HcvInfo           `json:"hcv"`
	STD                 StdInfo           `json:"std"`
	PrEP                PrepInfo          `json:"prep"`
	PEP                 PepInfo           `json:"pep"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// FullName joins prefix, first and last name, skipping blanks.
func (p *Patient) FullName() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Prefix, p.FirstName, p.LastName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Normalize replaces nil child collections with empty ones and orders the
// medical history by date. Aggregates rebuilt from partial sources (such as
// spreadsheets) go through here before anything reads them.
func (p *Patient) Normalize() {
	if p.MedicalHistory == nil {
		p.MedicalHistory = []MedicalEvent{}
	}
	if p.Pregnancies == nil {
		p.Pregnancies = []PregnancyRecord{}
	}
	if p.HBV.HBsAg == nil {
		p.HBV.HBsAg = []QualitativeTest{}
	}
	if p.HBV.ViralLoads == nil {
		p.HBV.ViralLoads = []LabValue{}
	}
	if p.HBV.Ultrasounds == nil {
		p.HBV.Ultrasounds = []LabValue{}
	}
	if p.HBV.CTs == nil {
		p.HBV.CTs = []LabValue{}
	}
	if p.HCV.Tests == nil {
		p.HCV.Tests = []HcvTest{}
	}
	if p.HCV.PreTreatmentVL == nil {
		p.HCV.PreTreatmentVL = []LabValue{}
	}
	if p.HCV.Treatments == nil {
		p.HCV.Treatments = []HcvTreatment{}
	}
	if p.HCV.PostTreatmentVL == nil {
		p.HCV.PostTreatmentVL = []LabValue{}
	}
	if p.STD.Records == nil {
		p.STD.Records = []StdRecord{}
	}
	for i := range p.STD.Records {
		if p.STD.Records[i].Diseases == nil {
			p.STD.Records[i].Diseases = []string{}
		}
	}
	if p.PrEP.Records == nil {
		p.PrEP.Records = []PrepRecord{}
	}
	if p.PEP.Records == nil {
		p.PEP.Records = []PepRecord{}
	}
	sort.SliceStable(p.MedicalHistory, func(i, j int) bool {
		return dateLess(p.MedicalHistory[i].Date, p.MedicalHistory[j].Date)
	})
}

// dateLess orders absent dates after present ones.
func dateLess(a, b caldate.Date) bool {
	if !a.IsSet() {
		return false
	}
	if !b.IsSet() {
		return true
	}
	return a.Before(b)
}

// OpenPregnancies returns the pregnancy records without an end date.
func (p *Patient) OpenPregnancies() []PregnancyRecord {
	var open []PregnancyRecord
	for _, pr := range p.Pregnancies {
		if !pr.EndDate.IsSet() {
			open = append(open, pr)
		}
	}
	return open
}

// -- Medical history --

type EventType string

const (
	EventDiagnosis              EventType = "DIAGNOSIS"
	EventARTStart               EventType = "ART_START"
	EventProphylaxis            EventType = "PROPHYLAXIS"
	EventMissedMeds             EventType = "MISSED_MEDS"
	EventARTChange              EventType = "ART_CHANGE"
	EventOpportunisticInfection EventType = "OPPORTUNISTIC_INFECTION"
	EventLabResult              EventType = "LAB_RESULT"
	EventOther                  EventType = "OTHER"
)

// EventDetail is the type-specific payload of a MedicalEvent. Each event
// type has exactly one implementation.
type EventDetail interface {
	EventType() EventType
}

type Diagnosis struct {
	Condition string `json:"condition"`
}

type ARTStart struct {
	Regimen string `json:"regimen"`
}

type Prophylaxis struct {
	TPT     bool   `json:"tpt"`
	Regimen string `json:"regimen"`
}

type MissedMeds struct {
	Reason string `json:"reason"`
	Days   int    `json:"days"`
}

type ARTChange struct {
	Regimen string `json:"regimen"`
	Reason  string `json:"reason"`
}

type OpportunisticInfection struct {
	Infection string `json:"infection"`
}

type LabResult struct {
	Test   string `json:"test"`
	Result string `json:"result"`
}

type Other struct {
	Description string `json:"description"`
}

func (Diagnosis) EventType() EventType              { return EventDiagnosis }
func (ARTStart) EventType() EventType               { return EventARTStart }
func (Prophylaxis) EventType() EventType            { return EventProphylaxis }
func (MissedMeds) EventType() EventType             { return EventMissedMeds }
func (ARTChange) EventType() EventType              { return EventARTChange }
func (OpportunisticInfection) EventType() EventType { return EventOpportunisticInfection }
func (LabResult) EventType() EventType              { return EventLabResult }
func (Other) EventType() EventType                  { return EventOther }

// MedicalEvent is one dated entry of the medical history.
type MedicalEvent struct {
	ID     uuid.UUID
	Date   caldate.Date
	Detail EventDetail
}

// Type returns the tag of the event's detail, or OTHER when it has none.
func (e MedicalEvent) Type() EventType {
	if e.Detail == nil {
		return EventOther
	}
	return e.Detail.EventType()
}

type medicalEventJSON struct {
	ID     uuid.UUID       `json:"id"`
	Date   caldate.Date    `json:"date"`
	Type   EventType       `json:"type"`
	Detail json.RawMessage `json:"detail"`
}

func (e MedicalEvent) MarshalJSON() ([]byte, error) {
	detail := e.Detail
	if detail == nil {
		detail = Other{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(medicalEventJSON{ID: e.ID, Date: e.Date, Type: detail.EventType(), Detail: raw})
}

func (e *MedicalEvent) UnmarshalJSON(data []byte) error {
	var v medicalEventJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	detail, err := DecodeDetail(v.Type, v.Detail)
	if err != nil {
		return err
	}
	*e = MedicalEvent{ID: v.ID, Date: v.Date, Detail: detail}
	return nil
}

// -- Pregnancy --

// PregnancyRecord holds a gestational age ("weeks+days") measured on GADate.
// A record without EndDate is an open pregnancy.
type PregnancyRecord struct {
	ID        uuid.UUID    `json:"id"`
	GA        string       `json:"ga"`
	GADate    caldate.Date `json:"ga_date"`
	EndDate   caldate.Date `json:"end_date"`
	EndReason string       `json:"end_reason"`
	Note      string       `json:"note"`
}

// -- Lab results --

type QualitativeResult string

const (
	ResultPositive     QualitativeResult = "Positive"
	ResultNegative     QualitativeResult = "Negative"
	ResultInconclusive QualitativeResult = "Inconclusive"
)

var validQualitativeResults = map[QualitativeResult]bool{
	ResultPositive: true, ResultNegative: true, ResultInconclusive: true,
}

type QualitativeTest struct {
	ID     uuid.UUID         `json:"id"`
	Date   caldate.Date      `json:"date"`
	Result QualitativeResult `json:"result"`
}

// LabValue is a dated free-text result such as a viral load or an imaging report.
type LabValue struct {
	ID     uuid.UUID    `json:"id"`
	Date   caldate.Date `json:"date"`
	Result string       `json:"result"`
}

// SummaryOverride is either automatic (computed summary) or a manual text
// entered by a clinician. The zero value is automatic.
type SummaryOverride struct {
	text   string
	manual bool
}

func Automatic() SummaryOverride { return SummaryOverride{} }

// Manual builds a manual override. Blank text is treated as automatic.
func Manual(text string) SummaryOverride {
	text = strings.TrimSpace(text)
	if text == "" {
		return SummaryOverride{}
	}
	return SummaryOverride{text: text, manual: true}
}

func (o SummaryOverride) IsManual() bool { return o.manual }

// Text returns the manual text, or "" for an automatic override.
func (o SummaryOverride) Text() string { return o.text }

func (o SummaryOverride) MarshalJSON() ([]byte, error) {
	if !o.manual {
		return []byte("null"), nil
	}
	return json.Marshal(o.text)
}

func (o *SummaryOverride) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Automatic()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("summary override must be a string or null: %w", err)
	}
	*o = Manual(s)
	return nil
}

// Scan maps a nullable text column: NULL is automatic.
func (o *SummaryOverride) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*o = Automatic()
	case string:
		*o = Manual(v)
	case []byte:
		*o = Manual(string(v))
	default:
		return fmt.Errorf("cannot scan %T into summary override", src)
	}
	return nil
}

func (o SummaryOverride) Value() (driver.Value, error) {
	if !o.manual {
		return nil, nil
	}
	return o.text, nil
}

type HbvInfo struct {
	HBsAg       []QualitativeTest `json:"hbsag"`
	ViralLoads  []LabValue        `json:"viral_loads"`
	Ultrasounds []LabValue        `json:"ultrasounds"`
	CTs         []LabValue        `json:"cts"`
	Override    SummaryOverride   `json:"override"`
}

type HcvTestKind string

const (
	HcvAntibody HcvTestKind = "Anti-HCV"
	HcvAntigen  HcvTestKind = "HCV-Ag"
)

type HcvTest struct {
	ID     uuid.UUID         `json:"id"`
	Date   caldate.Date      `json:"date"`
	Kind   HcvTestKind       `json:"kind"`
	Result QualitativeResult `json:"result"`
}

type HcvTreatment struct {
	ID      uuid.UUID    `json:"id"`
	Date    caldate.Date `json:"date"`
	Regimen string       `json:"regimen"`
	Note    string       `json:"note"`
}

type HcvInfo struct {
	Tests           []HcvTest       `json:"tests"`
	PreTreatmentVL  []LabValue      `json:"pre_treatment_vl"`
	Treatments      []HcvTreatment  `json:"treatments"`
	PostTreatmentVL []LabValue      `json:"post_treatment_vl"`
	Override        SummaryOverride `json:"override"`
}

// -- STD / PrEP / PEP --

type StdRecord struct {
	ID        uuid.UUID    `json:"id"`
	Date      caldate.Date `json:"date"`
	Diseases  []string     `json:"diseases"`
	Treatment string       `json:"treatment"`
	Note      string       `json:"note"`
}

type StdInfo struct {
	Records []StdRecord `json:"records"`
}

// PrepRecord is a PrEP course. An absent StopDate means still on PrEP.
type PrepRecord struct {
	ID        uuid.UUID    `json:"id"`
	StartDate caldate.Date `json:"start_date"`
	StopDate  caldate.Date `json:"stop_date"`
	Regimen   string       `json:"regimen"`
	Note      string       `json:"note"`
}

type PrepInfo struct {
	Records []PrepRecord `json:"records"`
}

type PepType string

const (
	PepOccupational    PepType = "oPEP"
	PepNonOccupational PepType = "nPEP"
)

type PepRecord struct {
	ID      uuid.UUID    `json:"id"`
	Date    caldate.Date `json:"date"`
	Type    PepType      `json:"type"`
	Regimen string       `json:"regimen"`
	Note    string       `json:"note"`
}

type PepInfo struct {
	Records []PepRecord `json:"records"`
}
