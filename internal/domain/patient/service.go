package patient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"

	"github.com/idclinic/idclinic/pkg/caldate"
)

const (
	DefaultPhoneRegion     = "TH"
	DefaultImportBatchSize = 50
)

var gaPattern = regexp.MustCompile(`^\d+\+\d+$`)

type Service struct {
	patients    Repository
	phoneRegion string
	logger      zerolog.Logger
	today       func() civil.Date
}

func NewService(patients Repository, phoneRegion string) *Service {
	if phoneRegion == "" {
		phoneRegion = DefaultPhoneRegion
	}
	return &Service{
		patients:    patients,
		phoneRegion: phoneRegion,
		logger:      zerolog.Nop(),
		today:       caldate.Today,
	}
}

// WithLogger sets the logger used for import progress.
func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger
	return s
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (s *Service) validate(p *Patient) error {
	if strings.TrimSpace(p.HN) == "" {
		return validationError("hn is required")
	}
	if strings.TrimSpace(p.FirstName) == "" {
		return validationError("first_name is required")
	}
	if p.Sex != "" && p.Sex != SexMale && p.Sex != SexFemale {
		return validationError("invalid sex: %s", p.Sex)
	}
	if p.Status != "" && !validStoredStatuses[p.Status] {
		return validationError("invalid status: %s", p.Status)
	}
	for _, e := range p.MedicalHistory {
		if e.Detail == nil {
			return validationError("medical event %s has no detail", e.ID)
		}
	}
	for _, pr := range p.Pregnancies {
		if pr.GA != "" && !gaPattern.MatchString(pr.GA) {
			return validationError("invalid gestational age %q: expected weeks+days", pr.GA)
		}
	}
	for _, t := range p.HBV.HBsAg {
		if !validQualitativeResults[t.Result] {
			return validationError("invalid HBsAg result: %s", t.Result)
		}
	}
	for _, t := range p.HCV.Tests {
		if t.Kind != HcvAntibody && t.Kind != HcvAntigen {
			return validationError("invalid HCV test kind: %s", t.Kind)
		}
		if !validQualitativeResults[t.Result] {
			return validationError("invalid HCV test result: %s", t.Result)
		}
	}
	for _, r := range p.PEP.Records {
		if r.Type != "" && r.Type != PepOccupational && r.Type != PepNonOccupational {
			return validationError("invalid PEP type: %s", r.Type)
		}
	}
	return nil
}

// prepare applies defaults and normalisation shared by create, update and
// import: trimmed identifiers, a canonical phone number, generated child ids
// and non-nil collections.
func (s *Service) prepare(p *Patient) {
	p.HN = strings.TrimSpace(p.HN)
	p.NationalID = strings.TrimSpace(p.NationalID)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = NormalizePhone(p.Phone, s.phoneRegion)
	if p.Status == "" {
		p.Status = StatusActive
	}
	p.Normalize()
	assignIDs(p)
}

func assignIDs(p *Patient) {
	for i := range p.MedicalHistory {
		if p.MedicalHistory[i].ID == uuid.Nil {
			p.MedicalHistory[i].ID = uuid.New()
		}
	}
	for i := range p.Pregnancies {
		if p.Pregnancies[i].ID == uuid.Nil {
			p.Pregnancies[i].ID = uuid.New()
		}
	}
	for i := range p.HBV.HBsAg {
		if p.HBV.HBsAg[i].ID == uuid.Nil {
			p.HBV.HBsAg[i].ID = uuid.New()
		}
	}
	for _, vals := range [][]LabValue{p.HBV.ViralLoads, p.HBV.Ultrasounds, p.HBV.CTs, p.HCV.PreTreatmentVL, p.HCV.PostTreatmentVL} {
		for i := range vals {
			if vals[i].ID == uuid.Nil {
				vals[i].ID = uuid.New()
			}
		}
	}
	for i := range p.HCV.Tests {
		if p.HCV.Tests[i].ID == uuid.Nil {
			p.HCV.Tests[i].ID = uuid.New()
		}
	}
	for i := range p.HCV.Treatments {
		if p.HCV.Treatments[i].ID == uuid.Nil {
			p.HCV.Treatments[i].ID = uuid.New()
		}
	}
	for i := range p.STD.Records {
		if p.STD.Records[i].ID == uuid.Nil {
			p.STD.Records[i].ID = uuid.New()
		}
	}
	for i := range p.PrEP.Records {
		if p.PrEP.Records[i].ID == uuid.Nil {
			p.PrEP.Records[i].ID = uuid.New()
		}
	}
	for i := range p.PEP.Records {
		if p.PEP.Records[i].ID == uuid.Nil {
			p.PEP.Records[i].ID = uuid.New()
		}
	}
}

// NormalizePhone formats a dialable number in the national format of
// region. Input that is not a valid number is kept as typed, trimmed.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL)
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.ID = 0
	s.prepare(p)
	if err := s.validate(p); err != nil {
		return err
	}
	if !p.RegistrationDate.IsSet() {
		p.RegistrationDate = caldate.FromCivil(s.today())
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByHN(ctx context.Context, hn string) (*Patient, error) {
	hn = strings.TrimSpace(hn)
	if hn == "" {
		return nil, validationError("hn is required")
	}
	return s.patients.GetByHN(ctx, hn)
}

// UpdatePatient replaces the stored aggregate with p.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.ID == 0 {
		return validationError("id is required")
	}
	s.prepare(p)
	if err := s.validate(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// AllPatients returns every aggregate, most recently updated first.
func (s *Service) AllPatients(ctx context.Context) ([]*Patient, error) {
	return s.patients.ListAll(ctx)
}

// RowError records why one imported row was rejected.
type RowError struct {
	Row   int    `json:"row"`
	HN    string `json:"hn"`
	Error string `json:"error"`
}

type ImportResult struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Failed  int        `json:"failed"`
	Errors  []RowError `json:"errors"`
}

// Import saves ps in batches of batchSize. A patient whose HN already exists
// replaces that aggregate; any other patient is created. Rows are numbered
// from 1 in the order given, and a failing row does not stop the rest.
func (s *Service) Import(ctx context.Context, ps []*Patient, batchSize int) (*ImportResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultImportBatchSize
	}
	res := &ImportResult{Errors: []RowError{}}
	for start := 0; start < len(ps); start += batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + batchSize
		if end > len(ps) {
			end = len(ps)
		}
		for i, p := range ps[start:end] {
			row := start + i + 1
			created, err := s.importOne(ctx, p)
			switch {
			case err != nil:
				res.Failed++
				res.Errors = append(res.Errors, RowError{Row: row, HN: p.HN, Error: err.Error()})
				s.logger.Warn().Int("row", row).Str("hn", p.HN).Err(err).Msg("import row rejected")
			case created:
				res.Created++
			default:
				res.Updated++
			}
		}
		s.logger.Info().
			Int("processed", end).
			Int("total", len(ps)).
			Int("created", res.Created).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Msg("import batch done")
	}
	return res, nil
}

func (s *Service) importOne(ctx context.Context, p *Patient) (created bool, err error) {
	s.prepare(p)
	existing, err := s.patients.GetByHN(ctx, p.HN)
	switch {
	case errors.Is(err, ErrNotFound):
		return true, s.CreatePatient(ctx, p)
	case err != nil:
		return false, err
	}
	p.ID = existing.ID
	if !p.RegistrationDate.IsSet() {
		p.RegistrationDate = existing.RegistrationDate
	}
	return false, s.UpdatePatient(ctx, p)
}
