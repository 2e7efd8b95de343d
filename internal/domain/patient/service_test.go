package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"

	"github.com/idclinic/idclinic/pkg/caldate"
)

type mockRepo struct {
	store  map[int64]*Patient
	nextID int64
	getErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[int64]*Patient), nextID: 1}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	for _, existing := range m.store {
		if existing.HN == p.HN {
			return ErrConflict
		}
	}
	p.ID = m.nextID
	m.nextID++
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.store[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) GetByHN(_ context.Context, hn string) (*Patient, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, p := range m.store {
		if p.HN == hn {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.store[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.store[p.ID] = p
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	all, _ := m.ListAll(context.Background())
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) ListAll(_ context.Context) ([]*Patient, error) {
	var r []*Patient
	for id := int64(1); id < m.nextID; id++ {
		if p, ok := m.store[id]; ok {
			r = append(r, p)
		}
	}
	return r, nil
}

var fixedToday = civil.Date{Year: 2024, Month: time.June, Day: 15}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, "")
	svc.today = func() civil.Date { return fixedToday }
	return svc, repo
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func TestCreatePatient_Defaults(t *testing.T) {
	svc, _ := newTestService()
	p := &Patient{ID: 42, HN: " HN001 ", FirstName: "Somchai", Phone: "+66 81 234 5678"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 1 {
		t.Errorf("expected repository-assigned id 1, got %d", p.ID)
	}
	if p.HN != "HN001" {
		t.Errorf("expected trimmed HN, got %q", p.HN)
	}
	if p.Status != StatusActive {
		t.Errorf("expected Active status, got %s", p.Status)
	}
	if p.RegistrationDate.String() != "2024-06-15" {
		t.Errorf("expected registration today, got %q", p.RegistrationDate.String())
	}
	if got := digits(p.Phone); got != "0812345678" {
		t.Errorf("expected national phone digits 0812345678, got %q (%s)", got, p.Phone)
	}
	if p.MedicalHistory == nil || p.PEP.Records == nil {
		t.Error("expected normalized collections")
	}
}

func TestCreatePatient_KeepsRegistrationDate(t *testing.T) {
	svc, _ := newTestService()
	p := &Patient{HN: "HN1", FirstName: "A", RegistrationDate: caldate.MustParse("2019-01-02")}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RegistrationDate.String() != "2019-01-02" {
		t.Errorf("registration date overwritten: %s", p.RegistrationDate)
	}
}

func TestCreatePatient_AssignsChildIDs(t *testing.T) {
	svc, _ := newTestService()
	p := &Patient{
		HN: "HN1", FirstName: "A",
		MedicalHistory: []MedicalEvent{{Detail: Diagnosis{Condition: "HIV"}}},
		HBV:            HbvInfo{ViralLoads: []LabValue{{Result: "10"}}},
		HCV:            HcvInfo{PostTreatmentVL: []LabValue{{Result: "0"}}},
		PrEP:           PrepInfo{Records: []PrepRecord{{}}},
	}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MedicalHistory[0].ID == uuid.Nil || p.HBV.ViralLoads[0].ID == uuid.Nil ||
		p.HCV.PostTreatmentVL[0].ID == uuid.Nil || p.PrEP.Records[0].ID == uuid.Nil {
		t.Error("expected every child record to get an id")
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    Patient
	}{
		{"missing hn", Patient{FirstName: "A"}},
		{"missing first name", Patient{HN: "HN1"}},
		{"bad sex", Patient{HN: "HN1", FirstName: "A", Sex: "X"}},
		{"bad status", Patient{HN: "HN1", FirstName: "A", Status: "Gone"}},
		{"nil detail", Patient{HN: "HN1", FirstName: "A", MedicalHistory: []MedicalEvent{{}}}},
		{"bad ga", Patient{HN: "HN1", FirstName: "A", Pregnancies: []PregnancyRecord{{GA: "12 weeks"}}}},
		{"bad hbsag", Patient{HN: "HN1", FirstName: "A", HBV: HbvInfo{HBsAg: []QualitativeTest{{Result: "maybe"}}}}},
		{"bad hcv kind", Patient{HN: "HN1", FirstName: "A", HCV: HcvInfo{Tests: []HcvTest{{Kind: "PCR", Result: ResultPositive}}}}},
		{"bad hcv result", Patient{HN: "HN1", FirstName: "A", HCV: HcvInfo{Tests: []HcvTest{{Kind: HcvAntibody, Result: "?"}}}}},
		{"bad pep type", Patient{HN: "HN1", FirstName: "A", PEP: PepInfo{Records: []PepRecord{{Type: "xPEP"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			p := tt.p
			err := svc.CreatePatient(context.Background(), &p)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if len(repo.store) != 0 {
				t.Error("invalid patient was stored")
			}
		})
	}
}

func TestUpdatePatient(t *testing.T) {
	svc, repo := newTestService()
	p := &Patient{HN: "HN1", FirstName: "A"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("create: %v", err)
	}

	upd := &Patient{ID: p.ID, HN: "HN1", FirstName: "B", Status: StatusLTFU}
	if err := svc.UpdatePatient(context.Background(), upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	if repo.store[p.ID].FirstName != "B" || repo.store[p.ID].Status != StatusLTFU {
		t.Errorf("update not applied: %+v", repo.store[p.ID])
	}

	if err := svc.UpdatePatient(context.Background(), &Patient{HN: "HN1", FirstName: "B"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error without id, got %v", err)
	}
	if err := svc.UpdatePatient(context.Background(), &Patient{ID: 99, HN: "X", FirstName: "B"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGetAndDeletePatient(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := &Patient{HN: "HN1", FirstName: "A"}
	if err := svc.CreatePatient(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.GetPatientByHN(ctx, " HN1 ")
	if err != nil || got.ID != p.ID {
		t.Fatalf("GetPatientByHN: %v, %v", got, err)
	}
	if _, err := svc.GetPatientByHN(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for blank hn, got %v", err)
	}

	if err := svc.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetPatient(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in         string
		wantDigits string
	}{
		{"0812345678", "0812345678"},
		{"+66812345678", "0812345678"},
		{"081-234-5678", "0812345678"},
	}
	for _, tt := range tests {
		if got := digits(NormalizePhone(tt.in, "TH")); got != tt.wantDigits {
			t.Errorf("NormalizePhone(%q) digits = %q, want %q", tt.in, got, tt.wantDigits)
		}
	}
	if got := NormalizePhone("  ask front desk ", "TH"); got != "ask front desk" {
		t.Errorf("invalid number should be kept trimmed, got %q", got)
	}
	if got := NormalizePhone("   ", "TH"); got != "" {
		t.Errorf("blank should stay blank, got %q", got)
	}
}

func TestImport_CreatesAndUpdatesByHN(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	existing := &Patient{HN: "HN1", FirstName: "Old", RegistrationDate: caldate.MustParse("2015-05-05")}
	if err := svc.CreatePatient(ctx, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rows := []*Patient{
		{HN: "HN1", FirstName: "New"},
		{HN: "HN2", FirstName: "Second"},
		{HN: "", FirstName: "Broken"},
		{HN: "HN3", FirstName: "Third"},
	}
	res, err := svc.Import(ctx, rows, 2)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Created != 2 || res.Updated != 1 || res.Failed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Row != 3 {
		t.Errorf("expected row 3 to fail, got %+v", res.Errors)
	}

	updated := repo.store[existing.ID]
	if updated.FirstName != "New" {
		t.Errorf("expected HN1 replaced, got %q", updated.FirstName)
	}
	if updated.RegistrationDate.String() != "2015-05-05" {
		t.Errorf("expected original registration date kept, got %s", updated.RegistrationDate)
	}
	if len(repo.store) != 3 {
		t.Errorf("expected 3 stored patients, got %d", len(repo.store))
	}
}

func TestImport_RepositoryErrorRecorded(t *testing.T) {
	svc, repo := newTestService()
	repo.getErr = errors.New("connection refused")
	res, err := svc.Import(context.Background(), []*Patient{{HN: "HN1", FirstName: "A"}}, 0)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Failed != 1 || !strings.Contains(res.Errors[0].Error, "connection refused") {
		t.Errorf("expected recorded repository error, got %+v", res)
	}
}

func TestImport_CancelledContext(t *testing.T) {
	svc, _ := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Import(ctx, []*Patient{{HN: "HN1", FirstName: "A"}}, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
