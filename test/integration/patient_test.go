package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

func fullPatient(hn string) *patient.Patient {
	return &patient.Patient{
		HN:        hn,
		FirstName: "Somchai",
		LastName:  "Jaidee",
		Sex:       patient.SexMale,
		DOB:       caldate.MustParse("1985-02-10"),
		Phone:     "0812345678",
		Province:  "Bangkok",
		MedicalHistory: []patient.MedicalEvent{
			{Date: caldate.MustParse("2020-01-05"), Detail: patient.Diagnosis{Condition: "HIV"}},
			{Date: caldate.MustParse("2020-01-20"), Detail: patient.ARTStart{Regimen: "TDF/3TC/DTG"}},
		},
		HBV: patient.HbvInfo{
			HBsAg:      []patient.QualitativeTest{{Date: caldate.MustParse("2021-03-01"), Result: patient.ResultPositive}},
			ViralLoads: []patient.LabValue{{Date: caldate.MustParse("2021-03-15"), Result: "1200"}},
		},
		HCV: patient.HcvInfo{
			Tests:    []patient.HcvTest{{Date: caldate.MustParse("2021-04-01"), Kind: patient.HcvAntibody, Result: patient.ResultNegative}},
			Override: patient.Manual("Cleared"),
		},
		STD: patient.StdInfo{Records: []patient.StdRecord{
			{Date: caldate.MustParse("2022-06-01"), Diseases: []string{"Syphilis", "Gonorrhea"}, Treatment: "Benzathine penicillin"},
		}},
		PrEP: patient.PrepInfo{Records: []patient.PrepRecord{{StartDate: caldate.MustParse("2019-05-01"), StopDate: caldate.MustParse("2019-12-01")}}},
		PEP:  patient.PepInfo{Records: []patient.PepRecord{{Date: caldate.MustParse("2018-07-07"), Type: patient.PepNonOccupational}}},
	}
}

func TestPatientCRUD(t *testing.T) {
	ctx := context.Background()
	pool := isolatedPool(t, ctx, "patient")
	svc := patient.NewService(patient.NewRepoPG(pool), "TH")

	p := fullPatient("HN-IT-001")
	if err := svc.CreatePatient(ctx, p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected an id after create")
	}

	t.Run("GetByID", func(t *testing.T) {
		got, err := svc.GetPatient(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetPatient: %v", err)
		}
		if got.HN != "HN-IT-001" || got.FirstName != "Somchai" {
			t.Errorf("unexpected patient %+v", got)
		}
		if got.DOB != caldate.MustParse("1985-02-10") {
			t.Errorf("expected DOB 1985-02-10, got %s", got.DOB)
		}
		if want := patient.NormalizePhone("0812345678", "TH"); got.Phone != want {
			t.Errorf("expected normalised phone, got %q", got.Phone)
		}
		if len(got.MedicalHistory) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got.MedicalHistory))
		}
		if d, ok := got.MedicalHistory[1].Detail.(patient.ARTStart); !ok || d.Regimen != "TDF/3TC/DTG" {
			t.Errorf("expected ART start detail, got %#v", got.MedicalHistory[1].Detail)
		}
		if len(got.HBV.HBsAg) != 1 || got.HBV.HBsAg[0].Result != patient.ResultPositive {
			t.Errorf("unexpected HBsAg %+v", got.HBV.HBsAg)
		}
		if !got.HCV.Override.IsManual() || got.HCV.Override.Text() != "Cleared" {
			t.Errorf("expected manual HCV override, got %+v", got.HCV.Override)
		}
		if got.HBV.Override.IsManual() {
			t.Error("expected automatic HBV override")
		}
		if len(got.STD.Records) != 1 || len(got.STD.Records[0].Diseases) != 2 {
			t.Errorf("unexpected STD records %+v", got.STD.Records)
		}
		if len(got.PEP.Records) != 1 || got.PEP.Records[0].Type != patient.PepNonOccupational {
			t.Errorf("unexpected PEP records %+v", got.PEP.Records)
		}
		if !got.RegistrationDate.IsSet() {
			t.Error("expected registration date to default to today")
		}
	})

	t.Run("GetByHN", func(t *testing.T) {
		got, err := svc.GetPatientByHN(ctx, " HN-IT-001 ")
		if err != nil {
			t.Fatalf("GetPatientByHN: %v", err)
		}
		if got.ID != p.ID {
			t.Errorf("expected id %d, got %d", p.ID, got.ID)
		}
	})

	t.Run("DuplicateHN", func(t *testing.T) {
		err := svc.CreatePatient(ctx, fullPatient("HN-IT-001"))
		if !errors.Is(err, patient.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("UpdateReplacesChildren", func(t *testing.T) {
		got, err := svc.GetPatient(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetPatient: %v", err)
		}
		got.Nickname = "Chai"
		got.STD.Records = nil
		got.Pregnancies = nil
		got.HBV.ViralLoads = append(got.HBV.ViralLoads, patient.LabValue{Date: caldate.MustParse("2022-03-15"), Result: "<20"})
		if err := svc.UpdatePatient(ctx, got); err != nil {
			t.Fatalf("UpdatePatient: %v", err)
		}

		after, err := svc.GetPatient(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetPatient: %v", err)
		}
		if after.Nickname != "Chai" {
			t.Errorf("expected nickname Chai, got %q", after.Nickname)
		}
		if len(after.STD.Records) != 0 {
			t.Errorf("expected STD records removed, got %d", len(after.STD.Records))
		}
		if len(after.HBV.ViralLoads) != 2 {
			t.Errorf("expected 2 viral loads, got %d", len(after.HBV.ViralLoads))
		}
	})

	t.Run("List", func(t *testing.T) {
		if err := svc.CreatePatient(ctx, &patient.Patient{HN: "HN-IT-002", FirstName: "Malee"}); err != nil {
			t.Fatalf("CreatePatient: %v", err)
		}
		page, total, err := svc.ListPatients(ctx, 1, 0)
		if err != nil {
			t.Fatalf("ListPatients: %v", err)
		}
		if total != 2 || len(page) != 1 {
			t.Errorf("expected 1 of 2, got %d of %d", len(page), total)
		}
		all, err := svc.AllPatients(ctx)
		if err != nil {
			t.Fatalf("AllPatients: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 patients, got %d", len(all))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := svc.DeletePatient(ctx, p.ID); err != nil {
			t.Fatalf("DeletePatient: %v", err)
		}
		if _, err := svc.GetPatient(ctx, p.ID); !errors.Is(err, patient.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := svc.DeletePatient(ctx, p.ID); !errors.Is(err, patient.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestPatientImport(t *testing.T) {
	ctx := context.Background()
	pool := isolatedPool(t, ctx, "import")
	svc := patient.NewService(patient.NewRepoPG(pool), "TH")

	if err := svc.CreatePatient(ctx, &patient.Patient{HN: "HN-A", FirstName: "Old"}); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	res, err := svc.Import(ctx, []*patient.Patient{
		{HN: "HN-A", FirstName: "New"},
		{HN: "HN-B", FirstName: "Second"},
		{HN: "HN-C"},
	}, 2)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Created != 1 || res.Updated != 1 || res.Failed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Row != 3 {
		t.Errorf("expected row 3 rejected, got %+v", res.Errors)
	}

	got, err := svc.GetPatientByHN(ctx, "HN-A")
	if err != nil {
		t.Fatalf("GetPatientByHN: %v", err)
	}
	if got.FirstName != "New" {
		t.Errorf("expected HN-A updated in place, got %q", got.FirstName)
	}
}

func TestMigrationStatus(t *testing.T) {
	ctx := context.Background()
	pool := isolatedPool(t, ctx, "migrate")

	var applied int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM _migrations").Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied == 0 {
		t.Error("expected at least one applied migration")
	}
}
