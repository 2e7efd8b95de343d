package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idclinic/idclinic/internal/platform/db"
)

var ErrConflict = errors.New("patient already exists")

const (
	uniqueViolation = "23505"
	hnIndex         = "idx_patients_hn"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, hn, national_id, prefix, first_name, last_name, nickname, sex, dob, phone,
	address_line, subdistrict, district, province, postal_code, healthcare_scheme, status,
	registration_date, next_appointment_date, refer_in_date, refer_from, refer_out_date, refer_to,
	death_date, note, hbv_override, hcv_override, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.HN, &p.NationalID, &p.Prefix, &p.FirstName, &p.LastName, &p.Nickname, &p.Sex, &p.DOB, &p.Phone,
		&p.AddressLine, &p.Subdistrict, &p.District, &p.Province, &p.PostalCode, &p.HealthcareScheme, &p.Status,
		&p.RegistrationDate, &p.NextAppointmentDate, &p.ReferInDate, &p.ReferFrom, &p.ReferOutDate, &p.ReferTo,
		&p.DeathDate, &p.Note, &p.HBV.Override, &p.HCV.Override, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func translate(err error, hn string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == hnIndex {
			return fmt.Errorf("%w: hn %q", ErrConflict, hn)
		}
		return fmt.Errorf("duplicate record (%s): %w", pgErr.ConstraintName, err)
	}
	return err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO patients (hn, national_id, prefix, first_name, last_name, nickname, sex, dob, phone,
				address_line, subdistrict, district, province, postal_code, healthcare_scheme, status,
				registration_date, next_appointment_date, refer_in_date, refer_from, refer_out_date, refer_to,
				death_date, note, hbv_override, hcv_override)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
			RETURNING id, created_at, updated_at`,
			p.HN, p.NationalID, p.Prefix, p.FirstName, p.LastName, p.Nickname, p.Sex, p.DOB, p.Phone,
			p.AddressLine, p.Subdistrict, p.District, p.Province, p.PostalCode, p.HealthcareScheme, p.Status,
			p.RegistrationDate, p.NextAppointmentDate, p.ReferInDate, p.ReferFrom, p.ReferOutDate, p.ReferTo,
			p.DeathDate, p.Note, p.HBV.Override, p.HCV.Override,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return translate(err, p.HN)
		}
		return r.insertChildren(ctx, p)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
}

func (r *repoPG) GetByHN(ctx context.Context, hn string) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patients WHERE hn = $1`, hn)
}

func (r *repoPG) getOne(ctx context.Context, query string, arg interface{}) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	ps, err := r.hydrate(ctx, []*Patient{p})
	if err != nil {
		return nil, err
	}
	return ps[0], nil
}

// Update overwrites the patient row and replaces every child collection.
func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			UPDATE patients SET hn=$2, national_id=$3, prefix=$4, first_name=$5, last_name=$6, nickname=$7,
				sex=$8, dob=$9, phone=$10, address_line=$11, subdistrict=$12, district=$13, province=$14,
				postal_code=$15, healthcare_scheme=$16, status=$17, registration_date=$18,
				next_appointment_date=$19, refer_in_date=$20, refer_from=$21, refer_out_date=$22, refer_to=$23,
				death_date=$24, note=$25, hbv_override=$26, hcv_override=$27, updated_at=NOW()
			WHERE id = $1
			RETURNING created_at, updated_at`,
			p.ID, p.HN, p.NationalID, p.Prefix, p.FirstName, p.LastName, p.Nickname,
			p.Sex, p.DOB, p.Phone, p.AddressLine, p.Subdistrict, p.District, p.Province,
			p.PostalCode, p.HealthcareScheme, p.Status, p.RegistrationDate,
			p.NextAppointmentDate, p.ReferInDate, p.ReferFrom, p.ReferOutDate, p.ReferTo,
			p.DeathDate, p.Note, p.HBV.Override, p.HCV.Override,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return translate(err, p.HN)
		}
		for _, table := range childTables {
			if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE patient_id = $1`, p.ID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return r.insertChildren(ctx, p)
	})
}

// Delete removes the patient; child rows go with it through ON DELETE CASCADE.
func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, err
	}
	ps, err := r.query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY updated_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return ps, total, nil
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY updated_at DESC, id`)
}

func (r *repoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.hydrate(ctx, items)
}

var childTables = []string{
	"medical_events", "pregnancies", "hbv_results", "hcv_results",
	"hcv_treatments", "std_records", "prep_records", "pep_records",
}

// hydrate loads every child collection of ps with one query per table and
// assembles the aggregates.
func (r *repoPG) hydrate(ctx context.Context, ps []*Patient) ([]*Patient, error) {
	if len(ps) == 0 {
		return ps, nil
	}
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	q := r.conn(ctx)
	rs := RowSet{Patients: ps}
	var err error

	if rs.Events, err = loadChildren(ctx, q, "medical events",
		`SELECT patient_id, id, event_date, event_type, details FROM medical_events WHERE patient_id = ANY($1) ORDER BY event_date`, ids,
		func(row pgx.CollectableRow, o *Owned[EventRow]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.Date, &o.Record.Type, &o.Record.Details)
		}); err != nil {
		return nil, err
	}
	if rs.Pregnancies, err = loadChildren(ctx, q, "pregnancies",
		`SELECT patient_id, id, ga, ga_date, end_date, end_reason, note FROM pregnancies WHERE patient_id = ANY($1) ORDER BY ga_date`, ids,
		func(row pgx.CollectableRow, o *Owned[PregnancyRecord]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.GA, &o.Record.GADate, &o.Record.EndDate, &o.Record.EndReason, &o.Record.Note)
		}); err != nil {
		return nil, err
	}
	if rs.HbvResults, err = loadChildren(ctx, q, "hbv results",
		`SELECT patient_id, id, kind, test_date, result FROM hbv_results WHERE patient_id = ANY($1) ORDER BY test_date`, ids,
		func(row pgx.CollectableRow, o *Owned[HbvRow]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.Kind, &o.Record.Date, &o.Record.Result)
		}); err != nil {
		return nil, err
	}
	if rs.HcvResults, err = loadChildren(ctx, q, "hcv results",
		`SELECT patient_id, id, kind, test_date, result FROM hcv_results WHERE patient_id = ANY($1) ORDER BY test_date`, ids,
		func(row pgx.CollectableRow, o *Owned[HcvRow]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.Kind, &o.Record.Date, &o.Record.Result)
		}); err != nil {
		return nil, err
	}
	if rs.HcvTreatments, err = loadChildren(ctx, q, "hcv treatments",
		`SELECT patient_id, id, start_date, regimen, note FROM hcv_treatments WHERE patient_id = ANY($1) ORDER BY start_date`, ids,
		func(row pgx.CollectableRow, o *Owned[HcvTreatment]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.Date, &o.Record.Regimen, &o.Record.Note)
		}); err != nil {
		return nil, err
	}
	if rs.StdRecords, err = loadChildren(ctx, q, "std records",
		`SELECT patient_id, id, record_date, diseases, treatment, note FROM std_records WHERE patient_id = ANY($1) ORDER BY record_date`, ids,
		func(row pgx.CollectableRow, o *Owned[StdRecord]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.Date, &o.Record.Diseases, &o.Record.Treatment, &o.Record.Note)
		}); err != nil {
		return nil, err
	}
	if rs.PrepRecords, err = loadChildren(ctx, q, "prep records",
		`SELECT patient_id, id, start_date, stop_date, regimen, note FROM prep_records WHERE patient_id = ANY($1) ORDER BY start_date`, ids,
		func(row pgx.CollectableRow, o *Owned[PrepRecord]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.StartDate, &o.Record.StopDate, &o.Record.Regimen, &o.Record.Note)
		}); err != nil {
		return nil, err
	}
	if rs.PepRecords, err = loadChildren(ctx, q, "pep records",
		`SELECT patient_id, id, pep_date, pep_type, regimen, note FROM pep_records WHERE patient_id = ANY($1) ORDER BY pep_date`, ids,
		func(row pgx.CollectableRow, o *Owned[PepRecord]) error {
			return row.Scan(&o.PatientID, &o.Record.ID, &o.Record.Date, &o.Record.Type, &o.Record.Regimen, &o.Record.Note)
		}); err != nil {
		return nil, err
	}

	return Assemble(rs), nil
}

func loadChildren[T any](ctx context.Context, q db.Querier, what, sql string, ids []int64,
	scan func(pgx.CollectableRow, *Owned[T]) error) ([]Owned[T], error) {
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Owned[T], error) {
		var o Owned[T]
		err := scan(row, &o)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", what, err)
	}
	return out, nil
}

// insertChildren writes every child row of p in a single batch.
func (r *repoPG) insertChildren(ctx context.Context, p *Patient) error {
	rs, err := Flatten(p)
	if err != nil {
		return err
	}
	b := &pgx.Batch{}
	for _, o := range rs.Events {
		b.Queue(`INSERT INTO medical_events (id, patient_id, event_date, event_type, details) VALUES ($1,$2,$3,$4,$5)`,
			o.Record.ID, o.PatientID, o.Record.Date, o.Record.Type, o.Record.Details)
	}
	for _, o := range rs.Pregnancies {
		b.Queue(`INSERT INTO pregnancies (id, patient_id, ga, ga_date, end_date, end_reason, note) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.Record.ID, o.PatientID, o.Record.GA, o.Record.GADate, o.Record.EndDate, o.Record.EndReason, o.Record.Note)
	}
	for _, o := range rs.HbvResults {
		b.Queue(`INSERT INTO hbv_results (id, patient_id, kind, test_date, result) VALUES ($1,$2,$3,$4,$5)`,
			o.Record.ID, o.PatientID, o.Record.Kind, o.Record.Date, o.Record.Result)
	}
	for _, o := range rs.HcvResults {
		b.Queue(`INSERT INTO hcv_results (id, patient_id, kind, test_date, result) VALUES ($1,$2,$3,$4,$5)`,
			o.Record.ID, o.PatientID, o.Record.Kind, o.Record.Date, o.Record.Result)
	}
	for _, o := range rs.HcvTreatments {
		b.Queue(`INSERT INTO hcv_treatments (id, patient_id, start_date, regimen, note) VALUES ($1,$2,$3,$4,$5)`,
			o.Record.ID, o.PatientID, o.Record.Date, o.Record.Regimen, o.Record.Note)
	}
	for _, o := range rs.StdRecords {
		diseases := o.Record.Diseases
		if diseases == nil {
			diseases = []string{}
		}
		b.Queue(`INSERT INTO std_records (id, patient_id, record_date, diseases, treatment, note) VALUES ($1,$2,$3,$4,$5,$6)`,
			o.Record.ID, o.PatientID, o.Record.Date, diseases, o.Record.Treatment, o.Record.Note)
	}
	for _, o := range rs.PrepRecords {
		b.Queue(`INSERT INTO prep_records (id, patient_id, start_date, stop_date, regimen, note) VALUES ($1,$2,$3,$4,$5,$6)`,
			o.Record.ID, o.PatientID, o.Record.StartDate, o.Record.StopDate, o.Record.Regimen, o.Record.Note)
	}
	for _, o := range rs.PepRecords {
		b.Queue(`INSERT INTO pep_records (id, patient_id, pep_date, pep_type, regimen, note) VALUES ($1,$2,$3,$4,$5,$6)`,
			o.Record.ID, o.PatientID, o.Record.Date, o.Record.Type, o.Record.Regimen, o.Record.Note)
	}
	if b.Len() == 0 {
		return nil
	}

	br := r.conn(ctx).SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert child record %d of patient %d: %w", i, p.ID, err)
		}
	}
	return br.Close()
}
