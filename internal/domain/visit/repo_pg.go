package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const visitCols = `id, patient_id, doctor_id, appointment_id, visit_type, current_stage, overall_status,
	reception_status, reception_notes, reception_completed_at,
	nurse_status, nurse_notes, nurse_completed_at,
	doctor_status, diagnosis, doctor_notes, consultation_saved_at, doctor_completed_at,
	lab_status, lab_notes, lab_results_reviewed, lab_reviewed_at, lab_completed_at,
	pharmacy_status, pharmacy_notes, pharmacy_completed_at,
	billing_status, billing_notes, billing_completed_at,
	cancel_reason, version_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.VersionID = 1
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_visit (
			id, patient_id, doctor_id, appointment_id, visit_type, current_stage, overall_status,
			reception_status, reception_notes,
			nurse_status, doctor_status, lab_status, pharmacy_status, billing_status,
			version_id
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
		)
		RETURNING created_at, updated_at`,
		v.ID, v.PatientID, v.DoctorID, v.AppointmentID, v.VisitType, v.CurrentStage, v.OverallStatus,
		v.ReceptionStatus, v.ReceptionNotes,
		v.NurseStatus, v.DoctorStatus, v.LabStatus, v.PharmacyStatus, v.BillingStatus,
		v.VersionID,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM patient_visit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// Update performs a compare-and-swap on version_id. Zero rows affected means
// another writer won the race.
func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_visit SET
			doctor_id=$3, current_stage=$4, overall_status=$5,
			reception_status=$6, reception_notes=$7, reception_completed_at=$8,
			nurse_status=$9, nurse_notes=$10, nurse_completed_at=$11,
			doctor_status=$12, diagnosis=$13, doctor_notes=$14, consultation_saved_at=$15, doctor_completed_at=$16,
			lab_status=$17, lab_notes=$18, lab_results_reviewed=$19, lab_reviewed_at=$20, lab_completed_at=$21,
			pharmacy_status=$22, pharmacy_notes=$23, pharmacy_completed_at=$24,
			billing_status=$25, billing_notes=$26, billing_completed_at=$27,
			cancel_reason=$28, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2`,
		v.ID, v.VersionID, v.DoctorID, v.CurrentStage, v.OverallStatus,
		v.ReceptionStatus, v.ReceptionNotes, v.ReceptionCompletedAt,
		v.NurseStatus, v.NurseNotes, v.NurseCompletedAt,
		v.DoctorStatus, v.Diagnosis, v.DoctorNotes, v.ConsultationSavedAt, v.DoctorCompletedAt,
		v.LabStatus, v.LabNotes, v.LabResultsReviewed, v.LabReviewedAt, v.LabCompletedAt,
		v.PharmacyStatus, v.PharmacyNotes, v.PharmacyCompletedAt,
		v.BillingStatus, v.BillingNotes, v.BillingCompletedAt,
		v.CancelReason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	v.VersionID++
	return nil
}

func (r *repoPG) ListByStage(ctx context.Context, stage Stage, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM patient_visit
		WHERE current_stage = $1 AND overall_status = $2`, stage, VisitActive).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM patient_visit
		WHERE current_stage = $1 AND overall_status = $2
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4`, stage, VisitActive, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	visits, err := scanVisits(rows)
	return visits, total, err
}

func (r *repoPG) CountActiveByStage(ctx context.Context) (map[Stage]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT current_stage, COUNT(*) FROM patient_visit
		WHERE overall_status = $1
		GROUP BY current_stage`, VisitActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM patient_visit WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM patient_visit
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	visits, err := scanVisits(rows)
	return visits, total, err
}

func (r *repoPG) AppendHistory(ctx context.Context, entry *StageHistoryEntry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_stage_history (visit_id, stage, action, actor_id, actor_role, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at`,
		entry.VisitID, entry.Stage, entry.Action, entry.ActorID, entry.ActorRole, entry.Notes,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *repoPG) HistoryForVisit(ctx context.Context, visitID uuid.UUID) ([]*StageHistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, stage, action, actor_id, actor_role, notes, created_at
		FROM visit_stage_history
		WHERE visit_id = $1
		ORDER BY id ASC`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*StageHistoryEntry
	for rows.Next() {
		e := &StageHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.VisitID, &e.Stage, &e.Action, &e.ActorID, &e.ActorRole, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	v := &Visit{}
	err := row.Scan(
		&v.ID, &v.PatientID, &v.DoctorID, &v.AppointmentID, &v.VisitType, &v.CurrentStage, &v.OverallStatus,
		&v.ReceptionStatus, &v.ReceptionNotes, &v.ReceptionCompletedAt,
		&v.NurseStatus, &v.NurseNotes, &v.NurseCompletedAt,
		&v.DoctorStatus, &v.Diagnosis, &v.DoctorNotes, &v.ConsultationSavedAt, &v.DoctorCompletedAt,
		&v.LabStatus, &v.LabNotes, &v.LabResultsReviewed, &v.LabReviewedAt, &v.LabCompletedAt,
		&v.PharmacyStatus, &v.PharmacyNotes, &v.PharmacyCompletedAt,
		&v.BillingStatus, &v.BillingNotes, &v.BillingCompletedAt,
		&v.CancelReason, &v.VersionID, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func scanVisits(rows pgx.Rows) ([]*Visit, error) {
	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}
