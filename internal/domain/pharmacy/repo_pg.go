package pharmacy

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

const rxCols = `id, visit_id, patient_id, prescriber_id, status, notes, created_at, updated_at`
const itemCols = `id, prescription_id, medication, dosage, frequency, duration, quantity,
	dispensed, dispensed_at, dispensed_by`

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, visit_id, patient_id, prescriber_id, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		p.ID, p.VisitID, p.PatientID, p.PrescriberID, p.Status, p.Notes,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	for _, item := range p.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.PrescriptionID = p.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO prescription_item (
				id, prescription_id, medication, dosage, frequency, duration, quantity
			) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			item.ID, item.PrescriptionID, item.Medication, item.Dosage,
			item.Frequency, item.Duration, item.Quantity,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p := &Prescription{}
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE id = $1`, id).Scan(
		&p.ID, &p.VisitID, &p.PatientID, &p.PrescriberID, &p.Status, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) loadItems(ctx context.Context, p *Prescription) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM prescription_item
		WHERE prescription_id = $1 ORDER BY medication ASC`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		item := &PrescriptionItem{}
		if err := rows.Scan(
			&item.ID, &item.PrescriptionID, &item.Medication, &item.Dosage,
			&item.Frequency, &item.Duration, &item.Quantity,
			&item.Dispensed, &item.DispensedAt, &item.DispensedBy,
		); err != nil {
			return err
		}
		p.Items = append(p.Items, item)
	}
	return rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status PrescriptionStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+rxCols+` FROM prescription WHERE visit_id = $1 ORDER BY created_at ASC`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Prescription
	for rows.Next() {
		p := &Prescription{}
		if err := rows.Scan(
			&p.ID, &p.VisitID, &p.PatientID, &p.PrescriberID, &p.Status, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range result {
		if err := r.loadItems(ctx, p); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM prescription WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+rxCols+` FROM prescription WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Prescription
	for rows.Next() {
		p := &Prescription{}
		if err := rows.Scan(
			&p.ID, &p.VisitID, &p.PatientID, &p.PrescriberID, &p.Status, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, p := range result {
		if err := r.loadItems(ctx, p); err != nil {
			return nil, 0, err
		}
	}
	return result, total, nil
}

func (r *repoPG) MarkItemDispensed(ctx context.Context, itemID uuid.UUID, dispensedBy string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription_item
		SET dispensed = TRUE, dispensed_at = NOW(), dispensed_by = $2
		WHERE id = $1`, itemID, dispensedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *repoPG) CountActiveByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM prescription WHERE visit_id = $1 AND status = $2`,
		visitID, PrescriptionActive).Scan(&n)
	return n, err
}

func (r *repoPG) CountUndispensedByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM prescription_item i
		JOIN prescription p ON p.id = i.prescription_id
		WHERE p.visit_id = $1 AND p.status = $2 AND i.dispensed = FALSE`,
		visitID, PrescriptionActive).Scan(&n)
	return n, err
}
