package lab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

const testCols = `id, visit_id, patient_id, ordered_by_id, ordered_by_role, test_name, test_code,
	status, results, notes, completed_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, t *LabTest) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	results, err := marshalResults(t.Results)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_test (
			id, visit_id, patient_id, ordered_by_id, ordered_by_role,
			test_name, test_code, status, results, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		t.ID, t.VisitID, t.PatientID, t.OrderedByID, t.OrderedByRole,
		t.TestName, t.TestCode, t.Status, results, t.Notes,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	t, err := scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM lab_test WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (r *repoPG) Update(ctx context.Context, t *LabTest) error {
	results, err := marshalResults(t.Results)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE lab_test SET
			status=$2, results=$3, notes=$4, completed_at=$5, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Status, results, t.Notes, t.CompletedAt,
	)
	return err
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*LabTest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+testCols+` FROM lab_test WHERE visit_id = $1 ORDER BY created_at ASC`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTests(rows)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabTest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM lab_test WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+testCols+` FROM lab_test WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	tests, err := scanTests(rows)
	return tests, total, err
}

func (r *repoPG) CountByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM lab_test WHERE visit_id = $1 AND status != $2`,
		visitID, TestCancelled).Scan(&n)
	return n, err
}

func (r *repoPG) CountUnresolvedByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM lab_test WHERE visit_id = $1 AND status IN ($2, $3)`,
		visitID, TestPending, TestInProgress).Scan(&n)
	return n, err
}

func (r *repoPG) CountDoctorOrderedByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM lab_test
		WHERE visit_id = $1 AND ordered_by_role = 'doctor' AND status != $2`,
		visitID, TestCancelled).Scan(&n)
	return n, err
}

func marshalResults(r *Results) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return data, nil
}

func scanTest(row pgx.Row) (*LabTest, error) {
	t := &LabTest{}
	var results []byte
	err := row.Scan(
		&t.ID, &t.VisitID, &t.PatientID, &t.OrderedByID, &t.OrderedByRole,
		&t.TestName, &t.TestCode, &t.Status, &results, &t.Notes,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		t.Results = &Results{}
		if err := json.Unmarshal(results, t.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return t, nil
}

func scanTests(rows pgx.Rows) ([]*LabTest, error) {
	var tests []*LabTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}
