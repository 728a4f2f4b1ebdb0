package billing

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

const invCols = `id, patient_id, visit_id, category, status, total_amount, paid_amount, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, patient_id, visit_id, category, status, total_amount, paid_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		inv.ID, inv.PatientID, inv.VisitID, inv.Category, inv.Status, inv.TotalAmount, inv.PaidAmount,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return err
	}
	for _, item := range inv.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.InvoiceID = inv.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_item (id, invoice_id, description, quantity, unit_price, amount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			item.ID, item.InvoiceID, item.Description, item.Quantity, item.UnitPrice, item.Amount,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv := &Invoice{}
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE id = $1`, id).Scan(
		&inv.ID, &inv.PatientID, &inv.VisitID, &inv.Category, &inv.Status,
		&inv.TotalAmount, &inv.PaidAmount, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *repoPG) loadDetails(ctx context.Context, inv *Invoice) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price, amount
		FROM invoice_item WHERE invoice_id = $1`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		item := &InvoiceItem{}
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Quantity, &item.UnitPrice, &item.Amount); err != nil {
			return err
		}
		inv.Items = append(inv.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	payRows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, received_by, created_at
		FROM payment WHERE invoice_id = $1 ORDER BY created_at ASC`, inv.ID)
	if err != nil {
		return err
	}
	defer payRows.Close()
	for payRows.Next() {
		p := &Payment{}
		if err := payRows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return err
		}
		inv.Payments = append(inv.Payments, p)
	}
	return payRows.Err()
}

// UpdateAmounts guards the overpayment invariant in the statement itself:
// the update applies only while the new paid amount stays within the total.
func (r *repoPG) UpdateAmounts(ctx context.Context, id uuid.UUID, paidAmount float64, status InvoiceStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice SET paid_amount=$2, status=$3, updated_at=NOW()
		WHERE id = $1 AND $2 <= total_amount`, id, paidAmount, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOverpayment
	}
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, invoice_id, amount, method, received_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.ReceivedBy,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM invoice WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+invCols+` FROM invoice WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv := &Invoice{}
		if err := rows.Scan(
			&inv.ID, &inv.PatientID, &inv.VisitID, &inv.Category, &inv.Status,
			&inv.TotalAmount, &inv.PaidAmount, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, inv := range invoices {
		if err := r.loadDetails(ctx, inv); err != nil {
			return nil, 0, err
		}
	}
	return invoices, total, nil
}

func (r *repoPG) CountUnsettledNonConsultation(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM invoice
		WHERE patient_id = $1
		  AND category != $2
		  AND status != $3
		  AND (paid_amount <= 0 OR paid_amount > total_amount)`,
		patientID, CategoryConsultation, InvoiceCancelled).Scan(&n)
	return n, err
}

func (r *repoPG) ListNegativeBalance(ctx context.Context, limit int) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+invCols+` FROM invoice
		WHERE paid_amount > total_amount
		ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv := &Invoice{}
		if err := rows.Scan(
			&inv.ID, &inv.PatientID, &inv.VisitID, &inv.Category, &inv.Status,
			&inv.TotalAmount, &inv.PaidAmount, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
