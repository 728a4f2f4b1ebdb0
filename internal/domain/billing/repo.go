package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("invoice not found")

	// ErrOverpayment is returned when a payment would push paid_amount past
	// total_amount.
	ErrOverpayment = errors.New("payment exceeds invoice balance")
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	UpdateAmounts(ctx context.Context, id uuid.UUID, paidAmount float64, status InvoiceStatus) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error
	AddPayment(ctx context.Context, p *Payment) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	// CountUnsettledNonConsultation counts the non-cancelled,
	// non-consultation invoices that must block the billing gate: unpaid
	// ones, and overpaid ones whose stored amounts violate the
	// paid-within-total invariant.
	CountUnsettledNonConsultation(ctx context.Context, patientID uuid.UUID) (int, error)
	ListNegativeBalance(ctx context.Context, limit int) ([]*Invoice, error)
}
