package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	runTx  TxRunner
	logger zerolog.Logger
}

// TxRunner executes fn atomically; payments mutate the payment ledger and
// the invoice amounts together.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func NewService(repo Repository, runTx TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, runTx: runTx, logger: logger}
}

func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	inv.Status = InvoicePending
	inv.PaidAmount = 0
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("category", string(inv.Category)).
		Float64("total", inv.TotalAmount).
		Msg("invoice created")
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// RecordPayment applies a payment to an invoice. Partial payments are fine;
// a payment that would overshoot the balance is rejected with
// ErrOverpayment before anything is written.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, amount float64, method, receivedBy string) (*Invoice, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}
	if method == "" {
		return nil, fmt.Errorf("payment method is required")
	}

	var result *Invoice
	err := s.runTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceCancelled {
			return fmt.Errorf("invoice is cancelled")
		}
		if amount > inv.Balance() {
			return fmt.Errorf("%w: balance is %.2f, payment is %.2f", ErrOverpayment, inv.Balance(), amount)
		}

		p := &Payment{InvoiceID: inv.ID, Amount: amount, Method: method}
		if receivedBy != "" {
			p.ReceivedBy = &receivedBy
		}
		if err := s.repo.AddPayment(ctx, p); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}

		inv.PaidAmount += amount
		if err := s.repo.UpdateAmounts(ctx, inv.ID, inv.PaidAmount, inv.statusForAmounts()); err != nil {
			return err
		}
		inv.Status = inv.statusForAmounts()
		inv.Payments = append(inv.Payments, p)
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_id", result.ID.String()).
		Float64("amount", amount).
		Float64("balance", result.Balance()).
		Msg("payment recorded")
	return result, nil
}

func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == InvoicePaid {
		return nil, fmt.Errorf("paid invoices cannot be cancelled")
	}
	if err := s.repo.UpdateStatus(ctx, id, InvoiceCancelled); err != nil {
		return nil, err
	}
	inv.Status = InvoiceCancelled
	return inv, nil
}

// NegativeBalanceReport lists invoices whose stored amounts violate the
// paid-within-total invariant, for remediation.
func (s *Service) NegativeBalanceReport(ctx context.Context, limit int) ([]*Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	invoices, err := s.repo.ListNegativeBalance(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		s.logger.Warn().
			Str("invoice_id", inv.ID.String()).
			Float64("balance", inv.Balance()).
			Msg("invoice with negative balance")
	}
	return invoices, nil
}

// VisitGateway adapts the billing repository to the read-only view the visit
// workflow's consistency guard consumes.
type VisitGateway struct {
	repo Repository
}

func NewVisitGateway(repo Repository) *VisitGateway {
	return &VisitGateway{repo: repo}
}

func (g *VisitGateway) HasUnpaidNonConsultationInvoices(ctx context.Context, patientID uuid.UUID) (bool, error) {
	n, err := g.repo.CountUnsettledNonConsultation(ctx, patientID)
	return n > 0, err
}
