// Package billing manages invoices and payments. Invoices belong to the
// patient, not a single visit; the visit workflow gates billing completion
// on unpaid non-consultation invoices. Overpayment is rejected at write
// time; a negative balance on a stored row is a data-integrity defect that
// IntegrityErr surfaces.
package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePartial   InvoiceStatus = "partial"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// InvoiceCategory separates consultation fees, which are pre-paid at
// reception and exempt from the billing gate, from everything else.
type InvoiceCategory string

const (
	CategoryConsultation InvoiceCategory = "consultation"
	CategoryLab          InvoiceCategory = "lab"
	CategoryMedication   InvoiceCategory = "medication"
	CategoryProcedure    InvoiceCategory = "procedure"
	CategoryOther        InvoiceCategory = "other"
)

type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	VisitID     *uuid.UUID      `json:"visit_id,omitempty"`
	Category    InvoiceCategory `json:"category"`
	Status      InvoiceStatus   `json:"status"`
	TotalAmount float64         `json:"total_amount"`
	PaidAmount  float64         `json:"paid_amount"`
	Items       []*InvoiceItem  `json:"items,omitempty"`
	Payments    []*Payment      `json:"payments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type InvoiceItem struct {
	ID          uuid.UUID `json:"id"`
	InvoiceID   uuid.UUID `json:"invoice_id"`
	Description string    `json:"description"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	Amount      float64   `json:"amount"`
}

type Payment struct {
	ID         uuid.UUID `json:"id"`
	InvoiceID  uuid.UUID `json:"invoice_id"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	ReceivedBy *string   `json:"received_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Balance is always total minus paid. Negative means overpayment slipped in.
func (inv *Invoice) Balance() float64 {
	return inv.TotalAmount - inv.PaidAmount
}

// IntegrityErr reports invariant violations on the stored row. Overpayment
// is blocked at write time, so a non-nil result here means the data was
// corrupted out of band.
func (inv *Invoice) IntegrityErr() error {
	if inv.Balance() < 0 {
		return fmt.Errorf("invoice %s: paid %.2f exceeds total %.2f", inv.ID, inv.PaidAmount, inv.TotalAmount)
	}
	if inv.TotalAmount < 0 {
		return fmt.Errorf("invoice %s: negative total %.2f", inv.ID, inv.TotalAmount)
	}
	return nil
}

// statusForAmounts derives the invoice status from its amounts. Cancelled is
// sticky and never recomputed.
func (inv *Invoice) statusForAmounts() InvoiceStatus {
	switch {
	case inv.PaidAmount <= 0:
		return InvoicePending
	case inv.PaidAmount < inv.TotalAmount:
		return InvoicePartial
	default:
		return InvoicePaid
	}
}

// Validate checks a new invoice before it is written.
func (inv *Invoice) Validate() error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if inv.Category == "" {
		return fmt.Errorf("category is required")
	}
	if len(inv.Items) == 0 {
		return fmt.Errorf("an invoice needs at least one item")
	}
	var total float64
	for i, item := range inv.Items {
		if item.Description == "" {
			return fmt.Errorf("item %d: description is required", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d (%s): quantity must be positive", i, item.Description)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("item %d (%s): unit price cannot be negative", i, item.Description)
		}
		item.Amount = float64(item.Quantity) * item.UnitPrice
		total += item.Amount
	}
	inv.TotalAmount = total
	return nil
}
