// Package pharmacy manages prescriptions and the dispensing ledger. The
// visit workflow gates pharmacy completion on every item being dispensed.
package pharmacy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "active"
	PrescriptionCompleted PrescriptionStatus = "completed"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

// Prescription is a doctor's medication order for a visit.
type Prescription struct {
	ID           uuid.UUID           `json:"id"`
	VisitID      uuid.UUID           `json:"visit_id"`
	PatientID    uuid.UUID           `json:"patient_id"`
	PrescriberID *string             `json:"prescriber_id,omitempty"`
	Status       PrescriptionStatus  `json:"status"`
	Notes        *string             `json:"notes,omitempty"`
	Items        []*PrescriptionItem `json:"items,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// PrescriptionItem is one medication line. Dispensed is a flag maintained by
// the pharmacist; the workflow consults it, never computes it.
type PrescriptionItem struct {
	ID             uuid.UUID  `json:"id"`
	PrescriptionID uuid.UUID  `json:"prescription_id"`
	Medication     string     `json:"medication"`
	Dosage         string     `json:"dosage"`
	Frequency      string     `json:"frequency"`
	Duration       string     `json:"duration"`
	Quantity       int        `json:"quantity"`
	Dispensed      bool       `json:"dispensed"`
	DispensedAt    *time.Time `json:"dispensed_at,omitempty"`
	DispensedBy    *string    `json:"dispensed_by,omitempty"`
}

// Validate checks a prescription has at least one fully specified item.
func (p *Prescription) Validate() error {
	if p.VisitID == uuid.Nil {
		return fmt.Errorf("visit_id is required")
	}
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("a prescription needs at least one item")
	}
	for i, item := range p.Items {
		if item.Medication == "" {
			return fmt.Errorf("item %d: medication is required", i)
		}
		if item.Dosage == "" || item.Frequency == "" || item.Duration == "" {
			return fmt.Errorf("item %d (%s): dosage, frequency and duration are required", i, item.Medication)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d (%s): quantity must be positive", i, item.Medication)
		}
	}
	return nil
}

// AllDispensed reports whether every item has been handed out.
func (p *Prescription) AllDispensed() bool {
	for _, item := range p.Items {
		if !item.Dispensed {
			return false
		}
	}
	return len(p.Items) > 0
}
