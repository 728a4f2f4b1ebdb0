package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// LabGateway exposes the lab facts the workflow needs. The guard only reads;
// lab tests are mutated by the lab technician's own workflow.
type LabGateway interface {
	// HasTests reports whether any lab test is tied to the visit.
	HasTests(ctx context.Context, visitID uuid.UUID) (bool, error)
	// HasUnresolvedTests reports whether any tied test is not yet completed
	// or cancelled. A completed test always carries a validated results
	// payload, so no unresolved tests means results are in.
	HasUnresolvedTests(ctx context.Context, visitID uuid.UUID) (bool, error)
	// HasDoctorOrderedTests reports whether any tied test was ordered by a
	// doctor, which triggers the lab-to-doctor review loop-back.
	HasDoctorOrderedTests(ctx context.Context, visitID uuid.UUID) (bool, error)
}

// PharmacyGateway exposes prescription facts. Dispensed is a flag consulted
// here, maintained by the dispensing workflow.
type PharmacyGateway interface {
	HasActivePrescriptions(ctx context.Context, visitID uuid.UUID) (bool, error)
	HasUndispensedItems(ctx context.Context, visitID uuid.UUID) (bool, error)
}

// BillingGateway exposes invoice facts for the patient. Consultation-fee
// invoices are exempt from the billing gate: consultation is pre-paid at
// reception.
type BillingGateway interface {
	// HasUnpaidNonConsultationInvoices reports whether any non-cancelled,
	// non-consultation invoice for the patient would fail the billing gate:
	// nothing paid yet, or paid past the total (a corrupt row that must not
	// count as settled).
	HasUnpaidNonConsultationInvoices(ctx context.Context, patientID uuid.UUID) (bool, error)
}

// Guard enforces the consistency rules that span the visit and its dependent
// records. It is consulted before a transition commits and never writes.
type Guard struct {
	lab      LabGateway
	pharmacy PharmacyGateway
	billing  BillingGateway
}

func NewGuard(lab LabGateway, pharmacy PharmacyGateway, billing BillingGateway) *Guard {
	return &Guard{lab: lab, pharmacy: pharmacy, billing: billing}
}

// CheckStageCompletion validates the stage-specific preconditions for
// marking the given stage completed. Returns ErrPreconditionFailed wrapped
// with the unmet condition.
func (g *Guard) CheckStageCompletion(ctx context.Context, v *Visit, stage Stage) error {
	switch stage {
	case StageLab:
		hasTests, err := g.lab.HasTests(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("check lab tests: %w", err)
		}
		if !hasTests && v.VisitType != TypeLabOnly {
			return nil
		}
		if !hasTests {
			return fmt.Errorf("%w: no lab test recorded for this visit", ErrPreconditionFailed)
		}
		unresolved, err := g.lab.HasUnresolvedTests(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("check lab results: %w", err)
		}
		if unresolved {
			return fmt.Errorf("%w: lab results must be entered before completing the lab stage", ErrPreconditionFailed)
		}
	case StagePharmacy:
		undispensed, err := g.pharmacy.HasUndispensedItems(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("check dispensing: %w", err)
		}
		if undispensed {
			return fmt.Errorf("%w: all prescription items must be dispensed before completing the pharmacy stage", ErrPreconditionFailed)
		}
	case StageBilling:
		unpaid, err := g.billing.HasUnpaidNonConsultationInvoices(ctx, v.PatientID)
		if err != nil {
			return fmt.Errorf("check invoices: %w", err)
		}
		if unpaid {
			return fmt.Errorf("%w: unpaid or overpaid invoices exist for this patient", ErrPreconditionFailed)
		}
	}
	return nil
}

// SatisfiedStages returns the stages the sequence may skip over: completed
// stages, plus conditional stages with no orders behind them (no lab test
// means no lab stage, no active prescription means no pharmacy stage).
func (g *Guard) SatisfiedStages(ctx context.Context, v *Visit) (map[Stage]bool, error) {
	satisfied := v.CompletedStages()

	if stageConditional(v.VisitType, StageLab) && !satisfied[StageLab] {
		hasTests, err := g.lab.HasTests(ctx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("check lab tests: %w", err)
		}
		if !hasTests {
			satisfied[StageLab] = true
		}
	}
	if stageConditional(v.VisitType, StagePharmacy) && !satisfied[StagePharmacy] {
		hasRx, err := g.pharmacy.HasActivePrescriptions(ctx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("check prescriptions: %w", err)
		}
		if !hasRx {
			satisfied[StagePharmacy] = true
		}
	}
	return satisfied, nil
}

// ShouldLoopBackToDoctor reports whether completing the lab stage must
// re-open the doctor stage for results review. Only applies when the doctor
// stage was already worked and a doctor ordered the tests.
func (g *Guard) ShouldLoopBackToDoctor(ctx context.Context, v *Visit) (bool, error) {
	if !stageRequired(v.VisitType, StageDoctor) || v.DoctorStatus != StatusStageComplete {
		return false, nil
	}
	return g.lab.HasDoctorOrderedTests(ctx, v.ID)
}
