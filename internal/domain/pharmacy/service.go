package pharmacy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VisitStageChecker reports whether the owning visit has reached the doctor
// stage. An active prescription on a visit that never saw a doctor is
// invalid.
type VisitStageChecker interface {
	DoctorStageReached(ctx context.Context, visitID uuid.UUID) (bool, error)
}

type Service struct {
	repo   Repository
	visits VisitStageChecker
	logger zerolog.Logger
}

func NewService(repo Repository, visits VisitStageChecker, logger zerolog.Logger) *Service {
	return &Service{repo: repo, visits: visits, logger: logger}
}

// CreatePrescription records a doctor's medication order. New prescriptions
// start active, which pulls the pharmacy stage into the visit's sequence.
func (s *Service) CreatePrescription(ctx context.Context, p *Prescription, prescriberID string) (*Prescription, error) {
	p.Status = PrescriptionActive
	if prescriberID != "" {
		p.PrescriberID = &prescriberID
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if s.visits != nil {
		reached, err := s.visits.DoctorStageReached(ctx, p.VisitID)
		if err != nil {
			return nil, fmt.Errorf("check visit stage: %w", err)
		}
		if !reached {
			return nil, fmt.Errorf("visit %s has not reached the doctor stage", p.VisitID)
		}
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}
	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("visit_id", p.VisitID.String()).
		Int("items", len(p.Items)).
		Msg("prescription created")
	return p, nil
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	return s.repo.ListByVisit(ctx, visitID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// DispenseItem marks one medication line handed out. When every item of the
// prescription is dispensed the prescription completes.
func (s *Service) DispenseItem(ctx context.Context, prescriptionID, itemID uuid.UUID, dispensedBy string) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if p.Status != PrescriptionActive {
		return nil, fmt.Errorf("prescription is %s, only active prescriptions dispense", p.Status)
	}
	found := false
	for _, item := range p.Items {
		if item.ID == itemID {
			found = true
			if item.Dispensed {
				return nil, fmt.Errorf("item already dispensed")
			}
		}
	}
	if !found {
		return nil, ErrItemNotFound
	}
	if err := s.repo.MarkItemDispensed(ctx, itemID, dispensedBy); err != nil {
		return nil, err
	}

	p, err = s.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if p.AllDispensed() {
		if err := s.repo.UpdateStatus(ctx, p.ID, PrescriptionCompleted); err != nil {
			return nil, err
		}
		p.Status = PrescriptionCompleted
		s.logger.Info().
			Str("prescription_id", p.ID.String()).
			Msg("prescription fully dispensed")
	}
	return p, nil
}

func (s *Service) CancelPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == PrescriptionCompleted {
		return nil, fmt.Errorf("completed prescriptions cannot be cancelled")
	}
	if err := s.repo.UpdateStatus(ctx, id, PrescriptionCancelled); err != nil {
		return nil, err
	}
	p.Status = PrescriptionCancelled
	return p, nil
}

// VisitGateway adapts the pharmacy repository to the read-only view the
// visit workflow's consistency guard consumes.
type VisitGateway struct {
	repo Repository
}

func NewVisitGateway(repo Repository) *VisitGateway {
	return &VisitGateway{repo: repo}
}

func (g *VisitGateway) HasActivePrescriptions(ctx context.Context, visitID uuid.UUID) (bool, error) {
	n, err := g.repo.CountActiveByVisit(ctx, visitID)
	return n > 0, err
}

func (g *VisitGateway) HasUndispensedItems(ctx context.Context, visitID uuid.UUID) (bool, error) {
	n, err := g.repo.CountUndispensedByVisit(ctx, visitID)
	return n > 0, err
}
