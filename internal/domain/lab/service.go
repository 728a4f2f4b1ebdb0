package lab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// OrderTestInput is a new test requisition.
type OrderTestInput struct {
	VisitID   *uuid.UUID `json:"visit_id,omitempty"`
	PatientID uuid.UUID  `json:"patient_id"`
	TestName  string     `json:"test_name"`
	TestCode  *string    `json:"test_code,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

func (s *Service) OrderTest(ctx context.Context, input OrderTestInput, orderedByID, orderedByRole string) (*LabTest, error) {
	if input.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if input.TestName == "" {
		return nil, fmt.Errorf("test_name is required")
	}
	t := &LabTest{
		VisitID:       input.VisitID,
		PatientID:     input.PatientID,
		OrderedByRole: orderedByRole,
		TestName:      input.TestName,
		TestCode:      input.TestCode,
		Notes:         input.Notes,
		Status:        TestPending,
	}
	if orderedByID != "" {
		t.OrderedByID = &orderedByID
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create lab test: %w", err)
	}
	s.logger.Info().
		Str("test_id", t.ID.String()).
		Str("test_name", t.TestName).
		Str("ordered_by_role", orderedByRole).
		Msg("lab test ordered")
	return t, nil
}

func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*LabTest, error) {
	return s.repo.ListByVisit(ctx, visitID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabTest, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// StartProcessing moves a pending test to in_progress.
func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != TestPending {
		return nil, fmt.Errorf("test is %s, only pending tests can start processing", t.Status)
	}
	t.Status = TestInProgress
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SubmitResults records a results payload and completes the test. A test
// never reaches completed with an empty or malformed payload.
func (s *Service) SubmitResults(ctx context.Context, id uuid.UUID, results *Results) (*LabTest, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == TestCompleted || t.Status == TestCancelled {
		return nil, fmt.Errorf("test is already %s", t.Status)
	}
	if err := results.Validate(); err != nil {
		return nil, fmt.Errorf("invalid results: %w", err)
	}
	now := time.Now().UTC()
	t.Results = results
	t.Status = TestCompleted
	t.CompletedAt = &now
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("test_id", t.ID.String()).
		Int("analytes", len(results.Analytes)).
		Msg("lab results submitted")
	return t, nil
}

func (s *Service) CancelTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == TestCompleted {
		return nil, fmt.Errorf("completed tests cannot be cancelled")
	}
	t.Status = TestCancelled
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// VisitGateway adapts the lab repository to the read-only view the visit
// workflow's consistency guard consumes.
type VisitGateway struct {
	repo Repository
}

func NewVisitGateway(repo Repository) *VisitGateway {
	return &VisitGateway{repo: repo}
}

func (g *VisitGateway) HasTests(ctx context.Context, visitID uuid.UUID) (bool, error) {
	n, err := g.repo.CountByVisit(ctx, visitID)
	return n > 0, err
}

func (g *VisitGateway) HasUnresolvedTests(ctx context.Context, visitID uuid.UUID) (bool, error) {
	n, err := g.repo.CountUnresolvedByVisit(ctx, visitID)
	return n > 0, err
}

func (g *VisitGateway) HasDoctorOrderedTests(ctx context.Context, visitID uuid.UUID) (bool, error) {
	n, err := g.repo.CountDoctorOrderedByVisit(ctx, visitID)
	return n > 0, err
}
