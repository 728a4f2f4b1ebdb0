package lab

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("lab test not found")

type Repository interface {
	Create(ctx context.Context, t *LabTest) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error)
	Update(ctx context.Context, t *LabTest) error
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*LabTest, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabTest, int, error)
	CountByVisit(ctx context.Context, visitID uuid.UUID) (int, error)
	CountUnresolvedByVisit(ctx context.Context, visitID uuid.UUID) (int, error)
	CountDoctorOrderedByVisit(ctx context.Context, visitID uuid.UUID) (int, error)
}
