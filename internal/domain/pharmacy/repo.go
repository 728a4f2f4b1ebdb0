package pharmacy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("prescription not found")
	ErrItemNotFound = errors.New("prescription item not found")
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status PrescriptionStatus) error
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	MarkItemDispensed(ctx context.Context, itemID uuid.UUID, dispensedBy string) error
	CountActiveByVisit(ctx context.Context, visitID uuid.UUID) (int, error)
	CountUndispensedByVisit(ctx context.Context, visitID uuid.UUID) (int, error)
}
