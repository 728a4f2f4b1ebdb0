package visit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for visits and their stage history.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// Update persists the visit if and only if the stored version_id matches
	// v.VersionID, then increments it. A lost race returns
	// ErrConcurrentModification.
	Update(ctx context.Context, v *Visit) error
	ListByStage(ctx context.Context, stage Stage, limit, offset int) ([]*Visit, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)
	// CountActiveByStage returns the number of active visits waiting at each
	// stage, for the department dashboard.
	CountActiveByStage(ctx context.Context) (map[Stage]int, error)
	AppendHistory(ctx context.Context, entry *StageHistoryEntry) error
	HistoryForVisit(ctx context.Context, visitID uuid.UUID) ([]*StageHistoryEntry, error)
}
