package visit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/outbox"
)

// TxRunner executes fn atomically. In production this is db.WithTx over the
// connection pool; tests substitute a passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Outbox stages queue events inside the transition transaction. Satisfied by
// *outbox.Store.
type Outbox interface {
	Enqueue(ctx context.Context, entries []*outbox.Entry) error
}

// Service is the sole authority for mutating a visit's stage fields.
type Service struct {
	repo   Repository
	guard  *Guard
	outbox Outbox
	runTx  TxRunner
	logger zerolog.Logger
}

func NewService(repo Repository, guard *Guard, ob Outbox, runTx TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, guard: guard, outbox: ob, runTx: runTx, logger: logger}
}

// CreateVisitInput is the reception check-in request.
type CreateVisitInput struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	VisitType     VisitType  `json:"visit_type"`
	Notes         *string    `json:"notes,omitempty"`
}

// TransitionPayload carries the stage-specific data submitted with a
// transition request.
type TransitionPayload struct {
	Notes     *string `json:"notes,omitempty"`
	Diagnosis *string `json:"diagnosis,omitempty"`
}

// CreateVisit checks a patient in at reception. The visit starts at the
// reception stage with every stage pending.
func (s *Service) CreateVisit(ctx context.Context, input CreateVisitInput, actorID string) (*Visit, error) {
	if input.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if !input.VisitType.Valid() {
		return nil, fmt.Errorf("invalid visit_type %q", input.VisitType)
	}

	v := &Visit{
		PatientID:     input.PatientID,
		DoctorID:      input.DoctorID,
		AppointmentID: input.AppointmentID,
		VisitType:     input.VisitType,
		CurrentStage:  StageReception,
		OverallStatus: VisitActive,

		ReceptionStatus: StatusInProgress,
		ReceptionNotes:  input.Notes,
		NurseStatus:     StatusPending,
		DoctorStatus:    StatusPending,
		LabStatus:       StatusPending,
		PharmacyStatus:  StatusPending,
		BillingStatus:   StatusPending,
	}

	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, v); err != nil {
			return fmt.Errorf("create visit: %w", err)
		}
		if err := s.appendHistory(ctx, v, StageReception, ActionCheckedIn, RoleReceptionist, actorID, input.Notes); err != nil {
			return err
		}
		return s.enqueueEvents(ctx, v, "checked_in")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("patient_id", v.PatientID.String()).
		Str("visit_type", string(v.VisitType)).
		Msg("visit checked in")
	return v, nil
}

// RequestTransition marks targetStage completed on behalf of actingRole and
// routes the visit to its next stage. targetStage must be the visit's
// current stage; the acting role must own it; the consistency guard must
// accept it. The stage mutation, the completion timestamp, the history row
// and the queue events commit in one transaction.
func (s *Service) RequestTransition(ctx context.Context, visitID uuid.UUID, actingRole string, targetStage Stage, actorID string, payload TransitionPayload) (*Visit, error) {
	var result *Visit
	err := s.runTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetByID(ctx, visitID)
		if err != nil {
			return err
		}
		if v.IsTerminal() {
			return fmt.Errorf("%w: visit is %s", ErrVisitTerminal, v.OverallStatus)
		}
		if !RoleOwnsStage(actingRole, targetStage) {
			return fmt.Errorf("%w: role %s cannot act on the %s stage", ErrInvalidTransition, actingRole, targetStage)
		}
		if targetStage != v.CurrentStage {
			return fmt.Errorf("%w: visit is at the %s stage, not %s", ErrInvalidTransition, v.CurrentStage, targetStage)
		}
		if err := s.guard.CheckStageCompletion(ctx, v, targetStage); err != nil {
			return err
		}

		now := time.Now().UTC()
		reviewing := targetStage == StageDoctor && v.DoctorStatus == StatusPendingReview
		s.applyPayload(v, targetStage, payload, now)
		v.setStageStatus(targetStage, StatusStageComplete, now)
		if reviewing {
			v.LabResultsReviewed = true
			v.LabReviewedAt = &now
		}

		action := ActionStageCompleted
		loopBack := false
		if targetStage == StageLab {
			loopBack, err = s.guard.ShouldLoopBackToDoctor(ctx, v)
			if err != nil {
				return err
			}
		}
		if loopBack {
			// Lab results are back for a doctor-ordered test: re-open the
			// doctor stage for review instead of advancing.
			v.setStageStatus(StageDoctor, StatusPendingReview, now)
			v.LabResultsReviewed = false
			v.LabReviewedAt = nil
			v.CurrentStage = StageDoctor
		} else {
			satisfied, err := s.guard.SatisfiedStages(ctx, v)
			if err != nil {
				return err
			}
			v.CurrentStage = NextStage(v.VisitType, satisfied)
			if v.CurrentStage == StageCompleted {
				v.OverallStatus = VisitCompleted
				action = ActionVisitCompleted
			}
		}

		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, v, targetStage, action, actingRole, actorID, payload.Notes); err != nil {
			return err
		}
		if loopBack {
			if err := s.appendHistory(ctx, v, StageDoctor, ActionStageReopened, actingRole, actorID, nil); err != nil {
				return err
			}
		}
		if err := s.enqueueEvents(ctx, v, string(targetStage)+"_completed"); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", result.ID.String()).
		Str("stage", string(targetStage)).
		Str("next_stage", string(result.CurrentStage)).
		Str("role", actingRole).
		Msg("stage completed")
	return result, nil
}

// Complete marks the visit completed overall. Requires the billing stage to
// be done; normally the billing transition already terminates the visit and
// this is a no-op guardrail for the explicit API call.
func (s *Service) Complete(ctx context.Context, visitID uuid.UUID, actingRole, actorID string) (*Visit, error) {
	var result *Visit
	err := s.runTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetByID(ctx, visitID)
		if err != nil {
			return err
		}
		if v.IsTerminal() {
			return fmt.Errorf("%w: visit is %s", ErrVisitTerminal, v.OverallStatus)
		}
		if v.BillingStatus != StatusStageComplete {
			return fmt.Errorf("%w: billing stage must be completed first", ErrPreconditionFailed)
		}
		v.CurrentStage = StageCompleted
		v.OverallStatus = VisitCompleted
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, v, StageCompleted, ActionVisitCompleted, actingRole, actorID, nil); err != nil {
			return err
		}
		if err := s.enqueueEvents(ctx, v, "visit_completed"); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel terminates the visit from any non-terminal stage. Irreversible.
func (s *Service) Cancel(ctx context.Context, visitID uuid.UUID, actingRole, actorID, reason string) (*Visit, error) {
	var result *Visit
	err := s.runTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetByID(ctx, visitID)
		if err != nil {
			return err
		}
		if v.IsTerminal() {
			return fmt.Errorf("%w: visit is %s", ErrVisitTerminal, v.OverallStatus)
		}
		v.OverallStatus = VisitCancelled
		if reason != "" {
			v.CancelReason = &reason
		}
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, v, v.CurrentStage, ActionVisitCancelled, actingRole, actorID, v.CancelReason); err != nil {
			return err
		}
		if err := s.enqueueEvents(ctx, v, "visit_cancelled"); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", result.ID.String()).
		Str("reason", reason).
		Msg("visit cancelled")
	return result, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// DoctorStageReached reports whether the visit is at or past the doctor
// stage. The pharmacy workflow consults this before accepting a
// prescription.
func (s *Service) DoctorStageReached(ctx context.Context, visitID uuid.UUID) (bool, error) {
	v, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return false, err
	}
	return v.CurrentStage == StageDoctor ||
		v.DoctorStatus == StatusStageComplete ||
		v.DoctorStatus == StatusPendingReview, nil
}

func (s *Service) History(ctx context.Context, visitID uuid.UUID) ([]*StageHistoryEntry, error) {
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	return s.repo.HistoryForVisit(ctx, visitID)
}

func (s *Service) applyPayload(v *Visit, stage Stage, payload TransitionPayload, now time.Time) {
	if payload.Notes != nil {
		switch stage {
		case StageReception:
			v.ReceptionNotes = payload.Notes
		case StageNurse:
			v.NurseNotes = payload.Notes
		case StageDoctor:
			v.DoctorNotes = payload.Notes
		case StageLab:
			v.LabNotes = payload.Notes
		case StagePharmacy:
			v.PharmacyNotes = payload.Notes
		case StageBilling:
			v.BillingNotes = payload.Notes
		}
	}
	if stage == StageDoctor {
		if payload.Diagnosis != nil {
			v.Diagnosis = payload.Diagnosis
		}
		t := now
		v.ConsultationSavedAt = &t
	}
}

func (s *Service) appendHistory(ctx context.Context, v *Visit, stage Stage, action, role, actorID string, notes *string) error {
	entry := &StageHistoryEntry{
		VisitID:   v.ID,
		Stage:     stage,
		Action:    action,
		ActorRole: role,
		Notes:     notes,
	}
	if actorID != "" {
		entry.ActorID = &actorID
	}
	if err := s.repo.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append stage history: %w", err)
	}
	return nil
}

// queueChannels are the per-department broadcast channels. Every transition
// fans out to all of them: any department's queue view may need to add or
// drop the visit, whichever stage changed.
var queueChannels = []string{
	"doctor-queue",
	"nurse-queue",
	"lab-queue",
	"pharmacy-queue",
	"billing-queue",
}

func (s *Service) enqueueEvents(ctx context.Context, v *Visit, action string) error {
	channels := queueChannels
	if v.DoctorID != nil {
		channels = append(channels[:len(channels):len(channels)], "doctor-"+v.DoctorID.String())
	}
	entries := make([]*outbox.Entry, 0, len(channels))
	for _, ch := range channels {
		entries = append(entries, &outbox.Entry{
			VisitID:      v.ID,
			PatientID:    v.PatientID,
			Channel:      ch,
			Action:       action,
			CurrentStage: string(v.CurrentStage),
		})
	}
	if err := s.outbox.Enqueue(ctx, entries); err != nil {
		return fmt.Errorf("enqueue queue events: %w", err)
	}
	return nil
}
