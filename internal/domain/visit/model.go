// Package visit implements the patient visit workflow: the multi-stage
// lifecycle that routes a patient through reception, nursing, consultation,
// lab, pharmacy and billing, with per-role queues and real-time queue events.
package visit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VisitType determines which stages are mandatory for a visit.
type VisitType string

const (
	TypeConsultation VisitType = "consultation"
	TypeLabOnly      VisitType = "lab_only"
	TypePharmacyOnly VisitType = "pharmacy_only"
	TypeEmergency    VisitType = "emergency"
)

func (vt VisitType) Valid() bool {
	switch vt {
	case TypeConsultation, TypeLabOnly, TypePharmacyOnly, TypeEmergency:
		return true
	}
	return false
}

// Stage is a department checkpoint a visit passes through. StageCompleted is
// the terminal pseudo-stage reached when no required stage remains.
type Stage string

const (
	StageReception Stage = "reception"
	StageNurse     Stage = "nurse"
	StageDoctor    Stage = "doctor"
	StageLab       Stage = "lab"
	StagePharmacy  Stage = "pharmacy"
	StageBilling   Stage = "billing"
	StageCompleted Stage = "completed"
)

func (s Stage) Valid() bool {
	switch s {
	case StageReception, StageNurse, StageDoctor, StageLab, StagePharmacy, StageBilling, StageCompleted:
		return true
	}
	return false
}

// StageStatus is the progress of a single stage within a visit.
// StatusPendingReview only ever appears on the doctor stage, when lab
// results return for a doctor-ordered test.
type StageStatus string

const (
	StatusPending       StageStatus = "pending"
	StatusInProgress    StageStatus = "in_progress"
	StatusStageComplete StageStatus = "completed"
	StatusPendingReview StageStatus = "pending_review"
)

// OverallStatus is the visit lifecycle status. Completed and Cancelled are
// terminal: no stage mutation is permitted afterwards.
type OverallStatus string

const (
	VisitActive    OverallStatus = "active"
	VisitCompleted OverallStatus = "completed"
	VisitCancelled OverallStatus = "cancelled"
)

// Visit is one patient encounter. The visit row is the unit of mutual
// exclusion: all stage mutations go through the service and are guarded by
// an optimistic version check on VersionID.
type Visit struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`

	VisitType     VisitType     `json:"visit_type"`
	CurrentStage  Stage         `json:"current_stage"`
	OverallStatus OverallStatus `json:"overall_status"`

	ReceptionStatus      StageStatus `json:"reception_status"`
	ReceptionNotes       *string     `json:"reception_notes,omitempty"`
	ReceptionCompletedAt *time.Time  `json:"reception_completed_at,omitempty"`

	NurseStatus      StageStatus `json:"nurse_status"`
	NurseNotes       *string     `json:"nurse_notes,omitempty"`
	NurseCompletedAt *time.Time  `json:"nurse_completed_at,omitempty"`

	DoctorStatus        StageStatus `json:"doctor_status"`
	Diagnosis           *string     `json:"diagnosis,omitempty"`
	DoctorNotes         *string     `json:"doctor_notes,omitempty"`
	ConsultationSavedAt *time.Time  `json:"consultation_saved_at,omitempty"`
	DoctorCompletedAt   *time.Time  `json:"doctor_completed_at,omitempty"`

	LabStatus          StageStatus `json:"lab_status"`
	LabNotes           *string     `json:"lab_notes,omitempty"`
	LabResultsReviewed bool        `json:"lab_results_reviewed"`
	LabReviewedAt      *time.Time  `json:"lab_reviewed_at,omitempty"`
	LabCompletedAt     *time.Time  `json:"lab_completed_at,omitempty"`

	PharmacyStatus      StageStatus `json:"pharmacy_status"`
	PharmacyNotes       *string     `json:"pharmacy_notes,omitempty"`
	PharmacyCompletedAt *time.Time  `json:"pharmacy_completed_at,omitempty"`

	BillingStatus      StageStatus `json:"billing_status"`
	BillingNotes       *string     `json:"billing_notes,omitempty"`
	BillingCompletedAt *time.Time  `json:"billing_completed_at,omitempty"`

	CancelReason *string `json:"cancel_reason,omitempty"`

	VersionID int       `json:"version_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the visit allows no further stage mutations.
func (v *Visit) IsTerminal() bool {
	return v.OverallStatus == VisitCompleted || v.OverallStatus == VisitCancelled
}

// StageStatusOf returns the status of the given stage.
func (v *Visit) StageStatusOf(stage Stage) StageStatus {
	switch stage {
	case StageReception:
		return v.ReceptionStatus
	case StageNurse:
		return v.NurseStatus
	case StageDoctor:
		return v.DoctorStatus
	case StageLab:
		return v.LabStatus
	case StagePharmacy:
		return v.PharmacyStatus
	case StageBilling:
		return v.BillingStatus
	}
	return ""
}

// StageCompletedAt returns the completion timestamp of the given stage.
func (v *Visit) StageCompletedAt(stage Stage) *time.Time {
	switch stage {
	case StageReception:
		return v.ReceptionCompletedAt
	case StageNurse:
		return v.NurseCompletedAt
	case StageDoctor:
		return v.DoctorCompletedAt
	case StageLab:
		return v.LabCompletedAt
	case StagePharmacy:
		return v.PharmacyCompletedAt
	case StageBilling:
		return v.BillingCompletedAt
	}
	return nil
}

// setStageStatus mutates a stage's status and keeps the completion timestamp
// in lockstep: the timestamp is set exactly when the status is completed.
func (v *Visit) setStageStatus(stage Stage, status StageStatus, now time.Time) {
	var completedAt *time.Time
	if status == StatusStageComplete {
		t := now
		completedAt = &t
	}
	switch stage {
	case StageReception:
		v.ReceptionStatus, v.ReceptionCompletedAt = status, completedAt
	case StageNurse:
		v.NurseStatus, v.NurseCompletedAt = status, completedAt
	case StageDoctor:
		v.DoctorStatus, v.DoctorCompletedAt = status, completedAt
	case StageLab:
		v.LabStatus, v.LabCompletedAt = status, completedAt
	case StagePharmacy:
		v.PharmacyStatus, v.PharmacyCompletedAt = status, completedAt
	case StageBilling:
		v.BillingStatus, v.BillingCompletedAt = status, completedAt
	}
}

// CompletedStages returns the set of stages this visit has completed.
func (v *Visit) CompletedStages() map[Stage]bool {
	done := make(map[Stage]bool, len(StageOrder))
	for _, stage := range StageOrder {
		if v.StageStatusOf(stage) == StatusStageComplete {
			done[stage] = true
		}
	}
	return done
}

// CheckIntegrity verifies the visit's stage fields are mutually consistent.
// A non-nil error marks the record as corrupt; queue views exclude it.
func (v *Visit) CheckIntegrity() error {
	if !v.VisitType.Valid() {
		return fmt.Errorf("unknown visit_type %q", v.VisitType)
	}
	if !v.CurrentStage.Valid() {
		return fmt.Errorf("unknown current_stage %q", v.CurrentStage)
	}
	for _, stage := range StageOrder {
		status := v.StageStatusOf(stage)
		completedAt := v.StageCompletedAt(stage)
		if status == StatusStageComplete && completedAt == nil {
			return fmt.Errorf("stage %s completed without timestamp", stage)
		}
		if status != StatusStageComplete && completedAt != nil {
			return fmt.Errorf("stage %s has completion timestamp but status %q", stage, status)
		}
	}
	if v.CurrentStage != StageCompleted {
		if !stageRequired(v.VisitType, v.CurrentStage) {
			return fmt.Errorf("current_stage %s not in %s sequence", v.CurrentStage, v.VisitType)
		}
		if v.StageStatusOf(v.CurrentStage) == StatusStageComplete {
			return fmt.Errorf("current_stage %s already completed", v.CurrentStage)
		}
	}
	return nil
}

// StageHistoryEntry records one workflow action on a visit, append-only.
type StageHistoryEntry struct {
	ID        int64     `json:"id"`
	VisitID   uuid.UUID `json:"visit_id"`
	Stage     Stage     `json:"stage"`
	Action    string    `json:"action"`
	ActorID   *string   `json:"actor_id,omitempty"`
	ActorRole string    `json:"actor_role"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// History actions.
const (
	ActionCheckedIn      = "checked_in"
	ActionStageCompleted = "stage_completed"
	ActionStageReopened  = "stage_reopened"
	ActionVisitCompleted = "visit_completed"
	ActionVisitCancelled = "visit_cancelled"
)
