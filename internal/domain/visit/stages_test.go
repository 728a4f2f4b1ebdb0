package visit

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRequiredStages(t *testing.T) {
	tests := []struct {
		visitType VisitType
		want      []Stage
	}{
		{TypeConsultation, []Stage{StageReception, StageNurse, StageDoctor, StageLab, StagePharmacy, StageBilling}},
		{TypeEmergency, []Stage{StageReception, StageNurse, StageDoctor, StageLab, StagePharmacy, StageBilling}},
		{TypeLabOnly, []Stage{StageReception, StageNurse, StageLab, StageBilling}},
		{TypePharmacyOnly, []Stage{StageReception, StagePharmacy, StageBilling}},
	}
	for _, tt := range tests {
		got := RequiredStages(tt.visitType)
		if len(got) != len(tt.want) {
			t.Fatalf("%s: expected %d stages, got %d", tt.visitType, len(tt.want), len(got))
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: stage %d = %s, want %s", tt.visitType, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNextStage(t *testing.T) {
	// Nothing satisfied: first required stage.
	if got := NextStage(TypeConsultation, map[Stage]bool{}); got != StageReception {
		t.Errorf("expected reception, got %s", got)
	}

	// Satisfied stages are skipped in order.
	satisfied := map[Stage]bool{StageReception: true, StageNurse: true}
	if got := NextStage(TypeConsultation, satisfied); got != StageDoctor {
		t.Errorf("expected doctor, got %s", got)
	}

	// Conditional stages with no orders behind them count as satisfied.
	satisfied[StageDoctor] = true
	satisfied[StageLab] = true
	satisfied[StagePharmacy] = true
	if got := NextStage(TypeConsultation, satisfied); got != StageBilling {
		t.Errorf("expected billing, got %s", got)
	}

	// All required stages satisfied: terminal.
	satisfied[StageBilling] = true
	if got := NextStage(TypeConsultation, satisfied); got != StageCompleted {
		t.Errorf("expected completed, got %s", got)
	}

	// A lab-only sequence never routes through doctor or pharmacy.
	labOnly := map[Stage]bool{StageReception: true, StageNurse: true}
	if got := NextStage(TypeLabOnly, labOnly); got != StageLab {
		t.Errorf("expected lab, got %s", got)
	}
	labOnly[StageLab] = true
	if got := NextStage(TypeLabOnly, labOnly); got != StageBilling {
		t.Errorf("expected billing, got %s", got)
	}
}

func TestRoleOwnsStage(t *testing.T) {
	tests := []struct {
		role  string
		stage Stage
		want  bool
	}{
		{RoleReceptionist, StageReception, true},
		{RoleNurse, StageNurse, true},
		{RoleDoctor, StageDoctor, true},
		{RoleLabTechnician, StageLab, true},
		{RolePharmacist, StagePharmacy, true},
		{RoleBilling, StageBilling, true},
		{RoleAdmin, StageReception, true},
		{RoleAdmin, StageBilling, true},
		{RoleAdmin, StageDoctor, false},
		{RoleNurse, StageDoctor, false},
		{RoleDoctor, StageLab, false},
		{RolePharmacist, StageBilling, false},
	}
	for _, tt := range tests {
		if got := RoleOwnsStage(tt.role, tt.stage); got != tt.want {
			t.Errorf("RoleOwnsStage(%s, %s) = %v, want %v", tt.role, tt.stage, got, tt.want)
		}
	}
}

func TestCheckIntegrity(t *testing.T) {
	now := time.Now()
	base := func() *Visit {
		return &Visit{
			ID:            uuid.New(),
			PatientID:     uuid.New(),
			VisitType:     TypeConsultation,
			CurrentStage:  StageNurse,
			OverallStatus: VisitActive,

			ReceptionStatus:      StatusStageComplete,
			ReceptionCompletedAt: &now,
			NurseStatus:          StatusPending,
			DoctorStatus:         StatusPending,
			LabStatus:            StatusPending,
			PharmacyStatus:       StatusPending,
			BillingStatus:        StatusPending,
		}
	}

	if err := base().CheckIntegrity(); err != nil {
		t.Errorf("expected consistent visit, got %v", err)
	}

	v := base()
	v.ReceptionCompletedAt = nil
	if err := v.CheckIntegrity(); err == nil {
		t.Error("expected error for completed stage without timestamp")
	}

	v = base()
	v.NurseCompletedAt = &now
	if err := v.CheckIntegrity(); err == nil {
		t.Error("expected error for timestamp on non-completed stage")
	}

	v = base()
	v.CurrentStage = StageNurse
	v.NurseStatus = StatusStageComplete
	v.NurseCompletedAt = &now
	if err := v.CheckIntegrity(); err == nil {
		t.Error("expected error for current_stage already completed")
	}

	// Pharmacy is not in the lab-only sequence, so it cannot be current.
	v = base()
	v.VisitType = TypeLabOnly
	v.CurrentStage = StagePharmacy
	if err := v.CheckIntegrity(); err == nil {
		t.Error("expected error for current_stage outside the visit type sequence")
	}

	v = base()
	v.CurrentStage = "triage"
	if err := v.CheckIntegrity(); err == nil {
		t.Error("expected error for unknown current_stage")
	}
}
