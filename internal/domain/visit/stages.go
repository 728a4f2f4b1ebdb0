package visit

// StageOrder is the canonical stage sequence. Required stages for a visit
// type are always a subsequence of this order; new stages append to the end
// so sequences for already-created visits keep their meaning.
var StageOrder = []Stage{
	StageReception,
	StageNurse,
	StageDoctor,
	StageLab,
	StagePharmacy,
	StageBilling,
}

var requiredByType = map[VisitType][]Stage{
	TypeConsultation: {StageReception, StageNurse, StageDoctor, StageLab, StagePharmacy, StageBilling},
	TypeEmergency:    {StageReception, StageNurse, StageDoctor, StageLab, StagePharmacy, StageBilling},
	TypeLabOnly:      {StageReception, StageNurse, StageLab, StageBilling},
	TypePharmacyOnly: {StageReception, StagePharmacy, StageBilling},
}

// conditionalByType lists stages that are only entered when the doctor
// ordered work for them: lab needs an ordered test, pharmacy an active
// prescription. Without orders they count as already satisfied and the
// sequence skips over them.
var conditionalByType = map[VisitType]map[Stage]bool{
	TypeConsultation: {StageLab: true, StagePharmacy: true},
	TypeEmergency:    {StageLab: true, StagePharmacy: true},
}

// RequiredStages returns the ordered mandatory stage sequence for a visit type.
func RequiredStages(vt VisitType) []Stage {
	return requiredByType[vt]
}

func stageRequired(vt VisitType, stage Stage) bool {
	for _, s := range requiredByType[vt] {
		if s == stage {
			return true
		}
	}
	return false
}

// stageConditional reports whether the stage is entered only on demand for
// the given visit type.
func stageConditional(vt VisitType, stage Stage) bool {
	return conditionalByType[vt][stage]
}

// NextStage returns the first stage in the visit type's sequence that is not
// in the satisfied set, or StageCompleted when none remain. Deterministic and
// side-effect free; the satisfied set is completed stages plus conditional
// stages with no pending orders.
func NextStage(vt VisitType, satisfied map[Stage]bool) Stage {
	for _, stage := range requiredByType[vt] {
		if !satisfied[stage] {
			return stage
		}
	}
	return StageCompleted
}

// Staff roles. The role-to-stage mapping is a fixed table; admin doubles for
// the desk roles (reception and billing).
const (
	RoleReceptionist  = "receptionist"
	RoleNurse         = "nurse"
	RoleDoctor        = "doctor"
	RoleLabTechnician = "lab_technician"
	RolePharmacist    = "pharmacist"
	RoleBilling       = "billing"
	RoleAdmin         = "admin"
)

var stageByRole = map[string]Stage{
	RoleReceptionist:  StageReception,
	RoleNurse:         StageNurse,
	RoleDoctor:        StageDoctor,
	RoleLabTechnician: StageLab,
	RolePharmacist:    StagePharmacy,
	RoleBilling:       StageBilling,
}

// StageForRole returns the stage whose queue the role works.
func StageForRole(role string) (Stage, bool) {
	stage, ok := stageByRole[role]
	return stage, ok
}

// RoleOwnsStage reports whether the acting role may complete the stage.
func RoleOwnsStage(role string, stage Stage) bool {
	if role == RoleAdmin {
		return stage == StageReception || stage == StageBilling
	}
	return stageByRole[role] == stage
}
