package pharmacy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	prescriptions map[uuid.UUID]*Prescription
}

func newMockRepo() *mockRepo {
	return &mockRepo{prescriptions: make(map[uuid.UUID]*Prescription)}
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	for _, item := range p.Items {
		item.ID = uuid.New()
		item.PrescriptionID = p.ID
	}
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status PrescriptionStatus) error {
	p, ok := m.prescriptions[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *mockRepo) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	var result []*Prescription
	for _, p := range m.prescriptions {
		if p.VisitID == visitID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var result []*Prescription
	for _, p := range m.prescriptions {
		if p.PatientID == patientID {
			result = append(result, p)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) MarkItemDispensed(_ context.Context, itemID uuid.UUID, dispensedBy string) error {
	for _, p := range m.prescriptions {
		for _, item := range p.Items {
			if item.ID == itemID {
				now := time.Now()
				item.Dispensed = true
				item.DispensedAt = &now
				item.DispensedBy = &dispensedBy
				return nil
			}
		}
	}
	return ErrItemNotFound
}

func (m *mockRepo) CountActiveByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	result, _ := m.ListByVisit(ctx, visitID)
	n := 0
	for _, p := range result {
		if p.Status == PrescriptionActive {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CountUndispensedByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	result, _ := m.ListByVisit(ctx, visitID)
	n := 0
	for _, p := range result {
		if p.Status != PrescriptionActive {
			continue
		}
		for _, item := range p.Items {
			if !item.Dispensed {
				n++
			}
		}
	}
	return n, nil
}

type stubStageChecker struct {
	reached bool
}

func (s *stubStageChecker) DoctorStageReached(_ context.Context, _ uuid.UUID) (bool, error) {
	return s.reached, nil
}

func newTestService(reached bool) (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, &stubStageChecker{reached: reached}, zerolog.Nop()), repo
}

func samplePrescription() *Prescription {
	return &Prescription{
		VisitID:   uuid.New(),
		PatientID: uuid.New(),
		Items: []*PrescriptionItem{
			{Medication: "amoxicillin", Dosage: "500mg", Frequency: "tid", Duration: "7d", Quantity: 21},
			{Medication: "paracetamol", Dosage: "1g", Frequency: "prn", Duration: "3d", Quantity: 9},
		},
	}
}

func TestCreatePrescriptionValidates(t *testing.T) {
	svc, _ := newTestService(true)

	p := samplePrescription()
	p.Items = nil
	if _, err := svc.CreatePrescription(context.Background(), p, "doc-1"); err == nil {
		t.Error("expected error for prescription without items")
	}

	p = samplePrescription()
	p.Items[0].Quantity = 0
	if _, err := svc.CreatePrescription(context.Background(), p, "doc-1"); err == nil {
		t.Error("expected error for zero quantity")
	}

	p = samplePrescription()
	created, err := svc.CreatePrescription(context.Background(), p, "doc-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != PrescriptionActive {
		t.Errorf("expected active, got %s", created.Status)
	}
}

func TestCreatePrescriptionRequiresDoctorStage(t *testing.T) {
	svc, _ := newTestService(false)
	_, err := svc.CreatePrescription(context.Background(), samplePrescription(), "doc-1")
	if err == nil {
		t.Error("expected error when the visit never reached the doctor stage")
	}
}

func TestDispenseCompletesWhenAllItemsOut(t *testing.T) {
	svc, repo := newTestService(true)
	gw := NewVisitGateway(repo)
	ctx := context.Background()

	p, err := svc.CreatePrescription(ctx, samplePrescription(), "doc-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if undispensed, _ := gw.HasUndispensedItems(ctx, p.VisitID); !undispensed {
		t.Fatal("expected undispensed items after creation")
	}
	if active, _ := gw.HasActivePrescriptions(ctx, p.VisitID); !active {
		t.Fatal("expected active prescription")
	}

	p, err = svc.DispenseItem(ctx, p.ID, p.Items[0].ID, "rx-1")
	if err != nil {
		t.Fatalf("dispense first item: %v", err)
	}
	if p.Status != PrescriptionActive {
		t.Errorf("expected still active with one item left, got %s", p.Status)
	}

	// Dispensing the same item twice is refused.
	if _, err := svc.DispenseItem(ctx, p.ID, p.Items[0].ID, "rx-1"); err == nil {
		t.Error("expected error dispensing an already-dispensed item")
	}

	p, err = svc.DispenseItem(ctx, p.ID, p.Items[1].ID, "rx-1")
	if err != nil {
		t.Fatalf("dispense second item: %v", err)
	}
	if p.Status != PrescriptionCompleted {
		t.Errorf("expected completed after full dispense, got %s", p.Status)
	}
	if undispensed, _ := gw.HasUndispensedItems(ctx, p.VisitID); undispensed {
		t.Error("expected no undispensed items")
	}
}

func TestCancelledPrescriptionDropsOutOfGate(t *testing.T) {
	svc, repo := newTestService(true)
	gw := NewVisitGateway(repo)
	ctx := context.Background()

	p, err := svc.CreatePrescription(ctx, samplePrescription(), "doc-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CancelPrescription(ctx, p.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if active, _ := gw.HasActivePrescriptions(ctx, p.VisitID); active {
		t.Error("cancelled prescription must not count as active")
	}
	if undispensed, _ := gw.HasUndispensedItems(ctx, p.VisitID); undispensed {
		t.Error("cancelled prescription items must not block the pharmacy gate")
	}
}
