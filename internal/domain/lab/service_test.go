package lab

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	tests map[uuid.UUID]*LabTest
}

func newMockRepo() *mockRepo {
	return &mockRepo{tests: make(map[uuid.UUID]*LabTest)}
}

func (m *mockRepo) Create(_ context.Context, t *LabTest) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = time.Now()
	m.tests[t.ID] = t
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*LabTest, error) {
	t, ok := m.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *mockRepo) Update(_ context.Context, t *LabTest) error {
	m.tests[t.ID] = t
	return nil
}

func (m *mockRepo) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*LabTest, error) {
	var result []*LabTest
	for _, t := range m.tests {
		if t.VisitID != nil && *t.VisitID == visitID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*LabTest, int, error) {
	var result []*LabTest
	for _, t := range m.tests {
		if t.PatientID == patientID {
			result = append(result, t)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) CountByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	tests, _ := m.ListByVisit(ctx, visitID)
	n := 0
	for _, t := range tests {
		if t.Status != TestCancelled {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CountUnresolvedByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	tests, _ := m.ListByVisit(ctx, visitID)
	n := 0
	for _, t := range tests {
		if t.Status == TestPending || t.Status == TestInProgress {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CountDoctorOrderedByVisit(ctx context.Context, visitID uuid.UUID) (int, error) {
	tests, _ := m.ListByVisit(ctx, visitID)
	n := 0
	for _, t := range tests {
		if t.OrderedByRole == "doctor" && t.Status != TestCancelled {
			n++
		}
	}
	return n, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func orderCBC(t *testing.T, svc *Service, visitID uuid.UUID) *LabTest {
	t.Helper()
	test, err := svc.OrderTest(context.Background(), OrderTestInput{
		VisitID:   &visitID,
		PatientID: uuid.New(),
		TestName:  "CBC",
	}, "doc-1", "doctor")
	if err != nil {
		t.Fatalf("order test: %v", err)
	}
	return test
}

func TestResultsValidate(t *testing.T) {
	var empty Results
	if err := empty.Validate(); err == nil {
		t.Error("expected error for empty results")
	}

	blank := " "
	textOnly := Results{Text: &blank}
	if err := textOnly.Validate(); err == nil {
		t.Error("expected error for blank free-text results")
	}

	report := "no abnormality detected"
	textOnly.Text = &report
	if err := textOnly.Validate(); err != nil {
		t.Errorf("expected free-text results accepted, got %v", err)
	}

	structured := Results{Analytes: []Analyte{
		{Name: "WBC", Value: "6.1", Unit: "10^9/L", NormalRange: "4.0-11.0", Status: "normal"},
	}}
	if err := structured.Validate(); err != nil {
		t.Errorf("expected structured results accepted, got %v", err)
	}

	structured.Analytes = append(structured.Analytes, Analyte{Name: "HGB", Value: "9.1"})
	if err := structured.Validate(); err == nil {
		t.Error("expected error for analyte missing unit and range")
	}
}

func TestSubmitResultsCompletesTest(t *testing.T) {
	svc, _ := newTestService()
	test := orderCBC(t, svc, uuid.New())

	// Empty payload is refused; the test stays pending.
	if _, err := svc.SubmitResults(context.Background(), test.ID, &Results{}); err == nil {
		t.Fatal("expected error for empty results")
	}
	got, _ := svc.GetTest(context.Background(), test.ID)
	if got.Status != TestPending {
		t.Fatalf("expected pending after rejection, got %s", got.Status)
	}

	results := &Results{Analytes: []Analyte{
		{Name: "WBC", Value: "6.1", Unit: "10^9/L", NormalRange: "4.0-11.0", Status: "normal"},
	}}
	got, err := svc.SubmitResults(context.Background(), test.ID, results)
	if err != nil {
		t.Fatalf("submit results: %v", err)
	}
	if got.Status != TestCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}

	// Double submission is refused.
	if _, err := svc.SubmitResults(context.Background(), test.ID, results); err == nil {
		t.Error("expected error on resubmission")
	}
}

func TestCancelCompletedTestRefused(t *testing.T) {
	svc, _ := newTestService()
	test := orderCBC(t, svc, uuid.New())

	report := "normal"
	if _, err := svc.SubmitResults(context.Background(), test.ID, &Results{Text: &report}); err != nil {
		t.Fatalf("submit results: %v", err)
	}
	if _, err := svc.CancelTest(context.Background(), test.ID); err == nil {
		t.Error("expected error cancelling a completed test")
	}
}

func TestVisitGateway(t *testing.T) {
	svc, repo := newTestService()
	gw := NewVisitGateway(repo)
	ctx := context.Background()
	visitID := uuid.New()

	has, err := gw.HasTests(ctx, visitID)
	if err != nil || has {
		t.Fatalf("expected no tests, got has=%v err=%v", has, err)
	}

	test := orderCBC(t, svc, visitID)

	if has, _ = gw.HasTests(ctx, visitID); !has {
		t.Error("expected tests for visit")
	}
	if unresolved, _ := gw.HasUnresolvedTests(ctx, visitID); !unresolved {
		t.Error("expected unresolved pending test")
	}
	if doctorOrdered, _ := gw.HasDoctorOrderedTests(ctx, visitID); !doctorOrdered {
		t.Error("expected doctor-ordered test")
	}

	report := "normal"
	if _, err := svc.SubmitResults(ctx, test.ID, &Results{Text: &report}); err != nil {
		t.Fatalf("submit results: %v", err)
	}
	if unresolved, _ := gw.HasUnresolvedTests(ctx, visitID); unresolved {
		t.Error("expected no unresolved tests after completion")
	}

	// Cancelled tests stop counting entirely.
	other := orderCBC(t, svc, visitID)
	if _, err := svc.CancelTest(ctx, other.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if unresolved, _ := gw.HasUnresolvedTests(ctx, visitID); unresolved {
		t.Error("cancelled test must not count as unresolved")
	}
}
