// Package lab manages lab test orders and their results. The workflow's
// consistency guard reads lab state through the visit gateway; completing a
// test always requires a validated results payload.
package lab

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TestStatus string

const (
	TestPending    TestStatus = "pending"
	TestInProgress TestStatus = "in_progress"
	TestCompleted  TestStatus = "completed"
	TestCancelled  TestStatus = "cancelled"
)

func (s TestStatus) Valid() bool {
	switch s {
	case TestPending, TestInProgress, TestCompleted, TestCancelled:
		return true
	}
	return false
}

// Analyte is one measured value within a results payload.
type Analyte struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Unit        string `json:"unit"`
	NormalRange string `json:"normal_range"`
	Status      string `json:"status"`
}

// Results is the canonical results schema: structured per-analyte entries,
// with Text as the escape hatch for narrative-only reports. At least one of
// the two must be present for a completed test.
type Results struct {
	Analytes        []Analyte `json:"analytes,omitempty"`
	Interpretation  *string   `json:"interpretation,omitempty"`
	Recommendations *string   `json:"recommendations,omitempty"`
	Text            *string   `json:"text,omitempty"`
}

// Empty reports whether the payload carries no result data at all.
func (r *Results) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.Analytes) == 0 && (r.Text == nil || strings.TrimSpace(*r.Text) == "")
}

// Validate checks the payload is well-formed: every analyte entry fully
// populated, or a non-blank free-text report.
func (r *Results) Validate() error {
	if r.Empty() {
		return fmt.Errorf("results payload is empty")
	}
	for i, a := range r.Analytes {
		if a.Name == "" || a.Value == "" || a.Unit == "" || a.NormalRange == "" || a.Status == "" {
			return fmt.Errorf("analyte %d (%q) is missing a required field", i, a.Name)
		}
	}
	return nil
}

// LabTest is a single ordered test. VisitID is nullable: labs can be ordered
// outside a visit (walk-in requisitions).
type LabTest struct {
	ID            uuid.UUID  `json:"id"`
	VisitID       *uuid.UUID `json:"visit_id,omitempty"`
	PatientID     uuid.UUID  `json:"patient_id"`
	OrderedByID   *string    `json:"ordered_by_id,omitempty"`
	OrderedByRole string     `json:"ordered_by_role"`
	TestName      string     `json:"test_name"`
	TestCode      *string    `json:"test_code,omitempty"`
	Status        TestStatus `json:"status"`
	Results       *Results   `json:"results,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
