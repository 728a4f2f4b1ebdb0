package patient

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	patients map[uuid.UUID]Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]Patient)}
}

func (m *mockRepo) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = *p
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *mockRepo) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	for _, p := range m.patients {
		if p.MRN == mrn {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(ctx context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = *p
	return nil
}

func (m *mockRepo) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		if query == "" || strings.Contains(strings.ToLower(p.LastName), strings.ToLower(query)) {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func TestRegisterAssignsMRN(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())

	p, err := svc.Register(context.Background(), &Patient{FirstName: "Asha", LastName: "Rao"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.HasPrefix(p.MRN, "MRN-") {
		t.Errorf("MRN = %q, want MRN- prefix", p.MRN)
	}
	if len(p.MRN) != len("MRN-")+8 {
		t.Errorf("MRN = %q, want 8-char suffix", p.MRN)
	}
	if !p.Active {
		t.Error("registered patient should be active")
	}

	got, err := svc.GetByMRN(context.Background(), p.MRN)
	if err != nil {
		t.Fatalf("GetByMRN: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("GetByMRN returned %s, want %s", got.ID, p.ID)
	}
}

func TestRegisterValidates(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())

	if _, err := svc.Register(context.Background(), &Patient{FirstName: "NoLast"}); err == nil {
		t.Error("expected validation error for missing last name")
	}
}

func TestRegisterKeepsProvidedMRN(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())

	p, err := svc.Register(context.Background(), &Patient{FirstName: "Asha", LastName: "Rao", MRN: "MRN-LEGACY01"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.MRN != "MRN-LEGACY01" {
		t.Errorf("MRN = %q, want provided value kept", p.MRN)
	}
}
