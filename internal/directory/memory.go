package directory

import (
	"context"
	"sync"
)

// Memory is an in-process Directory for tests and local runs.
type Memory struct {
	mu       sync.RWMutex
	patients map[string]Patient
	users    []User
	doctors  map[string]string
}

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{patients: make(map[string]Patient), doctors: make(map[string]string)}
}

func memKey(tenantID, id string) string { return tenantID + "/" + id }

// AddPatient registers a patient.
func (m *Memory) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[memKey(p.TenantID, p.ID)] = p
}

// AddUser registers a staff user.
func (m *Memory) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, u)
}

// AddDoctor registers a doctor name.
func (m *Memory) AddDoctor(tenantID, id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[memKey(tenantID, id)] = name
}

func (m *Memory) Patient(_ context.Context, tenantID, patientID string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[memKey(tenantID, patientID)]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *Memory) UsersByRole(_ context.Context, tenantID string, roles ...Role) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.TenantID != tenantID {
			continue
		}
		for _, r := range roles {
			if u.Role == r {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) DoctorName(_ context.Context, tenantID, doctorID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doctors[memKey(tenantID, doctorID)], nil
}

var _ Directory = (*Memory)(nil)
