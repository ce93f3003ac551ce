package appointments

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/clinicops/internal/codes"
	"github.com/wolfman30/clinicops/internal/recurrence"
)

// MemoryRepository is an in-process Repository. It enforces the same
// uniqueness rules as the Postgres indexes.
type MemoryRepository struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]Appointment
	series map[uuid.UUID]Series
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appts:  make(map[uuid.UUID]Appointment),
		series: make(map[uuid.UUID]Series),
	}
}

func (m *MemoryRepository) Get(_ context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) ExistsActiveOnDay(_ context.Context, tenantID, patientID string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day = DateOnly(day)
	for _, a := range m.appts {
		if a.TenantID == tenantID && a.PatientID == patientID && a.Date.Equal(day) && a.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) Create(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prepareForCreate(appt)
	for _, a := range m.appts {
		if a.TenantID != appt.TenantID {
			continue
		}
		switch {
		case a.Code == appt.Code && appt.Code != "":
			return ErrDuplicate
		case appt.PreviousAppointmentID != nil && a.PreviousAppointmentID != nil && *a.PreviousAppointmentID == *appt.PreviousAppointmentID:
			return ErrDuplicate
		case appt.ReplacesAppointmentID != nil && a.ReplacesAppointmentID != nil && *a.ReplacesAppointmentID == *appt.ReplacesAppointmentID:
			return ErrDuplicate
		case appt.SeriesID != nil && a.SeriesID != nil && *a.SeriesID == *appt.SeriesID &&
			a.Date.Equal(appt.Date) && a.Status.Active() && appt.Status.Active():
			return ErrDuplicate
		}
	}
	m.appts[appt.ID] = *appt
	return nil
}

// Put stores appt as-is, overwriting any prior version. Used to seed state.
func (m *MemoryRepository) Put(appt Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.Date = DateOnly(appt.Date)
	m.appts[appt.ID] = appt
}

func (m *MemoryRepository) FindSuccessor(_ context.Context, tenantID string, previousID uuid.UUID) (*Appointment, error) {
	return m.first(func(a Appointment) bool {
		return a.TenantID == tenantID && a.PreviousAppointmentID != nil && *a.PreviousAppointmentID == previousID
	}), nil
}

func (m *MemoryRepository) FindReplacement(_ context.Context, tenantID string, cancelledID uuid.UUID) (*Appointment, error) {
	return m.first(func(a Appointment) bool {
		return a.TenantID == tenantID && a.ReplacesAppointmentID != nil && *a.ReplacesAppointmentID == cancelledID
	}), nil
}

func (m *MemoryRepository) first(match func(Appointment) bool) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if match(a) {
			found := a
			return &found
		}
	}
	return nil
}

func (m *MemoryRepository) ListCompletedRecurring(_ context.Context, tenantID string, since time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		if a.Status != StatusCompleted || stamp(a.CompletedAt, a.UpdatedAt).Before(since) {
			continue
		}
		if a.SeriesID == nil {
			if _, ok := recurrence.FrequencyFromNotes(a.Notes); !ok {
				continue
			}
		}
		if m.hasLocked(func(s Appointment) bool { return s.PreviousAppointmentID != nil && *s.PreviousAppointmentID == a.ID }) {
			continue
		}
		out = append(out, a)
	}
	sortAppointments(out)
	return out, nil
}

func (m *MemoryRepository) ListCancelledUnfilled(_ context.Context, tenantID string, since, notBefore time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notBefore = DateOnly(notBefore)
	var out []Appointment
	for _, a := range m.appts {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		if a.Status != StatusCancelled || stamp(a.CancelledAt, a.UpdatedAt).Before(since) || a.Date.Before(notBefore) {
			continue
		}
		if m.hasLocked(func(s Appointment) bool { return s.ReplacesAppointmentID != nil && *s.ReplacesAppointmentID == a.ID }) {
			continue
		}
		out = append(out, a)
	}
	sortAppointments(out)
	return out, nil
}

func (m *MemoryRepository) hasLocked(match func(Appointment) bool) bool {
	for _, a := range m.appts {
		if match(a) {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) GetSeries(_ context.Context, tenantID string, id uuid.UUID) (*Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrSeriesNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) CreateSeries(_ context.Context, s *Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.series[s.ID] = *s
	return nil
}

func (m *MemoryRepository) AttachSeries(_ context.Context, tenantID string, appointmentID, seriesID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[appointmentID]
	if !ok || a.TenantID != tenantID || a.SeriesID != nil {
		return ErrNotFound
	}
	id := seriesID
	a.SeriesID = &id
	m.appts[appointmentID] = a
	return nil
}

func (m *MemoryRepository) HighestCodeNumber(_ context.Context, tenantID, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []string
	for _, a := range m.appts {
		if a.TenantID == tenantID && strings.HasPrefix(a.Code, prefix+"-") {
			list = append(list, a.Code)
		}
	}
	return codes.HighestNumber(list), nil
}

// All returns every stored appointment for tenantID ordered by date.
func (m *MemoryRepository) All(tenantID string) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out
}

func stamp(at *time.Time, fallback time.Time) time.Time {
	if at != nil {
		return *at
	}
	return fallback
}

func sortAppointments(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].TenantID != list[j].TenantID {
			return list[i].TenantID < list[j].TenantID
		}
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.Before(list[j].Date)
		}
		return list[i].Time < list[j].Time
	})
}

var _ Repository = (*MemoryRepository)(nil)
