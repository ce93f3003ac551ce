// Package directory looks up the people the engine notifies: patients, staff
// users and doctors.
package directory

import (
	"context"
	"errors"
	"strings"
)

// ErrPatientNotFound is returned when a patient does not exist for the tenant.
var ErrPatientNotFound = errors.New("directory: patient not found")

// Role is a staff user's role within a tenant.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleDoctor     Role = "doctor"
	RoleReception  Role = "receptionist"
)

// Patient is the contact slice of a patient record.
type Patient struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	// UserID links a patient portal account, used for in-app notifications.
	UserID string `json:"user_id,omitempty"`
}

// FullName joins first and last name.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// User is a staff account.
type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Role     Role   `json:"role"`
}

// Directory resolves recipients.
type Directory interface {
	Patient(ctx context.Context, tenantID, patientID string) (*Patient, error)
	UsersByRole(ctx context.Context, tenantID string, roles ...Role) ([]User, error)
	DoctorName(ctx context.Context, tenantID, doctorID string) (string, error)
}
