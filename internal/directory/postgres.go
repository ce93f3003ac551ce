package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads patients, users and doctors.
type PostgresDirectory struct {
	db DB
}

// NewPostgresDirectory creates a directory over db.
func NewPostgresDirectory(db DB) *PostgresDirectory {
	if db == nil {
		panic("directory: db required")
	}
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Patient(ctx context.Context, tenantID, patientID string) (*Patient, error) {
	p := Patient{ID: patientID, TenantID: tenantID}
	err := d.db.QueryRow(ctx, `
		SELECT first_name, last_name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(user_id, '')
		FROM patients WHERE tenant_id = $1 AND id = $2`, tenantID, patientID).
		Scan(&p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: patient: %w", err)
	}
	return &p, nil
}

func (d *PostgresDirectory) UsersByRole(ctx context.Context, tenantID string, roles ...Role) ([]User, error) {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	rows, err := d.db.Query(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), role
		FROM users
		WHERE tenant_id = $1 AND role = ANY($2) AND active
		ORDER BY name`, tenantID, names)
	if err != nil {
		return nil, fmt.Errorf("directory: users by role: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u := User{TenantID: tenantID}
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &role); err != nil {
			return nil, fmt.Errorf("directory: scan user: %w", err)
		}
		u.Role = Role(role)
		users = append(users, u)
	}
	return users, rows.Err()
}

// DoctorName returns the doctor's display name, or "" when unknown.
func (d *PostgresDirectory) DoctorName(ctx context.Context, tenantID, doctorID string) (string, error) {
	var name string
	err := d.db.QueryRow(ctx, `
		SELECT name FROM doctors WHERE tenant_id = $1 AND id = $2`, tenantID, doctorID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("directory: doctor name: %w", err)
	}
	return name, nil
}

var _ Directory = (*PostgresDirectory)(nil)
