// Copyright 2026 The FHIRGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fhirgate/fhirgate/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING id
	`, user.Username, user.PasswordHash, user.Name).Scan(&user.ID)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by primary key
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*identity.User, error) {
	var user identity.User

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, name
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Name)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	var user identity.User

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, name
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Name)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// Patients retrieves the patients a user may delegate access to
func (r *UserRepository) Patients(ctx context.Context, userID int64) ([]*identity.Patient, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, patient_id, name, is_user, user_id
		FROM patients
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	var patients []*identity.Patient
	for rows.Next() {
		var p identity.Patient
		if err := rows.Scan(&p.ID, &p.PatientID, &p.Name, &p.IsUser, &p.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, &p)
	}

	return patients, rows.Err()
}

// AddPatient links a patient record to a user
func (r *UserRepository) AddPatient(ctx context.Context, patient *identity.Patient) error {
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO patients (patient_id, name, is_user, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, patient.PatientID, patient.Name, patient.IsUser, patient.UserID).Scan(&patient.ID)

	if err != nil {
		return fmt.Errorf("failed to add patient: %w", err)
	}

	return nil
}
