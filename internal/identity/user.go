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

package identity

import (
	"context"
	"errors"
)

// Domain errors
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrPatientNotFound       = errors.New("patient not found")
	ErrAuthenticationFailure = errors.New("unknown username or incorrect password")
)

// User represents an account holder. Authentication state is per request
// and never persisted; only the password hash is stored.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Name         string
}

// Patient is a FHIR patient a user may authorize access to. IsUser marks
// the patient record that represents the account owner herself, as opposed
// to a delegated subject (a child, a ward).
type Patient struct {
	ID        int64
	PatientID string
	Name      string
	IsUser    bool
	UserID    int64
}

// DefaultPatientID returns the FHIR id to preselect during authorization:
// the single owned patient when there is exactly one, otherwise nothing.
func DefaultPatientID(patients []*Patient) (string, bool) {
	if len(patients) == 1 {
		return patients[0].PatientID, true
	}
	return "", false
}

// FindPatient returns the owned patient with the given FHIR id, or nil.
func FindPatient(patients []*Patient, patientID string) *Patient {
	for _, p := range patients {
		if p.PatientID == patientID {
			return p
		}
	}
	return nil
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// GetByID retrieves a user by primary key
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*User, error)

	// Patients retrieves the patients owned by a user
	Patients(ctx context.Context, userID int64) ([]*Patient, error)

	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// AddPatient attaches a patient record to a user
	AddPatient(ctx context.Context, patient *Patient) error
}
