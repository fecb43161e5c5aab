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

	"github.com/fhirgate/fhirgate/internal/audit"
)

// Service provides identity business logic
type Service struct {
	users       UserRepository
	hasher      *PasswordHasher
	auditLogger audit.Logger
}

// NewService creates a new identity service
func NewService(users UserRepository, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{
		users:       users,
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// Authenticate verifies a username/password pair. An unknown user and a
// wrong password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: "user",
			Metadata: map[string]any{"username": username},
		})
		return nil, ErrAuthenticationFailure
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.Username,
			Resource: "user",
		})
		return nil, ErrAuthenticationFailure
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.Username,
		Resource: "user",
	})

	return user, nil
}

// GetUser retrieves a user by primary key
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUserByUsername retrieves a user by username
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, username)
}

// Patients retrieves the patients a user may delegate access to
func (s *Service) Patients(ctx context.Context, userID int64) ([]*Patient, error) {
	return s.users.Patients(ctx, userID)
}

// Patient returns the user's patient with the given FHIR id, or
// ErrPatientNotFound when the user does not own it.
func (s *Service) Patient(ctx context.Context, userID int64, patientID string) (*Patient, error) {
	patients, err := s.users.Patients(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p := FindPatient(patients, patientID); p != nil {
		return p, nil
	}
	return nil, ErrPatientNotFound
}
