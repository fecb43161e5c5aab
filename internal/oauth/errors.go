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

package oauth

import "fmt"

// Error represents a protocol-level OAuth 2.0 error (RFC 6749).
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("oauth error: %s (%s)", e.Code, e.Description)
}

// OAuth 2.0 standard error codes
const (
	ErrInvalidRequest         = "invalid_request"
	ErrInvalidClient          = "invalid_client"
	ErrInvalidGrant           = "invalid_grant"
	ErrUnauthorizedClient     = "unauthorized_client"
	ErrUnsupportedGrantType   = "unsupported_grant_type"
	ErrInvalidScope           = "invalid_scope"
	ErrAccessDenied           = "access_denied"
	ErrServerError            = "server_error"
	ErrTemporarilyUnavailable = "temporarily_unavailable"
)

// NewError creates a new protocol error
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// WithState attaches a state parameter to the error
func (e *Error) WithState(state string) *Error {
	e.State = state
	return e
}

// ServiceError is a typed failure raised by registration, debug issuance
// and introspection. Unlike protocol errors it serializes its detail under
// "description", which is the shape the admin tooling expects.
type ServiceError struct {
	Code        string `json:"error"`
	Description string `json:"description,omitempty"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Service error codes
const (
	ErrInvalidClientMetadata = "invalid_client_metadata"
	ErrInvalidRedirectURI    = "invalid_redirect_uri"
	ErrNoUser                = "no_user"
	ErrNoClient              = "no_client"
	ErrNoPatient             = "no_patient"
	ErrNoPatientForUser      = "no_patient_for_user"
	ErrMalformedLifetime     = "malformed_lifetime"
	ErrMalformedExpiration   = "malformed_expiration"
	ErrNoToken               = "no_token"
)

// NewServiceError creates a new service error
func NewServiceError(code, description string) *ServiceError {
	return &ServiceError{Code: code, Description: description}
}
