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

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fhirgate/fhirgate/internal/audit"
	"github.com/google/uuid"
)

// seedSecurityLabels is the category set every newly registered client is
// allowed to request. Labels are narrowed per authorization at consent
// time, never widened past this set.
var seedSecurityLabels = []string{
	"patient",
	"medications",
	"allergies",
	"immunizations",
	"problems",
	"procedures",
	"vital-signs",
	"laboratory",
	"smoking",
}

// RegistrationResponse is the RFC 7591 registration response body.
type RegistrationResponse struct {
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"client_secret"`
	ClientSecretExpiresAt int64    `json:"client_secret_expires_at"`
	ClientName            string   `json:"client_name"`
	RedirectURIs          []string `json:"redirect_uris"`
	Scope                 string   `json:"scope"`
}

// Registry implements dynamic client registration (an RFC 7591 subset).
type Registry struct {
	clients     ClientRepository
	auditLogger audit.Logger
}

// NewRegistry creates a new client registry
func NewRegistry(clients ClientRepository, auditLogger audit.Logger) *Registry {
	return &Registry{clients: clients, auditLogger: auditLogger}
}

// Register creates a new confidential client. Credentials are fresh UUIDs
// and never expire; the client name defaults to the client id.
func (r *Registry) Register(ctx context.Context, redirectURIs []string, scope string, clientName string) (*RegistrationResponse, error) {
	if len(redirectURIs) == 0 {
		return nil, NewServiceError(ErrInvalidClientMetadata, "One or more redirect URIs are required.")
	}

	for _, uri := range redirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, err
		}
	}

	clientID := uuid.NewString()
	clientSecret := uuid.NewString()

	if clientName == "" {
		clientName = clientID
	}

	client := &Client{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		Name:           clientName,
		RedirectURIs:   redirectURIs,
		DefaultScopes:  SplitScopes(scope),
		SecurityLabels: seedSecurityLabels,
	}

	if err := r.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to persist client: %w", err)
	}

	r.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeClientRegistered,
		ClientID: client.ClientID,
		Resource: "client",
		Metadata: map[string]any{
			"client_name": client.Name,
			"scope":       scope,
		},
	})

	return &RegistrationResponse{
		ClientID:              client.ClientID,
		ClientSecret:          client.ClientSecret,
		ClientSecretExpiresAt: 0, // never
		ClientName:            client.Name,
		RedirectURIs:          client.RedirectURIs,
		Scope:                 JoinScopes(client.DefaultScopes),
	}, nil
}

// Lookup retrieves a client by client_id
func (r *Registry) Lookup(ctx context.Context, clientID string) (*Client, error) {
	return r.clients.GetByClientID(ctx, clientID)
}

func validateRedirectURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return NewServiceError(ErrInvalidRedirectURI,
			fmt.Sprintf("Malformed redirect URI: %s", uri))
	}

	if parsed.Scheme == "" {
		return NewServiceError(ErrInvalidRedirectURI,
			fmt.Sprintf("A URI scheme is required: %s", uri))
	}

	if parsed.Fragment != "" {
		return NewServiceError(ErrInvalidRedirectURI,
			fmt.Sprintf("URI fragments are disallowed in redirect URIs: %s", uri))
	}

	return nil
}
