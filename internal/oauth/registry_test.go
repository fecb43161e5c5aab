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
	"errors"
	"testing"

	"github.com/fhirgate/fhirgate/internal/audit"
)

// TestPurpose: Validates dynamic client registration with well-formed metadata.
// Scope: Unit Test
// Security: Dynamic client registration (RFC 7591)
// Expected: Fresh UUID credentials, non-expiring secret, and the seed security-label set.
func TestOAuth_Registry_Register(t *testing.T) {
	clients := &MockClientRepo{clients: make(map[string]*Client)}
	r := NewRegistry(clients, audit.NewSlogLogger())

	res, err := r.Register(context.Background(),
		[]string{"https://app.example.com/callback"},
		"launch/patient patient/*.read", "Growth Chart")
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	if res.ClientID == "" || res.ClientSecret == "" {
		t.Error("expected generated credentials")
	}
	if res.ClientID == res.ClientSecret {
		t.Error("client_id and client_secret must differ")
	}
	if res.ClientSecretExpiresAt != 0 {
		t.Errorf("secret must not expire, got %d", res.ClientSecretExpiresAt)
	}
	if res.ClientName != "Growth Chart" {
		t.Errorf("unexpected client_name %q", res.ClientName)
	}

	stored, err := clients.GetByClientID(context.Background(), res.ClientID)
	if err != nil {
		t.Fatalf("client not persisted: %v", err)
	}
	if len(stored.SecurityLabels) != len(seedSecurityLabels) {
		t.Errorf("expected seed security labels, got %v", stored.SecurityLabels)
	}
	if len(stored.DefaultScopes) != 2 {
		t.Errorf("unexpected default scopes %v", stored.DefaultScopes)
	}
}

// TestPurpose: Validates that the client name defaults to the client id.
// Scope: Unit Test
// Expected: An empty client_name is replaced by the generated client_id.
func TestOAuth_Registry_Register_DefaultName(t *testing.T) {
	clients := &MockClientRepo{clients: make(map[string]*Client)}
	r := NewRegistry(clients, audit.NewSlogLogger())

	res, err := r.Register(context.Background(),
		[]string{"https://app.example.com/callback"}, "", "")
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if res.ClientName != res.ClientID {
		t.Errorf("expected name to default to client_id, got %q", res.ClientName)
	}
}

// TestPurpose: Validates redirect URI metadata rejection.
// Scope: Unit Test
// Security: Redirect URI hygiene at registration time (RFC 7591 Section 3.2.2)
// Expected: Missing URIs, scheme-less URIs, and fragment-bearing URIs are each rejected with a typed error.
func TestOAuth_Registry_Register_BadRedirectURIs(t *testing.T) {
	clients := &MockClientRepo{clients: make(map[string]*Client)}
	r := NewRegistry(clients, audit.NewSlogLogger())
	ctx := context.Background()

	cases := []struct {
		name string
		uris []string
		code string
	}{
		{"no uris", nil, ErrInvalidClientMetadata},
		{"missing scheme", []string{"app.example.com/callback"}, ErrInvalidRedirectURI},
		{"fragment", []string{"https://app.example.com/callback#frag"}, ErrInvalidRedirectURI},
	}
	for _, tc := range cases {
		_, err := r.Register(ctx, tc.uris, "", "c")
		var serr *ServiceError
		if !errors.As(err, &serr) || serr.Code != tc.code {
			t.Errorf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}

	if len(clients.clients) != 0 {
		t.Error("no client should be persisted on rejection")
	}
}
