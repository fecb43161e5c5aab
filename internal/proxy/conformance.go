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

package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

const (
	oauthURIsExtension = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"

	securityServiceSystem = "http://hl7.org/fhir/restful-security-service"
	securityServiceCode   = "SMART-on-FHIR"
	securityServiceText   = "OAuth2 using SMART-on-FHIR profile (see http://docs.smarthealthit.org)"
)

// Rewriter fetches the upstream capability statement and stamps the SMART
// authorization endpoints into its security section. Rewriting is
// idempotent: the extension and service entries are replaced wholesale.
type Rewriter struct {
	client *http.Client
}

// NewRewriter creates a capability-statement rewriter with the given
// upstream deadline.
func NewRewriter(timeout time.Duration) *Rewriter {
	return &Rewriter{client: &http.Client{Timeout: timeout}}
}

// Conformance fetches metadataURL and returns the document with
// rest[0].security carrying the oauth-uris extension built from the
// supplied endpoint map (keys become extension urls, values valueUris).
func (r *Rewriter) Conformance(ctx context.Context, metadataURL string, endpoints map[string]string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	req.Header.Set("Accept", "application/json+fhir")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	var conformance map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&conformance); err != nil {
		return nil, fmt.Errorf("malformed capability statement: %w", err)
	}

	rest, ok := conformance["rest"].([]any)
	if !ok || len(rest) == 0 {
		return nil, fmt.Errorf("capability statement has no rest entry")
	}
	restEntry, ok := rest[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("capability statement has a malformed rest entry")
	}

	security, ok := restEntry["security"].(map[string]any)
	if !ok {
		security = make(map[string]any)
	}
	security["extension"] = []any{oauthURIs(endpoints)}
	security["service"] = []any{
		map[string]any{
			"coding": []any{
				map[string]any{
					"system": securityServiceSystem,
					"code":   securityServiceCode,
				},
			},
			"text": securityServiceText,
		},
	}
	restEntry["security"] = security

	return conformance, nil
}

func oauthURIs(endpoints map[string]string) map[string]any {
	keys := make([]string, 0, len(endpoints))
	for k := range endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	uris := make([]any, 0, len(keys))
	for _, k := range keys {
		uris = append(uris, map[string]any{
			"url":      k,
			"valueUri": endpoints[k],
		})
	}

	return map[string]any{
		"url":       oauthURIsExtension,
		"extension": uris,
	}
}
