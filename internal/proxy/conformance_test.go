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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conformanceServer(t *testing.T, doc map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json+fhir", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json+fhir")
		json.NewEncoder(w).Encode(doc)
	}))
}

var testEndpoints = map[string]string{
	"authorize": "https://gate.example.com/oauth/authorize",
	"token":     "https://gate.example.com/oauth/token",
	"register":  "https://gate.example.com/oauth/register",
	"manage":    "https://gate.example.com/apps",
}

func TestRewriter_Conformance(t *testing.T) {
	upstream := conformanceServer(t, map[string]any{
		"resourceType": "Conformance",
		"rest":         []any{map[string]any{"mode": "server"}},
	})
	defer upstream.Close()

	rw := NewRewriter(5 * time.Second)
	doc, err := rw.Conformance(context.Background(), upstream.URL+"/metadata", testEndpoints)
	require.NoError(t, err)

	rest := doc["rest"].([]any)[0].(map[string]any)
	security := rest["security"].(map[string]any)

	ext := security["extension"].([]any)
	require.Len(t, ext, 1)
	oauthExt := ext[0].(map[string]any)
	assert.Equal(t, oauthURIsExtension, oauthExt["url"])

	uris := oauthExt["extension"].([]any)
	require.Len(t, uris, 4)
	byURL := map[string]string{}
	for _, u := range uris {
		entry := u.(map[string]any)
		byURL[entry["url"].(string)] = entry["valueUri"].(string)
	}
	assert.Equal(t, testEndpoints, byURL)

	service := security["service"].([]any)[0].(map[string]any)
	coding := service["coding"].([]any)[0].(map[string]any)
	assert.Equal(t, securityServiceCode, coding["code"])
	assert.Equal(t, securityServiceSystem, coding["system"])
	assert.Equal(t, securityServiceText, service["text"])

	// Untouched parts survive the rewrite.
	assert.Equal(t, "server", rest["mode"])
	assert.Equal(t, "Conformance", doc["resourceType"])
}

func TestRewriter_Conformance_ExistingSecurityPreserved(t *testing.T) {
	upstream := conformanceServer(t, map[string]any{
		"rest": []any{map[string]any{
			"security": map[string]any{
				"cors":      true,
				"extension": []any{map[string]any{"url": "stale"}},
			},
		}},
	})
	defer upstream.Close()

	rw := NewRewriter(5 * time.Second)
	doc, err := rw.Conformance(context.Background(), upstream.URL+"/metadata", testEndpoints)
	require.NoError(t, err)

	security := doc["rest"].([]any)[0].(map[string]any)["security"].(map[string]any)
	assert.Equal(t, true, security["cors"])
	// Stale extensions are replaced, not appended to.
	require.Len(t, security["extension"].([]any), 1)
}

func TestRewriter_Conformance_Idempotent(t *testing.T) {
	upstream := conformanceServer(t, map[string]any{
		"rest": []any{map[string]any{"mode": "server"}},
	})
	rw := NewRewriter(5 * time.Second)
	first, err := rw.Conformance(context.Background(), upstream.URL+"/metadata", testEndpoints)
	require.NoError(t, err)
	upstream.Close()

	// Feed the rewritten document back through with the same endpoints.
	second := conformanceServer(t, first)
	defer second.Close()
	again, err := rw.Conformance(context.Background(), second.URL+"/metadata", testEndpoints)
	require.NoError(t, err)

	assert.Equal(t, first, again)
}

func TestRewriter_Conformance_NoRestEntry(t *testing.T) {
	upstream := conformanceServer(t, map[string]any{"resourceType": "Conformance"})
	defer upstream.Close()

	rw := NewRewriter(5 * time.Second)
	_, err := rw.Conformance(context.Background(), upstream.URL+"/metadata", testEndpoints)
	assert.Error(t, err)
}
