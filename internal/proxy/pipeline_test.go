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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_Do_FiltersResponseHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json+fhir", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json+fhir")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("X-Upstream-Internal", "leaky")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"resourceType":"Bundle"}`))
	}))
	defer upstream.Close()

	p := NewPipeline(5 * time.Second)
	header := http.Header{}
	header.Set("Accept", "application/json+fhir")

	resp, err := p.Do(context.Background(), &Request{
		Method: "GET",
		URL:    upstream.URL + "/Observation?_security=public",
		Header: header,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"resourceType":"Bundle"}`, string(resp.Body))
	assert.Equal(t, "application/json+fhir", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("X-Upstream-Internal"))
}

func TestPipeline_Do_StatusPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer upstream.Close()

	p := NewPipeline(5 * time.Second)
	resp, err := p.Do(context.Background(), &Request{Method: "GET", URL: upstream.URL + "/Observation"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPipeline_Do_TransportError(t *testing.T) {
	p := NewPipeline(time.Second)

	_, err := p.Do(context.Background(), &Request{Method: "GET", URL: "http://127.0.0.1:1/Observation"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.False(t, uerr.Timeout)
}

func TestPipeline_Do_Timeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer upstream.Close()

	p := NewPipeline(50 * time.Millisecond)
	_, err := p.Do(context.Background(), &Request{Method: "GET", URL: upstream.URL + "/Observation"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.True(t, uerr.Timeout)
}
