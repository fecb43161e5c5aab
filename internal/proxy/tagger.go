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
	"net/http"
	"net/url"
	"strings"

	"github.com/fhirgate/fhirgate/internal/oauth"
)

const securityParam = "_security"

// allowedHeaders is the inbound header allow-list; everything else is
// dropped before the request leaves the proxy.
var allowedHeaders = []string{"Accept", "Origin"}

// Request is a prepared outbound exchange.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Tagger rewrites an inbound FHIR request for the upstream: client-supplied
// security labels are stripped, and on type-level searches the token's own
// labels and patient binding are stamped on instead.
type Tagger struct {
	upstreamBase string
	secure       bool
}

// NewTagger creates a tagger that stamps token security labels onto
// type-level searches.
func NewTagger(upstreamBase string) *Tagger {
	return &Tagger{upstreamBase: strings.TrimRight(upstreamBase, "/"), secure: true}
}

// NewOpenTagger creates a tagger for the unsecured pipeline: headers are
// still filtered but query parameters pass through untouched.
func NewOpenTagger(upstreamBase string) *Tagger {
	return &Tagger{upstreamBase: strings.TrimRight(upstreamBase, "/")}
}

// Prepare builds the outbound request for a FHIR path. The token may be
// nil; an absent token still yields the public-only label pair.
func (t *Tagger) Prepare(method, fhirPath string, query url.Values, header http.Header, body []byte, token *oauth.Token) *Request {
	args := make(url.Values, len(query))
	for key, vals := range query {
		args[key] = append([]string(nil), vals...)
	}

	if t.secure {
		// Clients never assert their own labels.
		args.Del(securityParam)

		// A single-segment path is a type-level search; reads by id are
		// already narrowed to one resource and carry no labels.
		if !strings.Contains(fhirPath, "/") {
			args.Add(securityParam, scopeLabel(token))
			args.Add(securityParam, patientLabel(token))
		}
	}

	out := make(http.Header, len(allowedHeaders))
	for _, name := range allowedHeaders {
		if vals := header.Values(name); len(vals) > 0 {
			out[name] = append([]string(nil), vals...)
		}
	}

	return &Request{
		Method: method,
		URL:    t.upstreamBase + "/" + fhirPath + "?" + args.Encode(),
		Header: out,
		Body:   body,
	}
}

// scopeLabel is the category filter: public data plus whatever the user
// approved for this client.
func scopeLabel(token *oauth.Token) string {
	if token == nil || len(token.SecurityLabels) == 0 {
		return "public"
	}
	return "public," + strings.Join(token.SecurityLabels, ",")
}

// patientLabel narrows the search to the patient the token is bound to.
func patientLabel(token *oauth.Token) string {
	if token == nil || token.PatientID == "" {
		return "public"
	}
	return "Patient/" + token.PatientID
}
