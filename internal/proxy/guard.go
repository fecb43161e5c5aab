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

// Package proxy forwards vetted FHIR requests to the upstream server,
// narrowing each one to the allow-listed surface and stamping it with the
// security labels the bearer token grants.
package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// Request allow-lists. Anything outside these is rejected before the
// upstream is contacted.
var (
	allowedMethods = map[string]bool{
		"GET": true,
	}

	allowedParams = map[string]bool{
		"_count":       true,
		"_format":      true,
		"_lastUpdated": true,
		"category":     true,
		"patient":      true,
		"_security":    true,
		"beneficiary":  true,
	}

	allowedResources = map[string]bool{
		"metadata":                 true,
		"AllergyIntolerance":       true,
		"Binary":                   true,
		"Condition":                true,
		"Coverage":                 true,
		"DocumentReference":        true,
		"Encounter":                true,
		"ExplanationOfBenefit":     true,
		"Immunization":             true,
		"MedicationAdministration": true,
		"MedicationDispense":       true,
		"MedicationStatement":      true,
		"MedicationRequest":        true,
		"Observation":              true,
		"Patient":                  true,
		"Practitioner":             true,
		"Procedure":                true,
	}
)

// ForbiddenError rejects a proxied request. Exactly one of the fields is
// set; Part names it in the templated client-facing message.
type ForbiddenError struct {
	Segment   string
	Parameter string
	Method    string
}

func (e *ForbiddenError) value() (string, string) {
	switch {
	case e.Segment != "":
		return e.Segment, "resource type"
	case e.Parameter != "":
		return e.Parameter, "parameter"
	default:
		return e.Method, "method"
	}
}

func (e *ForbiddenError) Error() string {
	value, part := e.value()
	return fmt.Sprintf("Not allowed to query for %q %s.", value, part)
}

// Guard vets a FHIR request against the allow-lists.
type Guard struct{}

// NewGuard creates a request guard
func NewGuard() *Guard {
	return &Guard{}
}

// Check rejects the request unless its method, every query parameter name,
// and the leading path segment are all allow-listed. Parameters are checked
// first so a bad parameter is reported even on an otherwise bad request.
func (g *Guard) Check(method, fhirPath string, query url.Values) error {
	for key := range query {
		if !allowedParams[key] {
			return &ForbiddenError{Parameter: key}
		}
	}

	if !allowedMethods[method] {
		return &ForbiddenError{Method: method}
	}

	segment := fhirPath
	if i := strings.IndexByte(fhirPath, '/'); i >= 0 {
		segment = fhirPath[:i]
	}
	if !allowedResources[segment] {
		return &ForbiddenError{Segment: segment}
	}

	return nil
}
