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
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_Check_Allowed(t *testing.T) {
	g := NewGuard()

	err := g.Check("GET", "Observation", url.Values{"category": {"vital-signs"}, "_count": {"10"}})
	assert.NoError(t, err)

	// Reads by id are vetted on the leading segment.
	err = g.Check("GET", "Patient/smart-1288992", url.Values{})
	assert.NoError(t, err)

	err = g.Check("GET", "metadata", url.Values{})
	assert.NoError(t, err)
}

func TestGuard_Check_ForbiddenParameter(t *testing.T) {
	g := NewGuard()

	err := g.Check("GET", "Observation", url.Values{"bad": {"1"}})
	var ferr *ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "bad", ferr.Parameter)
	assert.Equal(t, `Not allowed to query for "bad" parameter.`, ferr.Error())
}

func TestGuard_Check_ForbiddenMethod(t *testing.T) {
	g := NewGuard()

	err := g.Check("DELETE", "Observation", url.Values{})
	var ferr *ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "DELETE", ferr.Method)
	assert.Equal(t, `Not allowed to query for "DELETE" method.`, ferr.Error())
}

func TestGuard_Check_ForbiddenResource(t *testing.T) {
	g := NewGuard()

	err := g.Check("GET", "Slot/123", url.Values{})
	var ferr *ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "Slot", ferr.Segment)
	assert.Equal(t, `Not allowed to query for "Slot" resource type.`, ferr.Error())
}

// A request with several violations reports the parameter first, matching
// the order the checks run in.
func TestGuard_Check_ParameterReportedFirst(t *testing.T) {
	g := NewGuard()

	err := g.Check("DELETE", "Slot", url.Values{"bad": {"1"}})
	var ferr *ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "bad", ferr.Parameter)
}
