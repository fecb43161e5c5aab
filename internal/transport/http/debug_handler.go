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

package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fhirgate/fhirgate/internal/oauth"
)

// DebugToken mints an issued token in one step. Routed only when the
// debug endpoints are enabled; never expose this in production.
func (h *Handler) DebugToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID        string `json:"client_id"`
		AccessLifetime  string `json:"access_lifetime"`
		ApprovalExpires string `json:"approval_expires"`
		Scope           string `json:"scope"`
		Username        string `json:"username"`
		PatientID       string `json:"patient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.oauthService.CreateDebugToken(r.Context(), &oauth.DebugTokenRequest{
		ClientID:        req.ClientID,
		AccessLifetime:  req.AccessLifetime,
		ApprovalExpires: req.ApprovalExpires,
		Scope:           req.Scope,
		Username:        req.Username,
		PatientID:       req.PatientID,
	})
	if err != nil {
		respondOAuthError(w, err)
		return
	}

	view, err := h.oauthService.Interest(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build token view")
		return
	}

	respondJSON(w, http.StatusCreated, view)
}

// DebugIntrospect returns the inspection view of an access token
func (h *Handler) DebugIntrospect(w http.ResponseWriter, r *http.Request) {
	token, err := h.oauthService.Introspect(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondOAuthError(w, err)
		return
	}

	view, err := h.oauthService.Interest(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build token view")
		return
	}

	respondJSON(w, http.StatusOK, view)
}
