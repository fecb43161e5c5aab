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
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fhirgate/fhirgate/internal/identity"
	"github.com/fhirgate/fhirgate/internal/oauth"
	"github.com/fhirgate/fhirgate/internal/observability/logger"
)

// Register implements dynamic client registration (RFC 7591 subset)
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName   string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
		Scope        string   `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.registry.Register(r.Context(), req.RedirectURIs, req.Scope, req.ClientName)
	if err != nil {
		respondOAuthError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

// Token is the OAuth 2.0 token endpoint. On success the SMART patient
// launch field rides along in the JSON body.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")

	// Support Basic Auth (RFC 6749 Section 2.3.1)
	if clientID == "" {
		username, password, ok := r.BasicAuth()
		if ok {
			clientID = username
			clientSecret = password
		}
	}

	req := &oauth.TokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		Code:         r.Form.Get("code"),
		RedirectURI:  r.Form.Get("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RefreshToken: r.Form.Get("refresh_token"),
	}

	resp, err := h.oauthService.IssueToken(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "token request failed",
			logger.Error(err), logger.GrantType(req.GrantType), logger.ClientID(clientID))
		respondOAuthError(w, err)
		return
	}

	// Prevent caching (RFC 6749 Section 5.1)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	respondJSON(w, http.StatusOK, resp)
}

// Authorize is the OAuth 2.0 authorization endpoint. The user is already
// session-authenticated; the response is the consent prompt (or the
// delegation-selection list when no patient can be resolved).
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// SMART clients must pin all three so the consent POST and the
	// final redirect are unambiguous.
	for _, param := range []string{"redirect_uri", "scope", "state"} {
		if query.Get(param) == "" {
			respondError(w, http.StatusBadRequest, param+" is required")
			return
		}
	}

	req := &oauth.AuthorizeRequest{
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		ResponseType: query.Get("response_type"),
		Scope:        query.Get("scope"),
		State:        query.Get("state"),
	}

	client, err := h.oauthService.ValidateAuthorizeRequest(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "invalid authorize request",
			logger.Error(err), logger.ClientID(req.ClientID), logger.RedirectURI(req.RedirectURI))
		respondOAuthError(w, err)
		return
	}

	userID := GetUserID(r.Context())

	patientID, resolved, err := h.resolvePatient(r, userID, query.Get("patient_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !resolved {
		// No explicit patient and no unambiguous default: the caller
		// picks one and retries with patient_id set.
		patients, err := h.identityService.Patients(r.Context(), userID)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to list patients", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to list patients")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"select_patient": patientViews(patients),
			"client":         clientView(client),
			"scope":          req.Scope,
			"state":          req.State,
			"redirect_uri":   req.RedirectURI,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"client":          clientView(client),
		"scope":           req.Scope,
		"state":           req.State,
		"redirect_uri":    req.RedirectURI,
		"patient_id":      patientID,
		"security_labels": client.SecurityLabels,
		"expires":         time.Now().UTC().Add(h.oauthConfig.ApprovalLifetime).Format(time.RFC3339),
		"abort_uri":       abortURI(req.RedirectURI, req.State),
	})
}

// Consent records the user's approval and redirects back to the client
// with a fresh authorization code.
func (h *Handler) Consent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	clientID := r.Form.Get("client_id")
	redirectURI := r.Form.Get("redirect_uri")
	scope := r.Form.Get("scope")
	state := r.Form.Get("state")
	userID := GetUserID(r.Context())

	client, err := h.registry.Lookup(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid client_id")
		return
	}
	if !client.ValidateRedirectURI(redirectURI) {
		respondError(w, http.StatusBadRequest, "invalid redirect_uri")
		return
	}

	patientID := r.Form.Get("patient_id")
	if _, err := h.identityService.Patient(r.Context(), userID, patientID); err != nil {
		respondError(w, http.StatusBadRequest, "patient does not belong to user")
		return
	}

	// Approved labels may only narrow what registration granted.
	labels := client.SecurityLabels
	if requested := oauth.SplitScopes(r.Form.Get("security_labels")); len(requested) > 0 {
		labels = intersectLabels(client.SecurityLabels, requested)
	}

	approvalExpires := time.Now().UTC().Add(h.oauthConfig.ApprovalLifetime)
	if raw := r.Form.Get("expires"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "expires must be an RFC 3339 timestamp")
			return
		}
		approvalExpires = parsed.UTC()
	}

	if err := h.oauthService.CreateAuthorization(r.Context(), clientID, approvalExpires, labels, userID, patientID); err != nil {
		slog.ErrorContext(r.Context(), "failed to record consent", logger.Error(err), logger.ClientID(clientID))
		respondOAuthError(w, err)
		return
	}

	grant, err := h.oauthService.CreateGrant(r.Context(), clientID, userID, redirectURI, oauth.SplitScopes(scope))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create grant", logger.Error(err), logger.ClientID(clientID))
		respondOAuthError(w, err)
		return
	}

	http.Redirect(w, r, codeRedirect(redirectURI, grant.Code, state), http.StatusFound)
}

// OAuthErrors is the redirect landing for flow failures: it echoes the
// query parameters back as JSON.
func (h *Handler) OAuthErrors(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	respondJSON(w, http.StatusOK, params)
}

// resolvePatient applies the SMART launch-context rules: an explicit
// patient_id wins, else the user's unambiguous default. The patient must
// belong to the user either way.
func (h *Handler) resolvePatient(r *http.Request, userID int64, patientID string) (string, bool, error) {
	if patientID == "" {
		patients, err := h.identityService.Patients(r.Context(), userID)
		if err != nil {
			return "", false, err
		}
		defaultID, ok := identity.DefaultPatientID(patients)
		if !ok {
			return "", false, nil
		}
		return defaultID, true, nil
	}

	if _, err := h.identityService.Patient(r.Context(), userID, patientID); err != nil {
		return "", false, err
	}
	return patientID, true, nil
}

func clientView(client *oauth.Client) map[string]any {
	return map[string]any{
		"client_id": client.ClientID,
		"name":      client.Name,
	}
}

func patientViews(patients []*identity.Patient) []map[string]any {
	views := make([]map[string]any, 0, len(patients))
	for _, p := range patients {
		views = append(views, map[string]any{
			"patient_id": p.PatientID,
			"name":       p.Name,
			"is_user":    p.IsUser,
		})
	}
	return views
}

func intersectLabels(granted, requested []string) []string {
	allowed := make(map[string]bool, len(granted))
	for _, label := range granted {
		allowed[label] = true
	}

	var labels []string
	for _, label := range requested {
		if allowed[label] {
			labels = append(labels, label)
		}
	}
	return labels
}

func abortURI(redirectURI, state string) string {
	return addQueryParams(redirectURI, url.Values{
		"error": {"access_denied"},
		"state": {state},
	})
}

func codeRedirect(redirectURI, code, state string) string {
	return addQueryParams(redirectURI, url.Values{
		"code":  {code},
		"state": {state},
	})
}

func addQueryParams(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	for key, vals := range params {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}
