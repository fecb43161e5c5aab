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
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fhirgate/fhirgate/internal/audit"
	"github.com/fhirgate/fhirgate/internal/oauth"
	"github.com/fhirgate/fhirgate/internal/observability/logger"
	"github.com/fhirgate/fhirgate/internal/proxy"
)

// Me returns the inspection view of every token the calling client holds
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	token := GetToken(r.Context())

	tokens, err := h.oauthService.AuditClient(r.Context(), token.ClientID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to audit client", logger.Error(err), logger.ClientID(token.ClientID))
		respondError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}

	views := make([]oauth.Interest, 0, len(tokens))
	for _, t := range tokens {
		view, err := h.oauthService.Interest(r.Context(), t)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to build token view", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to list tokens")
			return
		}
		views = append(views, view)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"client_id": token.ClientID,
		"tokens":    views,
	})
}

// Metadata serves the rewritten upstream capability statement. The
// browser-facing authorize and manage URLs are canonicalized against
// BASE_URL when configured; Host-derived URLs break behind proxies.
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	base := requestBase(r)

	authorizeURL := base + "/oauth/authorize"
	manageURL := base + "/apps"
	if h.upstream.BaseURL != "" {
		authorizeURL = h.upstream.BaseURL + "/oauth/authorize"
		manageURL = h.upstream.BaseURL + "/apps"
	}

	endpoints := map[string]string{
		"authorize": authorizeURL,
		"manage":    manageURL,
		"token":     base + "/oauth/token",
		"register":  base + "/oauth/register",
	}

	doc, err := h.rewriter.Conformance(r.Context(), h.upstream.APIServer+"/metadata", endpoints)
	if err != nil {
		slog.ErrorContext(r.Context(), "capability rewrite failed",
			logger.Error(err), logger.Upstream(h.upstream.APIServerName))
		respondUpstreamError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// FHIRProxy is the bearer-protected proxy: guard, then tag, then forward.
func (h *Handler) FHIRProxy(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.tagger, GetToken(r.Context()), true)
}

// OpenFHIRProxy forwards without the guard and without label injection.
// Routed only when the open passthrough is explicitly enabled.
func (h *Handler) OpenFHIRProxy(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.openTagger, nil, false)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, tagger *proxy.Tagger, token *oauth.Token, guarded bool) {
	fhirPath := chi.URLParam(r, "*")

	query := r.URL.Query()
	// The bearer credential is transport detail, never upstream input.
	query.Del("access_token")

	if guarded {
		if err := h.guard.Check(r.Method, fhirPath, query); err != nil {
			var ferr *proxy.ForbiddenError
			if errors.As(err, &ferr) {
				h.auditLogger.Log(r.Context(), audit.Event{
					Type:      audit.TypeProxyDenied,
					Resource:  fhirPath,
					IPAddress: getIPAddress(r),
					Metadata:  map[string]any{"reason": ferr.Error()},
				})
				respondError(w, http.StatusForbidden, ferr.Error())
				return
			}
			respondError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req := tagger.Prepare(r.Method, fhirPath, query, r.Header, body, token)

	resp, err := h.pipeline.Do(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "proxy exchange failed",
			logger.Error(err), logger.Resource(fhirPath), logger.Upstream(h.upstream.APIServerName))
		respondUpstreamError(w, err)
		return
	}

	for name, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
