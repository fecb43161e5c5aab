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

// Package http wires the authorization engine, identity, and FHIR proxy
// onto the HTTP surface.
package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fhirgate/fhirgate/internal/audit"
	"github.com/fhirgate/fhirgate/internal/identity"
	"github.com/fhirgate/fhirgate/internal/oauth"
	"github.com/fhirgate/fhirgate/internal/observability/logger"
	"github.com/fhirgate/fhirgate/internal/proxy"
	"github.com/fhirgate/fhirgate/internal/session"
)

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	MaxAge         int
	// SecretKey signs the cookie value. The session id is already an
	// opaque server-side key; the signature stops blind id guessing from
	// ever reaching the store.
	SecretKey string
}

// OAuthConfig holds the authorization surface configuration
type OAuthConfig struct {
	ApprovalLifetime     time.Duration
	EnableDebugEndpoints bool
}

// UpstreamConfig holds the proxied FHIR server configuration
type UpstreamConfig struct {
	APIServer          string
	APIServerName      string
	BaseURL            string
	EnableUnsecureFHIR bool
}

// Handler holds all HTTP handlers and their dependencies
type Handler struct {
	oauthService    *oauth.Service
	registry        *oauth.Registry
	identityService *identity.Service
	sessionService  *session.Service
	guard           *proxy.Guard
	tagger          *proxy.Tagger
	openTagger      *proxy.Tagger
	pipeline        *proxy.Pipeline
	rewriter        *proxy.Rewriter
	auditLogger     audit.Logger

	sessionConfig SessionConfig
	oauthConfig   OAuthConfig
	upstream      UpstreamConfig
}

// NewHandler creates a new handler
func NewHandler(
	oauthService *oauth.Service,
	registry *oauth.Registry,
	identityService *identity.Service,
	sessionService *session.Service,
	guard *proxy.Guard,
	tagger *proxy.Tagger,
	openTagger *proxy.Tagger,
	pipeline *proxy.Pipeline,
	rewriter *proxy.Rewriter,
	auditLogger audit.Logger,
	sessionConfig SessionConfig,
	oauthConfig OAuthConfig,
	upstream UpstreamConfig,
) *Handler {
	return &Handler{
		oauthService:    oauthService,
		registry:        registry,
		identityService: identityService,
		sessionService:  sessionService,
		guard:           guard,
		tagger:          tagger,
		openTagger:      openTagger,
		pipeline:        pipeline,
		rewriter:        rewriter,
		auditLogger:     auditLogger,
		sessionConfig:   sessionConfig,
		oauthConfig:     oauthConfig,
		upstream:        upstream,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Login sessions
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)

	// Authorization management for logged-in users
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/apps", h.Apps)
		r.Post("/revoke/{tokenID}", h.Revoke)
	})

	// OAuth 2.0 surface
	r.Route("/oauth", func(r chi.Router) {
		// Dynamic client registration (RFC 7591 subset)
		r.Post("/register", h.Register)

		// Token endpoint (RFC 6749 Section 3.2)
		r.Get("/token", h.Token)
		r.Post("/token", h.Token)

		// Authorize endpoint requires user authentication (session)
		// RFC 6749 Section 4.1.1
		r.With(h.AuthMiddleware).Get("/authorize", h.Authorize)
		r.With(h.AuthMiddleware).Post("/authorize", h.Consent)

		// Error landing for redirect-based failures
		r.Get("/errors", h.OAuthErrors)

		if h.oauthConfig.EnableDebugEndpoints {
			r.Post("/debug/token", h.DebugToken)
			r.Get("/debug/introspect/{token}", h.DebugIntrospect)
		}
	})

	// FHIR surface
	r.Route("/api", func(r chi.Router) {
		r.With(h.BearerMiddleware).Get("/me", h.Me)

		// The rewritten capability statement is public; SMART clients
		// fetch it to discover the authorization endpoints.
		r.Get("/fhir/metadata", h.Metadata)

		r.With(h.BearerMiddleware).HandleFunc("/fhir/*", h.FHIRProxy)

		if h.upstream.EnableUnsecureFHIR {
			r.HandleFunc("/open-fhir/*", h.OpenFHIRProxy)
		}
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"service":  "fhirgate",
		"upstream": h.upstream.APIServerName,
	})
}

// Login authenticates a user and starts a session
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sess, err := h.sessionService.Create(r.Context(), user.ID, getIPAddress(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.ID)

	respondJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"name":     user.Name,
		},
	})
}

// Logout ends the current session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := h.getSessionFromCookie(r); sessionID != "" {
		if err := h.sessionService.Delete(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to delete session", logger.Error(err))
		}
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLogout,
			Resource:  "session",
			IPAddress: getIPAddress(r),
		})
	}

	h.clearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Apps lists the authorizations the logged-in user has granted
func (h *Handler) Apps(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	tokens, err := h.oauthService.Authorizations(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list authorizations", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list authorizations")
		return
	}

	authorizations := make([]oauth.Interest, 0, len(tokens))
	for _, token := range tokens {
		view, err := h.oauthService.Interest(r.Context(), token)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to build token view", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to list authorizations")
			return
		}
		authorizations = append(authorizations, view)
	}

	respondJSON(w, http.StatusOK, map[string]any{"authorizations": authorizations})
}

// Revoke deletes one of the logged-in user's authorizations
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	tokenID, err := strconv.ParseInt(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	if err := h.oauthService.RevokeToken(r.Context(), GetUserID(r.Context()), tokenID); err != nil {
		if errors.Is(err, oauth.ErrTokenNotFound) {
			respondError(w, http.StatusNotFound, "token not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to revoke token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "revoked"})
}

// Cookie helpers
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    signSessionValue(h.sessionConfig.SecretKey, sessionID),
		Path:     h.sessionConfig.CookiePath,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   h.sessionConfig.MaxAge,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	sessionID, ok := verifySessionValue(h.sessionConfig.SecretKey, cookie.Value)
	if !ok {
		return ""
	}
	return sessionID
}

func signSessionValue(secret, sessionID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sessionID))
	return sessionID + "." + hex.EncodeToString(mac.Sum(nil))
}

func verifySessionValue(secret, value string) (string, bool) {
	sessionID, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sessionID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return sessionID, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondOAuthError translates engine errors into protocol responses.
func respondOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *oauth.Error
	if errors.As(err, &oauthErr) {
		status := http.StatusBadRequest
		switch oauthErr.Code {
		case oauth.ErrInvalidClient:
			status = http.StatusUnauthorized
		case oauth.ErrServerError:
			status = http.StatusInternalServerError
		case oauth.ErrTemporarilyUnavailable:
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, oauthErr)
		return
	}

	var svcErr *oauth.ServiceError
	if errors.As(err, &svcErr) {
		respondJSON(w, http.StatusBadRequest, svcErr)
		return
	}

	// Fallback for internal errors (opaque)
	respondJSON(w, http.StatusInternalServerError,
		oauth.NewError(oauth.ErrServerError, "internal server error"))
}

// respondUpstreamError maps proxy failures: 504 for a missed deadline,
// 502 for everything else on the wire.
func respondUpstreamError(w http.ResponseWriter, err error) {
	var uerr *proxy.UpstreamError
	if errors.As(err, &uerr) && uerr.Timeout {
		respondError(w, http.StatusGatewayTimeout, "upstream timeout")
		return
	}
	respondError(w, http.StatusBadGateway, "upstream unavailable")
}

func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
