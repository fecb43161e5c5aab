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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fhirgate/fhirgate/internal/audit"
	"github.com/fhirgate/fhirgate/internal/config"
	"github.com/fhirgate/fhirgate/internal/identity"
	"github.com/fhirgate/fhirgate/internal/oauth"
	"github.com/fhirgate/fhirgate/internal/observability/logger"
	"github.com/fhirgate/fhirgate/internal/observability/metrics"
	"github.com/fhirgate/fhirgate/internal/observability/tracing"
	"github.com/fhirgate/fhirgate/internal/proxy"
	"github.com/fhirgate/fhirgate/internal/session"
	"github.com/fhirgate/fhirgate/internal/store/postgres"
	transportHTTP "github.com/fhirgate/fhirgate/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting fhirgate authorization proxy")

	// CLI commands
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "seed" {
		if err := runSeed(cfg); err != nil {
			fmt.Printf("Seed failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	_, err = metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	grantRepo := postgres.NewGrantRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.PBKDF2Rounds,
		cfg.Security.PBKDF2SaltLength,
		cfg.Security.PBKDF2KeyLength,
	)

	// Initialize services
	identityService := identity.NewService(userRepo, passwordHasher, auditLogger)
	sessionService := session.NewService(sessionRepo, cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	oauthService := oauth.NewService(
		clientRepo,
		grantRepo,
		tokenRepo,
		userRepo,
		auditLogger,
		cfg.OAuth.AccessLifetime,
		cfg.OAuth.GrantLifetime,
	)
	registry := oauth.NewRegistry(clientRepo, auditLogger)

	// Proxy components
	guard := proxy.NewGuard()
	tagger := proxy.NewTagger(cfg.Upstream.APIServer)
	openTagger := proxy.NewOpenTagger(cfg.Upstream.APIServer)
	pipeline := proxy.NewPipeline(cfg.Upstream.Timeout)
	rewriter := proxy.NewRewriter(cfg.Upstream.Timeout)

	// Rate limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		oauthService,
		registry,
		identityService,
		sessionService,
		guard,
		tagger,
		openTagger,
		pipeline,
		rewriter,
		auditLogger,
		transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			MaxAge:         int(cfg.Session.Lifetime.Seconds()),
			SecretKey:      cfg.Security.SecretKey,
		},
		transportHTTP.OAuthConfig{
			ApprovalLifetime:     cfg.OAuth.ApprovalLifetime,
			EnableDebugEndpoints: cfg.OAuth.EnableDebugEndpoints,
		},
		transportHTTP.UpstreamConfig{
			APIServer:          cfg.Upstream.APIServer,
			APIServerName:      cfg.Upstream.APIServerName,
			BaseURL:            cfg.Upstream.BaseURL,
			EnableUnsecureFHIR: cfg.Upstream.EnableUnsecureFHIR,
		},
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := sessionService.CleanupExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}

	slog.Info("migrations applied")
	return nil
}

// runSeed creates a demo account and its patient record from SEED_* env
// vars. Idempotent: an existing username is left alone.
func runSeed(cfg *config.Config) error {
	username := os.Getenv("SEED_USERNAME")
	password := os.Getenv("SEED_PASSWORD")
	patientID := os.Getenv("SEED_PATIENT_ID")
	name := os.Getenv("SEED_NAME")
	if username == "" || password == "" || patientID == "" {
		return fmt.Errorf("SEED_USERNAME, SEED_PASSWORD and SEED_PATIENT_ID are required")
	}
	if name == "" {
		name = username
	}

	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)

	if _, err := userRepo.GetByUsername(ctx, username); err == nil {
		slog.Info("seed user already exists", logger.Username(username))
		return nil
	}

	hasher := identity.NewPasswordHasher(
		cfg.Security.PBKDF2Rounds,
		cfg.Security.PBKDF2SaltLength,
		cfg.Security.PBKDF2KeyLength,
	)
	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &identity.User{Username: username, PasswordHash: hash, Name: name}
	if err := userRepo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	patient := &identity.Patient{
		PatientID: patientID,
		Name:      name,
		IsUser:    true,
		UserID:    user.ID,
	}
	if err := userRepo.AddPatient(ctx, patient); err != nil {
		return fmt.Errorf("failed to attach patient: %w", err)
	}

	slog.Info("seed user created", logger.Username(username), logger.PatientID(patientID))
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}
