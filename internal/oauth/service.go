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

package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/fhirgate/fhirgate/internal/audit"
	"github.com/fhirgate/fhirgate/internal/identity"
)

// issuanceRetries bounds how often a losing concurrent issuance is retried
// before the failure surfaces as temporarily_unavailable.
const issuanceRetries = 3

// Service implements the authorization engine: grant lifecycle, token
// issuance and refresh against approval windows, consent pre-authorization,
// revocation, and the privileged debug issuance path.
//
// Only the plain authorization-code grant is honored. The OpenID Connect
// response types (id_token, code id_token) are not installed, so a
// response_type of "code" always selects the vanilla workflow.
type Service struct {
	clients     ClientRepository
	grants      GrantRepository
	tokens      TokenRepository
	users       identity.UserRepository
	auditLogger audit.Logger

	accessLifetime time.Duration
	grantLifetime  time.Duration

	now func() time.Time
}

// NewService creates a new authorization engine
func NewService(
	clients ClientRepository,
	grants GrantRepository,
	tokens TokenRepository,
	users identity.UserRepository,
	auditLogger audit.Logger,
	accessLifetime time.Duration,
	grantLifetime time.Duration,
) *Service {
	return &Service{
		clients:        clients,
		grants:         grants,
		tokens:         tokens,
		users:          users,
		auditLogger:    auditLogger,
		accessLifetime: accessLifetime,
		grantLifetime:  grantLifetime,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// AuthorizeRequest represents an OAuth 2.0 authorization request
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}

// TokenRequest represents an OAuth 2.0 token request
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// TokenResponse is the token endpoint response body. Patient is the SMART
// launch context field carrying the FHIR patient the token is bound to.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Patient      string `json:"patient,omitempty"`
}

// ValidateAuthorizeRequest validates an authorization request (RFC 6749
// Section 4.1.1) and resolves the client.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, req *AuthorizeRequest) (*Client, error) {
	client, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, NewError(ErrInvalidRequest, "invalid client_id")
	}

	if !client.ValidateRedirectURI(req.RedirectURI) {
		return nil, NewError(ErrInvalidRequest, "invalid redirect_uri")
	}

	if req.ResponseType != "code" {
		return nil, NewError(ErrUnauthorizedClient, "response_type must be 'code'")
	}

	return client, nil
}

// CreateGrant mints a single-use authorization code for an authenticated
// user. The code is short-lived; token exchange must happen promptly.
func (s *Service) CreateGrant(ctx context.Context, clientID string, userID int64, redirectURI string, scopes []string) (*Grant, error) {
	grant := &Grant{
		ClientID:    clientID,
		UserID:      userID,
		Code:        uuid.NewString(),
		RedirectURI: redirectURI,
		Scopes:      scopes,
		Expires:     s.now().Add(s.grantLifetime),
	}

	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to persist grant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeGrantCreated,
		ActorID:  strconv.FormatInt(userID, 10),
		ClientID: clientID,
		Resource: "grant",
	})

	return grant, nil
}

// LoadGrant returns the unexpired grant for (client_id, code), or
// ErrGrantNotFound. Expired grants are indistinguishable from absent ones.
func (s *Service) LoadGrant(ctx context.Context, clientID, code string) (*Grant, error) {
	return s.grants.GetActive(ctx, clientID, code, s.now())
}

// CreateAuthorization records the user's consent: every token the client
// holds is dropped and replaced by a pre-authorization carrying the
// approval window, security labels and patient binding. A later token
// exchange turns it into an issued token.
func (s *Service) CreateAuthorization(ctx context.Context, clientID string, approvalExpires time.Time, securityLabels []string, userID int64, patientID string) error {
	token := &Token{
		ClientID:        clientID,
		UserID:          userID,
		PatientID:       patientID,
		SecurityLabels:  securityLabels,
		ApprovalExpires: approvalExpires,
	}

	if err := s.tokens.ReplaceForClient(ctx, clientID, token); err != nil {
		return fmt.Errorf("failed to create authorization: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAuthorizationCreated,
		ActorID:  strconv.FormatInt(userID, 10),
		ClientID: clientID,
		Resource: "token",
		Metadata: map[string]any{
			"patient_id":       patientID,
			"approval_expires": approvalExpires,
		},
	})

	return nil
}

// IssueToken handles the token endpoint for both supported grant types.
// Issuance consumes the grant, collapses the basis-candidate tokens into a
// single issued token preserving the longest approval window, and attaches
// the SMART patient credential.
func (s *Service) IssueToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	client, err := s.ValidateClientCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	var issued *Token
	switch req.GrantType {
	case "authorization_code":
		issued, err = s.exchangeCode(ctx, client, req)
	case "refresh_token":
		issued, err = s.refreshToken(ctx, client, req)
	default:
		return nil, NewError(ErrUnsupportedGrantType, "unsupported grant_type")
	}
	if err != nil {
		return nil, err
	}

	eventType := audit.TypeTokenIssued
	if req.GrantType == "refresh_token" {
		eventType = audit.TypeTokenRefreshed
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		ActorID:  strconv.FormatInt(issued.UserID, 10),
		ClientID: client.ClientID,
		Resource: "token",
		Metadata: map[string]any{
			"patient_id": issued.PatientID,
			"scope":      JoinScopes(issued.Scopes),
		},
	})

	return &TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    issued.TokenType,
		ExpiresIn:    int(s.accessLifetime.Seconds()),
		RefreshToken: issued.RefreshToken,
		Scope:        JoinScopes(issued.Scopes),
		Patient:      issued.PatientID,
	}, nil
}

// exchangeCode implements the authorization_code grant (RFC 6749 Section
// 4.1.3) on top of the approval-window model.
func (s *Service) exchangeCode(ctx context.Context, client *Client, req *TokenRequest) (*Token, error) {
	grant, err := s.grants.GetActive(ctx, client.ClientID, req.Code, s.now())
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "authorization code is invalid or expired")
	}

	if grant.RedirectURI != req.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri mismatch")
	}

	return s.replaceIssued(ctx, grant.ID, client.ClientID, grant.UserID, grant.Scopes)
}

// refreshToken implements the refresh_token grant (RFC 6749 Section 6).
// The basis is the token matching the supplied refresh token; refresh
// fails once its approval window has closed.
func (s *Service) refreshToken(ctx context.Context, client *Client, req *TokenRequest) (*Token, error) {
	basis, err := s.tokens.GetByRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "refresh token not found")
	}

	if basis.ClientID != client.ClientID {
		return nil, NewError(ErrInvalidGrant, "client_id mismatch")
	}

	if !basis.Approved(s.now()) {
		return nil, NewError(ErrInvalidGrant, "authorization has expired")
	}

	return s.replaceIssued(ctx, 0, client.ClientID, basis.UserID, basis.Scopes)
}

// replaceIssued runs the atomic "find basis, delete siblings, insert new"
// unit. The candidate with the latest approval expiry is the basis; all
// candidates are dropped so at most one issued token remains per
// (client, user). Serialization losers retry with jittered backoff and
// observe the winner's token as the next basis.
func (s *Service) replaceIssued(ctx context.Context, grantID int64, clientID string, userID int64, scopes []string) (*Token, error) {
	var issued *Token

	operation := func() error {
		now := s.now()

		candidates, err := s.tokens.ListApproved(ctx, clientID, userID, now)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(candidates) == 0 {
			return backoff.Permanent(NewError(ErrInvalidGrant, "no authorization on file for this client"))
		}

		basis := candidates[len(candidates)-1]
		next := basis.Refresh(
			uuid.NewString(),
			uuid.NewString(),
			s.accessLifetime,
			TokenTypeBearer,
			scopes,
			now,
		)

		dropIDs := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			dropIDs = append(dropIDs, c.ID)
		}

		if err := s.tokens.ReplaceForIssuance(ctx, grantID, dropIDs, next); err != nil {
			if errors.Is(err, ErrConflict) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}

		issued = next
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), issuanceRetries-1),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		var oauthErr *Error
		if errors.As(err, &oauthErr) {
			return nil, oauthErr
		}
		if errors.Is(err, ErrConflict) {
			return nil, NewError(ErrTemporarilyUnavailable, "token issuance conflict, try again")
		}
		return nil, fmt.Errorf("token issuance failed: %w", err)
	}

	return issued, nil
}

// ValidateClientCredentials authenticates a confidential client.
func (s *Service) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}

	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}

	return client, nil
}

// VerifyToken resolves a bearer access token. Expired or unknown tokens
// are rejected.
func (s *Service) VerifyToken(ctx context.Context, accessToken string) (*Token, error) {
	token, err := s.tokens.GetByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, ErrTokenNotFound
	}

	if !token.Expires.After(s.now()) {
		return nil, ErrTokenExpired
	}

	return token, nil
}

// RevokeToken deletes a token the user authorized. Tokens belonging to
// other users are invisible to the caller.
func (s *Service) RevokeToken(ctx context.Context, userID, tokenID int64) error {
	token, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil || token.UserID != userID {
		return ErrTokenNotFound
	}

	if err := s.tokens.Delete(ctx, tokenID); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRevoked,
		ActorID:  strconv.FormatInt(userID, 10),
		ClientID: token.ClientID,
		Resource: "token",
	})

	return nil
}

// Authorizations lists every token a user has authorized.
func (s *Service) Authorizations(ctx context.Context, userID int64) ([]*Token, error) {
	return s.tokens.ListByUser(ctx, userID)
}

// AuditClient lists every token held by a client.
func (s *Service) AuditClient(ctx context.Context, clientID string) ([]*Token, error) {
	return s.tokens.ListByClient(ctx, clientID)
}

// Interest builds the inspection view of a token, resolving the username.
func (s *Service) Interest(ctx context.Context, token *Token) (Interest, error) {
	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return Interest{}, fmt.Errorf("failed to resolve token user: %w", err)
	}
	return token.Interest(user.Username), nil
}

// Introspect resolves an access token for the debug inspection endpoint.
func (s *Service) Introspect(ctx context.Context, accessToken string) (*Token, error) {
	token, err := s.tokens.GetByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, NewServiceError(ErrNoToken, fmt.Sprintf("Token %q not found.", accessToken))
	}
	return token, nil
}

// DebugTokenRequest is the input for privileged one-step token minting.
// Numeric fields arrive as strings so malformed input can be reported with
// a typed error instead of a decode failure.
type DebugTokenRequest struct {
	ClientID        string
	AccessLifetime  string
	ApprovalExpires string
	Scope           string
	Username        string
	PatientID       string
}

// CreateDebugToken mints an issued token in one step, reusing the
// refresh-path math for lifetime handling. Off by default; exposed only
// when the debug endpoints are enabled.
func (s *Service) CreateDebugToken(ctx context.Context, req *DebugTokenRequest) (*Token, error) {
	if req.Username == "" {
		return nil, NewServiceError(ErrNoUser, `"username" is required.`)
	}
	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, NewServiceError(ErrNoUser, fmt.Sprintf("Username %q not found", req.Username))
	}

	if req.ClientID == "" {
		return nil, NewServiceError(ErrNoClient, `"client_id" is required.`)
	}
	client, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, NewServiceError(ErrNoClient, fmt.Sprintf("Client ID %q not found.", req.ClientID))
	}

	if req.PatientID == "" {
		return nil, NewServiceError(ErrNoPatient, `"patient_id" is required.`)
	}
	patients, err := s.users.Patients(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load patients: %w", err)
	}
	if identity.FindPatient(patients, req.PatientID) == nil {
		return nil, NewServiceError(ErrNoPatientForUser,
			fmt.Sprintf("Patient ID %q does not belong to user %q", req.PatientID, req.Username))
	}

	lifetime, err := strconv.Atoi(req.AccessLifetime)
	if err != nil || lifetime < 0 {
		return nil, NewServiceError(ErrMalformedLifetime, "Access token lifetime should be an integer.")
	}

	expiresUnix, err := strconv.ParseInt(req.ApprovalExpires, 10, 64)
	if err != nil {
		return nil, NewServiceError(ErrMalformedExpiration, "Approval expiration time should be a Unix timestamp.")
	}
	approvalExpires := time.Unix(expiresUnix, 0).UTC()

	scopes := SplitScopes(req.Scope)
	if req.Scope == "" {
		scopes = client.DefaultScopes
	}

	seed := &Token{
		ClientID:        client.ClientID,
		UserID:          user.ID,
		PatientID:       req.PatientID,
		SecurityLabels:  client.SecurityLabels,
		ApprovalExpires: approvalExpires,
	}

	token := seed.Refresh(
		uuid.NewString(),
		uuid.NewString(),
		time.Duration(lifetime)*time.Second,
		TokenTypeBearer,
		scopes,
		s.now(),
	)

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to persist debug token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  user.Username,
		ClientID: client.ClientID,
		Resource: "token",
		Metadata: map[string]any{"debug": true, "patient_id": req.PatientID},
	})

	return token, nil
}
