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
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/fhirgate/fhirgate/internal/audit"
	"github.com/fhirgate/fhirgate/internal/identity"
)

// Mock repos for the authorization engine
type MockClientRepo struct {
	clients map[string]*Client
}

func (m *MockClientRepo) Create(ctx context.Context, client *Client) error {
	m.clients[client.ClientID] = client
	return nil
}

func (m *MockClientRepo) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	c, ok := m.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return c, nil
}

type MockGrantRepo struct {
	grants map[string]*Grant
	nextID int64
}

func (m *MockGrantRepo) Create(ctx context.Context, grant *Grant) error {
	m.nextID++
	grant.ID = m.nextID
	m.grants[grant.Code] = grant
	return nil
}

func (m *MockGrantRepo) GetActive(ctx context.Context, clientID, code string, now time.Time) (*Grant, error) {
	g, ok := m.grants[code]
	if !ok || g.ClientID != clientID || !g.Expires.After(now) {
		return nil, ErrGrantNotFound
	}
	return g, nil
}

func (m *MockGrantRepo) expire(grantID int64, now time.Time) {
	for _, g := range m.grants {
		if g.ID == grantID {
			g.Expires = now
		}
	}
}

type MockTokenRepo struct {
	tokens map[int64]*Token
	nextID int64
	grants *MockGrantRepo
	now    func() time.Time

	// conflicts is how many ReplaceForIssuance calls fail with ErrConflict
	// before one succeeds.
	conflicts int
}

func (m *MockTokenRepo) Create(ctx context.Context, token *Token) error {
	m.nextID++
	token.ID = m.nextID
	m.tokens[token.ID] = token
	return nil
}

func (m *MockTokenRepo) GetByID(ctx context.Context, id int64) (*Token, error) {
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

func (m *MockTokenRepo) GetByAccessToken(ctx context.Context, accessToken string) (*Token, error) {
	for _, t := range m.tokens {
		if t.AccessToken != "" && t.AccessToken == accessToken {
			return t, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MockTokenRepo) GetByRefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	for _, t := range m.tokens {
		if t.RefreshToken != "" && t.RefreshToken == refreshToken {
			return t, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MockTokenRepo) ListByClient(ctx context.Context, clientID string) ([]*Token, error) {
	var out []*Token
	for _, t := range m.tokens {
		if t.ClientID == clientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockTokenRepo) ListByUser(ctx context.Context, userID int64) ([]*Token, error) {
	var out []*Token
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockTokenRepo) ListApproved(ctx context.Context, clientID string, userID int64, now time.Time) ([]*Token, error) {
	var out []*Token
	for _, t := range m.tokens {
		if t.ClientID == clientID && t.UserID == userID && t.Approved(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ApprovalExpires.Before(out[j].ApprovalExpires)
	})
	return out, nil
}

func (m *MockTokenRepo) Delete(ctx context.Context, id int64) error {
	delete(m.tokens, id)
	return nil
}

func (m *MockTokenRepo) ReplaceForIssuance(ctx context.Context, grantID int64, dropIDs []int64, token *Token) error {
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}
	for _, id := range dropIDs {
		delete(m.tokens, id)
	}
	if grantID != 0 && m.grants != nil {
		m.grants.expire(grantID, m.now())
	}
	return m.Create(ctx, token)
}

func (m *MockTokenRepo) ReplaceForClient(ctx context.Context, clientID string, token *Token) error {
	for id, t := range m.tokens {
		if t.ClientID == clientID {
			delete(m.tokens, id)
		}
	}
	return m.Create(ctx, token)
}

type MockUserRepo struct {
	users    map[int64]*identity.User
	patients map[int64][]*identity.Patient
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *MockUserRepo) Patients(ctx context.Context, userID int64) ([]*identity.Patient, error) {
	return m.patients[userID], nil
}

func (m *MockUserRepo) Create(ctx context.Context, user *identity.User) error { return nil }

func (m *MockUserRepo) AddPatient(ctx context.Context, patient *identity.Patient) error { return nil }

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type testEngine struct {
	svc     *Service
	clients *MockClientRepo
	grants  *MockGrantRepo
	tokens  *MockTokenRepo
	users   *MockUserRepo
}

func newTestEngine() *testEngine {
	clients := &MockClientRepo{clients: map[string]*Client{
		"client-1": {
			ClientID:       "client-1",
			ClientSecret:   "secret-1",
			Name:           "Growth Chart",
			RedirectURIs:   []string{"https://app.example.com/callback"},
			DefaultScopes:  []string{"launch/patient", "patient/*.read"},
			SecurityLabels: seedSecurityLabels,
		},
	}}
	grants := &MockGrantRepo{grants: make(map[string]*Grant)}
	now := func() time.Time { return testNow }
	tokens := &MockTokenRepo{tokens: make(map[int64]*Token), grants: grants, now: now}
	users := &MockUserRepo{
		users: map[int64]*identity.User{
			1: {ID: 1, Username: "daniel-adams", Name: "Daniel X. Adams"},
		},
		patients: map[int64][]*identity.Patient{
			1: {{ID: 1, PatientID: "smart-1288992", Name: "Daniel X. Adams", IsUser: true, UserID: 1}},
		},
	}

	svc := NewService(clients, grants, tokens, users, audit.NewSlogLogger(),
		time.Hour, 100*time.Second)
	svc.now = now

	return &testEngine{svc: svc, clients: clients, grants: grants, tokens: tokens, users: users}
}

// consent records an approval for client-1/user-1 expiring at the given time.
func (e *testEngine) consent(t *testing.T, approvalExpires time.Time) {
	t.Helper()
	err := e.svc.CreateAuthorization(context.Background(), "client-1", approvalExpires,
		[]string{"patient", "medications"}, 1, "smart-1288992")
	if err != nil {
		t.Fatalf("consent failed: %v", err)
	}
}

func (e *testEngine) grant(t *testing.T) *Grant {
	t.Helper()
	g, err := e.svc.CreateGrant(context.Background(), "client-1", 1,
		"https://app.example.com/callback", []string{"launch/patient", "patient/*.read"})
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	return g
}

// TestPurpose: Validates the full authorization-code exchange against a consent pre-authorization.
// Scope: Unit Test
// Security: OAuth2 Authorization Code Grant flow (RFC 6749 Section 4.1.3)
// Expected: Issues a bearer token bound to the approved patient, carrying the consent's approval window.
func TestOAuth_Service_IssueToken_AuthorizationCode(t *testing.T) {
	e := newTestEngine()
	approval := testNow.Add(365 * 24 * time.Hour)
	e.consent(t, approval)
	g := e.grant(t)

	res, err := e.svc.IssueToken(context.Background(), &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Error("expected fresh access and refresh tokens")
	}
	if res.TokenType != "bearer" {
		t.Errorf("expected token_type bearer, got %q", res.TokenType)
	}
	if res.Patient != "smart-1288992" {
		t.Errorf("expected patient smart-1288992, got %q", res.Patient)
	}
	if res.ExpiresIn != 3600 {
		t.Errorf("expected expires_in 3600, got %d", res.ExpiresIn)
	}
	if res.Scope != "launch/patient patient/*.read" {
		t.Errorf("unexpected scope %q", res.Scope)
	}

	// The pre-authorization was consumed: exactly one token remains and it
	// inherits the consent's approval window and security labels.
	if len(e.tokens.tokens) != 1 {
		t.Fatalf("expected 1 surviving token, got %d", len(e.tokens.tokens))
	}
	issued, _ := e.tokens.GetByAccessToken(context.Background(), res.AccessToken)
	if !issued.ApprovalExpires.Equal(approval) {
		t.Errorf("approval window not preserved: %v", issued.ApprovalExpires)
	}
	if len(issued.SecurityLabels) != 2 || issued.SecurityLabels[0] != "patient" {
		t.Errorf("security labels not preserved: %v", issued.SecurityLabels)
	}
}

// TestPurpose: Validates that a consumed authorization code cannot be exchanged twice.
// Scope: Unit Test
// Security: Authorization code replay attack prevention
// Expected: Second exchange with the same code returns invalid_grant.
func TestOAuth_Service_IssueToken_CodeReplay(t *testing.T) {
	e := newTestEngine()
	e.consent(t, testNow.Add(24*time.Hour))
	g := e.grant(t)

	req := &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	}

	if _, err := e.svc.IssueToken(context.Background(), req); err != nil {
		t.Fatalf("first exchange failed: %v", err)
	}

	_, err := e.svc.IssueToken(context.Background(), req)
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrInvalidGrant {
		t.Errorf("expected invalid_grant on replay, got %v", err)
	}
}

// TestPurpose: Validates that token exchange fails without a prior consent pre-authorization.
// Scope: Unit Test
// Security: Consent binding between authorization codes and approvals
// Expected: invalid_grant when no approved token exists for the client/user pair.
func TestOAuth_Service_IssueToken_NoApproval(t *testing.T) {
	e := newTestEngine()
	g := e.grant(t)

	_, err := e.svc.IssueToken(context.Background(), &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrInvalidGrant {
		t.Errorf("expected invalid_grant without approval, got %v", err)
	}
}

// TestPurpose: Validates basis selection when several approvals are on file.
// Scope: Unit Test
// Security: Approval window integrity across repeated consents
// Expected: The issued token inherits the latest approval expiry and all candidates are dropped.
func TestOAuth_Service_IssueToken_BasisSelection(t *testing.T) {
	e := newTestEngine()

	early := testNow.Add(24 * time.Hour)
	late := testNow.Add(720 * time.Hour)

	// Seed candidates directly so both survive (consent normally drops
	// the client's previous tokens).
	ctx := context.Background()
	e.tokens.Create(ctx, &Token{ClientID: "client-1", UserID: 1, PatientID: "smart-1288992", ApprovalExpires: early})
	e.tokens.Create(ctx, &Token{ClientID: "client-1", UserID: 1, PatientID: "smart-1288992", ApprovalExpires: late})
	g := e.grant(t)

	res, err := e.svc.IssueToken(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if len(e.tokens.tokens) != 1 {
		t.Fatalf("expected all candidates collapsed into 1 token, got %d", len(e.tokens.tokens))
	}
	issued, _ := e.tokens.GetByAccessToken(ctx, res.AccessToken)
	if !issued.ApprovalExpires.Equal(late) {
		t.Errorf("expected basis with latest approval expiry %v, got %v", late, issued.ApprovalExpires)
	}
}

// TestPurpose: Validates refresh_token grant rotation within an open approval window.
// Scope: Unit Test
// Security: Refresh token rotation (RFC 6749 Section 6)
// Expected: A new token replaces the old; the old refresh token stops working.
func TestOAuth_Service_IssueToken_Refresh(t *testing.T) {
	e := newTestEngine()
	e.consent(t, testNow.Add(720*time.Hour))
	g := e.grant(t)

	ctx := context.Background()
	first, err := e.svc.IssueToken(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	second, err := e.svc.IssueToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if second.AccessToken == first.AccessToken || second.RefreshToken == first.RefreshToken {
		t.Error("expected rotated credentials")
	}
	if second.Patient != "smart-1288992" {
		t.Errorf("patient binding lost on refresh: %q", second.Patient)
	}
	if _, err := e.tokens.GetByRefreshToken(ctx, first.RefreshToken); !errors.Is(err, ErrTokenNotFound) {
		t.Error("old refresh token should be gone")
	}
}

// TestPurpose: Validates that refresh is refused once the approval window has closed.
// Scope: Unit Test
// Security: Long-lived approval expiry enforcement
// Expected: invalid_grant when ApprovalExpires is in the past.
func TestOAuth_Service_IssueToken_RefreshAfterApprovalExpiry(t *testing.T) {
	e := newTestEngine()

	ctx := context.Background()
	stale := &Token{
		ClientID:        "client-1",
		UserID:          1,
		PatientID:       "smart-1288992",
		TokenType:       TokenTypeBearer,
		AccessToken:     "stale-access",
		RefreshToken:    "stale-refresh",
		Expires:         testNow.Add(time.Hour),
		ApprovalExpires: testNow.Add(-time.Minute),
	}
	e.tokens.Create(ctx, stale)

	_, err := e.svc.IssueToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RefreshToken: "stale-refresh",
	})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrInvalidGrant {
		t.Errorf("expected invalid_grant after approval expiry, got %v", err)
	}
}

// TestPurpose: Validates client authentication at the token endpoint.
// Scope: Unit Test
// Security: Confidential client credential check (RFC 6749 Section 2.3.1)
// Expected: invalid_client for a wrong secret; the grant is left untouched.
func TestOAuth_Service_IssueToken_BadClientSecret(t *testing.T) {
	e := newTestEngine()
	e.consent(t, testNow.Add(24*time.Hour))
	g := e.grant(t)

	ctx := context.Background()
	_, err := e.svc.IssueToken(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "wrong",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrInvalidClient {
		t.Errorf("expected invalid_client, got %v", err)
	}

	if _, err := e.grants.GetActive(ctx, "client-1", g.Code, testNow); err != nil {
		t.Error("grant should survive a failed client authentication")
	}
}

// TestPurpose: Validates redirect_uri binding between authorization and token requests.
// Scope: Unit Test
// Security: Redirect URI confusion prevention (RFC 6749 Section 4.1.3)
// Expected: invalid_grant on mismatch.
func TestOAuth_Service_IssueToken_RedirectMismatch(t *testing.T) {
	e := newTestEngine()
	e.consent(t, testNow.Add(24*time.Hour))
	g := e.grant(t)

	_, err := e.svc.IssueToken(context.Background(), &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://evil.example.com/callback",
	})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrInvalidGrant {
		t.Errorf("expected invalid_grant, got %v", err)
	}
}

// TestPurpose: Validates that losing a serialization conflict is retried and then succeeds.
// Scope: Unit Test
// Security: Concurrent issuance safety
// Expected: A single transient conflict is absorbed; issuance completes.
func TestOAuth_Service_IssueToken_ConflictRetry(t *testing.T) {
	e := newTestEngine()
	e.consent(t, testNow.Add(24*time.Hour))
	g := e.grant(t)
	e.tokens.conflicts = 1

	res, err := e.svc.IssueToken(context.Background(), &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("expected retry to absorb the conflict, got %v", err)
	}
	if res.AccessToken == "" {
		t.Error("access token missing after retry")
	}
}

// TestPurpose: Validates that persistent serialization conflicts surface as a retryable protocol error.
// Scope: Unit Test
// Security: Concurrent issuance safety
// Expected: temporarily_unavailable once the retry budget is exhausted.
func TestOAuth_Service_IssueToken_ConflictExhausted(t *testing.T) {
	e := newTestEngine()
	e.consent(t, testNow.Add(24*time.Hour))
	g := e.grant(t)
	e.tokens.conflicts = 10

	_, err := e.svc.IssueToken(context.Background(), &TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Code:         g.Code,
		RedirectURI:  "https://app.example.com/callback",
	})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != ErrTemporarilyUnavailable {
		t.Errorf("expected temporarily_unavailable, got %v", err)
	}
}

// TestPurpose: Validates that consent replaces every token the client holds.
// Scope: Unit Test
// Security: At-most-one live authorization per client
// Expected: A second consent leaves exactly one pre-authorization on file.
func TestOAuth_Service_CreateAuthorization_ReplacesExisting(t *testing.T) {
	e := newTestEngine()
	e.consent(t, testNow.Add(24*time.Hour))
	e.consent(t, testNow.Add(48*time.Hour))

	if len(e.tokens.tokens) != 1 {
		t.Fatalf("expected 1 token after repeated consent, got %d", len(e.tokens.tokens))
	}
	for _, tok := range e.tokens.tokens {
		if tok.AccessToken != "" {
			t.Error("pre-authorization must not carry an access token")
		}
		if !tok.ApprovalExpires.Equal(testNow.Add(48 * time.Hour)) {
			t.Errorf("expected the newer approval window, got %v", tok.ApprovalExpires)
		}
	}
}

// TestPurpose: Validates bearer token verification against the access expiry.
// Scope: Unit Test
// Security: Access token lifetime enforcement
// Expected: A live token resolves; an expired one is rejected.
func TestOAuth_Service_VerifyToken(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	e.tokens.Create(ctx, &Token{
		ClientID: "client-1", UserID: 1, AccessToken: "live",
		Expires: testNow.Add(time.Hour), ApprovalExpires: testNow.Add(time.Hour),
	})
	e.tokens.Create(ctx, &Token{
		ClientID: "client-1", UserID: 1, AccessToken: "dead",
		Expires: testNow.Add(-time.Second), ApprovalExpires: testNow.Add(time.Hour),
	})

	if _, err := e.svc.VerifyToken(ctx, "live"); err != nil {
		t.Errorf("live token rejected: %v", err)
	}
	if _, err := e.svc.VerifyToken(ctx, "dead"); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := e.svc.VerifyToken(ctx, "unknown"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

// TestPurpose: Validates that revocation is scoped to the owning user.
// Scope: Unit Test
// Security: Horizontal privilege escalation prevention
// Expected: Another user's token is invisible to the caller.
func TestOAuth_Service_RevokeToken_Ownership(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	tok := &Token{ClientID: "client-1", UserID: 1, AccessToken: "mine"}
	e.tokens.Create(ctx, tok)

	if err := e.svc.RevokeToken(ctx, 99, tok.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound for foreign user, got %v", err)
	}
	if err := e.svc.RevokeToken(ctx, 1, tok.ID); err != nil {
		t.Errorf("owner revocation failed: %v", err)
	}
	if len(e.tokens.tokens) != 0 {
		t.Error("token should be deleted")
	}
}

// TestPurpose: Validates the ordered input checks of privileged debug issuance.
// Scope: Unit Test
// Security: Debug surface input validation
// Expected: Each malformed input yields its typed service error; a valid request mints an issued token.
func TestOAuth_Service_CreateDebugToken(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	valid := &DebugTokenRequest{
		ClientID:        "client-1",
		AccessLifetime:  "3600",
		ApprovalExpires: "1893456000",
		Scope:           "launch/patient",
		Username:        "daniel-adams",
		PatientID:       "smart-1288992",
	}

	cases := []struct {
		name    string
		mutate  func(r *DebugTokenRequest)
		code    string
	}{
		{"unknown user", func(r *DebugTokenRequest) { r.Username = "nobody" }, ErrNoUser},
		{"unknown client", func(r *DebugTokenRequest) { r.ClientID = "nope" }, ErrNoClient},
		{"missing patient", func(r *DebugTokenRequest) { r.PatientID = "" }, ErrNoPatient},
		{"foreign patient", func(r *DebugTokenRequest) { r.PatientID = "smart-9999999" }, ErrNoPatientForUser},
		{"bad lifetime", func(r *DebugTokenRequest) { r.AccessLifetime = "soon" }, ErrMalformedLifetime},
		{"negative lifetime", func(r *DebugTokenRequest) { r.AccessLifetime = "-1" }, ErrMalformedLifetime},
		{"bad expiration", func(r *DebugTokenRequest) { r.ApprovalExpires = "tomorrow" }, ErrMalformedExpiration},
	}
	for _, tc := range cases {
		req := *valid
		tc.mutate(&req)
		_, err := e.svc.CreateDebugToken(ctx, &req)
		var serr *ServiceError
		if !errors.As(err, &serr) || serr.Code != tc.code {
			t.Errorf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}

	tok, err := e.svc.CreateDebugToken(ctx, valid)
	if err != nil {
		t.Fatalf("debug issuance failed: %v", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Error("expected issued credentials")
	}
	if !tok.ApprovalExpires.Equal(time.Unix(1893456000, 0).UTC()) {
		t.Errorf("unexpected approval expiry %v", tok.ApprovalExpires)
	}
	if !tok.Expires.Equal(testNow.Add(time.Hour)) {
		t.Errorf("unexpected access expiry %v", tok.Expires)
	}
	if len(tok.SecurityLabels) != len(seedSecurityLabels) {
		t.Errorf("expected the client's label set, got %v", tok.SecurityLabels)
	}
}

// TestPurpose: Validates debug issuance falling back to the client's default scopes.
// Scope: Unit Test
// Expected: An empty scope string selects the registered defaults.
func TestOAuth_Service_CreateDebugToken_DefaultScopes(t *testing.T) {
	e := newTestEngine()

	tok, err := e.svc.CreateDebugToken(context.Background(), &DebugTokenRequest{
		ClientID:        "client-1",
		AccessLifetime:  "60",
		ApprovalExpires: "1893456000",
		Username:        "daniel-adams",
		PatientID:       "smart-1288992",
	})
	if err != nil {
		t.Fatalf("debug issuance failed: %v", err)
	}
	if JoinScopes(tok.Scopes) != "launch/patient patient/*.read" {
		t.Errorf("expected default scopes, got %v", tok.Scopes)
	}
}
