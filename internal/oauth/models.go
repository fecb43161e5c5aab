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
	"strings"
	"time"
)

// Domain errors (internal)
var (
	ErrClientNotFound = errors.New("client not found")
	ErrGrantNotFound  = errors.New("grant not found")
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token expired")
	// ErrConflict signals a serialization failure on a multi-row token
	// mutation; the engine retries these.
	ErrConflict = errors.New("token store conflict")
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "bearer"

// Client is an application that wants access to a user's FHIR resources.
// Clients are created by dynamic registration and never mutated afterwards.
type Client struct {
	ClientID       string
	ClientSecret   string
	Name           string
	RedirectURIs   []string
	DefaultScopes  []string
	SecurityLabels []string
}

// ClientType reports the OAuth 2.0 client profile. Every registered client
// is confidential; public clients are not supported.
func (c *Client) ClientType() string {
	return "confidential"
}

// DefaultRedirectURI returns the first registered redirect URI.
func (c *Client) DefaultRedirectURI() string {
	if len(c.RedirectURIs) == 0 {
		return ""
	}
	return c.RedirectURIs[0]
}

// ValidateRedirectURI checks the URI against the registered list (exact match).
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// Grant is a single-use authorization code bound to a client, user,
// redirect URI and scope set. A grant is valid only while Expires is in
// the future; consumption forces it into the past.
type Grant struct {
	ID          int64
	ClientID    string
	UserID      int64
	Code        string
	RedirectURI string
	Scopes      []string
	Expires     time.Time
}

// Token is a bearer access credential together with its refresh partner.
// A token created at consent time has ApprovalExpires set but no
// access/refresh strings yet; issuance fills those in on a new record.
type Token struct {
	ID             int64
	ClientID       string
	UserID         int64
	PatientID      string
	TokenType      string
	AccessToken    string
	RefreshToken   string
	Scopes         []string
	SecurityLabels []string
	Expires         time.Time // access token expiry
	ApprovalExpires time.Time // refresh / long-lived approval window expiry
}

// Refresh derives the issued successor of this token: same client, user,
// patient binding, security labels and approval window, fresh credentials
// and access expiry.
func (t *Token) Refresh(accessToken, refreshToken string, expiresIn time.Duration, tokenType string, scopes []string, now time.Time) *Token {
	return &Token{
		ClientID:        t.ClientID,
		UserID:          t.UserID,
		PatientID:       t.PatientID,
		SecurityLabels:  t.SecurityLabels,
		ApprovalExpires: t.ApprovalExpires,
		TokenType:       tokenType,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		Scopes:          scopes,
		Expires:         now.Add(expiresIn),
	}
}

// Approved reports whether the token's approval window is still open.
func (t *Token) Approved(now time.Time) bool {
	return !t.ApprovalExpires.Before(now)
}

// Interest is the stable JSON view of a token for inspection endpoints.
type Interest struct {
	TokenType       string    `json:"token_type"`
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	ApprovalExpires time.Time `json:"approval_expires"`
	SecurityLabels  []string  `json:"security_labels"`
	AccessExpires   time.Time `json:"access_expires"`
	Scope           string    `json:"scope"`
	ClientID        string    `json:"client_id"`
	Username        string    `json:"username"`
}

// Interest builds the inspection view of the token.
func (t *Token) Interest(username string) Interest {
	labels := t.SecurityLabels
	if labels == nil {
		labels = []string{}
	}
	return Interest{
		TokenType:       t.TokenType,
		AccessToken:     t.AccessToken,
		RefreshToken:    t.RefreshToken,
		ApprovalExpires: t.ApprovalExpires,
		SecurityLabels:  labels,
		AccessExpires:   t.Expires,
		Scope:           JoinScopes(t.Scopes),
		ClientID:        t.ClientID,
		Username:        username,
	}
}

// JoinScopes space-joins a scope set for storage and wire use.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// SplitScopes splits a space-separated scope string.
func SplitScopes(scope string) []string {
	return strings.Fields(scope)
}

// ClientRepository defines the interface for client persistence
type ClientRepository interface {
	// Create creates a new client
	Create(ctx context.Context, client *Client) error

	// GetByClientID retrieves a client by client_id
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
}

// GrantRepository defines the interface for authorization code persistence
type GrantRepository interface {
	// Create creates a new grant
	Create(ctx context.Context, grant *Grant) error

	// GetActive retrieves the grant for (client_id, code) whose expiry is
	// strictly after now. Expired grants are treated as absent.
	GetActive(ctx context.Context, clientID, code string, now time.Time) (*Grant, error)
}

// TokenRepository defines the interface for token persistence.
//
// ReplaceForIssuance and ReplaceForClient are the engine's two multi-row
// mutations; implementations must make each one atomic (a serializable
// transaction or equivalent) and return ErrConflict when concurrent
// issuance for the same client/user collides.
type TokenRepository interface {
	// Create persists a token
	Create(ctx context.Context, token *Token) error

	// GetByID retrieves a token by primary key
	GetByID(ctx context.Context, id int64) (*Token, error)

	// GetByAccessToken retrieves a token by its access token string
	GetByAccessToken(ctx context.Context, accessToken string) (*Token, error)

	// GetByRefreshToken retrieves a token by its refresh token string
	GetByRefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// ListByClient retrieves every token held by a client
	ListByClient(ctx context.Context, clientID string) ([]*Token, error)

	// ListByUser retrieves every token authorized by a user
	ListByUser(ctx context.Context, userID int64) ([]*Token, error)

	// ListApproved retrieves the tokens for (client_id, user_id) whose
	// approval window is still open, ordered by approval_expires ascending.
	ListApproved(ctx context.Context, clientID string, userID int64, now time.Time) ([]*Token, error)

	// Delete deletes a token by primary key
	Delete(ctx context.Context, id int64) error

	// ReplaceForIssuance atomically expires the consumed grant (when
	// grantID is non-zero), deletes the basis-candidate tokens, and
	// inserts the newly issued token.
	ReplaceForIssuance(ctx context.Context, grantID int64, dropIDs []int64, token *Token) error

	// ReplaceForClient atomically deletes every token held by the
	// client and inserts the consent pre-authorization token.
	ReplaceForClient(ctx context.Context, clientID string, token *Token) error
}
