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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fhirgate/fhirgate/internal/oauth"
)

// GrantRepository implements oauth.GrantRepository
type GrantRepository struct {
	db *DB
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Create creates a new grant
func (r *GrantRepository) Create(ctx context.Context, grant *oauth.Grant) error {
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO grants (client_id, user_id, code, redirect_uri, scopes, expires)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		grant.ClientID, grant.UserID, grant.Code, grant.RedirectURI,
		oauth.JoinScopes(grant.Scopes), grant.Expires,
	).Scan(&grant.ID)

	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}

	return nil
}

// GetActive retrieves the unexpired grant for (client_id, code)
func (r *GrantRepository) GetActive(ctx context.Context, clientID, code string, now time.Time) (*oauth.Grant, error) {
	var grant oauth.Grant
	var scopes string

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, client_id, user_id, code, redirect_uri, scopes, expires
		FROM grants
		WHERE client_id = $1 AND code = $2 AND expires > $3
	`, clientID, code, now).Scan(
		&grant.ID, &grant.ClientID, &grant.UserID, &grant.Code,
		&grant.RedirectURI, &scopes, &grant.Expires,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	grant.Scopes = oauth.SplitScopes(scopes)

	return &grant, nil
}
