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
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fhirgate/fhirgate/internal/oauth"
)

const tokenColumns = `
	id, client_id, user_id, patient_id, token_type,
	COALESCE(access_token, ''), COALESCE(refresh_token, ''),
	scopes, security_labels, expires, approval_expires`

// TokenRepository implements oauth.TokenRepository. The two Replace
// methods run as SERIALIZABLE transactions; serialization losers surface
// as oauth.ErrConflict for the engine to retry.
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertToken(ctx context.Context, q rowQuerier, token *oauth.Token) error {
	return q.QueryRow(ctx, `
		INSERT INTO tokens (
			client_id, user_id, patient_id, token_type,
			access_token, refresh_token, scopes, security_labels,
			expires, approval_expires
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
		RETURNING id
	`,
		token.ClientID, token.UserID, token.PatientID, token.TokenType,
		token.AccessToken, token.RefreshToken,
		oauth.JoinScopes(token.Scopes), oauth.JoinScopes(token.SecurityLabels),
		token.Expires, token.ApprovalExpires,
	).Scan(&token.ID)
}

func scanToken(row pgx.Row) (*oauth.Token, error) {
	var token oauth.Token
	var scopes, labels string

	err := row.Scan(
		&token.ID, &token.ClientID, &token.UserID, &token.PatientID, &token.TokenType,
		&token.AccessToken, &token.RefreshToken,
		&scopes, &labels, &token.Expires, &token.ApprovalExpires,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}

	token.Scopes = oauth.SplitScopes(scopes)
	token.SecurityLabels = oauth.SplitScopes(labels)

	return &token, nil
}

// isSerializationFailure matches the SQLSTATEs Postgres raises when a
// serializable transaction loses (serialization_failure, deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Create persists a token
func (r *TokenRepository) Create(ctx context.Context, token *oauth.Token) error {
	if err := insertToken(ctx, r.db.pool, token); err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetByID retrieves a token by primary key
func (r *TokenRepository) GetByID(ctx context.Context, id int64) (*oauth.Token, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	return scanToken(row)
}

// GetByAccessToken retrieves a token by its access token string
func (r *TokenRepository) GetByAccessToken(ctx context.Context, accessToken string) (*oauth.Token, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE access_token = $1`, accessToken)
	return scanToken(row)
}

// GetByRefreshToken retrieves a token by its refresh token string
func (r *TokenRepository) GetByRefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE refresh_token = $1`, refreshToken)
	return scanToken(row)
}

func (r *TokenRepository) list(ctx context.Context, query string, args ...any) ([]*oauth.Token, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*oauth.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// ListByClient retrieves every token held by a client
func (r *TokenRepository) ListByClient(ctx context.Context, clientID string) ([]*oauth.Token, error) {
	return r.list(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE client_id = $1 ORDER BY id`, clientID)
}

// ListByUser retrieves every token authorized by a user
func (r *TokenRepository) ListByUser(ctx context.Context, userID int64) ([]*oauth.Token, error) {
	return r.list(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE user_id = $1 ORDER BY id`, userID)
}

// ListApproved retrieves the open-window tokens for (client_id, user_id),
// oldest approval expiry first.
func (r *TokenRepository) ListApproved(ctx context.Context, clientID string, userID int64, now time.Time) ([]*oauth.Token, error) {
	return r.list(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE client_id = $1 AND user_id = $2 AND approval_expires >= $3
		ORDER BY approval_expires ASC
	`, clientID, userID, now)
}

// Delete deletes a token by primary key
func (r *TokenRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return oauth.ErrTokenNotFound
	}
	return nil
}

// ReplaceForIssuance atomically consumes the grant, deletes the basis
// candidates, and inserts the issued token.
func (r *TokenRepository) ReplaceForIssuance(ctx context.Context, grantID int64, dropIDs []int64, token *oauth.Token) error {
	err := r.inSerializableTx(ctx, func(tx pgx.Tx) error {
		if grantID != 0 {
			// Consuming a grant moves its expiry to the present instead
			// of deleting it, keeping the row for audit.
			if _, err := tx.Exec(ctx,
				`UPDATE grants SET expires = now() WHERE id = $1`, grantID); err != nil {
				return fmt.Errorf("failed to consume grant: %w", err)
			}
		}

		if len(dropIDs) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM tokens WHERE id = ANY($1)`, dropIDs); err != nil {
				return fmt.Errorf("failed to drop candidate tokens: %w", err)
			}
		}

		return insertToken(ctx, tx, token)
	})
	if err != nil {
		return fmt.Errorf("token issuance transaction: %w", err)
	}
	return nil
}

// ReplaceForClient atomically replaces every token the client holds with
// the consent pre-authorization.
func (r *TokenRepository) ReplaceForClient(ctx context.Context, clientID string, token *oauth.Token) error {
	err := r.inSerializableTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM tokens WHERE client_id = $1`, clientID); err != nil {
			return fmt.Errorf("failed to drop client tokens: %w", err)
		}
		return insertToken(ctx, tx, token)
	})
	if err != nil {
		return fmt.Errorf("authorization transaction: %w", err)
	}
	return nil
}

func (r *TokenRepository) inSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if isSerializationFailure(err) {
			return oauth.ErrConflict
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return oauth.ErrConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
