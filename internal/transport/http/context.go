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
	"context"

	"github.com/fhirgate/fhirgate/internal/oauth"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	sessionIDKey contextKey = "session_id"
	tokenKey     contextKey = "token"
)

// GetUserID retrieves the authenticated user ID from context.
func GetUserID(ctx context.Context) int64 {
	if val, ok := ctx.Value(userIDKey).(int64); ok {
		return val
	}
	return 0
}

// GetSessionID retrieves the session ID from context.
func GetSessionID(ctx context.Context) string {
	if val, ok := ctx.Value(sessionIDKey).(string); ok {
		return val
	}
	return ""
}

// GetToken retrieves the resolved bearer token from context.
func GetToken(ctx context.Context) *oauth.Token {
	if val, ok := ctx.Value(tokenKey).(*oauth.Token); ok {
		return val
	}
	return nil
}
