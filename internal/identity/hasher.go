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

package identity

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PasswordHasher hashes and verifies passwords using PBKDF2-SHA512.
// The stored form embeds algorithm, rounds, and salt so the parameters
// can be rotated without invalidating existing hashes.
type PasswordHasher struct {
	rounds     int
	saltLength int
	keyLength  int
}

// NewPasswordHasher creates a new password hasher
func NewPasswordHasher(rounds, saltLength, keyLength int) *PasswordHasher {
	return &PasswordHasher{
		rounds:     rounds,
		saltLength: saltLength,
		keyLength:  keyLength,
	}
}

// Hash hashes a password with a fresh random salt.
// Encoded as: $pbkdf2-sha512$<rounds>$<salt>$<hash>
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, h.rounds, h.keyLength, sha512.New)

	encoded := fmt.Sprintf(
		"$pbkdf2-sha512$%d$%s$%s",
		h.rounds,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// Verify verifies a password against an encoded hash. The parameters are
// taken from the hash itself, not from the hasher, so hashes produced
// under older settings keep verifying.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	sections := strings.Split(strings.TrimPrefix(encodedHash, "$"), "$")
	if len(sections) != 4 || sections[0] != "pbkdf2-sha512" {
		return false, fmt.Errorf("invalid hash format")
	}

	rounds, err := strconv.Atoi(sections[1])
	if err != nil || rounds <= 0 {
		return false, fmt.Errorf("invalid rounds: %q", sections[1])
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[2])
	if err != nil {
		return false, fmt.Errorf("invalid salt encoding: %w", err)
	}

	expected, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("invalid hash encoding: %w", err)
	}

	actual := pbkdf2.Key([]byte(password), salt, rounds, len(expected), sha512.New)

	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}
