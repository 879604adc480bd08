/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package auth checks private-namespace credentials for kvdb.

Security Model:
===============

A single shared secret, read once at startup from the authentication file,
guards the private namespace. A request is authorized when its
Authorization header is present and byte-for-byte identical to the secret.
There are no users, roles or sessions; a session that presents the wrong
credential is refused for that request only and may try again.

The Authenticator keeps only a BLAKE2b-256 digest of the secret. Presented
credentials are hashed the same way and compared with a constant-time
comparison, so the comparison time does not depend on how many leading
bytes matched.
*/
package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// Authenticator validates credentials against the configured secret.
// It is immutable after construction and safe for concurrent use.
type Authenticator struct {
	digest [blake2b.Size256]byte
}

// NewAuthenticator creates an Authenticator for secret. An empty secret is
// valid and matches only an empty, present header.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{digest: blake2b.Sum256([]byte(secret))}
}

// Check reports whether a credential was presented and equals the secret.
// present distinguishes a missing header from an empty one.
func (a *Authenticator) Check(credential string, present bool) bool {
	if !present {
		return false
	}
	got := blake2b.Sum256([]byte(credential))
	return subtle.ConstantTimeCompare(got[:], a.digest[:]) == 1
}
