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
Package storage defines the in-memory key/value stores behind each namespace.

Engine Interface:
=================

The Engine interface is the contract between the request dispatcher and a
namespace's store:

	Add(key, value)   insert, or replace the value of an existing key
	Retrieve(key)     exact-match lookup; absence is not an error
	Delete(key)       remove; reports whether the key was present

Thread Safety:
==============

Engines are NOT safe for concurrent use. The server serializes every call
through one process-wide lock that also covers the statistics counters, so
a store never needs its own mutex and a stats snapshot is never torn
relative to a store mutation.

Lifecycle:
==========

One Engine per namespace is created when the server starts and lives until
the process exits. Nothing is persisted.
*/
package storage

import "errors"

// ErrStoreFault is returned by an Engine that could not complete an Add.
var ErrStoreFault = errors.New("store fault")

// Engine is a single namespace's key/value store.
type Engine interface {
	// Add stores value under key, replacing any previous value.
	// A non-nil error is an internal fault; the key is left unchanged.
	Add(key, value string) error

	// Retrieve returns the value stored under key and whether it exists.
	Retrieve(key string) (string, bool)

	// Delete removes key. It returns false if the key was absent, in which
	// case the store is unchanged.
	Delete(key string) bool

	// Len returns the number of stored keys.
	Len() int
}
