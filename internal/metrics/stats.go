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
Package metrics holds the server's operation statistics and exports them.

STATISTICS:
===========
Six counters are kept:

	connected      sessions currently open (goes up and down)
	completed      sessions that have terminated
	authFailures   private-namespace requests refused with 401
	gets/puts/deletes  successful operations of each kind

The Stats registry is NOT synchronized. The server mutates and
reads it only while holding the same lock that guards the stores, so every
Snapshot is consistent with some serialization of completed requests.

REPORT FORMAT:
==============
WriteReport prints one metric per line, in this fixed order:

	Connected clients:2
	Completed clients:10
	Auth failures:1
	GET operations:40
	PUT operations:12
	DELETE operations:3

PROMETHEUS ENDPOINT:
====================
When enabled, the same snapshot is exposed at /metrics:

	kvdb_clients_connected 2
	kvdb_clients_completed_total 10
	kvdb_auth_failures_total 1
	kvdb_operations_total{op="GET"} 40
*/
package metrics

import (
	"fmt"
	"io"
)

// Stats is the server's statistics registry.
type Stats struct {
	connected    int
	completed    uint64
	authFailures uint64
	gets         uint64
	puts         uint64
	deletes      uint64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Connected    int
	Completed    uint64
	AuthFailures uint64
	Gets         uint64
	Puts         uint64
	Deletes      uint64
}

// Connected returns the number of currently open sessions.
func (s *Stats) Connected() int {
	return s.connected
}

// SessionOpened records an admitted connection.
func (s *Stats) SessionOpened() {
	s.connected++
}

// SessionClosed records a terminated session.
func (s *Stats) SessionClosed() {
	s.connected--
	s.completed++
}

// RecordAuthFailure records a refused private-namespace request.
func (s *Stats) RecordAuthFailure() {
	s.authFailures++
}

// RecordGet records a successful GET.
func (s *Stats) RecordGet() {
	s.gets++
}

// RecordPut records a successful PUT.
func (s *Stats) RecordPut() {
	s.puts++
}

// RecordDelete records a successful DELETE.
func (s *Stats) RecordDelete() {
	s.deletes++
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Connected:    s.connected,
		Completed:    s.completed,
		AuthFailures: s.authFailures,
		Gets:         s.gets,
		Puts:         s.puts,
		Deletes:      s.deletes,
	}
}

// WriteReport writes the snapshot in the fixed six-line report format.
func (snap Snapshot) WriteReport(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"Connected clients:%d\n"+
			"Completed clients:%d\n"+
			"Auth failures:%d\n"+
			"GET operations:%d\n"+
			"PUT operations:%d\n"+
			"DELETE operations:%d\n",
		snap.Connected, snap.Completed, snap.AuthFailures,
		snap.Gets, snap.Puts, snap.Deletes)
	return err
}
