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

package server

import (
	"context"
)

// reportLoop writes a statistics report each time the trigger fires.
func (s *Server) reportLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.opts.ReportTrigger:
			if err := s.Report(); err != nil {
				log.Warn("Failed to write statistics report", "error", err)
			}
		}
	}
}

// Report writes the six statistics lines to the diagnostic output while
// holding the store guard.
func (s *Server) Report() error {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.stats.Snapshot().WriteReport(s.opts.Diag)
}
