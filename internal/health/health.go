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
Package health provides health check endpoints for kvdb.

ENDPOINTS:
==========

	GET /health       - Overall health check
	GET /health/live  - Liveness check (is the process running?)
	GET /health/ready - Readiness check (is the listener accepting?)

STATUS VALUES:
==============
  - healthy: All checks pass
  - degraded: Some non-critical checks fail (e.g. connection limit reached)
  - unhealthy: Critical checks fail

The endpoints are mounted on the metrics server when one is configured.
*/
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    Status        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Check is a function that performs a health check.
type Check func() CheckResult

// Checker manages health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	version string
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		version: version,
	}
}

// RegisterCheck registers a health check.
func (c *Checker) RegisterCheck(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// RunChecks runs all registered health checks in name order.
func (c *Checker) RunChecks() HealthResponse {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
		Checks:    make([]CheckResult, 0, len(names)),
	}

	for _, name := range names {
		start := time.Now()
		result := checks[name]()
		result.Name = name
		result.Latency = time.Since(start).Milliseconds()
		response.Checks = append(response.Checks, result)

		if result.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if result.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Handler serves /health, /health/live and /health/ready.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var response HealthResponse
		code := http.StatusOK

		switch r.URL.Path {
		case "/health/live":
			response = HealthResponse{
				Status:    StatusHealthy,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Version:   c.version,
			}
		case "/health", "/health/ready":
			response = c.RunChecks()
			if response.Status == StatusUnhealthy ||
				(r.URL.Path == "/health" && response.Status != StatusHealthy) {
				code = http.StatusServiceUnavailable
			}
		default:
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	})
}

// Common health checks

// ListenerCheck reports unhealthy while checkFn returns an error.
func ListenerCheck(checkFn func() error) Check {
	return func() CheckResult {
		if err := checkFn(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// CapacityCheck reports degraded when connected has reached a non-zero limit.
func CapacityCheck(connected func() int, limit int) Check {
	return func() CheckResult {
		n := connected()
		if limit != 0 && n >= limit {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("connection limit reached (%d/%d)", n, limit),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
