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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kvdb"

// SnapshotFunc returns a consistent Snapshot. Implementations take the
// server's store lock.
type SnapshotFunc func() Snapshot

var (
	connectedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "clients", "connected"),
		"Client sessions currently open.",
		nil, nil,
	)
	completedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "clients", "completed_total"),
		"Client sessions that have terminated.",
		nil, nil,
	)
	authFailuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "auth_failures_total"),
		"Private-namespace requests refused for a missing or wrong credential.",
		nil, nil,
	)
	operationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "operations_total"),
		"Successful store operations by method.",
		[]string{"op"}, nil,
	)
)

// Collector exports Stats snapshots as Prometheus metrics. Every scrape
// reads one snapshot, so the exported values are mutually consistent.
type Collector struct {
	snapshot SnapshotFunc
}

// NewCollector creates a Collector reading through fn.
func NewCollector(fn SnapshotFunc) *Collector {
	return &Collector{snapshot: fn}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- connectedDesc
	ch <- completedDesc
	ch <- authFailuresDesc
	ch <- operationsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	ch <- prometheus.MustNewConstMetric(connectedDesc, prometheus.GaugeValue, float64(snap.Connected))
	ch <- prometheus.MustNewConstMetric(completedDesc, prometheus.CounterValue, float64(snap.Completed))
	ch <- prometheus.MustNewConstMetric(authFailuresDesc, prometheus.CounterValue, float64(snap.AuthFailures))
	ch <- prometheus.MustNewConstMetric(operationsDesc, prometheus.CounterValue, float64(snap.Gets), "GET")
	ch <- prometheus.MustNewConstMetric(operationsDesc, prometheus.CounterValue, float64(snap.Puts), "PUT")
	ch <- prometheus.MustNewConstMetric(operationsDesc, prometheus.CounterValue, float64(snap.Deletes), "DELETE")
}
