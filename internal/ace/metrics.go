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
//
// SPDX-License-Identifier: Apache-2.0

package ace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// dashboardLabels is reused across the vectors below, the way the
// teacher's internal/staging/stage/metrics.go reuses a tableLabels
// slice across its own counters/histograms.
var dashboardLabels = []string{"dashboard_id"}

var (
	refreshSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_refresh_submitted_total",
		Help: "the number of write transactions submitted to a dashboard",
	}, dashboardLabels)

	refreshNodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ace_refresh_node_duration_seconds",
		Help:    "the wall time of a single node's compute invocation",
		Buckets: prometheus.DefBuckets,
	}, dashboardLabels)

	refreshNodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_refresh_node_errors_total",
		Help: "the number of node computations that returned a non-200 code",
	}, dashboardLabels)

	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_read_total",
		Help: "the number of viewport reads served, by policy",
	}, []string{"dashboard_id", "policy"})

	gcReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_gc_reclaimed_entries_total",
		Help: "the number of node version-store entries reclaimed by GC passes",
	}, dashboardLabels)

	outstandingPlaceholders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ace_outstanding_placeholders",
		Help: "the number of outstanding placeholders at the most recently submitted ts",
	}, dashboardLabels)
)
