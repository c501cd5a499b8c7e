// Copyright 2025 Tom Barlow
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

package corehttp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchcore",
			Subsystem: "corehttp",
			Name:      "operations_submitted_total",
			Help:      "Operations submitted through the request queue, by kind.",
		},
		[]string{"kind"},
	)

	metricResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchcore",
			Subsystem: "corehttp",
			Name:      "results_total",
			Help:      "Terminal transfer results, by terse status code.",
		},
		[]string{"status"},
	)

	metricRetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fetchcore",
			Subsystem: "corehttp",
			Name:      "retries_scheduled_total",
			Help:      "Retries scheduled by the policy engine.",
		},
	)

	metricActiveTransfers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fetchcore",
			Subsystem: "corehttp",
			Name:      "active_transfers",
			Help:      "Transfers currently with the transport, by policy class.",
		},
		[]string{"policy_class"},
	)

	metricBytesDown = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fetchcore",
			Subsystem: "corehttp",
			Name:      "body_bytes_received_total",
			Help:      "Response body bytes received.",
		},
	)

	metricTransferSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fetchcore",
			Subsystem: "corehttp",
			Name:      "transfer_duration_seconds",
			Help:      "Wall-clock duration of the final transfer attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)
)
