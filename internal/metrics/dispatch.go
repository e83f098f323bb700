// taskmesh - peer-to-peer agent task dispatch runtime
// Copyright (C) 2025 taskmesh contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchAttempts counts dispatch attempts by outcome.
	DispatchAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Total number of dispatch attempts.",
		},
		[]string{"outcome"}, // sent, no_capable_peer, send_failure
	)

	// TaskRetries counts redispatch attempts.
	TaskRetries = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Total number of task redispatch attempts.",
		},
	)

	// TaskTerminal counts tasks reaching a terminal state, by state.
	TaskTerminal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "terminal_total",
			Help:      "Total number of tasks reaching a terminal state.",
		},
		[]string{"state"}, // completed, failed, timeout, cancelled
	)

	// CapabilityAnnouncements counts capability broadcasts sent.
	CapabilityAnnouncements = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "announcements_total",
			Help:      "Total number of capability announcements broadcast.",
		},
	)

	// ExecutorDuration tracks local execution latency by task type.
	ExecutorDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "duration_seconds",
			Help:      "Local executor latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"task_type"},
	)
)
