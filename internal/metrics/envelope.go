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
	// EnvelopesSigned counts envelopes signed locally, by kind.
	EnvelopesSigned = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "signed_total",
			Help:      "Total number of envelopes signed.",
		},
		[]string{"kind"},
	)

	// EnvelopesVerified counts verification outcomes, by kind and result.
	EnvelopesVerified = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "verified_total",
			Help:      "Total number of envelope verification attempts.",
		},
		[]string{"kind", "result"}, // result: ok, bad_signature, replay, stale
	)

	// VerifyDuration tracks signature-verification latency.
	VerifyDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "verify_duration_seconds",
			Help:      "Envelope verification latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)
)
