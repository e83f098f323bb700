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

// Package metrics exposes Prometheus counters and histograms for the
// envelope, replay, dispatch and task-lifecycle subsystems.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "taskmesh"

// Registry is the collector registry all taskmesh metrics register into.
// Kept separate from prometheus.DefaultRegisterer so embedding applications
// can mount it on their own path without colliding with their own metrics.
var Registry = prometheus.NewRegistry()
