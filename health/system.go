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

package health

import "runtime"

// Thresholds for process memory health.
const (
	MemoryThresholdHealthy  = 70.0
	MemoryThresholdDegraded = 85.0
)

// CheckSystem reports this process's own memory usage and goroutine
// count, the portion of the teacher's system check that is meaningful for
// a long-running node rather than a one-shot CLI invocation.
func CheckSystem() *SystemHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	h := &SystemHealth{
		Status:        StatusHealthy,
		MemoryUsedMB:  m.Alloc / 1024 / 1024,
		MemoryTotalMB: m.Sys / 1024 / 1024,
		GoRoutines:    runtime.NumGoroutine(),
	}
	if h.MemoryTotalMB > 0 {
		h.MemoryPercent = float64(h.MemoryUsedMB) / float64(h.MemoryTotalMB) * 100
	}

	if h.MemoryPercent >= MemoryThresholdDegraded {
		h.Status = StatusUnhealthy
	} else if h.MemoryPercent >= MemoryThresholdHealthy {
		h.Status = StatusDegraded
	}
	return h
}
