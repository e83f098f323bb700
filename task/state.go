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

package task

import (
	"encoding/json"
	"time"
)

// Status is one state in the task lifecycle of spec.md §3.
type Status int

const (
	StatusPending Status = iota
	StatusAssigned
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusTimeout
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusAssigned:
		return "Assigned"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusTimeout:
		return "Timeout"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is a state transitions out of are forbidden
// from (except the explicit reset_for_retry path, spec.md §4.7).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// State is the manager-internal record of one task's lifecycle
// (spec.md §3).
type State struct {
	Task       Task
	Status     Status
	AssignedTo string // peer-id, empty when unassigned
	RetryCount int
	MaxRetries int
	Deadline   time.Time // absolute; zero until assigned and after a retry reset
	Result     json.RawMessage
	Reason     string

	// Blacklist tracks peers already tried for this task so the dispatch
	// engine never re-selects a peer it just failed with (spec.md §4.8).
	Blacklist map[string]bool
}

func newState(t Task, maxRetries int) *State {
	return &State{
		Task:       t,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		Blacklist:  make(map[string]bool),
	}
}
