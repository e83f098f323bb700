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

import (
	"time"

	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/replay"
	"github.com/taskmesh-dev/taskmesh/task"
	"github.com/taskmesh-dev/taskmesh/transport"
)

// Thresholds for the replay detector's usage-based status (spec.md §3.4).
const (
	ReplayUsageDegraded  = 70.0
	ReplayUsageUnhealthy = 90.0
)

// Checker performs health checks against a node's own collaborators. It
// depends on the same leaf interfaces the runtime does, not on
// runtime.PeerRuntime itself, so it can be exercised without spinning up
// an entire node.
type Checker struct {
	id             *identity.Identity
	tr             transport.Transport
	tasks          *task.Manager
	replayDet      *replay.Detector
	replayCapacity int
}

// NewChecker wires a Checker from the collaborators a running node already
// holds.
func NewChecker(id *identity.Identity, tr transport.Transport, tasks *task.Manager, replayDet *replay.Detector, replayCapacity int) *Checker {
	return &Checker{id: id, tr: tr, tasks: tasks, replayDet: replayDet, replayCapacity: replayCapacity}
}

// CheckAll runs every sub-check and folds them into one overall Report,
// mirroring the teacher's CheckAll precedence: any Unhealthy sub-check
// makes the whole report Unhealthy; otherwise any Degraded sub-check makes
// it Degraded.
func (c *Checker) CheckAll() *Report {
	report := &Report{
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Errors:    make([]string, 0),
	}

	report.Identity = c.checkIdentity()
	report.Transport = c.checkTransport()
	report.Tasks = c.checkTasks()
	report.Replay = c.checkReplay()
	report.System = CheckSystem()

	for _, sub := range []Status{
		report.Identity.Status, report.Transport.Status, report.Tasks.Status,
		report.Replay.Status, report.System.Status,
	} {
		report.Status = worse(report.Status, sub)
	}

	for _, e := range []string{report.Identity.Error, report.Transport.Error, report.Tasks.Error, report.Replay.Error} {
		if e != "" {
			report.Errors = append(report.Errors, e)
		}
	}
	return report
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (c *Checker) checkIdentity() *IdentityHealth {
	if c.id == nil {
		return &IdentityHealth{Status: StatusUnhealthy, Error: "identity: no identity loaded"}
	}
	peerID := c.id.PeerID()
	if peerID == "" {
		return &IdentityHealth{Status: StatusUnhealthy, Error: "identity: empty peer id"}
	}
	return &IdentityHealth{Status: StatusHealthy, PeerID: peerID}
}

func (c *Checker) checkTransport() *TransportHealth {
	if c.tr == nil {
		return &TransportHealth{Status: StatusUnhealthy, Error: "transport: not configured"}
	}
	addrs := c.tr.ListenAddresses()
	if len(addrs) == 0 {
		return &TransportHealth{Status: StatusDegraded, Error: "transport: not yet listening"}
	}
	return &TransportHealth{Status: StatusHealthy, Listening: true, Addresses: addrs}
}

func (c *Checker) checkTasks() *TaskHealth {
	if c.tasks == nil {
		return &TaskHealth{Status: StatusUnhealthy, Error: "task manager: not configured"}
	}
	// A lookup on a sentinel id that can never have been submitted proves
	// the manager answers without panicking or deadlocking.
	if _, err := c.tasks.Status([16]byte{}); err != nil && err != task.ErrNotFound {
		return &TaskHealth{Status: StatusUnhealthy, Error: "task manager: " + err.Error()}
	}
	return &TaskHealth{Status: StatusHealthy, Reachable: true}
}

func (c *Checker) checkReplay() *ReplayHealth {
	if c.replayDet == nil {
		return &ReplayHealth{Status: StatusUnhealthy, Error: "replay detector: not configured"}
	}
	size := c.replayDet.Len()
	capacity := c.replayCapacity
	if capacity <= 0 {
		capacity = 1
	}
	usage := float64(size) / float64(capacity) * 100

	status := StatusHealthy
	if usage >= ReplayUsageUnhealthy {
		status = StatusUnhealthy
	} else if usage >= ReplayUsageDegraded {
		status = StatusDegraded
	}
	return &ReplayHealth{Status: status, Size: size, Capacity: capacity, UsagePercent: usage}
}
