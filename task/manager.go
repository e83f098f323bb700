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
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh-dev/taskmesh/internal/metrics"
)

// Error taxonomy for the task manager (spec.md §4.7, §7).
var (
	ErrNotFound          = errors.New("task: not found")
	ErrInvalidTransition = errors.New("task: invalid state transition")
)

// DefaultMaxRetries is the retry bound NewManager uses when it is given a
// negative maxRetries.
const DefaultMaxRetries = 2

// Manager owns the task state machine described in spec.md §3-§4.7. Tasks
// are looked up by id under a single lock acquisition, matching the
// "shared mutation serialized behind fine-grained locks per container"
// policy of spec.md §3/§5.
type Manager struct {
	mu         sync.Mutex
	tasks      map[[16]byte]*State
	order      [][16]byte // insertion order, for stable iteration in tests/listing
	maxRetries int
}

// NewManager creates an empty Manager. maxRetries is the retry bound
// given to every task submitted; there is no per-task override.
func NewManager(maxRetries int) *Manager {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Manager{
		tasks:      make(map[[16]byte]*State),
		maxRetries: maxRetries,
	}
}

// NewTask builds a Task with a fresh id, DefaultPriority and CreatedAt set
// to now, ready to be passed to Submit. RequiredModel is derived from
// payload per spec.md §3 ("derived from payload when present"), so
// model-constrained dispatch (spec.md §4.5, §4.8) has something to key
// on for every task submitted through this constructor.
func NewTask(sender string, payload Payload) (Task, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:            [16]byte(id),
		Priority:      DefaultPriority,
		Payload:       payload,
		CreatedAt:     time.Now(),
		Sender:        sender,
		RequiredModel: requiredModel(payload),
	}, nil
}

// requiredModel derives a task's required model, preferring the payload
// data's "model" field (the shape executor/ai.go's AiInference and
// executor/text.go's embed operation both use) and falling back to
// parameters["model"] when data carries none.
func requiredModel(payload Payload) string {
	var data struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(payload.Data, &data); err == nil && data.Model != "" {
		return data.Model
	}
	return payload.Parameters["model"]
}

// Submit stores t as Pending and returns its id.
func (m *Manager) Submit(t Task) [16]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := newState(t, m.maxRetries)
	m.tasks[t.ID] = st
	m.order = append(m.order, t.ID)
	return t.ID
}

// Assign transitions Pending -> Assigned(peer), arming the absolute
// deadline. Illegal from any other status.
func (m *Manager) Assign(id [16]byte, peer string, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if st.Status != StatusPending {
		return ErrInvalidTransition
	}
	st.Status = StatusAssigned
	st.AssignedTo = peer
	st.Deadline = deadline
	return nil
}

// MarkRunning transitions Assigned -> Running, triggered by the first Ack
// or progress message from the assignee (spec.md §3).
func (m *Manager) MarkRunning(id [16]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if st.Status != StatusAssigned {
		return ErrInvalidTransition
	}
	st.Status = StatusRunning
	return nil
}

// Complete transitions any non-terminal status to Completed, storing
// result. Terminal states reject the transition.
func (m *Manager) Complete(id [16]byte, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if st.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	st.Status = StatusCompleted
	st.Result = result
	metrics.TaskTerminal.WithLabelValues("completed").Inc()
	return nil
}

// Fail transitions any non-terminal status to Failed, storing reason.
// Callers that want retry-then-fail semantics call ResetForRetry after
// Fail while CanRetry still holds.
func (m *Manager) Fail(id [16]byte, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if st.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	st.Status = StatusFailed
	st.Reason = reason
	metrics.TaskTerminal.WithLabelValues("failed").Inc()
	return nil
}

// Cancel marks id Cancelled regardless of current status, unless already
// terminal. Late-arriving results for a cancelled task are dropped by the
// dispatch engine because HandleResult rejects updates to terminal tasks.
func (m *Manager) Cancel(id [16]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if st.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	st.Status = StatusCancelled
	metrics.TaskTerminal.WithLabelValues("cancelled").Inc()
	return nil
}

// ExpireDue scans Running/Assigned tasks whose deadline has passed,
// transitions them to Timeout and returns the ids so the dispatch engine
// can consider them for retry (spec.md §4.7, §4.8 timeout loop).
func (m *Manager) ExpireDue(now time.Time) [][16]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired [][16]byte
	for _, id := range m.order {
		st := m.tasks[id]
		if (st.Status == StatusRunning || st.Status == StatusAssigned) &&
			!st.Deadline.IsZero() && now.After(st.Deadline) {
			st.Status = StatusTimeout
			expired = append(expired, id)
		}
	}
	return expired
}

// Status returns a copy of the task's current state.
func (m *Manager) Status(id [16]byte) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return cloneState(st), nil
}

// ResetForRetry moves a Timeout or Failed-with-retries-left task back to
// Pending, incrementing retry_count and blacklisting the peer most
// recently tried (spec.md §4.7's explicit exception to the
// terminal-state-transition prohibition).
func (m *Manager) ResetForRetry(id [16]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if st.Status != StatusTimeout && st.Status != StatusFailed {
		return ErrInvalidTransition
	}
	if st.RetryCount >= st.MaxRetries {
		return ErrInvalidTransition
	}
	if st.AssignedTo != "" {
		st.Blacklist[st.AssignedTo] = true
	}
	st.RetryCount++
	st.Status = StatusPending
	st.AssignedTo = ""
	st.Deadline = time.Time{}
	metrics.TaskRetries.Inc()
	return nil
}

// BlacklistPeer records peer as already-tried for id, regardless of
// whether it was ever actually assigned (spec.md §4.8 step 2: "Exclude
// peers already tried for this task"). This covers the transport
// send-failure path, where a peer is chosen but Assign never runs
// because the send itself failed, so AssignedTo has no record of the
// attempt for ResetForRetry to blacklist on its own.
func (m *Manager) BlacklistPeer(id [16]byte, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if peer != "" {
		st.Blacklist[peer] = true
	}
	return nil
}

// CanRetry reports whether id is currently eligible for ResetForRetry.
func (m *Manager) CanRetry(id [16]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return false
	}
	return (st.Status == StatusTimeout || st.Status == StatusFailed) && st.RetryCount < st.MaxRetries
}

// Blacklist returns a copy of the set of peers already tried for id.
func (m *Manager) Blacklist(id [16]byte) map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(st.Blacklist))
	for k, v := range st.Blacklist {
		out[k] = v
	}
	return out
}

// FinalizeTimeout marks a Timeout task Failed once retries are exhausted,
// without going through Pending. Callers must check !CanRetry first.
func (m *Manager) FinalizeTimeout(id [16]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if st.Status != StatusTimeout {
		return ErrInvalidTransition
	}
	st.Status = StatusFailed
	st.Reason = "Timeout"
	metrics.TaskTerminal.WithLabelValues("timeout").Inc()
	return nil
}

func cloneState(st *State) State {
	bl := make(map[string]bool, len(st.Blacklist))
	for k, v := range st.Blacklist {
		bl[k] = v
	}
	return State{
		Task:       st.Task,
		Status:     st.Status,
		AssignedTo: st.AssignedTo,
		RetryCount: st.RetryCount,
		MaxRetries: st.MaxRetries,
		Deadline:   st.Deadline,
		Result:     st.Result,
		Reason:     st.Reason,
		Blacklist:  bl,
	}
}
