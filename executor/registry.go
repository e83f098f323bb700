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

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/taskmesh-dev/taskmesh/internal/metrics"
	"github.com/taskmesh-dev/taskmesh/task"
)

// ErrUnsupportedTaskType is returned when no executor is registered for a
// task's type (spec.md §4.6, §7).
var ErrUnsupportedTaskType = errors.New("executor: unsupported task type")

// Registry maps a task type key (the builtin Kind, or a Custom name) to
// the executor that handles it. Executors are plugged in at boot
// (spec.md §4.6); the registry itself never decides what a task type
// means, only where to route it.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	models    []string // models this node advertises via Capabilities
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register plugs an executor in for a built-in task type Kind
// ("TextProcessing", "VectorComputation", "AiInference").
func (r *Registry) Register(kind string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = e
}

// RegisterCustom plugs an executor in under an exact Custom(name)
// (spec.md §4.6, supplemented per original_source's custom-executor
// examples).
func (r *Registry) RegisterCustom(name string, e Executor) {
	r.Register(name, e)
}

// SetModels records the model names this node advertises in its
// Capabilities announcement (spec.md §4.9 announce_capabilities).
func (r *Registry) SetModels(models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append([]string(nil), models...)
}

// Models returns the configured model names.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.models...)
}

// Types returns the task type keys currently registered, for use in the
// Capabilities announcement (spec.md §4.9).
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for k := range r.executors {
		out = append(out, k)
	}
	return out
}

// Execute looks up the executor for payload's task type and runs it,
// recording duration metrics by key (spec.md §4.6, §7).
func (r *Registry) Execute(ctx context.Context, payload task.Payload) (json.RawMessage, error) {
	key := typeKey(payload.TaskType)

	r.mu.RLock()
	e, ok := r.executors[key]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnsupportedTaskType
	}

	start := time.Now()
	result, err := e.Execute(ctx, payload)
	metrics.ExecutorDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())
	return result, err
}

func typeKey(t task.TaskType) string {
	if t.Kind == "Custom" {
		return t.Name
	}
	return t.Kind
}
