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

// Package executor implements C6: the local registry of task-type
// executors, keyed by a {Builtin(kind), Custom(name)} tagged variant
// (spec.md §4.6, §9 "avoid deep inheritance in favour of tagged-variant
// plus table dispatch").
package executor

import (
	"context"
	"encoding/json"

	"github.com/taskmesh-dev/taskmesh/task"
)

// Executor is the uniform execute contract every plug-in implements
// (spec.md §4.6, §6). The AI inference engine named in spec.md §1 as an
// external collaborator is one such plug-in, invoked behind this
// interface and never imported directly by this package.
type Executor interface {
	Execute(ctx context.Context, payload task.Payload) (json.RawMessage, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, payload task.Payload) (json.RawMessage, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, payload task.Payload) (json.RawMessage, error) {
	return f(ctx, payload)
}
