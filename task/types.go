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

// Package task implements C7: task types and the manager-owned task
// lifecycle state machine described in spec.md §3-§4.7.
package task

import (
	"encoding/json"
	"time"
)

// TaskType identifies what kind of work a task carries. Custom task types
// are routed to an executor registered under the exact Name
// (spec.md §3, §4.6).
type TaskType struct {
	Kind string // "TextProcessing", "VectorComputation", "AiInference", "Custom"
	Name string // only set when Kind == "Custom"
}

var (
	TextProcessing    = TaskType{Kind: "TextProcessing"}
	VectorComputation = TaskType{Kind: "VectorComputation"}
	AIInference       = TaskType{Kind: "AiInference"}
)

// Custom returns the Custom(name) task type variant.
func Custom(name string) TaskType { return TaskType{Kind: "Custom", Name: name} }

// String renders the task type the way it appears on the wire and in logs.
func (t TaskType) String() string {
	if t.Kind == "Custom" {
		return "Custom(" + t.Name + ")"
	}
	return t.Kind
}

// MarshalJSON renders TextProcessing/VectorComputation/AiInference as bare
// strings and Custom(name) as {"Custom": name}, matching spec.md §6.
func (t TaskType) MarshalJSON() ([]byte, error) {
	if t.Kind == "Custom" {
		return json.Marshal(map[string]string{"Custom": t.Name})
	}
	return json.Marshal(t.Kind)
}

// UnmarshalJSON accepts either a bare string or {"Custom": name}.
func (t *TaskType) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		t.Kind = asString
		t.Name = ""
		return nil
	}
	var asCustom struct {
		Custom string `json:"Custom"`
	}
	if err := json.Unmarshal(data, &asCustom); err != nil {
		return err
	}
	t.Kind = "Custom"
	t.Name = asCustom.Custom
	return nil
}

// Payload is the task-type-discriminated body of a Task (spec.md §3, §6).
type Payload struct {
	TaskType   TaskType          `json:"task_type"`
	Data       json.RawMessage   `json:"data"`
	Parameters map[string]string `json:"parameters"`
}

// Task is a unit of work with typed payload, priority and a
// manager-tracked lifecycle (spec.md §3).
type Task struct {
	ID            [16]byte  `json:"id"`
	Priority      uint8     `json:"priority"` // default 5
	Payload       Payload   `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
	Sender        string    `json:"sender"`
	RequiredModel string    `json:"required_model,omitempty"`
}

// DefaultPriority is the default priority assigned to new tasks.
const DefaultPriority = 5
