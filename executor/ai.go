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

	"github.com/taskmesh-dev/taskmesh/task"
)

// ErrNoInferenceProvider is returned when AIInference.Execute is called
// without a provider wired in.
var ErrNoInferenceProvider = errors.New("executor: no inference provider configured")

// InferenceProvider is the trait boundary spec.md §1 places the AI
// inference engine and model downloader behind: this core never imports
// an inference runtime directly, only this interface.
type InferenceProvider interface {
	Infer(ctx context.Context, model string, input json.RawMessage) (json.RawMessage, error)
}

// AIInference implements the built-in executor for task.AIInference,
// delegating to an injected InferenceProvider (spec.md §1, §4.6, §6).
type AIInference struct {
	Provider InferenceProvider
}

// aiInferenceData is the shape of AiInference's data field: a model name
// plus an opaque input payload handed to the provider verbatim.
type aiInferenceData struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// Execute implements Executor.
func (a *AIInference) Execute(ctx context.Context, payload task.Payload) (json.RawMessage, error) {
	if a.Provider == nil {
		return nil, ErrNoInferenceProvider
	}

	var data aiInferenceData
	if err := json.Unmarshal(payload.Data, &data); err != nil {
		return nil, err
	}
	model := data.Model
	if model == "" {
		model = payload.Parameters["model"]
	}

	return a.Provider.Infer(ctx, model, data.Input)
}
