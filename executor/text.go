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
	"fmt"
	"strings"

	"github.com/taskmesh-dev/taskmesh/task"
)

// textOperation is the shape of TextProcessing's data.operation field
// (spec.md §6).
type textOperation struct {
	Operation string `json:"operation"`
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
}

// TextProcessing implements the built-in executor for
// {word_count, reverse, embed} (spec.md §6). embed is a local stub:
// real embeddings are produced by the out-of-scope AI inference engine.
type TextProcessing struct {
	// Embedder, if set, is consulted for the embed operation. Left nil,
	// embed returns a deterministic placeholder vector so the executor
	// remains usable without a live inference backend wired in.
	Embedder func(ctx context.Context, text, model string) ([]float32, error)
}

// Execute implements Executor.
func (t *TextProcessing) Execute(ctx context.Context, payload task.Payload) (json.RawMessage, error) {
	var op textOperation
	if err := json.Unmarshal(payload.Data, &op); err != nil {
		return nil, fmt.Errorf("text processing: decode data: %w", err)
	}

	switch op.Operation {
	case "word_count":
		count := len(strings.Fields(op.Text))
		return json.Marshal(map[string]int{"word_count": count})

	case "reverse":
		return json.Marshal(map[string]string{"reversed_text": reverseString(op.Text)})

	case "embed":
		vec, err := t.embed(ctx, op.Text, op.Model)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"embedding": vec, "model": op.Model})

	default:
		return nil, fmt.Errorf("text processing: unsupported operation %q", op.Operation)
	}
}

func (t *TextProcessing) embed(ctx context.Context, text, model string) ([]float32, error) {
	if t.Embedder != nil {
		return t.Embedder(ctx, text, model)
	}
	// Deterministic placeholder: a fixed-length hash-free projection so
	// tests and demos without a wired inference backend still get a
	// stable, reproducible vector.
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%len(vec)] += float32(r%97) / 97
	}
	return vec, nil
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
