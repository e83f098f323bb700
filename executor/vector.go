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
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"context"

	"github.com/taskmesh-dev/taskmesh/task"
)

// vectorOperation is the shape of VectorComputation's data field, the
// sibling of TextProcessing's textOperation.
type vectorOperation struct {
	Operation string    `json:"operation"`
	A         []float64 `json:"a"`
	B         []float64 `json:"b,omitempty"`
}

// VectorComputation implements the built-in executor for
// {dot_product, cosine_similarity, normalize, magnitude}, the numeric
// counterpart to TextProcessing's string operations.
type VectorComputation struct{}

// Execute implements Executor.
func (v *VectorComputation) Execute(ctx context.Context, payload task.Payload) (json.RawMessage, error) {
	var op vectorOperation
	if err := json.Unmarshal(payload.Data, &op); err != nil {
		return nil, fmt.Errorf("vector computation: decode data: %w", err)
	}
	if len(op.A) == 0 {
		return nil, errors.New("vector computation: vector a is required")
	}

	switch op.Operation {
	case "magnitude":
		return json.Marshal(map[string]float64{"magnitude": magnitude(op.A)})

	case "normalize":
		return json.Marshal(map[string][]float64{"normalized": normalize(op.A)})

	case "dot_product":
		dot, err := dotProduct(op.A, op.B)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]float64{"dot_product": dot})

	case "cosine_similarity":
		sim, err := cosineSimilarity(op.A, op.B)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]float64{"cosine_similarity": sim})

	default:
		return nil, fmt.Errorf("vector computation: unsupported operation %q", op.Operation)
	}
}

func magnitude(a []float64) float64 {
	var sum float64
	for _, x := range a {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func normalize(a []float64) []float64 {
	mag := magnitude(a)
	out := make([]float64, len(a))
	if mag == 0 {
		return out
	}
	for i, x := range a {
		out[i] = x / mag
	}
	return out
}

func dotProduct(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("vector computation: vectors must be the same length")
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

func cosineSimilarity(a, b []float64) (float64, error) {
	dot, err := dotProduct(a, b)
	if err != nil {
		return 0, err
	}
	denom := magnitude(a) * magnitude(b)
	if denom == 0 {
		return 0, errors.New("vector computation: zero-magnitude vector")
	}
	return dot / denom, nil
}
