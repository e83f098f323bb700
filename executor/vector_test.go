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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh-dev/taskmesh/task"
)

func TestVectorComputation_DotProduct(t *testing.T) {
	e := &VectorComputation{}
	payload := task.Payload{
		TaskType: task.VectorComputation,
		Data:     []byte(`{"operation":"dot_product","a":[1,2,3],"b":[4,5,6]}`),
	}
	result, err := e.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dot_product":32}`, string(result))
}

func TestVectorComputation_CosineSimilarityOfIdenticalVectors(t *testing.T) {
	e := &VectorComputation{}
	payload := task.Payload{
		Data: []byte(`{"operation":"cosine_similarity","a":[1,0,0],"b":[1,0,0]}`),
	}
	result, err := e.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cosine_similarity":1}`, string(result))
}

func TestVectorComputation_Magnitude(t *testing.T) {
	e := &VectorComputation{}
	payload := task.Payload{Data: []byte(`{"operation":"magnitude","a":[3,4]}`)}
	result, err := e.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"magnitude":5}`, string(result))
}

func TestVectorComputation_MismatchedLengthErrors(t *testing.T) {
	e := &VectorComputation{}
	payload := task.Payload{Data: []byte(`{"operation":"dot_product","a":[1,2],"b":[1]}`)}
	_, err := e.Execute(context.Background(), payload)
	assert.Error(t, err)
}

func TestVectorComputation_UnsupportedOperation(t *testing.T) {
	e := &VectorComputation{}
	payload := task.Payload{Data: []byte(`{"operation":"cross_product","a":[1,2,3]}`)}
	_, err := e.Execute(context.Background(), payload)
	assert.Error(t, err)
}
