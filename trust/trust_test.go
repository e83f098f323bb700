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

package trust_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/trust"
)

func TestTrustRevokeContains(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	s := trust.New()
	assert.False(t, s.Contains(id.PublicKey()))

	s.Trust(id.PublicKey())
	assert.True(t, s.Contains(id.PublicKey()))
	assert.Equal(t, 1, s.Len())

	s.Revoke(id.PublicKey())
	assert.False(t, s.Contains(id.PublicKey()))
	assert.Equal(t, 0, s.Len())
}
