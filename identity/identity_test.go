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

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_UniquePeerIDs(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a.PeerID(), b.PeerID())
	assert.NotEmpty(t, a.PeerID())
}

func TestSignVerify_RoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello world")
	sig := id.Sign(msg)

	assert.NoError(t, Verify(id.PublicKey(), msg, sig))
}

func TestVerify_RejectsTamperedMessage(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello world")
	sig := id.Sign(msg)

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0x01

	assert.ErrorIs(t, Verify(id.PublicKey(), tampered, sig), ErrInvalidSignature)
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello world")
	sig := id.Sign(msg)
	sig[0] ^= 0x01

	assert.ErrorIs(t, Verify(id.PublicKey(), msg, sig), ErrInvalidSignature)
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello world")
	sig := a.Sign(msg)

	assert.ErrorIs(t, Verify(b.PublicKey(), msg, sig), ErrInvalidSignature)
}
