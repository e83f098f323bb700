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

package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AcceptsThenRejectsReplay(t *testing.T) {
	d := New(DefaultConfig())
	var nonce [16]byte
	nonce[0] = 1

	require.NoError(t, d.Check("alice", nonce, time.Now().Unix()))
	err := d.Check("alice", nonce, time.Now().Unix())
	assert.ErrorIs(t, err, ErrReplayDetected)
}

func TestCheck_DistinctNoncesIndependent(t *testing.T) {
	d := New(DefaultConfig())
	var n1, n2 [16]byte
	n1[0], n2[0] = 1, 2

	require.NoError(t, d.Check("alice", n1, time.Now().Unix()))
	require.NoError(t, d.Check("alice", n2, time.Now().Unix()))
}

func TestCheck_FutureTimestampRejected(t *testing.T) {
	d := New(DefaultConfig())
	var nonce [16]byte
	err := d.Check("alice", nonce, time.Now().Add(10*time.Minute).Unix())
	assert.ErrorIs(t, err, ErrFutureTimestamp)
}

func TestCheck_ExpiredTimestampRejected(t *testing.T) {
	d := New(DefaultConfig())
	var nonce [16]byte
	err := d.Check("alice", nonce, time.Now().Add(-1*time.Hour).Unix())
	assert.ErrorIs(t, err, ErrExpiredTimestamp)
}

func TestCheck_BoundedCapacityEvictsOldest(t *testing.T) {
	d := New(Config{Capacity: 4, MaxAge: 300 * time.Second, ClockSkew: 120 * time.Second})

	var first [16]byte
	first[0] = 0xAA
	require.NoError(t, d.Check("alice", first, time.Now().Unix()))

	for i := 1; i <= 10; i++ {
		var n [16]byte
		n[0] = byte(i)
		require.NoError(t, d.Check("alice", n, time.Now().Unix()))
	}

	assert.LessOrEqual(t, d.Len(), 4)
	// The very first nonce has been evicted, so it can be reused without
	// being flagged as a replay.
	assert.NoError(t, d.Check("alice", first, time.Now().Unix()))
}
