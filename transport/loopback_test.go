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

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackTransport_SendDelivers(t *testing.T) {
	a := NewLoopbackTransport("a")
	b := NewLoopbackTransport("b")
	ConnectLoopback("a", a, "b", b)

	require.NoError(t, a.Send("b", []byte("hello")))

	select {
	case got := <-b.Incoming():
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestLoopbackTransport_BroadcastReachesAllPeers(t *testing.T) {
	a := NewLoopbackTransport("a")
	b := NewLoopbackTransport("b")
	c := NewLoopbackTransport("c")
	ConnectLoopback("a", a, "b", b)
	ConnectLoopback("a", a, "c", c)

	require.NoError(t, a.Broadcast([]byte("announce")))

	for _, p := range []*LoopbackTransport{b, c} {
		select {
		case got := <-p.Incoming():
			assert.Equal(t, []byte("announce"), got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast delivery")
		}
	}
}

func TestLoopbackTransport_SendUnknownPeer(t *testing.T) {
	a := NewLoopbackTransport("a")
	assert.ErrorIs(t, a.Send("ghost", []byte("x")), ErrUnknownPeer)
}

func TestLoopbackTransport_CloseIsIdempotent(t *testing.T) {
	a := NewLoopbackTransport("a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
