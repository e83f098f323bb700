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

package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/replay"
	"github.com/taskmesh-dev/taskmesh/task"
	"github.com/taskmesh-dev/taskmesh/transport"
)

func TestCheckAll_AllHealthy(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	tr := transport.NewLoopbackTransport("node-addr")
	require.NoError(t, tr.Listen(nil))
	tasks := task.NewManager(2)
	replayDet := replay.New(replay.DefaultConfig())

	checker := NewChecker(id, tr, tasks, replayDet, 100)
	report := checker.CheckAll()

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, id.PeerID(), report.Identity.PeerID)
	assert.True(t, report.Transport.Listening)
	assert.True(t, report.Tasks.Reachable)
	assert.Empty(t, report.Errors)
}

func TestCheckAll_MissingIdentityIsUnhealthy(t *testing.T) {
	tr := transport.NewLoopbackTransport("node-addr")
	tasks := task.NewManager(2)
	replayDet := replay.New(replay.DefaultConfig())

	checker := NewChecker(nil, tr, tasks, replayDet, 100)
	report := checker.CheckAll()

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Identity.Status)
	assert.NotEmpty(t, report.Errors)
}

func TestCheckTransport_LoopbackWithEmptyLabelIsHealthy(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	tr := transport.NewLoopbackTransport("") // ListenAddresses returns [""] regardless
	tasks := task.NewManager(2)
	replayDet := replay.New(replay.DefaultConfig())

	checker := NewChecker(id, tr, tasks, replayDet, 100)
	th := checker.checkTransport()
	// LoopbackTransport always reports an address even unlabeled, so this
	// exercises the "configured but empty label" path rather than the
	// pre-listen path; real transports return nil before Listen.
	assert.Equal(t, StatusHealthy, th.Status)
}

func TestCheckReplay_UsageThresholds(t *testing.T) {
	replayDet := replay.New(replay.Config{Capacity: 10, MaxAge: time.Hour, ClockSkew: time.Hour})
	checker := NewChecker(nil, nil, nil, replayDet, 10)

	now := time.Now().Unix()
	for i := 0; i < 8; i++ {
		var nonce [16]byte
		nonce[0] = byte(i)
		require.NoError(t, replayDet.Check("peer", nonce, now))
	}

	rh := checker.checkReplay()
	assert.Equal(t, StatusDegraded, rh.Status)
	assert.Equal(t, 8, rh.Size)
}

func TestCheckReplay_NilDetectorIsUnhealthy(t *testing.T) {
	checker := NewChecker(nil, nil, nil, nil, 10)
	rh := checker.checkReplay()
	assert.Equal(t, StatusUnhealthy, rh.Status)
}
