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

package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh-dev/taskmesh/capability"
	"github.com/taskmesh-dev/taskmesh/envelope"
	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/task"
	"github.com/taskmesh-dev/taskmesh/trust"
)

type recordingSender struct {
	sent map[string][][]byte
	fail map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][][]byte), fail: make(map[string]bool)}
}

func (s *recordingSender) Send(peerID string, data []byte) error {
	if s.fail[peerID] {
		return assertErr("send failed")
	}
	s.sent[peerID] = append(s.sent[peerID], data)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newHarness(t *testing.T) (*Engine, *task.Manager, *capability.Registry, *identity.Identity, *recordingSender) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	ts := trust.New()
	caps := capability.New(60 * time.Second)
	tasks := task.NewManager(2)
	sender := newRecordingSender()

	engine := NewEngine(id, ts, caps, tasks, sender, Config{TaskTimeout: 50 * time.Millisecond, MaxRetries: 2, SweepInterval: 10 * time.Millisecond})
	return engine, tasks, caps, id, sender
}

func TestDispatch_NoCapablePeerFailsImmediately(t *testing.T) {
	engine, tasks, _, _, _ := newHarness(t)

	tk, err := task.NewTask("alice", task.Payload{TaskType: task.Custom("xyz"), Data: []byte(`{}`)})
	require.NoError(t, err)
	id := tasks.Submit(tk)

	err = engine.Dispatch(id)
	assert.ErrorIs(t, err, ErrNoCapablePeer)

	st, _ := tasks.Status(id)
	assert.Equal(t, task.StatusFailed, st.Status)
	assert.Equal(t, "NoCapablePeer", st.Reason)
}

func TestDispatch_SendsSignedEnvelopeAndAssigns(t *testing.T) {
	engine, tasks, caps, _, sender := newHarness(t)

	bobID, err := identity.Generate()
	require.NoError(t, err)
	engine.trust.Trust(bobID.PublicKey())
	caps.Upsert(bobID.PeerID(), bobID.PublicKey(), []string{"TextProcessing"}, nil)

	tk, err := task.NewTask("alice", task.Payload{TaskType: task.TextProcessing, Data: []byte(`{"operation":"reverse","text":"hi"}`)})
	require.NoError(t, err)
	id := tasks.Submit(tk)

	require.NoError(t, engine.Dispatch(id))

	st, _ := tasks.Status(id)
	assert.Equal(t, task.StatusAssigned, st.Status)
	assert.Equal(t, bobID.PeerID(), st.AssignedTo)

	sent := sender.sent[bobID.PeerID()]
	require.Len(t, sent, 1)
	env, err := envelope.Unmarshal(sent[0])
	require.NoError(t, err)
	assert.Equal(t, envelope.KindTaskRequest, env.Kind)
	require.NoError(t, envelope.Verify(env, nil, 120*time.Second, 300*time.Second))
}

func TestHandleResult_CompletesOnOk(t *testing.T) {
	engine, tasks, caps, _, _ := newHarness(t)

	bobID, err := identity.Generate()
	require.NoError(t, err)
	engine.trust.Trust(bobID.PublicKey())
	caps.Upsert(bobID.PeerID(), bobID.PublicKey(), []string{"TextProcessing"}, nil)

	tk, err := task.NewTask("alice", task.Payload{TaskType: task.TextProcessing, Data: []byte(`{}`)})
	require.NoError(t, err)
	id := tasks.Submit(tk)
	require.NoError(t, engine.Dispatch(id))

	body, err := json.Marshal(map[string]any{"task_id": id, "status": "ok", "result": map[string]string{"reversed_text": "ih"}})
	require.NoError(t, err)
	env := envelope.New(envelope.KindTaskResult, bobID.PeerID(), "alice", "task.result", body)
	require.NoError(t, envelope.Sign(env, bobID))

	require.NoError(t, engine.HandleResult(env))

	st, _ := tasks.Status(id)
	assert.Equal(t, task.StatusCompleted, st.Status)
}

func TestHandleResult_DropsUnknownTaskIdempotently(t *testing.T) {
	engine, _, _, _, _ := newHarness(t)

	var bogus [16]byte
	body, _ := json.Marshal(map[string]any{"task_id": bogus, "status": "ok"})
	env := envelope.New(envelope.KindTaskResult, "bob", "alice", "task.result", body)

	assert.NoError(t, engine.HandleResult(env))
}

func TestHandleResult_RejectsResultFromUnassignedSender(t *testing.T) {
	engine, tasks, caps, _, _ := newHarness(t)

	bobID, err := identity.Generate()
	require.NoError(t, err)
	engine.trust.Trust(bobID.PublicKey())
	caps.Upsert(bobID.PeerID(), bobID.PublicKey(), []string{"TextProcessing"}, nil)

	tk, err := task.NewTask("alice", task.Payload{TaskType: task.TextProcessing, Data: []byte(`{}`)})
	require.NoError(t, err)
	id := tasks.Submit(tk)
	require.NoError(t, engine.Dispatch(id))

	mallory, err := identity.Generate()
	require.NoError(t, err)
	body, _ := json.Marshal(map[string]any{"task_id": id, "status": "ok", "result": map[string]string{}})
	env := envelope.New(envelope.KindTaskResult, mallory.PeerID(), "alice", "task.result", body)
	require.NoError(t, envelope.Sign(env, mallory))

	require.NoError(t, engine.HandleResult(env))

	st, _ := tasks.Status(id)
	assert.Equal(t, task.StatusAssigned, st.Status) // unchanged
}

func TestSweep_RedispatchesOnTimeout(t *testing.T) {
	engine, tasks, caps, _, sender := newHarness(t)

	b1, err := identity.Generate()
	require.NoError(t, err)
	b2, err := identity.Generate()
	require.NoError(t, err)
	engine.trust.Trust(b1.PublicKey())
	engine.trust.Trust(b2.PublicKey())
	caps.Upsert(b1.PeerID(), b1.PublicKey(), []string{"fail_task"}, nil)
	caps.Upsert(b2.PeerID(), b2.PublicKey(), []string{"fail_task"}, nil)

	tk, err := task.NewTask("alice", task.Payload{
		TaskType:   task.Custom("fail_task"),
		Data:       []byte(`{}`),
		Parameters: map[string]string{"timeout_ms": "1"},
	})
	require.NoError(t, err)
	id := tasks.Submit(tk)
	require.NoError(t, engine.Dispatch(id))

	st, _ := tasks.Status(id)
	firstAssignee := st.AssignedTo

	time.Sleep(5 * time.Millisecond)
	engine.Sweep(time.Now())

	st, _ = tasks.Status(id)
	assert.Equal(t, task.StatusAssigned, st.Status)
	assert.Equal(t, 1, st.RetryCount)
	assert.NotEqual(t, firstAssignee, st.AssignedTo)
	assert.Len(t, sender.sent[firstAssignee], 1)
	assert.Len(t, sender.sent[st.AssignedTo], 1)
}

func TestDispatch_SendFailureBlacklistsPeerAndRetriesOnOther(t *testing.T) {
	engine, tasks, caps, _, sender := newHarness(t)

	b1, err := identity.Generate()
	require.NoError(t, err)
	b2, err := identity.Generate()
	require.NoError(t, err)
	engine.trust.Trust(b1.PublicKey())
	engine.trust.Trust(b2.PublicKey())
	// b2 registered first so b1's later last_seen ranks it as the first
	// candidate RankCandidates selects (capability.RankCandidates' tie-break
	// is most-recent-last_seen-first).
	caps.Upsert(b2.PeerID(), b2.PublicKey(), []string{"TextProcessing"}, nil)
	caps.Upsert(b1.PeerID(), b1.PublicKey(), []string{"TextProcessing"}, nil)
	sender.fail[b1.PeerID()] = true

	tk, err := task.NewTask("alice", task.Payload{TaskType: task.TextProcessing, Data: []byte(`{}`)})
	require.NoError(t, err)
	id := tasks.Submit(tk)

	require.NoError(t, engine.Dispatch(id))

	st, _ := tasks.Status(id)
	assert.Equal(t, task.StatusAssigned, st.Status)
	assert.Equal(t, b2.PeerID(), st.AssignedTo)
	assert.Equal(t, 1, st.RetryCount)
	assert.True(t, st.Blacklist[b1.PeerID()])
	assert.Empty(t, sender.sent[b1.PeerID()])
	assert.Len(t, sender.sent[b2.PeerID()], 1)
}

func TestDispatch_SendFailureToSolePeerFailsAfterRetriesExhausted(t *testing.T) {
	id0, err := identity.Generate()
	require.NoError(t, err)
	ts := trust.New()
	caps := capability.New(60 * time.Second)
	tasks := task.NewManager(0) // no retries allowed
	sender := newRecordingSender()
	engine := NewEngine(id0, ts, caps, tasks, sender, Config{TaskTimeout: 50 * time.Millisecond, MaxRetries: 0, SweepInterval: 10 * time.Millisecond})

	b1, err := identity.Generate()
	require.NoError(t, err)
	ts.Trust(b1.PublicKey())
	caps.Upsert(b1.PeerID(), b1.PublicKey(), []string{"TextProcessing"}, nil)
	sender.fail[b1.PeerID()] = true

	tk, err := task.NewTask("alice", task.Payload{TaskType: task.TextProcessing, Data: []byte(`{}`)})
	require.NoError(t, err)
	id := tasks.Submit(tk)

	require.NoError(t, engine.Dispatch(id))

	st, _ := tasks.Status(id)
	assert.Equal(t, task.StatusFailed, st.Status)
	assert.Equal(t, "SendFailure", st.Reason)
	assert.True(t, st.Blacklist[b1.PeerID()])
}

func TestSweep_FinalizesAfterRetriesExhausted(t *testing.T) {
	id0, err := identity.Generate()
	require.NoError(t, err)
	ts := trust.New()
	caps := capability.New(60 * time.Second)
	tasks := task.NewManager(0) // no retries allowed
	sender := newRecordingSender()
	engine := NewEngine(id0, ts, caps, tasks, sender, Config{TaskTimeout: 50 * time.Millisecond, MaxRetries: 0, SweepInterval: 10 * time.Millisecond})

	b1, err := identity.Generate()
	require.NoError(t, err)
	ts.Trust(b1.PublicKey())
	caps.Upsert(b1.PeerID(), b1.PublicKey(), []string{"lonely"}, nil)

	tk, err := task.NewTask("alice", task.Payload{
		TaskType:   task.Custom("lonely"),
		Data:       []byte(`{}`),
		Parameters: map[string]string{"timeout_ms": "1"},
	})
	require.NoError(t, err)
	id := tasks.Submit(tk)
	require.NoError(t, engine.Dispatch(id))

	time.Sleep(5 * time.Millisecond)
	engine.Sweep(time.Now())

	st, _ := tasks.Status(id)
	assert.True(t, st.Status.IsTerminal())
}
