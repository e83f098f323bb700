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

package envelope_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh-dev/taskmesh/envelope"
	"github.com/taskmesh-dev/taskmesh/identity"
)

type stubReplay struct {
	seen map[string]bool
}

func newStubReplay() *stubReplay { return &stubReplay{seen: map[string]bool{}} }

func (s *stubReplay) Check(sender string, nonce [16]byte, timestamp int64) error {
	key := sender + string(nonce[:])
	if s.seen[key] {
		return envelope.ErrReplayDetected
	}
	s.seen[key] = true
	return nil
}

func TestSignVerify_RoundTrip(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindTaskRequest, "alice", "bob", "task.submit", []byte(`{"x":1}`))
	require.NoError(t, envelope.Sign(env, id))

	require.NoError(t, envelope.Verify(env, newStubReplay(), 120*time.Second, 300*time.Second))
}

func TestVerify_TamperedPayloadRejected(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindTaskRequest, "alice", "bob", "task.submit", []byte(`{"x":1}`))
	require.NoError(t, envelope.Sign(env, id))

	env.Payload[0] ^= 0x01

	err = envelope.Verify(env, newStubReplay(), 120*time.Second, 300*time.Second)
	assert.ErrorIs(t, err, envelope.ErrBadSignature)
}

func TestVerify_TamperedFieldRejected(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindTaskRequest, "alice", "bob", "task.submit", []byte(`{}`))
	require.NoError(t, envelope.Sign(env, id))

	env.Sender = "mallory"

	err = envelope.Verify(env, newStubReplay(), 120*time.Second, 300*time.Second)
	assert.ErrorIs(t, err, envelope.ErrBadSignature)
}

func TestVerify_ReplayRejectedOnSecondReceipt(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindTaskRequest, "alice", "bob", "task.submit", []byte(`{}`))
	require.NoError(t, envelope.Sign(env, id))

	replay := newStubReplay()
	require.NoError(t, envelope.Verify(env, replay, 120*time.Second, 300*time.Second))

	err = envelope.Verify(env, replay, 120*time.Second, 300*time.Second)
	assert.ErrorIs(t, err, envelope.ErrReplayDetected)
}

func TestVerify_FutureTimestampRejected(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindAck, "alice", "bob", "ack", nil)
	env.Timestamp = time.Now().Add(10 * time.Minute).Unix()
	require.NoError(t, envelope.Sign(env, id))

	err = envelope.Verify(env, newStubReplay(), 120*time.Second, 300*time.Second)
	assert.ErrorIs(t, err, envelope.ErrFutureTimestamp)
}

func TestVerify_ExpiredTimestampRejected(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindAck, "alice", "bob", "ack", nil)
	env.Timestamp = time.Now().Add(-1 * time.Hour).Unix()
	require.NoError(t, envelope.Sign(env, id))

	err = envelope.Verify(env, newStubReplay(), 120*time.Second, 300*time.Second)
	assert.ErrorIs(t, err, envelope.ErrExpiredTimestamp)
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindCapabilities, "alice", envelope.Broadcast, "capabilities", []byte(`{"types":["TextProcessing"]}`))
	require.NoError(t, envelope.Sign(env, id))

	data := envelope.Marshal(env)
	decoded, err := envelope.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Sender, decoded.Sender)
	assert.Equal(t, env.Recipient, decoded.Recipient)
	assert.Equal(t, env.Payload, decoded.Payload)
	assert.Equal(t, env.Signature, decoded.Signature)

	require.NoError(t, envelope.Verify(decoded, newStubReplay(), 120*time.Second, 300*time.Second))
}

func TestUnmarshal_RejectsTruncated(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	env := envelope.New(envelope.KindAck, "alice", "bob", "ack", nil)
	require.NoError(t, envelope.Sign(env, id))

	data := envelope.Marshal(env)
	_, err = envelope.Unmarshal(data[:len(data)-10])
	assert.ErrorIs(t, err, envelope.ErrMalformed)
}
