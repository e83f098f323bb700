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

// Package envelope implements C3: the replay-and-tamper-resistant wire
// record carrying sender, recipient, subject and payload between peers.
package envelope

// Kind discriminates the four envelope kinds spec.md §3 defines.
type Kind uint8

const (
	KindTaskRequest Kind = iota
	KindTaskResult
	KindCapabilities
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindTaskRequest:
		return "TaskRequest"
	case KindTaskResult:
		return "TaskResult"
	case KindCapabilities:
		return "Capabilities"
	case KindAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// Broadcast is the reserved recipient value meaning "all connected peers".
const Broadcast = "*"

// Envelope is the signed wire record defined in spec.md §3 and §6.
type Envelope struct {
	ID        [16]byte `json:"id"`
	Kind      Kind     `json:"kind"`
	Sender    string   `json:"sender"`
	Recipient string   `json:"recipient"`
	Subject   string   `json:"subject"`
	Payload   []byte   `json:"payload"`
	Timestamp int64    `json:"timestamp"` // seconds since epoch
	Nonce     [16]byte `json:"nonce"`
	PublicKey [32]byte `json:"public_key"`
	Signature [64]byte `json:"signature"`
}

// IsBroadcast reports whether the envelope is addressed to every peer.
func (e *Envelope) IsBroadcast() bool { return e.Recipient == Broadcast }
