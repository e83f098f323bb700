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

// Package transport defines the transport-layer abstraction the runtime
// sends and receives signed envelope bytes over (spec.md §6), following
// the teacher's MessageTransport/SecureMessage split: the runtime never
// depends on a specific wire protocol (WebSocket, UDP, in-process), only
// on this interface.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a transport that has been closed.
var ErrClosed = errors.New("transport: closed")

// ErrUnknownPeer is returned by Send when no address has been dialed for
// the given peer id.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// Transport is the collaborator interface spec.md §6 names: Listen,
// Dial, Broadcast, Send, Incoming, ListenAddresses. A transport send
// failure is treated by the dispatch engine as an immediate timeout for
// retry bookkeeping (spec.md §4.8, §7).
type Transport interface {
	// Listen starts accepting inbound connections and begins delivering
	// received bytes on the channel returned by Incoming.
	Listen(ctx context.Context) error

	// Dial establishes (or records) a route to peerID reachable at
	// address, as reported by the discovery layer.
	Dial(ctx context.Context, peerID, address string) error

	// Broadcast sends data to every known peer.
	Broadcast(data []byte) error

	// Send transmits data to a specific, previously-dialed peer.
	Send(peerID string, data []byte) error

	// Incoming returns the channel of raw bytes received from any peer.
	// Envelopes from a single sender arrive in receive order (spec.md §5);
	// no ordering is guaranteed across senders.
	Incoming() <-chan []byte

	// ListenAddresses returns the address(es) this transport is
	// reachable at, once Listen has succeeded.
	ListenAddresses() []string

	// Close releases the transport's resources. Idempotent.
	Close() error
}
