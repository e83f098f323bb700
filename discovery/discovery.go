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

// Package discovery defines the local-network peer-reachability
// collaborator interface spec.md §6 names: it feeds address sightings
// into the transport layer's Dial step. The identity of a peer is
// established by its public key observed on the first verified envelope
// (spec.md §6); discovery only needs to report "this address is worth
// dialing," not authenticate anything.
package discovery

import "context"

// PeerSighting is a single observation of a remote peer's logical name
// and dialable network address.
type PeerSighting struct {
	PeerID  string
	Address string
}

// Discovery is the collaborator interface the runtime consumes to learn
// about reachable peers on the local network (spec.md §6).
type Discovery interface {
	// Start begins broadcasting this node's own presence and listening
	// for others'.
	Start(ctx context.Context, selfID, selfAddr string) error

	// Stop halts broadcasting/listening. Idempotent.
	Stop() error

	// Peers streams every peer sighting observed since Start.
	Peers() <-chan PeerSighting
}
