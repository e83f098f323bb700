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
	"context"
	"sync"
)

// LoopbackTransport is an in-process Transport, the generalization of the
// teacher's MockTransport to the runtime's Transport interface: instead
// of capturing SecureMessages for assertions, it wires peers directly to
// each other's Incoming channel for use in integration tests and the
// literal end-to-end scenarios of spec.md §8.
type LoopbackTransport struct {
	addr string

	mu      sync.Mutex
	peers   map[string]*LoopbackTransport // peerID -> transport, populated by Dial
	closed  bool
	incoming chan []byte

	// SentMessages captures every payload handed to Send or Broadcast,
	// for test assertions (mirrors the teacher's MockTransport).
	SentMessages [][]byte
}

// NewLoopbackTransport creates a standalone loopback transport reachable
// at addr (an arbitrary label; loopback transports never actually dial a
// socket).
func NewLoopbackTransport(addr string) *LoopbackTransport {
	return &LoopbackTransport{
		addr:     addr,
		peers:    make(map[string]*LoopbackTransport),
		incoming: make(chan []byte, 256),
	}
}

// Listen is a no-op for LoopbackTransport: it is always ready to receive.
func (l *LoopbackTransport) Listen(ctx context.Context) error { return nil }

// Dial always returns ErrUnknownPeer: a LoopbackTransport keeps no
// address directory, so peers are wired only through ConnectLoopback.
func (l *LoopbackTransport) Dial(ctx context.Context, peerID, address string) error {
	return ErrUnknownPeer
}

// connect wires l and other together bidirectionally, keyed by peerID on
// each side. Used by ConnectLoopback.
func (l *LoopbackTransport) connect(peerID string, other *LoopbackTransport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers[peerID] = other
}

// ConnectLoopback wires a and b together under the given peer ids so each
// can Send/Broadcast to the other, mirroring a successful discovery+dial
// between two real nodes.
func ConnectLoopback(aID string, a *LoopbackTransport, bID string, b *LoopbackTransport) {
	a.connect(bID, b)
	b.connect(aID, a)
}

// Broadcast delivers data to every connected peer.
func (l *LoopbackTransport) Broadcast(data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	peers := make([]*LoopbackTransport, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.SentMessages = append(l.SentMessages, data)
	l.mu.Unlock()

	for _, p := range peers {
		p.deliver(data)
	}
	return nil
}

// Send delivers data to the single peer registered under peerID.
func (l *LoopbackTransport) Send(peerID string, data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	p, ok := l.peers[peerID]
	l.SentMessages = append(l.SentMessages, data)
	l.mu.Unlock()

	if !ok {
		return ErrUnknownPeer
	}
	p.deliver(data)
	return nil
}

func (l *LoopbackTransport) deliver(data []byte) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	l.incoming <- data
}

// Incoming implements Transport.
func (l *LoopbackTransport) Incoming() <-chan []byte { return l.incoming }

// ListenAddresses implements Transport.
func (l *LoopbackTransport) ListenAddresses() []string { return []string{l.addr} }

// Close implements Transport. Idempotent.
func (l *LoopbackTransport) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.incoming)
	return nil
}

// Reset clears captured messages, useful between test cases.
func (l *LoopbackTransport) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SentMessages = nil
}
