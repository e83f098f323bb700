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

package websocket

import (
	"context"
	"fmt"
	"net/url"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/taskmesh-dev/taskmesh/transport"
)

// Dial opens an outbound WebSocket connection to address and registers it
// under peerID so subsequent Send(peerID, ...) calls route to it.
func (t *Transport) Dial(ctx context.Context, peerID, address string) error {
	u := url.URL{Scheme: "ws", Host: address, Path: "/", RawQuery: url.Values{"peer": {t.selfPeerID}}.Encode()}

	dialer := gorilla.Dialer{HandshakeTimeout: 10 * t.writeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket transport: dial %s: %w", address, err)
	}

	t.registerPeer(peerID, conn)
	go t.readLoop(conn)
	return nil
}

// Send transmits data as a single binary WebSocket frame to peerID.
func (t *Transport) Send(peerID string, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	conn, ok := t.peers[peerID]
	t.mu.Unlock()
	if !ok {
		return transport.ErrUnknownPeer
	}

	_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := conn.WriteMessage(gorilla.BinaryMessage, data); err != nil {
		return fmt.Errorf("websocket transport: send: %w", err)
	}
	return nil
}

// Broadcast transmits data to every currently connected peer, best
// effort: a single failed peer does not abort the rest.
func (t *Transport) Broadcast(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	conns := make([]*gorilla.Conn, 0, len(t.peers))
	for _, c := range t.peers {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		if err := conn.WriteMessage(gorilla.BinaryMessage, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close shuts down the listener and every tracked connection. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	for _, c := range t.peers {
		_ = c.Close()
	}
	t.peers = make(map[string]*gorilla.Conn)

	if t.server != nil {
		_ = t.server.Close()
	}
	if t.listener != nil {
		_ = t.listener.Close()
	}
	close(t.incoming)
	return nil
}
