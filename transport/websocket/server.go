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

// Package websocket implements transport.Transport over persistent
// gorilla/websocket connections, generalizing the teacher's
// pkg/agent/transport/websocket server/client split from a
// request-response SecureMessage exchange to the fire-and-forget signed
// envelope bytes this runtime gossips between peers (spec.md §6).
package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/taskmesh-dev/taskmesh/internal/logger"
)

var upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Local-network peer runtime; discovery already scoped who dials
		// in (spec.md §1, transport-level encryption/origin policy is
		// delegated to the discovery/transport substrate).
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Transport implements transport.Transport over WebSocket connections:
// one server accepting inbound connections plus a pool of outbound
// connections opened via Dial, all feeding one shared Incoming channel.
type Transport struct {
	listenAddr string
	selfPeerID string
	server     *http.Server
	listener   net.Listener

	readTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	peers   map[string]*gorilla.Conn // peerID -> outbound/inbound connection
	incoming chan []byte
}

// New creates a Transport that will listen on listenAddr once Listen is
// called. selfPeerID is this node's own peer-id, sent as the "peer" query
// parameter on every outbound Dial so the accepting node's server
// registers the connection under the dialer's real identity instead of a
// placeholder.
func New(listenAddr, selfPeerID string) *Transport {
	return &Transport{
		listenAddr:   listenAddr,
		selfPeerID:   selfPeerID,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		peers:        make(map[string]*gorilla.Conn),
		incoming:     make(chan []byte, 256),
	}
}

// Listen starts an HTTP server upgrading every connection at "/" to a
// WebSocket, pushing every received binary frame onto Incoming.
func (t *Transport) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("websocket transport: listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", logger.Err(err))
			return
		}
		peerID := r.URL.Query().Get("peer")
		if peerID != "" {
			t.registerPeer(peerID, conn)
		}
		go t.readLoop(conn)
	})

	t.mu.Lock()
	t.listener = ln
	t.server = &http.Server{Handler: mux}
	t.mu.Unlock()

	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket transport: serve exited", logger.Err(err))
		}
	}()
	return nil
}

func (t *Transport) registerPeer(peerID string, conn *gorilla.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peerID] = conn
}

func (t *Transport) readLoop(conn *gorilla.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != gorilla.BinaryMessage {
			continue
		}
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		t.incoming <- data
	}
}

// Incoming implements transport.Transport.
func (t *Transport) Incoming() <-chan []byte { return t.incoming }

// ListenAddresses implements transport.Transport.
func (t *Transport) ListenAddresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return []string{t.listener.Addr().String()}
}
