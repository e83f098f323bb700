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

// Package udp implements discovery.Discovery as a local-network UDP
// broadcast announcer/listener, in the spirit of the peer-exchange
// announcement pattern used by UDP mesh discovery tools: a small JSON
// "I am here" datagram broadcast periodically and listened for on the
// same port. It is not a hardened NAT-traversal discovery protocol
// (spec.md §1 scopes that out); it is sufficient for the "local network"
// framing the spec names.
package udp

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/taskmesh-dev/taskmesh/discovery"
	"github.com/taskmesh-dev/taskmesh/internal/logger"
)

// announcement is the wire format of one "I am here" datagram.
type announcement struct {
	Protocol string `json:"protocol"`
	PeerID   string `json:"peer_id"`
	Address  string `json:"address"`
}

const protocolTag = "taskmesh-discovery-v1"

// Discovery broadcasts and listens for UDP presence announcements on a
// fixed port.
type Discovery struct {
	broadcastAddr string
	port          int
	interval      time.Duration

	mu     sync.Mutex
	conn   *net.UDPConn
	stopCh chan struct{}
	selfID string

	sightings chan discovery.PeerSighting
}

// New creates a Discovery broadcasting on broadcastAddr:port every
// interval (default 5s).
func New(broadcastAddr string, port int, interval time.Duration) *Discovery {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Discovery{
		broadcastAddr: broadcastAddr,
		port:          port,
		interval:      interval,
		sightings:     make(chan discovery.PeerSighting, 64),
	}
}

// Start implements discovery.Discovery.
func (d *Discovery) Start(ctx context.Context, selfID, selfAddr string) error {
	d.mu.Lock()
	d.selfID = selfID
	listenConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.port})
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.conn = listenConn
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	go d.listenLoop(listenConn)
	go d.announceLoop(ctx, selfID, selfAddr)
	return nil
}

func (d *Discovery) listenLoop(conn *net.UDPConn) {
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var ann announcement
		if jsonErr := json.Unmarshal(buf[:n], &ann); jsonErr != nil || ann.Protocol != protocolTag {
			continue
		}
		d.mu.Lock()
		self := d.selfID
		d.mu.Unlock()
		if ann.PeerID == "" || ann.PeerID == self {
			continue
		}
		select {
		case d.sightings <- discovery.PeerSighting{PeerID: ann.PeerID, Address: ann.Address}:
		default:
			logger.Warn("discovery: sighting channel full, dropping", logger.String("peer_id", ann.PeerID))
		}
	}
}

func (d *Discovery) announceLoop(ctx context.Context, selfID, selfAddr string) {
	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(d.broadcastAddr, strconv.Itoa(d.port)))
	if err != nil {
		logger.Error("discovery: resolve broadcast address failed", logger.Err(err))
		return
	}
	sendConn, err := net.DialUDP("udp4", nil, dest)
	if err != nil {
		logger.Error("discovery: dial broadcast address failed", logger.Err(err))
		return
	}
	defer func() { _ = sendConn.Close() }()

	ann := announcement{Protocol: protocolTag, PeerID: selfID, Address: selfAddr}
	payload, _ := json.Marshal(ann)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		_, _ = sendConn.Write(payload)
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Stop implements discovery.Discovery. Idempotent.
func (d *Discovery) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh != nil {
		select {
		case <-d.stopCh:
		default:
			close(d.stopCh)
		}
	}
	if d.conn != nil {
		err := d.conn.Close()
		d.conn = nil
		return err
	}
	return nil
}

// Peers implements discovery.Discovery.
func (d *Discovery) Peers() <-chan discovery.PeerSighting {
	return d.sightings
}
