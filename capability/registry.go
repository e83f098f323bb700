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

// Package capability implements C5: the per-node registry of which remote
// peers advertise which task types and models (spec.md §3, §4.5).
package capability

import (
	"crypto/ed25519"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/taskmesh-dev/taskmesh/task"
)

// Entry is a per-remote-peer capability record (spec.md §3).
type Entry struct {
	PeerID          string
	PublicKey       ed25519.PublicKey
	SupportedTypes  mapset.Set[string]
	SupportedModels mapset.Set[string]
	LastSeen        time.Time
	InFlight        int // tasks currently dispatched to this peer
}

// Registry tracks remote-peer capabilities. Entries expire after TTL past
// LastSeen but the core never requires garbage collection to make
// progress (spec.md §3) -- stale entries are simply ignored by FindPeers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // insertion order, used to break selection ties
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Registry with the given staleness TTL (default 60s,
// spec.md §3).
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Registry{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Upsert records a Capabilities announcement from a verified sender
// (spec.md §4.5). Capability updates from a given sender are applied in
// receive order; the last one wins (spec.md §5).
func (r *Registry) Upsert(peerID string, pub ed25519.PublicKey, types, models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[peerID]
	if !ok {
		e = &Entry{PeerID: peerID}
		r.entries[peerID] = e
		r.order = append(r.order, peerID)
	}
	e.PublicKey = append(ed25519.PublicKey(nil), pub...)
	e.SupportedTypes = mapset.NewSet(types...)
	e.SupportedModels = mapset.NewSet(models...)
	e.LastSeen = r.now()
}

// Touch updates an entry's LastSeen without changing its advertised
// capabilities (used when a peer is seen via any verified envelope, not
// just a Capabilities one).
func (r *Registry) Touch(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[peerID]; ok {
		e.LastSeen = r.now()
	}
}

// Candidate is a selection-ready view of a capable peer.
type Candidate struct {
	PeerID    string
	PublicKey ed25519.PublicKey
	LastSeen  time.Time
	InFlight  int
}

// FindPeers returns every non-stale entry whose supported_types contains
// taskType and, when model is non-empty, whose supported_models contains
// model (spec.md §4.5, §8 "capability filter correctness"). Results are
// deduplicated (one registry entry per peer) with insertion-order as the
// stable tie-break.
func (r *Registry) FindPeers(taskType string, model string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-r.ttl)
	var out []Candidate
	for _, peerID := range r.order {
		e := r.entries[peerID]
		if e.LastSeen.Before(cutoff) {
			continue
		}
		if !e.SupportedTypes.Contains(taskType) {
			continue
		}
		if model != "" && !e.SupportedModels.Contains(model) {
			continue
		}
		out = append(out, Candidate{
			PeerID:    e.PeerID,
			PublicKey: append(ed25519.PublicKey(nil), e.PublicKey...),
			LastSeen:  e.LastSeen,
			InFlight:  e.InFlight,
		})
	}
	return out
}

// IncrInFlight adjusts the in-flight counter used to rank candidates by
// "fewest in-flight tasks" (spec.md §4.8 step 3).
func (r *Registry) IncrInFlight(peerID string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[peerID]; ok {
		e.InFlight += delta
		if e.InFlight < 0 {
			e.InFlight = 0
		}
	}
}

// Len returns the number of tracked peers, regardless of staleness.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// TaskTypeString renders a task.TaskType the way capability entries key
// on it: the bare Kind for built-ins, or the Custom name.
func TaskTypeString(t task.TaskType) string {
	if t.Kind == "Custom" {
		return t.Name
	}
	return t.Kind
}

// RankCandidates orders candidates by spec.md §4.8 step 3: fewest
// in-flight tasks first, then most recent last_seen, then lexicographic
// peer-id as a final deterministic tie-break.
func RankCandidates(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].InFlight != ranked[j].InFlight {
			return ranked[i].InFlight < ranked[j].InFlight
		}
		if !ranked[i].LastSeen.Equal(ranked[j].LastSeen) {
			return ranked[i].LastSeen.After(ranked[j].LastSeen)
		}
		return ranked[i].PeerID < ranked[j].PeerID
	})
	return ranked
}
