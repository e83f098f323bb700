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

// Package trust implements C4: the per-node set of public keys accepted
// as counterparties. For the MVP, trust is added out-of-band via an
// explicit API call (spec.md §4.4); real deployments can substitute a
// richer policy object behind the same Set interface.
package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Set is a mutable, thread-safe set of trusted public keys.
type Set struct {
	mu      sync.RWMutex
	trusted mapset.Set[string]
}

// New creates an empty trust set.
func New() *Set {
	return &Set{trusted: mapset.NewSet[string]()}
}

func encodeKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// Trust adds pub to the set of accepted counterparties.
func (s *Set) Trust(pub ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted.Add(encodeKey(pub))
}

// Revoke removes pub from the set of accepted counterparties.
func (s *Set) Revoke(pub ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted.Remove(encodeKey(pub))
}

// Contains reports whether pub is currently trusted.
func (s *Set) Contains(pub ed25519.PublicKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted.Contains(encodeKey(pub))
}

// Len returns the number of trusted public keys.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted.Cardinality()
}
