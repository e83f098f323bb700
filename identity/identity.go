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

// Package identity implements C1: ephemeral Ed25519 node identity,
// message signing/verification and stable peer-id derivation.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"
)

// ErrInvalidSignature is returned by Verify when the signature does not
// match the message under the given public key.
var ErrInvalidSignature = errors.New("identity: invalid signature")

// Key and signature sizes in bytes: the public key is 32 bytes, while
// PrivateKeySize is Go's 64-byte ed25519 form (32-byte seed followed by
// the public key) and a signature is 64 bytes.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// Identity is a node's ephemeral Ed25519 keypair plus its derived peer-id.
// Identity is never persisted: a fresh one is generated every process
// start (spec.md §3, "Identity is created at process start and not
// persisted for MVP").
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	peerID  string
}

// Generate creates a fresh Ed25519 keypair and derives its peer-id.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{
		private: priv,
		public:  pub,
		peerID:  DerivePeerID(pub),
	}, nil
}

// FromPrivateKey rebuilds an Identity from raw private key bytes (for
// callers that need deterministic identities; not a persistence mechanism).
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("identity: invalid private key length")
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{private: priv, public: pub, peerID: DerivePeerID(pub)}, nil
}

// DerivePeerID renders a stable, base58-encoded peer-id from a public key's
// SHA-256 hash. Base58 mirrors the teacher's use of mr-tron/base58 for
// rendering public chain identifiers as short copy-pasteable strings.
func DerivePeerID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base58.Encode(sum[:16])
}

// PeerID returns this identity's stable peer-id string.
func (id *Identity) PeerID() string { return id.peerID }

// PublicKey returns the 32-byte Ed25519 verifying key.
func (id *Identity) PublicKey() ed25519.PublicKey { return id.public }

// Sign signs message and returns a 64-byte Ed25519 signature. Signing is
// infallible on well-formed input (spec.md §4.1).
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.private, message)
}

// Verify checks sig over message under the given public key. Verification
// is constant-time (delegated to crypto/ed25519) and rejects any tampered
// bit in message or signature.
func Verify(pub ed25519.PublicKey, message, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, message, sig) {
		return ErrInvalidSignature
	}
	return nil
}
