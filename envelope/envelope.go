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

package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/internal/metrics"
)

// Error taxonomy for envelope verification (spec.md §7).
var (
	ErrBadSignature      = errors.New("envelope: bad signature")
	ErrMissingPublicKey  = errors.New("envelope: missing public key")
	ErrFutureTimestamp   = errors.New("envelope: timestamp too far in the future")
	ErrExpiredTimestamp  = errors.New("envelope: timestamp too old")
	ErrReplayDetected    = errors.New("envelope: replay detected")
)

// ReplayChecker is the subset of replay.Detector's API the envelope
// verifier needs. Declared locally so this package does not import the
// replay package, keeping the dependency direction leaf-ward.
type ReplayChecker interface {
	Check(sender string, nonce [16]byte, timestamp int64) error
}

// Signer identifies the keypair used to sign an envelope.
type Signer interface {
	PublicKey() ed25519.PublicKey
	Sign(message []byte) []byte
}

// New builds an unsigned envelope. Sign fills in id, nonce, timestamp,
// public key and signature.
func New(kind Kind, sender, recipient, subject string, payload []byte) *Envelope {
	return &Envelope{
		Kind:      kind,
		Sender:    sender,
		Recipient: recipient,
		Subject:   subject,
		Payload:   payload,
	}
}

// Sign finalizes env: filling id/nonce/timestamp if unset, then computing
// the Ed25519 signature over the canonical preimage (spec.md §4.1, §6).
func Sign(env *Envelope, signer Signer) error {
	if env.ID == ([16]byte{}) {
		id, err := uuid.NewRandom()
		if err != nil {
			return err
		}
		env.ID = [16]byte(id)
	}
	if env.Nonce == ([16]byte{}) {
		if _, err := rand.Read(env.Nonce[:]); err != nil {
			return err
		}
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	}
	copy(env.PublicKey[:], signer.PublicKey())

	sig := signer.Sign(canonicalPreimage(env))
	copy(env.Signature[:], sig)

	metrics.EnvelopesSigned.WithLabelValues(env.Kind.String()).Inc()
	return nil
}

// Verify checks env's signature, freshness and replay state, in that
// order (spec.md §4.3). It does not check trust; callers combine Verify
// with trust.Set.Contains per spec.md §4.8's "handle_envelope" pipeline.
func Verify(env *Envelope, replay ReplayChecker, clockSkew, maxAge time.Duration) error {
	start := time.Now()
	defer func() { metrics.VerifyDuration.Observe(time.Since(start).Seconds()) }()

	if env.PublicKey == ([32]byte{}) {
		metrics.EnvelopesVerified.WithLabelValues(env.Kind.String(), "bad_signature").Inc()
		return ErrMissingPublicKey
	}

	if err := identity.Verify(env.PublicKey[:], canonicalPreimage(env), env.Signature[:]); err != nil {
		metrics.EnvelopesVerified.WithLabelValues(env.Kind.String(), "bad_signature").Inc()
		return ErrBadSignature
	}

	now := time.Now().Unix()
	skew := int64(clockSkew.Seconds())
	age := int64(maxAge.Seconds())
	if env.Timestamp > now+skew {
		metrics.EnvelopesVerified.WithLabelValues(env.Kind.String(), "stale").Inc()
		return ErrFutureTimestamp
	}
	if now-env.Timestamp > age {
		metrics.EnvelopesVerified.WithLabelValues(env.Kind.String(), "stale").Inc()
		return ErrExpiredTimestamp
	}

	if replay != nil {
		if err := replay.Check(env.Sender, env.Nonce, env.Timestamp); err != nil {
			metrics.EnvelopesVerified.WithLabelValues(env.Kind.String(), "replay").Inc()
			return ErrReplayDetected
		}
	}

	metrics.EnvelopesVerified.WithLabelValues(env.Kind.String(), "ok").Inc()
	return nil
}

// canonicalPreimage builds the exact byte sequence spec.md §4.1 and §6
// require: id ‖ kind ‖ sender ‖ recipient ‖ subject ‖ payload ‖
// timestamp(u64 BE) ‖ nonce, with length-prefixed strings/bytes so the
// preimage is unambiguous and both peers reconstruct it bit-for-bit.
func canonicalPreimage(env *Envelope) []byte {
	buf := make([]byte, 0, 16+1+4+len(env.Sender)+4+len(env.Recipient)+4+len(env.Subject)+4+len(env.Payload)+8+16)

	buf = append(buf, env.ID[:]...)
	buf = append(buf, byte(env.Kind))
	buf = appendLenPrefixed(buf, []byte(env.Sender))
	buf = appendLenPrefixed(buf, []byte(env.Recipient))
	buf = appendLenPrefixed(buf, []byte(env.Subject))
	buf = appendLenPrefixed(buf, env.Payload)

	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(env.Timestamp))
	buf = append(buf, tsBytes[:]...)

	buf = append(buf, env.Nonce[:]...)
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(data)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, data...)
	return buf
}
