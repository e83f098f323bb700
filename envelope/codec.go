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
	"encoding/binary"
	"errors"
)

// ErrMalformed is returned when wire bytes cannot be decoded into an
// Envelope. Per spec.md §4.3 this is a per-envelope drop, not a fatal
// transport error.
var ErrMalformed = errors.New("envelope: malformed wire encoding")

// Marshal encodes env as the length-delimited binary wire record described
// in spec.md §6: id | kind | sender | recipient | subject | payload |
// timestamp | nonce | public_key | signature, with each variable-length
// field prefixed by a 4-byte big-endian length.
func Marshal(env *Envelope) []byte {
	buf := make([]byte, 0, 128+len(env.Payload))
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
	buf = append(buf, env.PublicKey[:]...)
	buf = append(buf, env.Signature[:]...)
	return buf
}

// Unmarshal decodes wire bytes produced by Marshal back into an Envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	r := &reader{data: data}

	env := &Envelope{}
	if !r.readFixed(env.ID[:]) {
		return nil, ErrMalformed
	}
	kindByte, ok := r.readByte()
	if !ok {
		return nil, ErrMalformed
	}
	env.Kind = Kind(kindByte)

	sender, ok := r.readLenPrefixed()
	if !ok {
		return nil, ErrMalformed
	}
	env.Sender = string(sender)

	recipient, ok := r.readLenPrefixed()
	if !ok {
		return nil, ErrMalformed
	}
	env.Recipient = string(recipient)

	subject, ok := r.readLenPrefixed()
	if !ok {
		return nil, ErrMalformed
	}
	env.Subject = string(subject)

	payload, ok := r.readLenPrefixed()
	if !ok {
		return nil, ErrMalformed
	}
	env.Payload = payload

	tsBytes, ok := r.readN(8)
	if !ok {
		return nil, ErrMalformed
	}
	env.Timestamp = int64(binary.BigEndian.Uint64(tsBytes))

	if !r.readFixed(env.Nonce[:]) {
		return nil, ErrMalformed
	}
	if !r.readFixed(env.PublicKey[:]) {
		return nil, ErrMalformed
	}
	if !r.readFixed(env.Signature[:]) {
		return nil, ErrMalformed
	}
	if !r.atEnd() {
		return nil, ErrMalformed
	}
	return env, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) atEnd() bool { return r.pos == len(r.data) }

func (r *reader) readByte() (byte, bool) {
	if r.pos+1 > len(r.data) {
		return 0, false
	}
	b := r.data[r.pos]
	r.pos++
	return b, true
}

func (r *reader) readN(n int) ([]byte, bool) {
	if r.pos+n > len(r.data) {
		return nil, false
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

func (r *reader) readFixed(dst []byte) bool {
	buf, ok := r.readN(len(dst))
	if !ok {
		return false
	}
	copy(dst, buf)
	return true
}

func (r *reader) readLenPrefixed() ([]byte, bool) {
	lenBytes, ok := r.readN(4)
	if !ok {
		return nil, false
	}
	n := int(binary.BigEndian.Uint32(lenBytes))
	if n < 0 || n > len(r.data)-r.pos {
		return nil, false
	}
	return r.readN(n)
}
