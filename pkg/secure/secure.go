// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authblock.
//
// go-authblock is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package secure provides helpers for handling secret byte slices: random
// generation, zeroing and constant-time comparison.
package secure

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

// ErrZeroed is returned when a Blob is used after Clear.
var ErrZeroed = errors.New("secure: blob has been zeroed")

// Reader is the entropy source used by Random. Tests may replace it.
var Reader io.Reader = rand.Reader

// Random returns n bytes from Reader.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return nil, fmt.Errorf("secure: read random: %w", err)
	}
	return b, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	// Keep the compiler from eliding the loop above.
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// Equal compares a and b in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Clone returns a copy of b, or nil if b is nil.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Concat returns the concatenation of parts in a new slice.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Blob holds secret bytes that are copied in and out and can be zeroed.
type Blob struct {
	data []byte
}

// NewBlob copies b into a new Blob.
func NewBlob(b []byte) *Blob {
	return &Blob{data: Clone(b)}
}

// Bytes returns a copy of the contents.
func (s *Blob) Bytes() ([]byte, error) {
	if s == nil || s.data == nil {
		return nil, ErrZeroed
	}
	return Clone(s.data), nil
}

// Len returns the length of the contents.
func (s *Blob) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// Clear zeroes the contents. The Blob is unusable afterwards.
func (s *Blob) Clear() {
	if s == nil || s.data == nil {
		return
	}
	Zero(s.data)
	s.data = nil
}
