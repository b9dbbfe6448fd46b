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

// Package storage provides an abstraction layer for the key-value stores that
// hold credential leaves and auth factor records. It supports in-memory and
// file-based implementations behind a common interface.
package storage

import (
	"io/fs"
)

// Backend is a flat key/value store. Keys are slash separated paths such as
// "pinweaver/leaves/7" or "keyset/<user>/factors/<label>". All
// implementations must be safe for concurrent use.
type Backend interface {
	// Get retrieves the value for the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores the value for the given key. Implementations must make the
	// write durable before returning nil.
	// If the key already exists, it will be overwritten.
	Put(key string, value []byte, opts *Options) error

	// Delete removes the key and its value from storage.
	// Returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// List returns all keys with the given prefix.
	// If prefix is empty, all keys are returned.
	List(prefix string) ([]string, error)

	// Exists checks if a key exists in storage.
	Exists(key string) (bool, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Options tunes a single Put. A nil *Options means the defaults.
type Options struct {
	// Permissions of the file holding the value. Ignored by the memory
	// backend.
	Permissions fs.FileMode
}

// DefaultOptions returns owner-only permissions, the mode every leaf and
// record is written with.
func DefaultOptions() *Options {
	return &Options{Permissions: 0600}
}
