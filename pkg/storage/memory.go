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

package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

// MemoryBackend keeps leaves and records in process memory. Values are
// copied on the way in and out, and wiped when they are overwritten,
// deleted or the backend is closed.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates a new in-memory storage backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored under key.
func (m *MemoryBackend) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	value, exists := m.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	return secure.Clone(value), nil
}

// Put stores a copy of value, wiping the value it replaces.
func (m *MemoryBackend) Put(key string, value []byte, _ *Options) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if old, ok := m.data[key]; ok {
		secure.Zero(old)
	}
	m.data[key] = secure.Clone(value)
	return nil
}

// Delete wipes and removes the value stored under key.
func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	value, exists := m.data[key]
	if !exists {
		return ErrNotFound
	}
	secure.Zero(value)
	delete(m.data, key)
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (m *MemoryBackend) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (m *MemoryBackend) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, exists := m.data[key]
	return exists, nil
}

// Len returns the number of stored values.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close wipes every value. Closing twice is a no-op.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	for _, value := range m.data {
		secure.Zero(value)
	}
	m.closed = true
	m.data = nil
	return nil
}
