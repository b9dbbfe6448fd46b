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

// Package mocks provides test doubles for storage backends.
package mocks

import (
	"sync"

	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

// MockBackend wraps an in-memory backend and lets tests override individual
// operations. Unset hooks fall through to the in-memory store.
type MockBackend struct {
	mu    sync.Mutex
	inner *storage.MemoryBackend

	// Configurable behavior
	GetFunc    func(key string) ([]byte, error)
	PutFunc    func(key string, value []byte) error
	DeleteFunc func(key string) error
	ListFunc   func(prefix string) ([]string, error)

	// Call tracking
	GetCalls    []string
	PutCalls    []string
	DeleteCalls []string
	ListCalls   []string
}

// NewMockBackend creates a MockBackend with pass-through behavior.
func NewMockBackend() *MockBackend {
	return &MockBackend{inner: storage.NewMemory()}
}

func (m *MockBackend) Get(key string) ([]byte, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, key)
	fn := m.GetFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(key)
	}
	return m.inner.Get(key)
}

func (m *MockBackend) Put(key string, value []byte, opts *storage.Options) error {
	m.mu.Lock()
	m.PutCalls = append(m.PutCalls, key)
	fn := m.PutFunc
	m.mu.Unlock()
	if fn != nil {
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return m.inner.Put(key, value, opts)
}

func (m *MockBackend) Delete(key string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, key)
	fn := m.DeleteFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(key)
	}
	return m.inner.Delete(key)
}

func (m *MockBackend) List(prefix string) ([]string, error) {
	m.mu.Lock()
	m.ListCalls = append(m.ListCalls, prefix)
	fn := m.ListFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(prefix)
	}
	return m.inner.List(prefix)
}

func (m *MockBackend) Exists(key string) (bool, error) {
	return m.inner.Exists(key)
}

func (m *MockBackend) Close() error {
	return m.inner.Close()
}

// PutCount returns how many Put calls targeted key.
func (m *MockBackend) PutCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.PutCalls {
		if k == key {
			n++
		}
	}
	return n
}

// Verify interface compliance at compile time
var _ storage.Backend = (*MockBackend)(nil)
