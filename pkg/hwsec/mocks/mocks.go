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

// Package mocks provides configurable hwsec frontends for tests.
package mocks

import (
	"context"
	"sync"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
)

// MockPinWeaver is a func-field PinWeaverFrontend. Unset functions return
// zero values and a nil error.
type MockPinWeaver struct {
	mu sync.Mutex

	IsEnabledFunc              func(ctx context.Context) (bool, error)
	IsBiometricsEnabledFunc    func(ctx context.Context) (bool, error)
	InsertLeafFunc             func(ctx context.Context, req hwsec.InsertLeafRequest) (uint64, error)
	CheckLeafFunc              func(ctx context.Context, label uint64, secret []byte) (*hwsec.CheckLeafReply, error)
	ResetLeafFunc              func(ctx context.Context, label uint64, resetSecret []byte, strong bool) error
	RemoveLeafFunc             func(ctx context.Context, label uint64) error
	InsertRateLimiterFunc      func(ctx context.Context, req hwsec.InsertRateLimiterRequest) (uint64, error)
	StartBiometricsAuthFunc    func(ctx context.Context, channel uint8, label uint64, nonce []byte) (*hwsec.StartBiometricsAuthReply, error)
	GetDelayInSecondsFunc      func(ctx context.Context, label uint64) (uint32, error)
	GetWrongAuthAttemptsFunc   func(ctx context.Context, label uint64) (uint32, error)
	GetExpirationInSecondsFunc func(ctx context.Context, label uint64) (mo.Option[uint32], error)

	// Call tracking
	InsertLeafCalls          []hwsec.InsertLeafRequest
	CheckLeafCalls           []uint64
	ResetLeafCalls           []uint64
	RemoveLeafCalls          []uint64
	InsertRateLimiterCalls   []hwsec.InsertRateLimiterRequest
	StartBiometricsAuthCalls []uint64
	GetDelayCalls            []uint64
}

func (m *MockPinWeaver) IsEnabled(ctx context.Context) (bool, error) {
	if m.IsEnabledFunc != nil {
		return m.IsEnabledFunc(ctx)
	}
	return true, nil
}

func (m *MockPinWeaver) IsBiometricsEnabled(ctx context.Context) (bool, error) {
	if m.IsBiometricsEnabledFunc != nil {
		return m.IsBiometricsEnabledFunc(ctx)
	}
	return true, nil
}

func (m *MockPinWeaver) InsertLeaf(ctx context.Context, req hwsec.InsertLeafRequest) (uint64, error) {
	m.mu.Lock()
	m.InsertLeafCalls = append(m.InsertLeafCalls, req)
	m.mu.Unlock()
	if m.InsertLeafFunc != nil {
		return m.InsertLeafFunc(ctx, req)
	}
	return 1, nil
}

func (m *MockPinWeaver) CheckLeaf(ctx context.Context, label uint64, secret []byte) (*hwsec.CheckLeafReply, error) {
	m.mu.Lock()
	m.CheckLeafCalls = append(m.CheckLeafCalls, label)
	m.mu.Unlock()
	if m.CheckLeafFunc != nil {
		return m.CheckLeafFunc(ctx, label, secret)
	}
	return &hwsec.CheckLeafReply{}, nil
}

func (m *MockPinWeaver) ResetLeaf(ctx context.Context, label uint64, resetSecret []byte, strong bool) error {
	m.mu.Lock()
	m.ResetLeafCalls = append(m.ResetLeafCalls, label)
	m.mu.Unlock()
	if m.ResetLeafFunc != nil {
		return m.ResetLeafFunc(ctx, label, resetSecret, strong)
	}
	return nil
}

func (m *MockPinWeaver) RemoveLeaf(ctx context.Context, label uint64) error {
	m.mu.Lock()
	m.RemoveLeafCalls = append(m.RemoveLeafCalls, label)
	m.mu.Unlock()
	if m.RemoveLeafFunc != nil {
		return m.RemoveLeafFunc(ctx, label)
	}
	return nil
}

func (m *MockPinWeaver) InsertRateLimiter(ctx context.Context, req hwsec.InsertRateLimiterRequest) (uint64, error) {
	m.mu.Lock()
	m.InsertRateLimiterCalls = append(m.InsertRateLimiterCalls, req)
	m.mu.Unlock()
	if m.InsertRateLimiterFunc != nil {
		return m.InsertRateLimiterFunc(ctx, req)
	}
	return 1, nil
}

func (m *MockPinWeaver) StartBiometricsAuth(ctx context.Context, channel uint8, label uint64, nonce []byte) (*hwsec.StartBiometricsAuthReply, error) {
	m.mu.Lock()
	m.StartBiometricsAuthCalls = append(m.StartBiometricsAuthCalls, label)
	m.mu.Unlock()
	if m.StartBiometricsAuthFunc != nil {
		return m.StartBiometricsAuthFunc(ctx, channel, label, nonce)
	}
	return &hwsec.StartBiometricsAuthReply{}, nil
}

func (m *MockPinWeaver) GetDelayInSeconds(ctx context.Context, label uint64) (uint32, error) {
	m.mu.Lock()
	m.GetDelayCalls = append(m.GetDelayCalls, label)
	m.mu.Unlock()
	if m.GetDelayInSecondsFunc != nil {
		return m.GetDelayInSecondsFunc(ctx, label)
	}
	return 0, nil
}

func (m *MockPinWeaver) GetWrongAuthAttempts(ctx context.Context, label uint64) (uint32, error) {
	if m.GetWrongAuthAttemptsFunc != nil {
		return m.GetWrongAuthAttemptsFunc(ctx, label)
	}
	return 0, nil
}

func (m *MockPinWeaver) GetExpirationInSeconds(ctx context.Context, label uint64) (mo.Option[uint32], error) {
	if m.GetExpirationInSecondsFunc != nil {
		return m.GetExpirationInSecondsFunc(ctx, label)
	}
	return mo.None[uint32](), nil
}

// CheckCount returns the number of CheckLeaf calls.
func (m *MockPinWeaver) CheckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CheckLeafCalls)
}

// InsertCount returns the number of InsertLeaf calls.
func (m *MockPinWeaver) InsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InsertLeafCalls)
}

// MockCryptohome wraps a real CryptohomeFrontend and lets tests override
// individual calls.
type MockCryptohome struct {
	hwsec.CryptohomeFrontend

	mu          sync.Mutex
	UnsealFunc  func(ctx context.Context, sealed, authValue []byte) ([]byte, error)
	PubkeyFunc  func(ctx context.Context) ([]byte, error)
	IsReadyFunc func(ctx context.Context) (bool, error)
	UnsealCalls int
}

// NewMockCryptohome creates a mock delegating to inner.
func NewMockCryptohome(inner hwsec.CryptohomeFrontend) *MockCryptohome {
	return &MockCryptohome{CryptohomeFrontend: inner}
}

func (m *MockCryptohome) IsReady(ctx context.Context) (bool, error) {
	if m.IsReadyFunc != nil {
		return m.IsReadyFunc(ctx)
	}
	return m.CryptohomeFrontend.IsReady(ctx)
}

func (m *MockCryptohome) GetPubkeyHash(ctx context.Context) ([]byte, error) {
	if m.PubkeyFunc != nil {
		return m.PubkeyFunc(ctx)
	}
	return m.CryptohomeFrontend.GetPubkeyHash(ctx)
}

func (m *MockCryptohome) UnsealWithCurrentUser(ctx context.Context, preload hwsec.PreloadedData, sealed, authValue []byte) ([]byte, error) {
	m.mu.Lock()
	m.UnsealCalls++
	fn := m.UnsealFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, sealed, authValue)
	}
	return m.CryptohomeFrontend.UnsealWithCurrentUser(ctx, preload, sealed, authValue)
}

// UnsealCount returns the number of unseal calls.
func (m *MockCryptohome) UnsealCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UnsealCalls
}

// Verify interface compliance at compile time
var (
	_ hwsec.PinWeaverFrontend  = (*MockPinWeaver)(nil)
	_ hwsec.CryptohomeFrontend = (*MockCryptohome)(nil)
)
