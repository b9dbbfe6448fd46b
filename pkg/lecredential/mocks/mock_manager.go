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

package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
)

// MockCredentialManager is a func-field CredentialManager. Unset functions
// return zero values and a nil error, except InsertCredential and
// InsertRateLimiter which return label 1.
type MockCredentialManager struct {
	mu sync.Mutex

	InsertCredentialFunc       func(ctx context.Context, req lecredential.InsertRequest) (uint64, error)
	CheckCredentialFunc        func(ctx context.Context, label uint64, secret []byte) ([]byte, []byte, error)
	ResetCredentialFunc        func(ctx context.Context, label uint64, resetSecret []byte, strong bool) error
	RemoveCredentialFunc       func(ctx context.Context, label uint64) error
	InsertRateLimiterFunc      func(ctx context.Context, channel uint8, resetSecret []byte, schedule lecredential.DelaySchedule, expiration time.Duration) (uint64, error)
	StartBiometricsAuthFunc    func(ctx context.Context, channel uint8, label uint64, nonce []byte) (*lecredential.BiometricsAuthReply, error)
	GetDelayInSecondsFunc      func(ctx context.Context, label uint64) (uint32, error)
	GetWrongAuthAttemptsFunc   func(ctx context.Context, label uint64) (uint32, error)
	GetExpirationInSecondsFunc func(ctx context.Context, label uint64) (mo.Option[uint32], error)
	IsLockedFunc               func(ctx context.Context, label uint64) (bool, error)

	// Call tracking
	InsertCredentialCalls    []lecredential.InsertRequest
	CheckCredentialCalls     []uint64
	ResetCredentialCalls     []uint64
	RemoveCredentialCalls    []uint64
	StartBiometricsAuthCalls []uint64
}

func (m *MockCredentialManager) InsertCredential(ctx context.Context, req lecredential.InsertRequest) (uint64, error) {
	m.mu.Lock()
	m.InsertCredentialCalls = append(m.InsertCredentialCalls, req)
	m.mu.Unlock()
	if m.InsertCredentialFunc != nil {
		return m.InsertCredentialFunc(ctx, req)
	}
	return 1, nil
}

func (m *MockCredentialManager) CheckCredential(ctx context.Context, label uint64, secret []byte) ([]byte, []byte, error) {
	m.mu.Lock()
	m.CheckCredentialCalls = append(m.CheckCredentialCalls, label)
	m.mu.Unlock()
	if m.CheckCredentialFunc != nil {
		return m.CheckCredentialFunc(ctx, label, secret)
	}
	return nil, nil, nil
}

func (m *MockCredentialManager) ResetCredential(ctx context.Context, label uint64, resetSecret []byte, strong bool) error {
	m.mu.Lock()
	m.ResetCredentialCalls = append(m.ResetCredentialCalls, label)
	m.mu.Unlock()
	if m.ResetCredentialFunc != nil {
		return m.ResetCredentialFunc(ctx, label, resetSecret, strong)
	}
	return nil
}

func (m *MockCredentialManager) RemoveCredential(ctx context.Context, label uint64) error {
	m.mu.Lock()
	m.RemoveCredentialCalls = append(m.RemoveCredentialCalls, label)
	m.mu.Unlock()
	if m.RemoveCredentialFunc != nil {
		return m.RemoveCredentialFunc(ctx, label)
	}
	return nil
}

func (m *MockCredentialManager) InsertRateLimiter(ctx context.Context, channel uint8, resetSecret []byte, schedule lecredential.DelaySchedule, expiration time.Duration) (uint64, error) {
	if m.InsertRateLimiterFunc != nil {
		return m.InsertRateLimiterFunc(ctx, channel, resetSecret, schedule, expiration)
	}
	return 1, nil
}

func (m *MockCredentialManager) StartBiometricsAuth(ctx context.Context, channel uint8, label uint64, nonce []byte) (*lecredential.BiometricsAuthReply, error) {
	m.mu.Lock()
	m.StartBiometricsAuthCalls = append(m.StartBiometricsAuthCalls, label)
	m.mu.Unlock()
	if m.StartBiometricsAuthFunc != nil {
		return m.StartBiometricsAuthFunc(ctx, channel, label, nonce)
	}
	return &lecredential.BiometricsAuthReply{}, nil
}

func (m *MockCredentialManager) GetDelayInSeconds(ctx context.Context, label uint64) (uint32, error) {
	if m.GetDelayInSecondsFunc != nil {
		return m.GetDelayInSecondsFunc(ctx, label)
	}
	return 0, nil
}

func (m *MockCredentialManager) GetWrongAuthAttempts(ctx context.Context, label uint64) (uint32, error) {
	if m.GetWrongAuthAttemptsFunc != nil {
		return m.GetWrongAuthAttemptsFunc(ctx, label)
	}
	return 0, nil
}

func (m *MockCredentialManager) GetExpirationInSeconds(ctx context.Context, label uint64) (mo.Option[uint32], error) {
	if m.GetExpirationInSecondsFunc != nil {
		return m.GetExpirationInSecondsFunc(ctx, label)
	}
	return mo.None[uint32](), nil
}

func (m *MockCredentialManager) IsLocked(ctx context.Context, label uint64) (bool, error) {
	if m.IsLockedFunc != nil {
		return m.IsLockedFunc(ctx, label)
	}
	return false, nil
}

// InsertCount returns the number of InsertCredential calls.
func (m *MockCredentialManager) InsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InsertCredentialCalls)
}

var _ lecredential.CredentialManager = (*MockCredentialManager)(nil)
