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
	"sync"

	"github.com/jeremyhahn/go-authblock/pkg/biometrics"
)

// MockProcessor is a func-field CommandProcessor. Unset start functions
// succeed synchronously; unset credential functions report an empty output.
// The registered daemon callbacks are exposed through the Emit helpers.
type MockProcessor struct {
	mu sync.Mutex

	IsReadyFunc                  func() bool
	StartEnrollSessionFunc       func(onDone func(bool))
	StartAuthenticateSessionFunc func(username string, onDone func(bool))
	CreateCredentialFunc         func(username string, in biometrics.OperationInput, onDone func(*biometrics.OperationOutput, error))
	MatchCredentialFunc          func(in biometrics.OperationInput, onDone func(*biometrics.OperationOutput, error))
	DeleteCredentialFunc         func(username, recordID string, onDone func(error))

	enrollDone  func(biometrics.EnrollProgress, []byte)
	authDone    func(biometrics.AuthScan, []byte)
	failureDone func()

	// Call tracking
	CreateCredentialCalls []biometrics.OperationInput
	CreateCredentialUsers []string
	MatchCredentialCalls  []biometrics.OperationInput
	DeleteCredentialCalls []string
	EndEnrollCalls        int
	EndAuthCalls          int
}

func (m *MockProcessor) IsReady() bool {
	if m.IsReadyFunc != nil {
		return m.IsReadyFunc()
	}
	return true
}

func (m *MockProcessor) SetEnrollScanDoneCallback(onDone func(biometrics.EnrollProgress, []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollDone = onDone
}

func (m *MockProcessor) SetAuthScanDoneCallback(onDone func(biometrics.AuthScan, []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authDone = onDone
}

func (m *MockProcessor) SetSessionFailedCallback(onFailure func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureDone = onFailure
}

func (m *MockProcessor) StartEnrollSession(onDone func(bool)) {
	if m.StartEnrollSessionFunc != nil {
		m.StartEnrollSessionFunc(onDone)
		return
	}
	onDone(true)
}

func (m *MockProcessor) StartAuthenticateSession(username string, onDone func(bool)) {
	if m.StartAuthenticateSessionFunc != nil {
		m.StartAuthenticateSessionFunc(username, onDone)
		return
	}
	onDone(true)
}

func (m *MockProcessor) CreateCredential(username string, in biometrics.OperationInput, onDone func(*biometrics.OperationOutput, error)) {
	m.mu.Lock()
	m.CreateCredentialCalls = append(m.CreateCredentialCalls, in)
	m.CreateCredentialUsers = append(m.CreateCredentialUsers, username)
	m.mu.Unlock()
	if m.CreateCredentialFunc != nil {
		m.CreateCredentialFunc(username, in, onDone)
		return
	}
	onDone(&biometrics.OperationOutput{}, nil)
}

func (m *MockProcessor) MatchCredential(in biometrics.OperationInput, onDone func(*biometrics.OperationOutput, error)) {
	m.mu.Lock()
	m.MatchCredentialCalls = append(m.MatchCredentialCalls, in)
	m.mu.Unlock()
	if m.MatchCredentialFunc != nil {
		m.MatchCredentialFunc(in, onDone)
		return
	}
	onDone(&biometrics.OperationOutput{}, nil)
}

func (m *MockProcessor) DeleteCredential(username, recordID string, onDone func(error)) {
	m.mu.Lock()
	m.DeleteCredentialCalls = append(m.DeleteCredentialCalls, recordID)
	m.mu.Unlock()
	if m.DeleteCredentialFunc != nil {
		m.DeleteCredentialFunc(username, recordID, onDone)
		return
	}
	onDone(nil)
}

func (m *MockProcessor) EndEnrollSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndEnrollCalls++
}

func (m *MockProcessor) EndAuthenticateSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndAuthCalls++
}

// EmitEnrollScan invokes the registered enroll scan callback.
func (m *MockProcessor) EmitEnrollScan(progress biometrics.EnrollProgress, nonce []byte) {
	m.mu.Lock()
	fn := m.enrollDone
	m.mu.Unlock()
	if fn != nil {
		fn(progress, nonce)
	}
}

// EmitAuthScan invokes the registered auth scan callback.
func (m *MockProcessor) EmitAuthScan(scan biometrics.AuthScan, nonce []byte) {
	m.mu.Lock()
	fn := m.authDone
	m.mu.Unlock()
	if fn != nil {
		fn(scan, nonce)
	}
}

// EmitSessionFailed invokes the registered failure callback.
func (m *MockProcessor) EmitSessionFailed() {
	m.mu.Lock()
	fn := m.failureDone
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// CreateCount returns the number of CreateCredential calls.
func (m *MockProcessor) CreateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateCredentialCalls)
}

var _ biometrics.CommandProcessor = (*MockProcessor)(nil)
