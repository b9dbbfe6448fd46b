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

package lecredential

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authblock/pkg/audit"
	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/hwsec/mocks"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/pinweaver"
	"github.com/jeremyhahn/go-authblock/pkg/status"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

func newSoftwareManager(t *testing.T, opts ...Option) (*Manager, *audit.MemoryAdapter) {
	t.Helper()
	fe, err := pinweaver.New(storage.NewMemory(), pinweaver.WithLogger(logging.Discard()))
	require.NoError(t, err)
	auditor := audit.NewMemoryAdapter()
	opts = append([]Option{WithLogger(logging.Discard()), WithAuditor(auditor)}, opts...)
	m := New(fe, opts...)
	t.Cleanup(m.Close)
	return m, auditor
}

func pinRequest() InsertRequest {
	return InsertRequest{
		LowEntropySecret:  []byte("1234"),
		HighEntropySecret: []byte("0123456789abcdef0123456789abcdef"),
		ResetSecret:       []byte("reset-secret-reset-secret-reset!"),
		DelaySchedule:     DefaultDelaySchedule(),
	}
}

func leCode(t *testing.T, err error) status.LECredError {
	t.Helper()
	require.Error(t, err)
	code, ok := status.CodeOf[status.LECredError](err)
	require.True(t, ok, "no credential code in %v", err)
	return code
}

func TestInsertAndCheckCredential(t *testing.T) {
	ctx := context.Background()
	m, auditor := newSoftwareManager(t)
	req := pinRequest()

	label, err := m.InsertCredential(ctx, req)
	require.NoError(t, err)
	assert.NotZero(t, label)

	he, reset, err := m.CheckCredential(ctx, label, req.LowEntropySecret)
	require.NoError(t, err)
	assert.Equal(t, req.HighEntropySecret, he)
	assert.Equal(t, req.ResetSecret, reset)
	assert.Equal(t, 1, auditor.Count(audit.EventCredentialInsert))
}

func TestInsertCredentialRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	fe := &mocks.MockPinWeaver{}
	m := New(fe, WithLogger(logging.Discard()))

	req := pinRequest()
	req.DelaySchedule = DelaySchedule{1: 30, 3: 10}
	_, err := m.InsertCredential(ctx, req)
	assert.True(t, status.IsCallerError(err))

	req = pinRequest()
	req.ResetSecret = nil
	_, err = m.InsertCredential(ctx, req)
	assert.True(t, status.IsCallerError(err))

	assert.Zero(t, fe.InsertCount(), "frontend must not be reached")
}

func TestLockoutAfterThreshold(t *testing.T) {
	ctx := context.Background()
	m, auditor := newSoftwareManager(t)
	req := pinRequest()
	label, err := m.InsertCredential(ctx, req)
	require.NoError(t, err)

	var last uint32
	for i := 1; i <= 4; i++ {
		_, _, err := m.CheckCredential(ctx, label, []byte("0000"))
		assert.Equal(t, status.LECredErrorInvalidSecret, leCode(t, err))
		assert.True(t, status.ContainsAction(err, status.ActionAuth))

		attempts, err := m.GetWrongAuthAttempts(ctx, label)
		require.NoError(t, err)
		assert.Greater(t, attempts, last)
		last = attempts
	}

	_, _, err = m.CheckCredential(ctx, label, []byte("0000"))
	assert.Equal(t, status.LECredErrorTooManyAttempts, leCode(t, err))
	assert.True(t, status.ContainsAction(err, status.ActionLeLockedOut))
	assert.True(t, IsLockedOut(err))
	_, waits := status.RetryAfter(err)
	assert.False(t, waits)
	assert.Contains(t, status.UserMessage(err), "Use a different method")

	// The correct secret is refused while locked.
	_, _, err = m.CheckCredential(ctx, label, req.LowEntropySecret)
	assert.Equal(t, status.LECredErrorTooManyAttempts, leCode(t, err))

	locked, err := m.IsLocked(ctx, label)
	require.NoError(t, err)
	assert.True(t, locked)

	delay, err := m.GetDelayInSeconds(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, InfiniteDelay, delay)

	assert.GreaterOrEqual(t, auditor.Count(audit.EventCredentialLockout), 2)
	assert.Equal(t, 4, auditor.Count(audit.EventCredentialFailure))

	// Only the reset secret unlocks it.
	err = m.ResetCredential(ctx, label, []byte("wrong-reset"), false)
	assert.Equal(t, status.LECredErrorInvalidResetSecret, leCode(t, err))

	require.NoError(t, m.ResetCredential(ctx, label, req.ResetSecret, false))
	attempts, err := m.GetWrongAuthAttempts(ctx, label)
	require.NoError(t, err)
	assert.Zero(t, attempts)

	_, _, err = m.CheckCredential(ctx, label, req.LowEntropySecret)
	require.NoError(t, err)
	assert.Equal(t, 1, auditor.Count(audit.EventCredentialReset))
}

func TestRemoveCredential(t *testing.T) {
	ctx := context.Background()
	m, auditor := newSoftwareManager(t)
	label, err := m.InsertCredential(ctx, pinRequest())
	require.NoError(t, err)

	require.NoError(t, m.RemoveCredential(ctx, label))
	assert.Equal(t, 1, auditor.Count(audit.EventCredentialRemove))

	err = m.RemoveCredential(ctx, label)
	assert.Equal(t, status.LECredErrorInvalidLabel, leCode(t, err))
	assert.True(t, status.ContainsAction(err, status.ActionDevCheckUnexpectedState))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    status.LECredError
		actions []status.Action
	}{
		{"invalid secret", hwsec.NewError(hwsec.CodeInvalidLESecret, hwsec.RetryNone, ""),
			status.LECredErrorInvalidSecret, []status.Action{status.ActionAuth}},
		{"too many attempts", hwsec.NewError(hwsec.CodeTooManyAttempts, hwsec.RetryNone, ""),
			status.LECredErrorTooManyAttempts, []status.Action{status.ActionLeLockedOut}},
		{"pending delay", &hwsec.Error{Code: hwsec.CodeTooManyAttempts, Retry: hwsec.RetryLater, Delay: 30},
			status.LECredErrorTooManyAttempts, []status.Action{status.ActionRetry}},
		{"hash tree", hwsec.NewError(hwsec.CodeHashTree, hwsec.RetryNone, ""),
			status.LECredErrorHashTree, []status.Action{status.ActionDevBypass, status.ActionReboot}},
		{"comm", hwsec.NewError(hwsec.CodeComm, hwsec.RetryCommunication, ""),
			status.LECredErrorCommError, []status.Action{status.ActionRetry}},
		{"reboot", hwsec.NewError(hwsec.CodeReboot, hwsec.RetryReboot, ""),
			status.LECredErrorReboot, []status.Action{status.ActionReboot}},
		{"unknown", hwsec.NewError(hwsec.CodeNotReady, hwsec.RetryNone, ""),
			status.LECredErrorUnclassified, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &mocks.MockPinWeaver{
				CheckLeafFunc: func(ctx context.Context, label uint64, secret []byte) (*hwsec.CheckLeafReply, error) {
					return nil, tt.err
				},
			}
			m := New(fe, WithLogger(logging.Discard()))
			_, _, err := m.CheckCredential(context.Background(), 7, []byte("1234"))
			assert.Equal(t, tt.code, leCode(t, err))
			assert.Equal(t, status.KindHardwareCredential, status.KindOf(err))
			for _, a := range tt.actions {
				assert.True(t, status.ContainsAction(err, a), "missing %s", a)
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestFiniteDelayIsNotLockout(t *testing.T) {
	ctx := context.Background()
	m, auditor := newSoftwareManager(t)
	req := pinRequest()
	req.DelaySchedule = DelaySchedule{3: 30, 6: InfiniteDelay}
	label, err := m.InsertCredential(ctx, req)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := m.CheckCredential(ctx, label, []byte("0000"))
		assert.Equal(t, status.LECredErrorInvalidSecret, leCode(t, err))
	}

	_, _, err = m.CheckCredential(ctx, label, req.LowEntropySecret)
	assert.Equal(t, status.LECredErrorTooManyAttempts, leCode(t, err))
	assert.True(t, status.ContainsAction(err, status.ActionRetry))
	assert.False(t, status.ContainsAction(err, status.ActionLeLockedOut))
	assert.False(t, IsLockedOut(err))
	wait, ok := status.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, wait)
	assert.Equal(t, "Too many attempts. Try again in 30 seconds.", status.UserMessage(err))
	assert.Zero(t, auditor.Count(audit.EventCredentialLockout))

	delay, err := m.GetDelayInSeconds(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), delay)
}

func TestPartialInsertIsFlagged(t *testing.T) {
	fe := &mocks.MockPinWeaver{
		InsertLeafFunc: func(ctx context.Context, req hwsec.InsertLeafRequest) (uint64, error) {
			return 0, &hwsec.Error{Code: hwsec.CodePartialInsert, Label: 42}
		},
	}
	auditor := audit.NewMemoryAdapter()
	m := New(fe, WithLogger(logging.Discard()), WithAuditor(auditor))

	_, err := m.InsertCredential(context.Background(), pinRequest())
	assert.Equal(t, status.LECredErrorPartialInsert, leCode(t, err))
	assert.True(t, status.HardwareMayBeOrphaned(err))

	label, ok := PartialInsertLabel(err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), label)
	assert.Equal(t, 1, auditor.Count(audit.EventOrphanedHardware))
}

func TestAdmissionLimitShedsChecks(t *testing.T) {
	fe := &mocks.MockPinWeaver{
		CheckLeafFunc: func(ctx context.Context, label uint64, secret []byte) (*hwsec.CheckLeafReply, error) {
			return nil, hwsec.NewError(hwsec.CodeInvalidLESecret, hwsec.RetryNone, "")
		},
	}
	m := New(fe, WithLogger(logging.Discard()), WithAdmissionLimit(1, 2))
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := m.CheckCredential(ctx, 3, []byte("0000"))
		assert.Equal(t, status.LECredErrorInvalidSecret, leCode(t, err))
	}
	_, _, err := m.CheckCredential(ctx, 3, []byte("0000"))
	assert.Equal(t, status.LECredErrorRateLimited, leCode(t, err))
	assert.True(t, status.ContainsAction(err, status.ActionRetry))
	assert.Equal(t, 2, fe.CheckCount(), "shed check must not reach the frontend")

	// Other labels are admitted independently.
	_, _, err = m.CheckCredential(ctx, 4, []byte("0000"))
	assert.Equal(t, status.LECredErrorInvalidSecret, leCode(t, err))
}

func TestChecksOnSameLabelAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	fe := &mocks.MockPinWeaver{
		CheckLeafFunc: func(ctx context.Context, label uint64, secret []byte) (*hwsec.CheckLeafReply, error) {
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return &hwsec.CheckLeafReply{}, nil
		},
	}
	m := New(fe, WithLogger(logging.Discard()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = m.CheckCredential(context.Background(), 9, []byte("1234"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Empty(t, m.labels, "label locks must be released")
}

func TestStartBiometricsAuthRequiresNonce(t *testing.T) {
	fe := &mocks.MockPinWeaver{}
	m := New(fe, WithLogger(logging.Discard()))
	_, err := m.StartBiometricsAuth(context.Background(), 0, 1, nil)
	assert.True(t, status.IsCallerError(err))
	assert.Empty(t, fe.StartBiometricsAuthCalls)
}

func TestStartBiometricsAuthDoesNotCountAttempts(t *testing.T) {
	ctx := context.Background()
	m, _ := newSoftwareManager(t)

	label, err := m.InsertRateLimiter(ctx, 0, []byte("reset-secret-reset-secret-reset!"), DefaultDelaySchedule(), 0)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		reply, err := m.StartBiometricsAuth(ctx, 0, label, []byte("client-nonce-0123456789abcdef012"))
		require.NoError(t, err)
		assert.NotEmpty(t, reply.EncryptedHESecret)
	}
	attempts, err := m.GetWrongAuthAttempts(ctx, label)
	require.NoError(t, err)
	assert.Zero(t, attempts)
}
