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

package status

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	locTestInner = NewLocation(900001, "TestInner")
	locTestOuter = NewLocation(900002, "TestOuter")
	locTestTop   = NewLocation(900003, "TestTop")
)

func TestNewLocationPanicsOnDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		NewLocation(900001, "Duplicate")
	})
}

func TestChainActionsAndCodes(t *testing.T) {
	root := errors.New("frontend: too many attempts")
	inner := New(locTestInner).
		WithKind(KindHardwareCredential).
		WithCode(LECredErrorTooManyAttempts).
		WithActions(ActionLeLockedOut).
		Wrap(root)
	outer := New(locTestOuter).
		WithCode(CryptoErrorLELockedOut).
		WithActions(ActionAuth).
		Wrap(fmt.Errorf("derive: %w", inner))
	top := Wrap(locTestTop, outer)

	assert.True(t, ContainsAction(top, ActionLeLockedOut))
	assert.True(t, ContainsAction(top, ActionAuth))
	assert.False(t, ContainsAction(top, ActionReboot))

	le, ok := CodeOf[LECredError](top)
	require.True(t, ok)
	assert.Equal(t, LECredErrorTooManyAttempts, le)

	ce, ok := CodeOf[CryptoError](top)
	require.True(t, ok)
	assert.Equal(t, CryptoErrorLELockedOut, ce)

	_, ok = CodeOf[BiometricsError](top)
	assert.False(t, ok)

	assert.Equal(t, KindHardwareCredential, KindOf(top))
	assert.Equal(t, []Location{locTestTop, locTestOuter, locTestInner}, Locations(top))
	assert.ErrorIs(t, top, root)
	assert.Contains(t, top.Error(), "TestTop(900003)")
	assert.Contains(t, top.Error(), "LE_CRED_ERROR_TOO_MANY_ATTEMPTS")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(locTestTop, nil))
}

func TestCallerAndOrphaned(t *testing.T) {
	caller := New(locTestInner).WithKind(KindCaller).WithActions(ActionDevCheckUnexpectedState)
	assert.True(t, IsCallerError(Wrap(locTestOuter, caller)))
	assert.False(t, HardwareMayBeOrphaned(caller))

	store := New(locTestInner).WithKind(KindBackingStore).WithActions(ActionCleanupOrphanedHardware)
	assert.True(t, HardwareMayBeOrphaned(Wrap(locTestOuter, store)))
	assert.False(t, IsCallerError(store))
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	locked := New(locTestInner).WithActions(ActionLeLockedOut)
	assert.Contains(t, UserMessage(locked), "Too many attempts")
	delayed := New(locTestInner).WithActions(ActionRetry).WithRetryAfter(1500 * time.Millisecond)
	assert.Equal(t, "Too many attempts. Try again in 2 seconds.", UserMessage(Wrap(locTestOuter, delayed)))
	wait, ok := RetryAfter(Wrap(locTestOuter, delayed))
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, wait)
	wrong := New(locTestInner).WithActions(ActionAuth)
	assert.Contains(t, UserMessage(wrong), "Incorrect")
	other := New(locTestInner).WithActions(ActionReboot).Wrap(errors.New("tpm comm failure 0x101"))
	assert.Equal(t, "Couldn't verify credential.", UserMessage(other))
}

func TestActionSet(t *testing.T) {
	s := NewActionSet(ActionRetry, ActionReboot)
	assert.True(t, s.Has(ActionRetry))
	assert.False(t, s.Has(ActionFatal))
	assert.Equal(t, []Action{ActionRetry, ActionReboot}, s.Actions())
	assert.Equal(t, "{Retry,Reboot}", s.String())
	assert.True(t, ActionSet(0).Empty())
}
