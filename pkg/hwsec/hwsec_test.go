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

package hwsec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelayScheduleValidate(t *testing.T) {
	tests := []struct {
		name    string
		sched   DelaySchedule
		wantErr bool
	}{
		{"default", DelaySchedule{5: InfiniteDelay}, false},
		{"increasing", DelaySchedule{3: 30, 6: 600, 10: InfiniteDelay}, false},
		{"flat", DelaySchedule{3: 30, 6: 30}, false},
		{"empty", DelaySchedule{}, true},
		{"nil", nil, true},
		{"zero attempts", DelaySchedule{0: 10}, true},
		{"decreasing", DelaySchedule{3: 600, 6: 30}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDelayScheduleDelayFor(t *testing.T) {
	sched := DelaySchedule{3: 30, 6: 600, 10: InfiniteDelay}
	assert.Equal(t, uint32(0), sched.DelayFor(0))
	assert.Equal(t, uint32(0), sched.DelayFor(2))
	assert.Equal(t, uint32(30), sched.DelayFor(3))
	assert.Equal(t, uint32(30), sched.DelayFor(5))
	assert.Equal(t, uint32(600), sched.DelayFor(9))
	assert.Equal(t, InfiniteDelay, sched.DelayFor(10))
	assert.Equal(t, InfiniteDelay, sched.DelayFor(42))

	threshold, ok := sched.LockoutThreshold()
	assert.True(t, ok)
	assert.Equal(t, uint32(10), threshold)

	_, ok = DelaySchedule{3: 30}.LockoutThreshold()
	assert.False(t, ok)
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("check: %w", NewError(CodeTooManyAttempts, RetryNone, "label 4"))

	code, ok := CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, CodeTooManyAttempts, code)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.NotErrorIs(t, err, ErrHashTree)
	assert.False(t, IsRetriable(err))

	comm := Errorf(CodeComm, RetryCommunication, "write: %w", errors.New("broken pipe"))
	assert.True(t, IsRetriable(comm))
	assert.Contains(t, comm.Error(), "broken pipe")
	assert.NotNil(t, errors.Unwrap(comm))

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, RetryNone, RetryOf(errors.New("plain")))
}
