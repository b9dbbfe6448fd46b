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

package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authblock/pkg/correlation"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

var locAuditTest = status.NewLocation(910001, "AuditTestLocation")

type failingAdapter struct{}

func (failingAdapter) LogEvent(context.Context, *Event) error { return errors.New("sink down") }

func TestNewEventFromStatusChain(t *testing.T) {
	err := status.New(locAuditTest).
		WithActions(status.ActionLeLockedOut).
		WithCode(status.LECredErrorTooManyAttempts).
		Wrap(errors.New("frontend"))

	ev := NewEvent(EventCredentialLockout, SeverityWarn, "u1", "label:3", err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, OutcomeFailure, ev.Outcome)
	assert.Equal(t, []string{"LeLockedOut"}, ev.Actions)
	assert.Equal(t, []string{"AuditTestLocation(910001)"}, ev.Locations)

	ok := NewEvent(EventCredentialInsert, SeverityInfo, "u1", "label:3", nil)
	assert.Equal(t, OutcomeSuccess, ok.Outcome)
	assert.Empty(t, ok.Actions)
}

func TestMemoryAdapter(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryAdapter()
	Record(ctx, mem, nil, NewEvent(EventCredentialInsert, SeverityInfo, "u1", "label:1", nil))
	Record(ctx, mem, nil, NewEvent(EventCredentialReset, SeverityInfo, "u1", "label:1", nil))
	Record(ctx, nil, nil, NewEvent(EventCredentialReset, SeverityInfo, "u1", "label:1", nil))

	assert.Len(t, mem.Events(), 2)
	assert.Equal(t, 1, mem.Count(EventCredentialReset))
	assert.Len(t, mem.Events(EventCredentialInsert, EventCredentialReset), 2)
	assert.Error(t, mem.LogEvent(ctx, nil))
}

func TestRecordLogsAdapterFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Output: &buf})
	Record(context.Background(), failingAdapter{}, logger, NewEvent(EventAuthFailure, SeverityWarn, "", "", nil))
	assert.Contains(t, buf.String(), "sink down")
}

func TestLoggerAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewLoggerAdapter(logging.New(logging.Config{Output: &buf}))
	require.NoError(t, adapter.LogEvent(context.Background(),
		NewEvent(EventFactorAdd, SeverityInfo, "u1", "pin", nil)))
	assert.Contains(t, buf.String(), "factor.add")
	assert.Contains(t, buf.String(), "component=audit")
}

func TestRecordAttachesCorrelationID(t *testing.T) {
	mem := NewMemoryAdapter()
	ctx := correlation.WithCorrelationID(context.Background(), "req-42")

	Record(ctx, mem, nil, NewEvent(EventAuthSuccess, SeverityInfo, "u1", "password", nil))
	preset := NewEvent(EventAuthSuccess, SeverityInfo, "u1", "password", nil)
	preset.CorrelationID = "kept"
	Record(ctx, mem, nil, preset)

	events := mem.Events(EventAuthSuccess)
	require.Len(t, events, 2)
	assert.Equal(t, "req-42", events[0].CorrelationID)
	assert.Equal(t, "kept", events[1].CorrelationID)
}
