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

// Package audit records security-relevant outcomes of credential operations:
// lockouts, resets, factor changes and hardware resources left orphaned.
// Events carry the location trail of the status chain that caused them.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-authblock/pkg/correlation"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// EventType represents the type of audit event
type EventType string

const (
	// Credential store events
	EventCredentialInsert  EventType = "credential.insert"
	EventCredentialFailure EventType = "credential.failure"
	EventCredentialLockout EventType = "credential.lockout"
	EventCredentialReset   EventType = "credential.reset"
	EventCredentialRemove  EventType = "credential.remove"

	// Auth block events
	EventAuthBlockCreate EventType = "authblock.create"
	EventAuthBlockDerive EventType = "authblock.derive"

	// Auth factor events
	EventFactorAdd    EventType = "factor.add"
	EventFactorRemove EventType = "factor.remove"
	EventAuthSuccess  EventType = "auth.success"
	EventAuthFailure  EventType = "auth.failure"

	// EventOrphanedHardware marks a hardware resource that must be cleaned up.
	EventOrphanedHardware EventType = "hardware.orphaned"
)

// EventSeverity indicates the importance level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarn     EventSeverity = "warn"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// EventOutcome indicates the result of an operation
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
)

// Event is a single audit log entry.
type Event struct {
	ID        string
	Timestamp time.Time

	// CorrelationID ties together the events of one caller request.
	CorrelationID string

	Type      EventType
	Severity  EventSeverity
	Outcome   EventOutcome

	// Principal is the obfuscated username, when known.
	Principal string

	// Resource identifies the credential, e.g. "label:7" or a factor label.
	Resource string

	// Result holds the error text for failures.
	Result string

	// Actions and Locations are copied from the status chain.
	Actions   []string
	Locations []string

	Metadata map[string]string
}

// Adapter records audit events.
type Adapter interface {
	LogEvent(ctx context.Context, event *Event) error
}

// NewEvent builds an event of type t. When err is non-nil the outcome is
// failure and the status chain is attached.
func NewEvent(t EventType, severity EventSeverity, principal, resource string, err error) *Event {
	ev := &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      t,
		Severity:  severity,
		Outcome:   OutcomeSuccess,
		Principal: principal,
		Resource:  resource,
		Metadata:  map[string]string{},
	}
	if err != nil {
		ev.Outcome = OutcomeFailure
		ev.Result = err.Error()
		for _, a := range status.Actions(err).Actions() {
			ev.Actions = append(ev.Actions, a.String())
		}
		for _, l := range status.Locations(err) {
			ev.Locations = append(ev.Locations, l.String())
		}
	}
	return ev
}

// Record sends event to adapter. A nil adapter drops the event. Adapter
// failures are logged and never fail the audited operation. The correlation
// ID of ctx is attached when the event has none.
func Record(ctx context.Context, adapter Adapter, logger *logging.Logger, event *Event) {
	if adapter == nil || event == nil {
		return
	}
	if event.CorrelationID == "" {
		event.CorrelationID = correlation.GetCorrelationID(ctx)
	}
	if err := adapter.LogEvent(ctx, event); err != nil && logger != nil {
		logger.Warn("audit: failed to record event", "type", event.Type, "error", err)
	}
}

// LoggerAdapter writes events to a structured logger.
type LoggerAdapter struct {
	logger *logging.Logger
}

// NewLoggerAdapter returns an adapter that logs every event.
func NewLoggerAdapter(logger *logging.Logger) *LoggerAdapter {
	return &LoggerAdapter{logger: logger.With("component", "audit")}
}

// LogEvent implements Adapter.
func (a *LoggerAdapter) LogEvent(ctx context.Context, event *Event) error {
	args := []any{
		"id", event.ID,
		"type", event.Type,
		"severity", event.Severity,
		"outcome", event.Outcome,
		"principal", event.Principal,
		"resource", event.Resource,
	}
	if event.CorrelationID != "" {
		args = append(args, "correlation_id", event.CorrelationID)
	}
	if len(event.Actions) > 0 {
		args = append(args, "actions", event.Actions)
	}
	if len(event.Locations) > 0 {
		args = append(args, "locations", event.Locations)
	}
	switch event.Severity {
	case SeverityError, SeverityCritical, SeverityWarn:
		a.logger.Warn("audit event", args...)
	default:
		a.logger.Info("audit event", args...)
	}
	return nil
}
