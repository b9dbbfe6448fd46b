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

// Package lecredential manages low-entropy credentials held by a PinWeaver
// style hardware store. It serializes access per label, translates frontend
// failures into status chains and records lockouts and resets for audit.
package lecredential

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/audit"
	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/metrics"
	"github.com/jeremyhahn/go-authblock/pkg/ratelimit"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// DelaySchedule maps a wrong attempt count to the delay in seconds that
// applies once it is reached.
type DelaySchedule = hwsec.DelaySchedule

// InfiniteDelay marks a permanent lockout.
const InfiniteDelay = hwsec.InfiniteDelay

// DefaultDelaySchedule locks a credential after five wrong attempts.
func DefaultDelaySchedule() DelaySchedule {
	return DelaySchedule{5: InfiniteDelay}
}

// InsertRequest describes a new credential leaf. LowEntropySecret must
// already be derived from the user secret.
type InsertRequest struct {
	LowEntropySecret  []byte
	HighEntropySecret []byte
	ResetSecret       []byte
	DelaySchedule     DelaySchedule
	Expiration        time.Duration
}

// BiometricsAuthReply carries the nonce material handed to the biometrics
// daemon.
type BiometricsAuthReply = hwsec.StartBiometricsAuthReply

// CredentialManager is the contract consumed by the auth blocks.
type CredentialManager interface {
	InsertCredential(ctx context.Context, req InsertRequest) (uint64, error)
	CheckCredential(ctx context.Context, label uint64, secret []byte) (heSecret, resetSecret []byte, err error)
	ResetCredential(ctx context.Context, label uint64, resetSecret []byte, strong bool) error
	RemoveCredential(ctx context.Context, label uint64) error
	InsertRateLimiter(ctx context.Context, channel uint8, resetSecret []byte, schedule DelaySchedule, expiration time.Duration) (uint64, error)
	StartBiometricsAuth(ctx context.Context, channel uint8, label uint64, clientNonce []byte) (*BiometricsAuthReply, error)
	GetDelayInSeconds(ctx context.Context, label uint64) (uint32, error)
	GetWrongAuthAttempts(ctx context.Context, label uint64) (uint32, error)
	GetExpirationInSeconds(ctx context.Context, label uint64) (mo.Option[uint32], error)
	IsLocked(ctx context.Context, label uint64) (bool, error)
}

// Manager implements CredentialManager over a hwsec.PinWeaverFrontend.
type Manager struct {
	frontend  hwsec.PinWeaverFrontend
	logger    *logging.Logger
	auditor   audit.Adapter
	admission *ratelimit.Limiter

	mu     sync.Mutex
	labels map[uint64]*labelLock
}

type labelLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAuditor sets the audit adapter.
func WithAuditor(a audit.Adapter) Option {
	return func(m *Manager) { m.auditor = a }
}

// WithAdmissionLimit sheds credential checks beyond perMinute (with burst)
// for a label before they reach the frontend. A shed check is not an
// attempt.
func WithAdmissionLimit(perMinute, burst int) Option {
	return func(m *Manager) {
		m.admission = ratelimit.New(&ratelimit.Config{
			Enabled:         perMinute > 0,
			ChecksPerMinute: perMinute,
			Burst:           burst,
		})
	}
}

// New creates a Manager.
func New(frontend hwsec.PinWeaverFrontend, opts ...Option) *Manager {
	m := &Manager{
		frontend: frontend,
		labels:   make(map[uint64]*labelLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.DefaultLogger()
	}
	m.logger = m.logger.With("component", "lecredential")
	return m
}

// Close releases the admission limiter.
func (m *Manager) Close() {
	m.admission.Stop()
}

// lock serializes operations on label and returns the unlock function.
func (m *Manager) lock(label uint64) func() {
	m.mu.Lock()
	ll, ok := m.labels[label]
	if !ok {
		ll = &labelLock{}
		m.labels[label] = ll
	}
	ll.refs++
	m.mu.Unlock()

	ll.mu.Lock()
	return func() {
		ll.mu.Unlock()
		m.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(m.labels, label)
		}
		m.mu.Unlock()
	}
}

func resource(label uint64) string {
	return "label:" + strconv.FormatUint(label, 10)
}

func (m *Manager) observe(op string, start time.Time, err error) {
	metrics.RecordOperation(op, "", err, time.Since(start).Seconds())
	if err != nil {
		if code, ok := status.CodeOf[status.LECredError](err); ok {
			metrics.RecordCredentialError(op, code.String())
		}
	}
}

func (m *Manager) InsertCredential(ctx context.Context, req InsertRequest) (label uint64, err error) {
	start := time.Now()
	defer func() { m.observe(metrics.OpInsertCredential, start, err) }()

	if len(req.LowEntropySecret) == 0 || len(req.HighEntropySecret) == 0 || len(req.ResetSecret) == 0 {
		return 0, status.New(locInsertNoSecret).
			WithKind(status.KindCaller).
			WithActions(status.ActionDevCheckUnexpectedState)
	}
	if verr := req.DelaySchedule.Validate(); verr != nil {
		return 0, status.New(locInsertBadSchedule).
			WithKind(status.KindCaller).
			WithActions(status.ActionDevCheckUnexpectedState).
			Wrap(verr)
	}

	label, ferr := m.frontend.InsertLeaf(ctx, hwsec.InsertLeafRequest{
		LowEntropySecret:  req.LowEntropySecret,
		HighEntropySecret: req.HighEntropySecret,
		ResetSecret:       req.ResetSecret,
		DelaySchedule:     req.DelaySchedule,
		Expiration:        req.Expiration,
	})
	if ferr != nil {
		err = convertError(locInsert, ferr)
		if leaked, ok := PartialInsertLabel(ferr); ok {
			m.logger.Warn("credential leaf written without index entry", "label", leaked)
			metrics.RecordOrphanedHardware(metrics.OpInsertCredential)
			audit.Record(ctx, m.auditor, m.logger,
				audit.NewEvent(audit.EventOrphanedHardware, audit.SeverityError, "", resource(leaked), err))
		}
		return 0, err
	}

	m.logger.Debug("inserted credential", "label", label)
	audit.Record(ctx, m.auditor, m.logger,
		audit.NewEvent(audit.EventCredentialInsert, audit.SeverityInfo, "", resource(label), nil))
	return label, nil
}

// CheckCredential verifies secret against label. A wrong secret is counted
// by the frontend before the error is returned.
func (m *Manager) CheckCredential(ctx context.Context, label uint64, secret []byte) (heSecret, resetSecret []byte, err error) {
	start := time.Now()
	defer func() { m.observe(metrics.OpCheckCredential, start, err) }()

	if !m.admission.Allow(label) {
		return nil, nil, status.New(locCheckRateLimited).
			WithKind(status.KindHardwareCredential).
			WithCode(status.LECredErrorRateLimited).
			WithActions(status.ActionRetry)
	}

	unlock := m.lock(label)
	defer unlock()

	reply, ferr := m.frontend.CheckLeaf(ctx, label, secret)
	if ferr != nil {
		err = convertError(locCheck, ferr)
		m.recordCheckFailure(ctx, label, err)
		return nil, nil, err
	}
	return reply.HighEntropySecret, reply.ResetSecret, nil
}

func (m *Manager) recordCheckFailure(ctx context.Context, label uint64, err error) {
	code, _ := status.CodeOf[status.LECredError](err)
	switch code {
	case status.LECredErrorTooManyAttempts:
		if !IsLockedOut(err) {
			m.logger.Debug("credential check inside delay window", "label", label)
			return
		}
		m.logger.Warn("credential locked", "label", label)
		metrics.RecordLockout()
		audit.Record(ctx, m.auditor, m.logger,
			audit.NewEvent(audit.EventCredentialLockout, audit.SeverityWarn, "", resource(label), err))
	case status.LECredErrorInvalidSecret:
		audit.Record(ctx, m.auditor, m.logger,
			audit.NewEvent(audit.EventCredentialFailure, audit.SeverityInfo, "", resource(label), err))
	case status.LECredErrorHashTree:
		m.logger.Error(err, "label", label)
		audit.Record(ctx, m.auditor, m.logger,
			audit.NewEvent(audit.EventCredentialFailure, audit.SeverityCritical, "", resource(label), err))
	}
}

// ResetCredential clears the attempt counter of label. The reset secret
// bound at insert time authorizes it. A strong reset also renews the
// expiration.
func (m *Manager) ResetCredential(ctx context.Context, label uint64, resetSecret []byte, strong bool) (err error) {
	start := time.Now()
	defer func() { m.observe(metrics.OpResetCredential, start, err) }()

	unlock := m.lock(label)
	defer unlock()

	if ferr := m.frontend.ResetLeaf(ctx, label, resetSecret, strong); ferr != nil {
		return convertError(locReset, ferr)
	}
	m.admission.Forget(label)
	audit.Record(ctx, m.auditor, m.logger,
		audit.NewEvent(audit.EventCredentialReset, audit.SeverityInfo, "", resource(label), nil))
	return nil
}

// RemoveCredential deletes label. Removing an unknown label is an error.
func (m *Manager) RemoveCredential(ctx context.Context, label uint64) (err error) {
	start := time.Now()
	defer func() { m.observe(metrics.OpRemoveCredential, start, err) }()

	unlock := m.lock(label)
	defer unlock()

	if ferr := m.frontend.RemoveLeaf(ctx, label); ferr != nil {
		return convertError(locRemove, ferr)
	}
	m.admission.Forget(label)
	audit.Record(ctx, m.auditor, m.logger,
		audit.NewEvent(audit.EventCredentialRemove, audit.SeverityInfo, "", resource(label), nil))
	return nil
}

// InsertRateLimiter creates a biometrics rate-limiter leaf bound to channel.
func (m *Manager) InsertRateLimiter(ctx context.Context, channel uint8, resetSecret []byte, schedule DelaySchedule, expiration time.Duration) (label uint64, err error) {
	start := time.Now()
	defer func() { m.observe(metrics.OpInsertCredential, start, err) }()

	if len(resetSecret) == 0 {
		return 0, status.New(locInsertNoSecret).
			WithKind(status.KindCaller).
			WithActions(status.ActionDevCheckUnexpectedState)
	}
	if verr := schedule.Validate(); verr != nil {
		return 0, status.New(locInsertBadSchedule).
			WithKind(status.KindCaller).
			WithActions(status.ActionDevCheckUnexpectedState).
			Wrap(verr)
	}
	label, ferr := m.frontend.InsertRateLimiter(ctx, hwsec.InsertRateLimiterRequest{
		AuthChannel:   channel,
		ResetSecret:   resetSecret,
		DelaySchedule: schedule,
		Expiration:    expiration,
	})
	if ferr != nil {
		return 0, convertError(locInsertLimiter, ferr)
	}
	m.logger.Debug("inserted rate limiter", "label", label, "channel", channel)
	audit.Record(ctx, m.auditor, m.logger,
		audit.NewEvent(audit.EventCredentialInsert, audit.SeverityInfo, "", resource(label), nil))
	return label, nil
}

// StartBiometricsAuth exchanges a biometrics nonce for hardware nonce
// material. The attempt counter of label is not touched.
func (m *Manager) StartBiometricsAuth(ctx context.Context, channel uint8, label uint64, clientNonce []byte) (reply *BiometricsAuthReply, err error) {
	start := time.Now()
	defer func() { m.observe(metrics.OpStartBiometrics, start, err) }()

	if len(clientNonce) == 0 {
		return nil, status.New(locStartBioNoNonce).
			WithKind(status.KindCaller).
			WithActions(status.ActionDevCheckUnexpectedState)
	}

	unlock := m.lock(label)
	defer unlock()

	reply, ferr := m.frontend.StartBiometricsAuth(ctx, channel, label, clientNonce)
	if ferr != nil {
		return nil, convertError(locStartBiometrics, ferr)
	}
	return reply, nil
}

// GetDelayInSeconds returns the remaining delay of label. InfiniteDelay
// means the credential is locked until reset.
func (m *Manager) GetDelayInSeconds(ctx context.Context, label uint64) (uint32, error) {
	unlock := m.lock(label)
	defer unlock()

	delay, err := m.frontend.GetDelayInSeconds(ctx, label)
	if err != nil {
		return 0, convertError(locGetDelay, err)
	}
	return delay, nil
}

func (m *Manager) GetWrongAuthAttempts(ctx context.Context, label uint64) (uint32, error) {
	unlock := m.lock(label)
	defer unlock()

	attempts, err := m.frontend.GetWrongAuthAttempts(ctx, label)
	if err != nil {
		return 0, convertError(locGetAttempts, err)
	}
	return attempts, nil
}

// GetExpirationInSeconds returns the time left before label expires, or
// None when it never does.
func (m *Manager) GetExpirationInSeconds(ctx context.Context, label uint64) (mo.Option[uint32], error) {
	unlock := m.lock(label)
	defer unlock()

	exp, err := m.frontend.GetExpirationInSeconds(ctx, label)
	if err != nil {
		return mo.None[uint32](), convertError(locGetExpiration, err)
	}
	return exp, nil
}

// IsLocked reports whether label currently refuses checks, either because a
// delay is pending or because it expired.
func (m *Manager) IsLocked(ctx context.Context, label uint64) (bool, error) {
	delay, err := m.GetDelayInSeconds(ctx, label)
	if err != nil {
		return false, err
	}
	if delay > 0 {
		return true, nil
	}
	exp, err := m.GetExpirationInSeconds(ctx, label)
	if err != nil {
		return false, err
	}
	remaining, ok := exp.Get()
	return ok && remaining == 0, nil
}

var _ CredentialManager = (*Manager)(nil)
