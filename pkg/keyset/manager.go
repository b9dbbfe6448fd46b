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

// Package keyset persists the factors of each user. A factor record holds
// the auth block state of the factor and the user's vault key wrapped
// under the key blobs the auth block derives. The package also keeps the
// per-user state shared by the factors: the wrapped reset seed and the
// biometrics rate limiter leaf.
package keyset

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/audit"
	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/authfactor"
	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/metrics"
	"github.com/jeremyhahn/go-authblock/pkg/status"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

// SmartUnlockLabel is the label of legacy phone unlock factors. They never
// receive a reset seed.
const SmartUnlockLabel = "SmartUnlock"

// DefaultRateLimiterExpiration is how long a biometrics rate limiter leaf
// stays valid without a strong reset.
const DefaultRateLimiterExpiration = 7 * 24 * time.Hour

// Manager stores and authenticates factors. Operations on one user are
// serialized; different users proceed in parallel.
type Manager struct {
	store   *store
	utility *authblock.Utility
	le      lecredential.CredentialManager
	drivers *authfactor.DriverManager

	storageTypes          []authfactor.StorageType
	enableKeyData         bool
	rateLimiterSchedule   lecredential.DelaySchedule
	rateLimiterExpiration time.Duration
	random                io.Reader
	now                   func() time.Time
	logger                *logging.Logger
	auditor               audit.Adapter

	mu    sync.Mutex
	users map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithAuditor(a audit.Adapter) Option {
	return func(m *Manager) { m.auditor = a }
}

// WithEnableKeyData controls whether key data is kept on saved records.
// When disabled every newly saved record is reloaded and saved again
// without its key data.
func WithEnableKeyData(enabled bool) Option {
	return func(m *Manager) { m.enableKeyData = enabled }
}

// WithStorageTypes sets where the factors of users live. The factor
// drivers use it to decide which factor types are available.
func WithStorageTypes(types ...authfactor.StorageType) Option {
	return func(m *Manager) { m.storageTypes = types }
}

// WithRateLimiterPolicy sets the delay schedule and expiration of new
// biometrics rate limiter leaves.
func WithRateLimiterPolicy(schedule lecredential.DelaySchedule, expiration time.Duration) Option {
	return func(m *Manager) {
		m.rateLimiterSchedule = schedule
		m.rateLimiterExpiration = expiration
	}
}

func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager keeping its records in backend under "keyset/".
func New(backend storage.Backend, utility *authblock.Utility, le lecredential.CredentialManager, opts ...Option) *Manager {
	m := &Manager{
		store:                 &store{backend: storage.NewPrefixed(backend, "keyset")},
		utility:               utility,
		le:                    le,
		storageTypes:          []authfactor.StorageType{authfactor.StorageUserSecretStash},
		enableKeyData:         true,
		rateLimiterSchedule:   lecredential.DefaultDelaySchedule(),
		rateLimiterExpiration: DefaultRateLimiterExpiration,
		random:                rand.Reader,
		now:                   time.Now,
		users:                 make(map[string]*userLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.DefaultLogger()
	}
	m.logger = m.logger.With("component", "keyset")
	m.drivers = authfactor.NewDriverManager(authfactor.Env{
		Utility:      utility,
		LE:           le,
		RateLimiters: m,
	})
	return m
}

// Drivers returns the factor drivers used by the manager.
func (m *Manager) Drivers() *authfactor.DriverManager {
	return m.drivers
}

// StorageTypes returns where the factors of users live.
func (m *Manager) StorageTypes() []authfactor.StorageType {
	return m.storageTypes
}

// lock serializes operations on username and returns the unlock function.
func (m *Manager) lock(username string) func() {
	m.mu.Lock()
	ul, ok := m.users[username]
	if !ok {
		ul = &userLock{}
		m.users[username] = ul
	}
	ul.refs++
	m.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		m.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(m.users, username)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RateLimiterLabel returns the biometrics rate limiter leaf of username,
// if one was provisioned.
func (m *Manager) RateLimiterLabel(ctx context.Context, username string) (mo.Option[uint64], error) {
	u, err := m.store.getUser(username)
	if err != nil {
		return mo.None[uint64](), storeError(locRateLimiterLoad, err)
	}
	if u.RateLimiterLabel == 0 {
		return mo.None[uint64](), nil
	}
	return mo.Some(u.RateLimiterLabel), nil
}

// factor converts a stored record.
func (m *Manager) factor(username string, r *record) (authfactor.Factor, error) {
	state, err := m.utility.Generic().DecodeState(r.State)
	if err != nil {
		return authfactor.Factor{}, err
	}
	return authfactor.Factor{
		Type:     r.FactorType,
		Label:    r.Label,
		Username: username,
		Metadata: r.Metadata.metadata(r.FactorType),
		State:    state,
	}, nil
}

// ListFactors returns the factors of username sorted by label. A user
// without factors has an empty list.
func (m *Manager) ListFactors(ctx context.Context, username string) ([]authfactor.Factor, error) {
	if err := validUser(username); err != nil {
		return nil, callerError(locListLoad, err)
	}
	unlock := m.lock(username)
	defer unlock()

	records, err := m.store.records(username)
	if err != nil {
		return nil, storeError(locListLoad, err)
	}
	out := make([]authfactor.Factor, 0, len(records))
	for _, r := range records {
		f, err := m.factor(username, r)
		if err != nil {
			return nil, cryptoError(locListDecodeState, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// GetFactor returns one factor of username.
func (m *Manager) GetFactor(ctx context.Context, username, label string) (authfactor.Factor, error) {
	if err := validName(username, label); err != nil {
		return authfactor.Factor{}, callerError(locGetInvalidLabel, err)
	}
	unlock := m.lock(username)
	defer unlock()

	r, err := m.store.getRecord(username, label)
	if err != nil {
		return authfactor.Factor{}, storeError(locGetLoad, err)
	}
	f, err := m.factor(username, r)
	if err != nil {
		return authfactor.Factor{}, cryptoError(locListDecodeState, err)
	}
	return f, nil
}

// FactorDelay returns how long a factor is locked out. Factors whose type
// has no delay report zero.
func (m *Manager) FactorDelay(ctx context.Context, username, label string) (time.Duration, error) {
	f, err := m.GetFactor(ctx, username, label)
	if err != nil {
		return 0, err
	}
	d := m.drivers.GetDriver(f.Type)
	if !d.IsDelaySupported() {
		return 0, nil
	}
	delay, err := d.GetFactorDelay(ctx, &f)
	if err != nil {
		return 0, status.Wrap(locDelay, err)
	}
	return delay, nil
}

// configuredTypes returns the distinct factor types of records.
func configuredTypes(records []*record) []authfactor.Type {
	return lo.Uniq(lo.Map(records, func(r *record, _ int) authfactor.Type {
		return r.FactorType
	}))
}

func (m *Manager) record(ctx context.Context, op string, ev audit.EventType, username, label string, ft authfactor.Type, err error, start time.Time) {
	metrics.RecordOperation(op, ft.String(), err, time.Since(start).Seconds())
	sev := audit.SeverityInfo
	if err != nil {
		sev = audit.SeverityWarn
		m.logger.Debug("factor operation failed", "op", op, "user", username, "label", label, "error", err)
	}
	audit.Record(ctx, m.auditor, m.logger, audit.NewEvent(ev, sev, username, "factor:"+label, err))
}
