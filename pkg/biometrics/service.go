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

package biometrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

var (
	locStartBusy         = status.NewLocation(2001, "BiometricsServiceStartSessionBusy")
	locStartFailed       = status.NewLocation(2002, "BiometricsServiceStartSessionFailed")
	locStartTimeout      = status.NewLocation(2003, "BiometricsServiceStartSessionTimeout")
	locStartCanceled     = status.NewLocation(2004, "BiometricsServiceStartSessionCanceled")
	locTakeNonce         = status.NewLocation(2005, "BiometricsServiceTakeNonce")
	locCreateGate        = status.NewLocation(2006, "BiometricsServiceCreateCredentialNoSession")
	locCreateWrongUser   = status.NewLocation(2007, "BiometricsServiceCreateCredentialWrongUser")
	locCreateCredential  = status.NewLocation(2008, "BiometricsServiceCreateCredential")
	locCreateTimeout     = status.NewLocation(2009, "BiometricsServiceCreateCredentialTimeout")
	locMatchGate         = status.NewLocation(2010, "BiometricsServiceMatchCredentialNoSession")
	locMatchCredential   = status.NewLocation(2011, "BiometricsServiceMatchCredential")
	locMatchTimeout      = status.NewLocation(2012, "BiometricsServiceMatchCredentialTimeout")
	locDeleteCredential  = status.NewLocation(2013, "BiometricsServiceDeleteCredential")
	locDeleteTimeout     = status.NewLocation(2014, "BiometricsServiceDeleteCredentialTimeout")
	locStartNoUser       = status.NewLocation(2015, "BiometricsServiceStartSessionNoUser")
	locProcessorNotReady = status.NewLocation(2016, "BiometricsServiceProcessorNotReady")
)

// SessionKind distinguishes enroll and authenticate sessions.
type SessionKind int

const (
	SessionEnroll SessionKind = iota + 1
	SessionAuthenticate
)

func (k SessionKind) String() string {
	switch k {
	case SessionEnroll:
		return "enroll"
	case SessionAuthenticate:
		return "authenticate"
	default:
		return fmt.Sprintf("session_kind(%d)", int(k))
	}
}

// State is the state of the service's single session slot.
type State int

const (
	StateIdle State = iota
	StateSessionStarting
	StateSessionOpen
	StateNonceDelivered
	StateTimedOut
	StateFailed
	StateClosing
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateSessionStarting: "session_starting",
	StateSessionOpen:     "session_open",
	StateNonceDelivered:  "nonce_delivered",
	StateTimedOut:        "timed_out",
	StateFailed:          "failed",
	StateClosing:         "closing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ScanEvent is forwarded to the observer for every daemon event of the
// open session.
type ScanEvent struct {
	TokenID  string
	Kind     SessionKind
	Enroll   *EnrollProgress
	Auth     *AuthScan
	Nonce    bool
	Failed   bool
	TimedOut bool
}

const (
	DefaultSessionTimeout  = 5 * time.Minute
	DefaultResponseTimeout = 30 * time.Second
)

// Service owns a CommandProcessor and enforces that at most one session is
// open and that credential operations only run once the daemon delivered a
// nonce for that session.
type Service struct {
	processor       CommandProcessor
	logger          *logging.Logger
	sessionTimeout  time.Duration
	responseTimeout time.Duration
	observer        func(ScanEvent)

	mu      sync.Mutex
	state   State
	session *session
}

type session struct {
	token *Token
	nonce []byte
	timer *time.Timer
}

// Token represents an open session. Terminate ends it.
type Token struct {
	id       string
	kind     SessionKind
	username string
	svc      *Service
	once     sync.Once
}

func (t *Token) ID() string        { return t.id }
func (t *Token) Kind() SessionKind { return t.kind }
func (t *Token) Username() string  { return t.username }

// Terminate ends the session. It is safe to call more than once and when no
// nonce was ever delivered.
func (t *Token) Terminate() {
	t.once.Do(func() { t.svc.endSession(t) })
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithSessionTimeout bounds how long an open session waits for a nonce.
// Zero disables the timeout.
func WithSessionTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.sessionTimeout = d }
}

// WithResponseTimeout bounds how long a processor call may take to report
// back.
func WithResponseTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.responseTimeout = d }
}

// WithScanObserver receives scan events. It is called without locks held.
func WithScanObserver(fn func(ScanEvent)) ServiceOption {
	return func(s *Service) { s.observer = fn }
}

// NewService creates a Service and registers its callbacks on processor.
func NewService(processor CommandProcessor, opts ...ServiceOption) *Service {
	s := &Service{
		processor:       processor,
		sessionTimeout:  DefaultSessionTimeout,
		responseTimeout: DefaultResponseTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.DefaultLogger()
	}
	s.logger = s.logger.With("component", "biometrics")

	processor.SetEnrollScanDoneCallback(s.onEnrollScanDone)
	processor.SetAuthScanDoneCallback(s.onAuthScanDone)
	processor.SetSessionFailedCallback(s.onSessionFailed)
	return s
}

// IsReady reports whether the daemon is reachable.
func (s *Service) IsReady() bool {
	return s.processor.IsReady()
}

// State returns the current session state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartEnrollSession opens an enroll session for username.
func (s *Service) StartEnrollSession(ctx context.Context, username string) (*Token, error) {
	return s.startSession(ctx, SessionEnroll, username)
}

// StartAuthenticateSession opens an authenticate session for username.
func (s *Service) StartAuthenticateSession(ctx context.Context, username string) (*Token, error) {
	return s.startSession(ctx, SessionAuthenticate, username)
}

func (s *Service) startSession(ctx context.Context, kind SessionKind, username string) (*Token, error) {
	if username == "" {
		return nil, status.New(locStartNoUser).
			WithKind(status.KindCaller).
			WithActions(status.ActionDevCheckUnexpectedState)
	}
	if !s.processor.IsReady() {
		return nil, status.New(locProcessorNotReady).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorProcessorUnavailable).
			WithActions(status.ActionRetry)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		current := s.state
		s.mu.Unlock()
		return nil, status.New(locStartBusy).
			WithKind(status.KindCaller).
			WithCode(status.BiometricsErrorSessionBusy).
			WithActions(status.ActionDevCheckUnexpectedState).
			Wrap(fmt.Errorf("session slot is %s", current))
	}
	token := &Token{id: uuid.NewString(), kind: kind, username: username, svc: s}
	s.state = StateSessionStarting
	s.session = &session{token: token}
	s.mu.Unlock()

	started := make(chan bool, 1)
	onDone := func(ok bool) { started <- ok }
	switch kind {
	case SessionEnroll:
		s.processor.StartEnrollSession(onDone)
	case SessionAuthenticate:
		s.processor.StartAuthenticateSession(username, onDone)
	}

	timer := time.NewTimer(s.responseTimeout)
	defer timer.Stop()

	var err error
	select {
	case ok := <-started:
		if ok {
			s.openSession(token)
			s.logger.Debug("session started", "token", token.id, "kind", kind)
			return token, nil
		}
		err = status.New(locStartFailed).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorUnknown).
			WithActions(status.ActionRetry)
	case <-timer.C:
		err = status.New(locStartTimeout).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorTimeout).
			WithActions(status.ActionRetry)
	case <-ctx.Done():
		err = status.New(locStartCanceled).
			WithKind(status.KindBiometrics).
			WithActions(status.ActionRetry).
			Wrap(ctx.Err())
	}
	s.setState(token, StateFailed)
	token.Terminate()
	return nil, err
}

func (s *Service) openSession(token *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.token != token {
		return
	}
	s.state = StateSessionOpen
	if s.sessionTimeout > 0 {
		s.session.timer = time.AfterFunc(s.sessionTimeout, func() { s.onTimeout(token) })
	}
}

func (s *Service) setState(token *Token, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && s.session.token == token {
		s.state = state
	}
}

func (s *Service) endSession(token *Token) {
	s.mu.Lock()
	if s.session == nil || s.session.token != token {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	if s.session.timer != nil {
		s.session.timer.Stop()
	}
	secure.Zero(s.session.nonce)
	s.mu.Unlock()

	switch token.kind {
	case SessionEnroll:
		s.processor.EndEnrollSession()
	case SessionAuthenticate:
		s.processor.EndAuthenticateSession()
	}

	s.mu.Lock()
	s.session = nil
	s.state = StateIdle
	s.mu.Unlock()
	s.logger.Debug("session ended", "token", token.id)
}

func (s *Service) onEnrollScanDone(progress EnrollProgress, nonce []byte) {
	event, ok := s.deliver(SessionEnroll, nonce)
	if !ok {
		s.logger.Warn("enroll scan without enroll session")
		return
	}
	event.Enroll = &progress
	s.notify(event)
}

func (s *Service) onAuthScanDone(scan AuthScan, nonce []byte) {
	if scan.Result != ScanSuccess {
		nonce = nil
	}
	event, ok := s.deliver(SessionAuthenticate, nonce)
	if !ok {
		s.logger.Warn("auth scan without authenticate session")
		return
	}
	event.Auth = &scan
	s.notify(event)
}

// deliver records nonce for the open session of kind.
func (s *Service) deliver(kind SessionKind, nonce []byte) (ScanEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.token.kind != kind {
		return ScanEvent{}, false
	}
	event := ScanEvent{TokenID: s.session.token.id, Kind: kind}
	if s.state != StateSessionOpen && s.state != StateNonceDelivered {
		return event, true
	}
	if len(nonce) > 0 {
		secure.Zero(s.session.nonce)
		s.session.nonce = secure.Clone(nonce)
		s.state = StateNonceDelivered
		if s.session.timer != nil {
			s.session.timer.Stop()
		}
		event.Nonce = true
	}
	return event, true
}

func (s *Service) onSessionFailed() {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	if s.session.timer != nil {
		s.session.timer.Stop()
	}
	event := ScanEvent{TokenID: s.session.token.id, Kind: s.session.token.kind, Failed: true}
	s.mu.Unlock()
	s.logger.Warn("biometrics session failed", "token", event.TokenID)
	s.notify(event)
}

func (s *Service) onTimeout(token *Token) {
	s.mu.Lock()
	if s.session == nil || s.session.token != token || s.state != StateSessionOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateTimedOut
	s.mu.Unlock()
	s.logger.Info("biometrics session timed out", "token", token.id)
	s.notify(ScanEvent{TokenID: token.id, Kind: token.kind, TimedOut: true})
}

func (s *Service) notify(event ScanEvent) {
	if s.observer != nil {
		s.observer(event)
	}
}

// gateError explains why the session cannot serve a credential operation.
func gateError(loc status.Location, state State) *status.Error {
	code := status.BiometricsErrorNoSession
	switch state {
	case StateTimedOut:
		code = status.BiometricsErrorTimeout
	case StateSessionOpen, StateNonceDelivered:
		code = status.BiometricsErrorNoNonce
	case StateFailed:
		code = status.BiometricsErrorUnknown
	}
	return status.New(loc).
		WithKind(status.KindCaller).
		WithCode(code).
		WithActions(status.ActionDevCheckUnexpectedState).
		Wrap(fmt.Errorf("session state %s", state))
}

// TakeNonce returns the nonce delivered to the open session of kind. When
// username is set the session must belong to it. A nonce can be taken once.
func (s *Service) TakeNonce(kind SessionKind, username string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkGateLocked(locTakeNonce, kind, username); err != nil {
		return nil, err
	}
	if s.session.nonce == nil {
		return nil, gateError(locTakeNonce, s.state)
	}
	nonce := s.session.nonce
	s.session.nonce = nil
	return nonce, nil
}

// checkGate verifies that a session of kind for username is holding a
// nonce and returns its token.
func (s *Service) checkGate(loc status.Location, kind SessionKind, username string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkGateLocked(loc, kind, username)
}

func (s *Service) checkGateLocked(loc status.Location, kind SessionKind, username string) (*Token, error) {
	if s.session == nil || s.session.token.kind != kind || s.state != StateNonceDelivered {
		state := s.state
		if s.session != nil && s.session.token.kind != kind {
			state = StateIdle
		}
		return nil, gateError(loc, state)
	}
	if username != "" && s.session.token.username != username {
		return nil, status.New(locCreateWrongUser).
			WithKind(status.KindCaller).
			WithCode(status.BiometricsErrorNoSession).
			WithActions(status.ActionDevCheckUnexpectedState)
	}
	return s.session.token, nil
}

// CreateCredential asks the daemon to create the record of the completed
// enrollment of username. Daemon errors are returned as reported.
func (s *Service) CreateCredential(ctx context.Context, username string, in OperationInput) (*OperationOutput, error) {
	token, err := s.checkGate(locCreateGate, SessionEnroll, username)
	if err != nil {
		return nil, err
	}

	type result struct {
		out *OperationOutput
		err error
	}
	done := make(chan result, 1)
	s.processor.CreateCredential(username, in, func(out *OperationOutput, err error) {
		done <- result{out, err}
	})

	// Once dispatched the request runs to completion; only the response
	// timeout ends the wait.
	timer := time.NewTimer(s.responseTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		s.setState(token, StateSessionOpen)
		if r.err != nil {
			return nil, status.Wrap(locCreateCredential, r.err)
		}
		return r.out, nil
	case <-timer.C:
		s.setState(token, StateFailed)
		return nil, status.New(locCreateTimeout).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorTimeout).
			WithActions(status.ActionRetry)
	}
}

// MatchCredential matches the last scan of the authenticate session.
func (s *Service) MatchCredential(ctx context.Context, in OperationInput) (*OperationOutput, error) {
	token, err := s.checkGate(locMatchGate, SessionAuthenticate, "")
	if err != nil {
		return nil, err
	}

	type result struct {
		out *OperationOutput
		err error
	}
	done := make(chan result, 1)
	s.processor.MatchCredential(in, func(out *OperationOutput, err error) {
		done <- result{out, err}
	})

	timer := time.NewTimer(s.responseTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		s.setState(token, StateSessionOpen)
		if r.err != nil {
			return nil, status.Wrap(locMatchCredential, r.err)
		}
		return r.out, nil
	case <-timer.C:
		s.setState(token, StateFailed)
		return nil, status.New(locMatchTimeout).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorTimeout).
			WithActions(status.ActionRetry)
	}
}

// ActiveUsername returns the user of the open session, if any.
func (s *Service) ActiveUsername() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", false
	}
	return s.session.token.username, true
}

// DeleteCredential removes a record from the daemon.
func (s *Service) DeleteCredential(ctx context.Context, username, recordID string) error {
	done := make(chan error, 1)
	s.processor.DeleteCredential(username, recordID, func(err error) { done <- err })

	timer := time.NewTimer(s.responseTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return status.Wrap(locDeleteCredential, err)
	case <-timer.C:
		return status.New(locDeleteTimeout).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorTimeout).
			WithActions(status.ActionRetry)
	}
}
