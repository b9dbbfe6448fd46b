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

// Package software is an in-process biometrics daemon. It keeps records in
// memory and treats a named finger as the sensor image, which lets the
// fingerprint flows run end to end without a sensor.
package software

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-authblock/pkg/biometrics"
	"github.com/jeremyhahn/go-authblock/pkg/pinweaver"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

var (
	locCreateNoSession = status.NewLocation(2101, "SoftwareBiometricsCreateNoSession")
	locCreateBadInput  = status.NewLocation(2102, "SoftwareBiometricsCreateBadInput")
	locMatchNoSession  = status.NewLocation(2103, "SoftwareBiometricsMatchNoSession")
	locMatchBadInput   = status.NewLocation(2104, "SoftwareBiometricsMatchBadInput")
	locMatchNoRecord   = status.NewLocation(2105, "SoftwareBiometricsMatchNoRecord")
	locTouchNoSession  = status.NewLocation(2106, "SoftwareBiometricsTouchNoSession")
)

const nonceSize = 32

type record struct {
	ID       string
	Username string
	Finger   string
	Secret   []byte
}

// Processor implements biometrics.CommandProcessor in memory.
type Processor struct {
	mu         sync.Mutex
	pairingKey []byte

	enrollDone  func(biometrics.EnrollProgress, []byte)
	authDone    func(biometrics.AuthScan, []byte)
	failureDone func()

	kind        biometrics.SessionKind
	username    string
	clientNonce []byte
	finger      string

	records map[string]*record
}

// New creates a Processor paired with the credential store through
// pairingKey.
func New(pairingKey []byte) *Processor {
	return &Processor{
		pairingKey: secure.Clone(pairingKey),
		records:    make(map[string]*record),
	}
}

func (p *Processor) IsReady() bool { return true }

func (p *Processor) SetEnrollScanDoneCallback(onDone func(biometrics.EnrollProgress, []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enrollDone = onDone
}

func (p *Processor) SetAuthScanDoneCallback(onDone func(biometrics.AuthScan, []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authDone = onDone
}

func (p *Processor) SetSessionFailedCallback(onFailure func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failureDone = onFailure
}

func (p *Processor) StartEnrollSession(onDone func(bool)) {
	p.start(biometrics.SessionEnroll, "", onDone)
}

func (p *Processor) StartAuthenticateSession(username string, onDone func(bool)) {
	p.start(biometrics.SessionAuthenticate, username, onDone)
}

func (p *Processor) start(kind biometrics.SessionKind, username string, onDone func(bool)) {
	p.mu.Lock()
	ok := p.kind == 0
	if ok {
		p.kind = kind
		p.username = username
		p.clientNonce = nil
		p.finger = ""
	}
	p.mu.Unlock()
	go onDone(ok)
}

func (p *Processor) EndEnrollSession() {
	p.end(biometrics.SessionEnroll)
}

func (p *Processor) EndAuthenticateSession() {
	p.end(biometrics.SessionAuthenticate)
}

func (p *Processor) end(kind biometrics.SessionKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kind == kind {
		p.kind = 0
		p.username = ""
		p.clientNonce = nil
		p.finger = ""
	}
}

// Touch simulates a full scan of finger on the sensor. It completes an
// enrollment or produces an authenticate scan for the open session.
func (p *Processor) Touch(finger string) error {
	nonce, err := secure.Random(nonceSize)
	if err != nil {
		return err
	}

	p.mu.Lock()
	kind := p.kind
	if kind == 0 {
		p.mu.Unlock()
		return status.New(locTouchNoSession).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorNoSession)
	}
	p.clientNonce = nonce
	p.finger = finger
	enrollDone, authDone := p.enrollDone, p.authDone
	p.mu.Unlock()

	switch kind {
	case biometrics.SessionEnroll:
		if enrollDone != nil {
			enrollDone(biometrics.EnrollProgress{Result: biometrics.ScanSuccess, PercentComplete: 100}, secure.Clone(nonce))
		}
	case biometrics.SessionAuthenticate:
		if authDone != nil {
			authDone(biometrics.AuthScan{Result: biometrics.ScanSuccess}, secure.Clone(nonce))
		}
	}
	return nil
}

// Fail reports a daemon side failure of the open session.
func (p *Processor) Fail() {
	p.mu.Lock()
	fn := p.failureDone
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// labelSeed decrypts the label seed released by the credential store for
// the nonce of the last scan.
func (p *Processor) labelSeed(in biometrics.OperationInput) ([]byte, error) {
	if len(p.clientNonce) == 0 || len(in.Nonce) == 0 {
		return nil, fmt.Errorf("no nonce exchanged")
	}
	if len(in.IV) != aes.BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes", aes.BlockSize)
	}
	nonces := secure.Concat(p.clientNonce, in.Nonce)
	return pinweaver.EncryptSessionSecret(p.pairingKey, nonces, in.IV, in.EncryptedLabelSeed)
}

func output(rec *record, seed []byte) *biometrics.OperationOutput {
	secretMAC := hmac.New(sha256.New, rec.Secret)
	secretMAC.Write([]byte("auth-secret"))
	pinMAC := hmac.New(sha256.New, seed)
	pinMAC.Write(rec.Secret)
	return &biometrics.OperationOutput{
		RecordID:   rec.ID,
		AuthSecret: secretMAC.Sum(nil),
		AuthPin:    pinMAC.Sum(nil),
	}
}

func (p *Processor) CreateCredential(username string, in biometrics.OperationInput, onDone func(*biometrics.OperationOutput, error)) {
	go func() {
		out, err := p.createCredential(username, in)
		onDone(out, err)
	}()
}

func (p *Processor) createCredential(username string, in biometrics.OperationInput) (*biometrics.OperationOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.kind != biometrics.SessionEnroll || p.finger == "" {
		return nil, status.New(locCreateNoSession).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorCreateCredentialFailed).
			WithActions(status.ActionDevCheckUnexpectedState)
	}
	seed, err := p.labelSeed(in)
	if err != nil {
		return nil, status.New(locCreateBadInput).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorCreateCredentialFailed).
			WithActions(status.ActionDevCheckUnexpectedState).
			Wrap(err)
	}
	defer secure.Zero(seed)

	secret, err := secure.Random(32)
	if err != nil {
		return nil, err
	}
	rec := &record{
		ID:       uuid.NewString(),
		Username: username,
		Finger:   p.finger,
		Secret:   secret,
	}
	p.records[rec.ID] = rec
	p.clientNonce = nil
	return output(rec, seed), nil
}

func (p *Processor) MatchCredential(in biometrics.OperationInput, onDone func(*biometrics.OperationOutput, error)) {
	go func() {
		out, err := p.matchCredential(in)
		onDone(out, err)
	}()
}

func (p *Processor) matchCredential(in biometrics.OperationInput) (*biometrics.OperationOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.kind != biometrics.SessionAuthenticate || p.finger == "" {
		return nil, status.New(locMatchNoSession).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorMatchFailed).
			WithActions(status.ActionDevCheckUnexpectedState)
	}
	seed, err := p.labelSeed(in)
	if err != nil {
		return nil, status.New(locMatchBadInput).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorMatchFailed).
			WithActions(status.ActionDevCheckUnexpectedState).
			Wrap(err)
	}
	defer secure.Zero(seed)
	p.clientNonce = nil

	for _, rec := range p.records {
		if rec.Username == p.username && rec.Finger == p.finger {
			return output(rec, seed), nil
		}
	}
	return nil, status.New(locMatchNoRecord).
		WithKind(status.KindBiometrics).
		WithCode(status.BiometricsErrorMatchFailed).
		WithActions(status.ActionAuth)
}

func (p *Processor) DeleteCredential(username, recordID string, onDone func(error)) {
	p.mu.Lock()
	if rec, ok := p.records[recordID]; ok && rec.Username == username {
		secure.Zero(rec.Secret)
		delete(p.records, recordID)
	}
	p.mu.Unlock()
	go onDone(nil)
}

// Records returns the number of stored records.
func (p *Processor) Records() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

var _ biometrics.CommandProcessor = (*Processor)(nil)
