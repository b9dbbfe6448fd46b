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

// Package biometrics drives an external biometrics daemon through enroll and
// authenticate sessions and exchanges nonces with it on behalf of the
// fingerprint auth block.
package biometrics

import "fmt"

// ScanResult is the outcome of a single sensor touch.
type ScanResult int

const (
	ScanSuccess ScanResult = iota
	ScanPartial
	ScanInsufficient
	ScanSensorDirty
	ScanTooSlow
	ScanTooFast
	ScanImmobile
	ScanNoMatch
)

var scanResultNames = map[ScanResult]string{
	ScanSuccess:      "success",
	ScanPartial:      "partial",
	ScanInsufficient: "insufficient",
	ScanSensorDirty:  "sensor_dirty",
	ScanTooSlow:      "too_slow",
	ScanTooFast:      "too_fast",
	ScanImmobile:     "immobile",
	ScanNoMatch:      "no_match",
}

func (r ScanResult) String() string {
	if name, ok := scanResultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("scan_result(%d)", int(r))
}

// EnrollProgress is reported after every scan of an enroll session.
type EnrollProgress struct {
	Result          ScanResult
	PercentComplete int
}

// AuthScan is reported after every scan of an authenticate session.
type AuthScan struct {
	Result ScanResult
}

// OperationInput is the nonce material obtained from the credential store
// that the daemon needs to bind a record to the rate limiter.
type OperationInput struct {
	Nonce              []byte
	EncryptedLabelSeed []byte
	IV                 []byte
}

// OperationOutput holds the secrets released by the daemon for a record.
type OperationOutput struct {
	RecordID   string
	AuthSecret []byte
	AuthPin    []byte
}

// CommandProcessor is the IPC proxy to the biometrics daemon. All methods
// return immediately and report completion through their callbacks, which
// may run on any goroutine.
type CommandProcessor interface {
	IsReady() bool

	// SetEnrollScanDoneCallback registers the handler for enroll scan
	// events. nonce is set once enrollment completes.
	SetEnrollScanDoneCallback(onDone func(progress EnrollProgress, nonce []byte))

	// SetAuthScanDoneCallback registers the handler for authenticate scan
	// events.
	SetAuthScanDoneCallback(onDone func(scan AuthScan, nonce []byte))

	// SetSessionFailedCallback registers the handler for daemon side
	// session failures.
	SetSessionFailedCallback(onFailure func())

	StartEnrollSession(onDone func(ok bool))
	StartAuthenticateSession(username string, onDone func(ok bool))

	// CreateCredential creates the record of a completed enrollment.
	CreateCredential(username string, in OperationInput, onDone func(*OperationOutput, error))

	// MatchCredential matches the last authenticate scan against the
	// records of the session user.
	MatchCredential(in OperationInput, onDone func(*OperationOutput, error))

	// DeleteCredential removes a record. No session is needed.
	DeleteCredential(username, recordID string, onDone func(error))

	EndEnrollSession()
	EndAuthenticateSession()
}
