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
)

// Code identifies the failure reported by a hardware frontend.
type Code int

const (
	CodeUnknown Code = iota
	CodeNotReady
	CodeNotSupported
	CodeInvalidArgument
	// CodeAuthFailed means the auth value did not satisfy the sealed object.
	CodeAuthFailed
	// CodePolicyMismatch means the PCR state does not satisfy the policy.
	CodePolicyMismatch
	// CodeDefendLock means the TPM dictionary attack lockout is active.
	CodeDefendLock
	CodeComm
	CodeReboot
	// PinWeaver codes
	CodeInvalidLESecret
	CodeTooManyAttempts
	CodeHashTree
	CodeInvalidLabel
	CodeNoFreeLabel
	CodeInvalidResetSecret
	CodeInvalidMetadata
	CodeExpired
	// CodePartialInsert means a leaf was written but the label index was
	// not updated. The label is reported in Error.Label.
	CodePartialInsert
)

var codeNames = map[Code]string{
	CodeUnknown:            "unknown",
	CodeNotReady:           "not ready",
	CodeNotSupported:       "not supported",
	CodeInvalidArgument:    "invalid argument",
	CodeAuthFailed:         "authorization failed",
	CodePolicyMismatch:     "policy mismatch",
	CodeDefendLock:         "dictionary attack lockout",
	CodeComm:               "communication error",
	CodeReboot:             "reboot required",
	CodeInvalidLESecret:    "invalid low entropy secret",
	CodeTooManyAttempts:    "too many attempts",
	CodeHashTree:           "hash tree error",
	CodeInvalidLabel:       "invalid label",
	CodeNoFreeLabel:        "no free label",
	CodeInvalidResetSecret: "invalid reset secret",
	CodeInvalidMetadata:    "invalid metadata",
	CodeExpired:            "credential expired",
	CodePartialInsert:      "partial insert",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// RetryAction tells the caller how a failed hardware operation may be
// recovered.
type RetryAction int

const (
	RetryNone RetryAction = iota
	// RetryCommunication means the same request may succeed immediately.
	RetryCommunication
	// RetryLater means the same request may succeed after a delay.
	RetryLater
	// RetryReboot means the hardware needs a reboot.
	RetryReboot
)

// Error is returned by hardware frontends.
type Error struct {
	Code  Code
	Retry RetryAction
	Msg   string
	// Label is set for CodePartialInsert.
	Label uint64
	// Delay is the remaining wait in seconds for a CodeTooManyAttempts
	// that clears on its own.
	Delay uint32
	Err   error
}

// NewError creates an Error.
func NewError(code Code, retry RetryAction, msg string) *Error {
	return &Error{Code: code, Retry: retry, Msg: msg}
}

// Errorf creates an Error with a formatted message. A %w verb wraps the cause.
func Errorf(code Code, retry RetryAction, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Code: code, Retry: retry, Msg: err.Error(), Err: errors.Unwrap(err)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return "hwsec: " + e.Code.String()
	}
	return "hwsec: " + e.Code.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Msg == "" && t.Err == nil
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he.Code, true
	}
	return CodeUnknown, false
}

// RetryOf returns the retry action of the first *Error in err's chain.
func RetryOf(err error) RetryAction {
	var he *Error
	if errors.As(err, &he) {
		return he.Retry
	}
	return RetryNone
}

// IsRetriable reports whether the operation may be repeated without a reboot.
func IsRetriable(err error) bool {
	r := RetryOf(err)
	return r == RetryCommunication || r == RetryLater
}

// Sentinels for errors.Is checks against a bare code.
var (
	ErrNotReady        = &Error{Code: CodeNotReady}
	ErrAuthFailed      = &Error{Code: CodeAuthFailed}
	ErrPolicyMismatch  = &Error{Code: CodePolicyMismatch}
	ErrInvalidLabel    = &Error{Code: CodeInvalidLabel}
	ErrTooManyAttempts = &Error{Code: CodeTooManyAttempts}
	ErrInvalidLESecret = &Error{Code: CodeInvalidLESecret}
	ErrHashTree        = &Error{Code: CodeHashTree}
)
