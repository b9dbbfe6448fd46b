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

package lecredential

import (
	"errors"
	"time"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

var (
	locInsert            = status.NewLocation(1001, "LECredentialManagerInsert")
	locInsertBadSchedule = status.NewLocation(1002, "LECredentialManagerInsertBadSchedule")
	locInsertNoSecret    = status.NewLocation(1003, "LECredentialManagerInsertNoSecret")
	locCheck             = status.NewLocation(1004, "LECredentialManagerCheck")
	locCheckRateLimited  = status.NewLocation(1005, "LECredentialManagerCheckRateLimited")
	locReset             = status.NewLocation(1006, "LECredentialManagerReset")
	locRemove            = status.NewLocation(1007, "LECredentialManagerRemove")
	locInsertLimiter     = status.NewLocation(1008, "LECredentialManagerInsertRateLimiter")
	locStartBiometrics   = status.NewLocation(1009, "LECredentialManagerStartBiometricsAuth")
	locGetDelay          = status.NewLocation(1010, "LECredentialManagerGetDelay")
	locGetAttempts       = status.NewLocation(1011, "LECredentialManagerGetWrongAttempts")
	locGetExpiration     = status.NewLocation(1012, "LECredentialManagerGetExpiration")
	locStartBioNoNonce   = status.NewLocation(1013, "LECredentialManagerStartBiometricsNoNonce")
)

// codeFor maps a frontend code to the credential code family.
var codeFor = map[hwsec.Code]status.LECredError{
	hwsec.CodeInvalidLESecret:    status.LECredErrorInvalidSecret,
	hwsec.CodeTooManyAttempts:    status.LECredErrorTooManyAttempts,
	hwsec.CodeHashTree:           status.LECredErrorHashTree,
	hwsec.CodeInvalidLabel:       status.LECredErrorInvalidLabel,
	hwsec.CodeNoFreeLabel:        status.LECredErrorNoFreeLabel,
	hwsec.CodeInvalidMetadata:    status.LECredErrorInvalidMetadata,
	hwsec.CodeInvalidResetSecret: status.LECredErrorInvalidResetSecret,
	hwsec.CodeComm:               status.LECredErrorCommError,
	hwsec.CodeReboot:             status.LECredErrorReboot,
	hwsec.CodePartialInsert:      status.LECredErrorPartialInsert,
	hwsec.CodeExpired:            status.LECredErrorExpired,
}

// actionsFor lists the recommended actions of each credential code.
var actionsFor = map[status.LECredError][]status.Action{
	status.LECredErrorInvalidSecret:      {status.ActionAuth},
	status.LECredErrorHashTree:           {status.ActionDevBypass, status.ActionReboot},
	status.LECredErrorInvalidLabel:       {status.ActionDevCheckUnexpectedState},
	status.LECredErrorNoFreeLabel:        {status.ActionFatal},
	status.LECredErrorInvalidMetadata:    {status.ActionDevCheckUnexpectedState},
	status.LECredErrorInvalidResetSecret: {status.ActionDevCheckUnexpectedState},
	status.LECredErrorCommError:          {status.ActionRetry},
	status.LECredErrorReboot:             {status.ActionReboot},
	status.LECredErrorPartialInsert:      {status.ActionCleanupOrphanedHardware},
}

// convertError turns a frontend error into a status chain rooted at loc.
func convertError(loc status.Location, err error) *status.Error {
	code := status.LECredErrorUnclassified
	if hc, ok := hwsec.CodeOf(err); ok {
		if c, found := codeFor[hc]; found {
			code = c
		}
	}

	se := status.New(loc).
		WithKind(status.KindHardwareCredential).
		WithCode(code).
		WithActions(actionsFor[code]...).
		Wrap(err)

	if code == status.LECredErrorTooManyAttempts {
		// A pending finite delay clears on its own; only an infinite one
		// locks the credential out.
		var he *hwsec.Error
		if errors.As(err, &he) && he.Retry == hwsec.RetryLater {
			se.WithRetryAfter(time.Duration(he.Delay) * time.Second)
		} else {
			se.WithActions(status.ActionLeLockedOut)
		}
	}

	switch hwsec.RetryOf(err) {
	case hwsec.RetryCommunication, hwsec.RetryLater:
		se.WithActions(status.ActionRetry)
	case hwsec.RetryReboot:
		se.WithActions(status.ActionReboot)
	}
	if code == status.LECredErrorPartialInsert {
		se.WithKind(status.KindBackingStore)
	}
	return se
}

// PartialInsertLabel returns the label leaked by a partial insert.
func PartialInsertLabel(err error) (uint64, bool) {
	var he *hwsec.Error
	if errors.As(err, &he) && he.Code == hwsec.CodePartialInsert {
		return he.Label, true
	}
	return 0, false
}

// IsLockedOut reports whether err says the credential is locked until
// reset. A pending finite delay is not a lockout.
func IsLockedOut(err error) bool {
	return status.ContainsAction(err, status.ActionLeLockedOut)
}
