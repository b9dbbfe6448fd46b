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

package authfactor

import (
	"errors"

	"github.com/jeremyhahn/go-authblock/pkg/status"
)

var (
	ErrUnknownType = errors.New("authfactor: unknown factor type")
	ErrWireDecode  = errors.New("authfactor: malformed wire factor")
)

var (
	locPinDelayWrongType     = status.NewLocation(5001, "PinGetFactorDelayWrongFactorType")
	locPinDelayWrongState    = status.NewLocation(5002, "PinGetFactorDelayInvalidBlockState")
	locPinDelayMissingLabel  = status.NewLocation(5003, "PinGetFactorDelayMissingLabel")
	locPinDelayReadFailed    = status.NewLocation(5004, "PinGetFactorDelayReadFailed")
	locFpDelayWrongType      = status.NewLocation(5011, "FingerprintGetFactorDelayWrongFactorType")
	locFpDelayWrongState     = status.NewLocation(5012, "FingerprintGetFactorDelayInvalidBlockState")
	locFpDelayNoUsername     = status.NewLocation(5013, "FingerprintGetFactorDelayNoUsername")
	locFpDelayLookupFailed   = status.NewLocation(5014, "FingerprintGetFactorDelayLookupFailed")
	locFpDelayMissingLabel   = status.NewLocation(5015, "FingerprintGetFactorDelayMissingLabel")
	locFpDelayReadFailed     = status.NewLocation(5016, "FingerprintGetFactorDelayReadFailed")
	locFpExpiryWrongType     = status.NewLocation(5017, "FingerprintGetExpirationWrongFactorType")
	locFpExpiryNoUsername    = status.NewLocation(5018, "FingerprintGetExpirationNoUsername")
	locFpExpiryLookupFailed  = status.NewLocation(5019, "FingerprintGetExpirationLookupFailed")
	locFpExpiryMissingLabel  = status.NewLocation(5020, "FingerprintGetExpirationMissingLabel")
	locFpExpiryReadFailed    = status.NewLocation(5021, "FingerprintGetExpirationReadFailed")
	locDelayUnsupported      = status.NewLocation(5031, "GetFactorDelayUnsupported")
	locExpiryUnsupported     = status.NewLocation(5032, "GetTimeUntilExpirationUnsupported")
	locNoBlockType           = status.NewLocation(5033, "FactorHasNoAuthBlockType")
	locBlockTypeNoDispatcher = status.NewLocation(5034, "FactorNoAuthBlockDispatcher")
	locBlockTypeSelect       = status.NewLocation(5035, "FactorSelectAuthBlockType")
	locBlockTypeUnsupported  = status.NewLocation(5036, "FactorAuthBlockTypeUnsupported")
)

// invalidArgument reports a factor that cannot be used for the request.
func invalidArgument(loc status.Location, msg string) *status.Error {
	return status.New(loc).
		WithKind(status.KindCaller).
		WithCode(status.CryptoErrorOther).
		WithActions(status.ActionDevCheckUnexpectedState).
		Wrap(errors.New(msg))
}
