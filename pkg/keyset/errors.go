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

package keyset

import (
	"errors"

	"github.com/jeremyhahn/go-authblock/pkg/status"
)

var (
	ErrUserNotFound   = errors.New("keyset: user not found")
	ErrUserExists     = errors.New("keyset: user already has factors")
	ErrFactorNotFound = errors.New("keyset: factor not found")
	ErrLabelExists    = errors.New("keyset: label already exists")
	ErrInvalidLabel   = errors.New("keyset: invalid label")
	ErrInvalidUser    = errors.New("keyset: invalid username")
	ErrCorruptRecord  = errors.New("keyset: corrupt record")
	ErrNoResetSeed    = errors.New("keyset: vault has no reset seed")
)

var (
	locAddInvalidLabel     = status.NewLocation(6001, "KeysetAddInvalidLabel")
	locAddUserExists       = status.NewLocation(6002, "KeysetAddInitialUserExists")
	locAddUserMissing      = status.NewLocation(6003, "KeysetAddUserMissing")
	locAddLabelExists      = status.NewLocation(6004, "KeysetAddLabelExists")
	locAddUnsupported      = status.NewLocation(6005, "KeysetAddFactorUnsupported")
	locAddBlockType        = status.NewLocation(6006, "KeysetAddSelectBlockType")
	locAddNoResetSeed      = status.NewLocation(6007, "KeysetAddNoResetSeed")
	locAddRateLimiter      = status.NewLocation(6008, "KeysetAddRateLimiter")
	locAddCreate           = status.NewLocation(6009, "KeysetAddCreateKeyBlobs")
	locAddWrap             = status.NewLocation(6010, "KeysetAddWrapVaultKey")
	locAddSave             = status.NewLocation(6011, "KeysetAddSaveRecord")
	locAddKeyData          = status.NewLocation(6012, "KeysetAddLegacyKeyDataResave")
	locAddRandom           = status.NewLocation(6013, "KeysetAddRandom")
	locAddLoad             = status.NewLocation(6014, "KeysetAddLoadRecords")
	locAddInitialSave      = status.NewLocation(6015, "KeysetAddInitialSaveUser")
	locAuthInvalidLabel    = status.NewLocation(6101, "KeysetAuthInvalidLabel")
	locAuthLoad            = status.NewLocation(6102, "KeysetAuthLoadRecord")
	locAuthDecodeState     = status.NewLocation(6103, "KeysetAuthDecodeState")
	locAuthDerive          = status.NewLocation(6104, "KeysetAuthDeriveKeyBlobs")
	locAuthUnwrap          = status.NewLocation(6105, "KeysetAuthUnwrapVaultKey")
	locAuthUnwrapResetSeed = status.NewLocation(6106, "KeysetAuthUnwrapResetSeed")
	locAuthLoadUser        = status.NewLocation(6107, "KeysetAuthLoadUser")
	locRemoveInvalidLabel  = status.NewLocation(6201, "KeysetRemoveInvalidLabel")
	locRemoveLoad          = status.NewLocation(6202, "KeysetRemoveLoadRecord")
	locRemoveDecodeState   = status.NewLocation(6203, "KeysetRemoveDecodeState")
	locRemovePrepare       = status.NewLocation(6204, "KeysetRemovePrepareForRemoval")
	locRemoveDelete        = status.NewLocation(6205, "KeysetRemoveDeleteRecord")
	locListLoad            = status.NewLocation(6301, "KeysetListLoadRecords")
	locListDecodeState     = status.NewLocation(6302, "KeysetListDecodeState")
	locGetInvalidLabel     = status.NewLocation(6303, "KeysetGetInvalidLabel")
	locGetLoad             = status.NewLocation(6304, "KeysetGetLoadRecord")
	locDelay               = status.NewLocation(6305, "KeysetFactorDelay")
	locRateLimiterLoad     = status.NewLocation(6306, "KeysetRateLimiterLoadUser")
)

func callerError(loc status.Location, err error) *status.Error {
	return status.New(loc).
		WithKind(status.KindCaller).
		WithCode(status.CryptoErrorOther).
		WithActions(status.ActionDevCheckUnexpectedState).
		Wrap(err)
}

// storeError reports a failure of the backing store. Missing records are
// caller errors.
func storeError(loc status.Location, err error) *status.Error {
	if errors.Is(err, ErrFactorNotFound) || errors.Is(err, ErrUserNotFound) {
		return status.New(loc).WithKind(status.KindCaller).WithCode(status.CryptoErrorOther).Wrap(err)
	}
	return status.New(loc).
		WithKind(status.KindBackingStore).
		WithCode(status.CryptoErrorOther).
		WithActions(status.ActionRetry).
		Wrap(err)
}

func cryptoError(loc status.Location, err error, actions ...status.Action) *status.Error {
	return status.New(loc).
		WithKind(status.KindCrypto).
		WithCode(status.CryptoErrorOther).
		WithActions(actions...).
		Wrap(err)
}
