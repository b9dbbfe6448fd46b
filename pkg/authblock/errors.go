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

package authblock

import (
	"errors"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

var (
	locPinWeaverNoUserInput      = status.NewLocation(3001, "PinWeaverCreateNoUserInput")
	locPinWeaverNoUsername       = status.NewLocation(3002, "PinWeaverCreateNoUsername")
	locPinWeaverResetSecret      = status.NewLocation(3003, "PinWeaverCreateResetSecret")
	locPinWeaverDerive           = status.NewLocation(3004, "PinWeaverDeriveSecrets")
	locPinWeaverInsert           = status.NewLocation(3005, "PinWeaverCreateInsertCredential")
	locPinWeaverWrongState       = status.NewLocation(3006, "PinWeaverWrongState")
	locPinWeaverDeriveNoInput    = status.NewLocation(3007, "PinWeaverDeriveNoUserInput")
	locPinWeaverCheck            = status.NewLocation(3008, "PinWeaverDeriveCheckCredential")
	locPinWeaverRemove           = status.NewLocation(3009, "PinWeaverPrepareForRemoval")
	locPinWeaverUnsupported      = status.NewLocation(3010, "PinWeaverNotSupported")
	locPinWeaverRandom           = status.NewLocation(3011, "PinWeaverCreateRandom")
	locPinWeaverIsLocked         = status.NewLocation(3012, "PinWeaverIsLocked")
	locPinWeaverResetSeedSalt    = status.NewLocation(3013, "PinWeaverCreateResetSalt")
	locPinWeaverDeriveBadState   = status.NewLocation(3014, "PinWeaverDeriveMalformedState")
	locPinWeaverCapabilityFailed = status.NewLocation(3015, "PinWeaverCapabilityCheckFailed")

	locFingerprintNoUsername      = status.NewLocation(3101, "FingerprintCreateNoUsername")
	locFingerprintNoResetSecret   = status.NewLocation(3102, "FingerprintCreateNoResetSecret")
	locFingerprintNoRateLimiter   = status.NewLocation(3103, "FingerprintCreateNoRateLimiterLabel")
	locFingerprintTakeNonce       = status.NewLocation(3104, "FingerprintCreateTakeNonce")
	locFingerprintStartAuth       = status.NewLocation(3105, "FingerprintCreateStartBiometricsAuth")
	locFingerprintCreateCred      = status.NewLocation(3106, "FingerprintCreateCredential")
	locFingerprintInsert          = status.NewLocation(3107, "FingerprintCreateInsertCredential")
	locFingerprintRandom          = status.NewLocation(3108, "FingerprintCreateRandom")
	locFingerprintWrongState      = status.NewLocation(3109, "FingerprintWrongState")
	locFingerprintDeriveNoLabel   = status.NewLocation(3110, "FingerprintDeriveNoRateLimiterLabel")
	locFingerprintDeriveTakeNonce = status.NewLocation(3111, "FingerprintDeriveTakeNonce")
	locFingerprintDeriveStartAuth = status.NewLocation(3112, "FingerprintDeriveStartBiometricsAuth")
	locFingerprintMatch           = status.NewLocation(3113, "FingerprintDeriveMatchCredential")
	locFingerprintWrongTemplate   = status.NewLocation(3114, "FingerprintDeriveWrongTemplate")
	locFingerprintCheck           = status.NewLocation(3115, "FingerprintDeriveCheckCredential")
	locFingerprintRemove          = status.NewLocation(3116, "FingerprintPrepareForRemoval")
	locFingerprintUnsupported     = status.NewLocation(3117, "FingerprintNotSupported")
	locFingerprintDeleteRecord    = status.NewLocation(3118, "FingerprintDeleteRecord")

	locTpmNoUserInput      = status.NewLocation(3201, "TpmNoUserInput")
	locTpmNoUsername       = status.NewLocation(3202, "TpmCreateNoUsername")
	locTpmScrypt           = status.NewLocation(3203, "TpmScryptDerive")
	locTpmAuthValue        = status.NewLocation(3204, "TpmGetAuthValue")
	locTpmSeal             = status.NewLocation(3205, "TpmSeal")
	locTpmSealExtended     = status.NewLocation(3206, "TpmSealExtended")
	locTpmWrongState       = status.NewLocation(3207, "TpmWrongState")
	locTpmNotScryptDerived = status.NewLocation(3208, "TpmStateNotScryptDerived")
	locTpmMalformedState   = status.NewLocation(3209, "TpmMalformedState")
	locTpmNotReady         = status.NewLocation(3210, "TpmNotReady")
	locTpmPubkeyHash       = status.NewLocation(3211, "TpmGetPubkeyHash")
	locTpmPubkeyMismatch   = status.NewLocation(3212, "TpmPubkeyHashMismatch")
	locTpmPreload          = status.NewLocation(3213, "TpmPreloadSealedData")
	locTpmUnseal           = status.NewLocation(3214, "TpmUnseal")
	locTpmNoPublicKeyHash  = status.NewLocation(3215, "TpmUnsealNoPublicKeyHash")
	locTpmEncrypt          = status.NewLocation(3216, "TpmEncrypt")
	locTpmDecrypt          = status.NewLocation(3217, "TpmDecrypt")
	locTpmUnsupported      = status.NewLocation(3218, "TpmNotSupported")
	locTpmRandom           = status.NewLocation(3219, "TpmRandom")
	locTpmEccAuthValue     = status.NewLocation(3220, "TpmEccGetAuthValue")
	locTpmCapabilityFailed = status.NewLocation(3221, "TpmCapabilityCheckFailed")
	locTpmEccBadRounds     = status.NewLocation(3222, "TpmEccInvalidAuthValueRounds")

	locScryptNoUserInput = status.NewLocation(3301, "ScryptNoUserInput")
	locScryptDerive      = status.NewLocation(3302, "ScryptDerive")
	locScryptWrongState  = status.NewLocation(3303, "ScryptWrongState")
	locScryptRandom      = status.NewLocation(3304, "ScryptRandom")
	locScryptMalformed   = status.NewLocation(3305, "ScryptMalformedState")

	locChallengeNoInput     = status.NewLocation(3401, "ChallengeNoCredentialInput")
	locChallengeNoUsername  = status.NewLocation(3402, "ChallengeNoUsername")
	locChallengeAlgorithm   = status.NewLocation(3403, "ChallengeChooseAlgorithm")
	locChallengeSign        = status.NewLocation(3404, "ChallengeSignature")
	locChallengeVerify      = status.NewLocation(3405, "ChallengeVerifySignature")
	locChallengeWrongState  = status.NewLocation(3406, "ChallengeWrongState")
	locChallengeKeyMismatch = status.NewLocation(3407, "ChallengeKeyMismatch")
	locChallengeScrypt      = status.NewLocation(3408, "ChallengeScrypt")
	locChallengeUnsupported = status.NewLocation(3409, "ChallengeNotSupported")
	locChallengeRandom      = status.NewLocation(3410, "ChallengeRandom")

	locDoubleWrappedCreate     = status.NewLocation(3501, "DoubleWrappedCreateUnsupported")
	locDoubleWrappedWrongState = status.NewLocation(3502, "DoubleWrappedWrongState")
	locDoubleWrappedTpmDerive  = status.NewLocation(3504, "DoubleWrappedTpmDerive")

	locRecoveryNoInput     = status.NewLocation(3601, "RecoveryNoInput")
	locRecoveryNoUsername  = status.NewLocation(3602, "RecoveryNoUsername")
	locRecoveryGenerate    = status.NewLocation(3603, "RecoveryGenerate")
	locRecoveryWrap        = status.NewLocation(3604, "RecoveryWrapSecrets")
	locRecoveryWrongState  = status.NewLocation(3605, "RecoveryWrongState")
	locRecoveryNoResponse  = status.NewLocation(3606, "RecoveryNoResponse")
	locRecoveryUnwrap      = status.NewLocation(3607, "RecoveryUnwrapSecrets")
	locRecoveryRecover     = status.NewLocation(3608, "RecoveryRecoverSecret")
	locRecoveryDerive      = status.NewLocation(3609, "RecoveryDeriveKeys")
	locRecoveryUnsupported = status.NewLocation(3610, "RecoveryNotSupported")

	locGenericTypeNotFound   = status.NewLocation(4001, "GenericTypeNotFound")
	locGenericUnsupported    = status.NewLocation(4002, "GenericTypeNotSupported")
	locGenericStateMismatch  = status.NewLocation(4003, "GenericStateTypeMismatch")
	locGenericStateUnknown   = status.NewLocation(4004, "GenericStateNotRegistered")
	locUtilityCreate         = status.NewLocation(4101, "UtilityCreateKeyBlobs")
	locUtilityDerive         = status.NewLocation(4102, "UtilityDeriveKeyBlobs")
	locUtilityRemove         = status.NewLocation(4103, "UtilityPrepareForRemoval")
	locUtilityNoCreationType = status.NewLocation(4104, "UtilityNoSupportedCreationType")
	locUtilityPartialResult  = status.NewLocation(4105, "UtilityCreateMissingResult")
)

// callerError is a malformed request.
func callerError(loc status.Location, msg string) *status.Error {
	return status.New(loc).
		WithKind(status.KindCaller).
		WithCode(status.CryptoErrorOther).
		WithActions(status.ActionDevCheckUnexpectedState).
		Wrap(errors.New(msg))
}

// cryptoError is a local derivation failure.
func cryptoError(loc status.Location, err error) *status.Error {
	return status.New(loc).
		WithKind(status.KindCrypto).
		WithCode(status.CryptoErrorOther).
		Wrap(err)
}

// hwsecError translates a sealing frontend error.
func hwsecError(loc status.Location, err error) *status.Error {
	e := status.New(loc).WithKind(status.KindHardware)
	code, _ := hwsec.CodeOf(err)
	switch code {
	case hwsec.CodeAuthFailed:
		e.WithCode(status.CryptoErrorTPMCrypto).WithActions(status.ActionAuth)
	case hwsec.CodePolicyMismatch:
		e.WithCode(status.CryptoErrorTPMCrypto).WithActions(status.ActionReboot)
	case hwsec.CodeDefendLock:
		e.WithCode(status.CryptoErrorTPMDefendLock).WithActions(status.ActionRetry)
	case hwsec.CodeNotReady, hwsec.CodeComm:
		e.WithCode(status.CryptoErrorTPMComm).WithActions(status.ActionRetry)
	case hwsec.CodeReboot:
		e.WithCode(status.CryptoErrorTPMReboot).WithActions(status.ActionReboot)
	case hwsec.CodeNotSupported, hwsec.CodeInvalidArgument:
		e.WithCode(status.CryptoErrorTPMCrypto).WithActions(status.ActionDevCheckUnexpectedState)
	default:
		e.WithCode(status.CryptoErrorTPMCrypto)
	}
	switch hwsec.RetryOf(err) {
	case hwsec.RetryReboot:
		e.WithCode(status.CryptoErrorTPMReboot).WithActions(status.ActionReboot)
	case hwsec.RetryCommunication, hwsec.RetryLater:
		e.WithActions(status.ActionRetry)
	}
	return e.Wrap(err)
}

// leError wraps a credential manager error with the matching crypto code.
// The manager's kind and actions stay in the chain.
func leError(loc status.Location, err error) *status.Error {
	code := status.CryptoErrorOther
	if le, ok := status.CodeOf[status.LECredError](err); ok {
		switch le {
		case status.LECredErrorInvalidSecret:
			code = status.CryptoErrorLEInvalidSecret
		case status.LECredErrorTooManyAttempts:
			code = status.CryptoErrorLELockedOut
			if !status.ContainsAction(err, status.ActionLeLockedOut) {
				code = status.CryptoErrorLEDelayed
			}
		case status.LECredErrorExpired:
			code = status.CryptoErrorLEExpired
		}
	}
	return status.New(loc).WithCode(code).Wrap(err)
}

// isLEInvalidLabel reports whether err says the leaf no longer exists.
func isLEInvalidLabel(err error) bool {
	code, ok := status.CodeOf[status.LECredError](err)
	return ok && code == status.LECredErrorInvalidLabel
}
