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

package status

import "fmt"

// Kind classifies which layer an error originated from.
type Kind int

const (
	KindUnspecified Kind = iota
	// KindCaller is a malformed request. Always a caller bug.
	KindCaller
	// KindHardwareCredential is an error from the low-entropy credential store.
	KindHardwareCredential
	// KindHardware is an error from the sealing/TPM frontend.
	KindHardware
	// KindBiometrics is an error reported by the biometrics daemon.
	KindBiometrics
	// KindBackingStore is a local persistence failure after hardware
	// state was already changed.
	KindBackingStore
	// KindCrypto is a local cryptographic failure.
	KindCrypto
)

func (k Kind) String() string {
	switch k {
	case KindCaller:
		return "caller"
	case KindHardwareCredential:
		return "hardware-credential"
	case KindHardware:
		return "hardware"
	case KindBiometrics:
		return "biometrics"
	case KindBackingStore:
		return "backing-store"
	case KindCrypto:
		return "crypto"
	default:
		return "unspecified"
	}
}

// Code is a family-specific machine readable error code.
type Code interface {
	fmt.Stringer
	isCode()
}

// LECredError is the code family of the low-entropy credential store.
type LECredError int

const (
	LECredErrorUnclassified LECredError = iota + 1
	LECredErrorInvalidSecret
	LECredErrorTooManyAttempts
	LECredErrorHashTree
	LECredErrorInvalidLabel
	LECredErrorNoFreeLabel
	LECredErrorInvalidMetadata
	LECredErrorInvalidResetSecret
	LECredErrorCommError
	LECredErrorReboot
	LECredErrorPartialInsert
	LECredErrorRateLimited
	LECredErrorExpired
)

var leCredNames = map[LECredError]string{
	LECredErrorUnclassified:       "LE_CRED_ERROR_UNCLASSIFIED",
	LECredErrorInvalidSecret:      "LE_CRED_ERROR_INVALID_LE_SECRET",
	LECredErrorTooManyAttempts:    "LE_CRED_ERROR_TOO_MANY_ATTEMPTS",
	LECredErrorHashTree:           "LE_CRED_ERROR_HASH_TREE",
	LECredErrorInvalidLabel:       "LE_CRED_ERROR_INVALID_LABEL",
	LECredErrorNoFreeLabel:        "LE_CRED_ERROR_NO_FREE_LABEL",
	LECredErrorInvalidMetadata:    "LE_CRED_ERROR_INVALID_METADATA",
	LECredErrorInvalidResetSecret: "LE_CRED_ERROR_INVALID_RESET_SECRET",
	LECredErrorCommError:          "LE_CRED_ERROR_COMM",
	LECredErrorReboot:             "LE_CRED_ERROR_REBOOT",
	LECredErrorPartialInsert:      "LE_CRED_ERROR_PARTIAL_INSERT",
	LECredErrorRateLimited:        "LE_CRED_ERROR_RATE_LIMITED",
	LECredErrorExpired:            "LE_CRED_ERROR_EXPIRED",
}

func (e LECredError) String() string {
	if name, ok := leCredNames[e]; ok {
		return name
	}
	return fmt.Sprintf("LE_CRED_ERROR(%d)", int(e))
}

func (LECredError) isCode() {}

// CryptoError is the code family of key derivation and sealing.
type CryptoError int

const (
	CryptoErrorOther CryptoError = iota + 1
	CryptoErrorTPMCrypto
	CryptoErrorTPMComm
	CryptoErrorTPMReboot
	CryptoErrorTPMFatal
	CryptoErrorTPMDefendLock
	CryptoErrorNoPublicKeyHash
	CryptoErrorLEInvalidSecret
	CryptoErrorLELockedOut
	CryptoErrorLEExpired
	CryptoErrorRecoveryFatal
	CryptoErrorLEDelayed
)

var cryptoNames = map[CryptoError]string{
	CryptoErrorOther:           "CE_OTHER_CRYPTO",
	CryptoErrorTPMCrypto:       "CE_TPM_CRYPTO",
	CryptoErrorTPMComm:         "CE_TPM_COMM_ERROR",
	CryptoErrorTPMReboot:       "CE_TPM_REBOOT",
	CryptoErrorTPMFatal:        "CE_TPM_FATAL",
	CryptoErrorTPMDefendLock:   "CE_TPM_DEFEND_LOCK",
	CryptoErrorNoPublicKeyHash: "CE_NO_PUBLIC_KEY_HASH",
	CryptoErrorLEInvalidSecret: "CE_LE_INVALID_SECRET",
	CryptoErrorLELockedOut:     "CE_CREDENTIAL_LOCKED",
	CryptoErrorLEExpired:       "CE_LE_EXPIRED",
	CryptoErrorRecoveryFatal:   "CE_RECOVERY_FATAL",
	CryptoErrorLEDelayed:       "CE_LE_DELAYED",
}

func (e CryptoError) String() string {
	if name, ok := cryptoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("CE(%d)", int(e))
}

func (CryptoError) isCode() {}

// BiometricsError is the code family of the biometrics daemon.
type BiometricsError int

const (
	BiometricsErrorUnknown BiometricsError = iota + 1
	BiometricsErrorNoSession
	BiometricsErrorSessionBusy
	BiometricsErrorNoNonce
	BiometricsErrorCreateCredentialFailed
	BiometricsErrorMatchFailed
	BiometricsErrorTimeout
	BiometricsErrorProcessorUnavailable
)

var biometricsNames = map[BiometricsError]string{
	BiometricsErrorUnknown:                "BIOMETRICS_UNKNOWN",
	BiometricsErrorNoSession:              "BIOMETRICS_NO_SESSION",
	BiometricsErrorSessionBusy:            "BIOMETRICS_SESSION_BUSY",
	BiometricsErrorNoNonce:                "BIOMETRICS_NO_NONCE",
	BiometricsErrorCreateCredentialFailed: "BIOMETRICS_CREATE_CREDENTIAL_FAILED",
	BiometricsErrorMatchFailed:            "BIOMETRICS_MATCH_FAILED",
	BiometricsErrorTimeout:                "BIOMETRICS_TIMEOUT",
	BiometricsErrorProcessorUnavailable:   "BIOMETRICS_PROCESSOR_UNAVAILABLE",
}

func (e BiometricsError) String() string {
	if name, ok := biometricsNames[e]; ok {
		return name
	}
	return fmt.Sprintf("BIOMETRICS(%d)", int(e))
}

func (BiometricsError) isCode() {}
