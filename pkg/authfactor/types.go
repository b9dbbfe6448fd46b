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

// Package authfactor describes the authentication factors a user can
// configure and the per-type drivers that decide which factors are
// available, whether they need reset secrets or rate limiters, and how
// long a factor is locked out.
package authfactor

import (
	"fmt"
	"math"
	"time"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
)

// Type is the kind of an authentication factor.
type Type uint8

const (
	TypeUnspecified Type = iota
	TypePassword
	TypePin
	TypeKiosk
	TypeSmartCard
	TypeCryptohomeRecovery
	TypeLegacyFingerprint
	TypeFingerprint
)

var typeNames = map[Type]string{
	TypeUnspecified:        "unspecified",
	TypePassword:           "password",
	TypePin:                "pin",
	TypeKiosk:              "kiosk",
	TypeSmartCard:          "smart-card",
	TypeCryptohomeRecovery: "cryptohome-recovery",
	TypeLegacyFingerprint:  "legacy-fingerprint",
	TypeFingerprint:        "fingerprint",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ParseType parses the name returned by Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s && t != TypeUnspecified {
			return t, nil
		}
	}
	return TypeUnspecified, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// StorageType is where the factors of a user are persisted.
type StorageType uint8

const (
	StorageVaultKeyset StorageType = iota + 1
	StorageUserSecretStash
)

func (s StorageType) String() string {
	switch s {
	case StorageVaultKeyset:
		return "vault-keyset"
	case StorageUserSecretStash:
		return "user-secret-stash"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// LabelArity is the number of labels a factor of a type is addressed by.
type LabelArity uint8

const (
	LabelArityNone LabelArity = iota
	LabelAritySingle
	LabelArityMultiple
)

// LockoutPolicy is how repeated failures of a factor are throttled.
type LockoutPolicy uint8

const (
	LockoutPolicyUnknown LockoutPolicy = iota
	LockoutPolicyNone
	LockoutPolicyAttemptLimited
	LockoutPolicyTimeLimited
)

func (p LockoutPolicy) String() string {
	switch p {
	case LockoutPolicyNone:
		return "none"
	case LockoutPolicyAttemptLimited:
		return "attempt-limited"
	case LockoutPolicyTimeLimited:
		return "time-limited"
	default:
		return "unknown"
	}
}

// InfiniteDelay is returned for factors that stay locked until reset.
const InfiniteDelay = time.Duration(math.MaxInt64)

// CommonMetadata is shared by every factor type.
type CommonMetadata struct {
	ChromeOSVersionLastUpdated string
	ChromeVersionLastUpdated   string
	LockoutPolicy              LockoutPolicy
}

// TypedMetadata is the type specific part of the factor metadata.
type TypedMetadata interface {
	FactorType() Type
}

type PasswordMetadata struct{}

type PinMetadata struct{}

type KioskMetadata struct{}

type SmartCardMetadata struct {
	PublicKeySPKI []byte
}

type CryptohomeRecoveryMetadata struct {
	MediatorPubKey []byte
}

type LegacyFingerprintMetadata struct{}

type FingerprintMetadata struct {
	WasMigrated bool
}

func (PasswordMetadata) FactorType() Type           { return TypePassword }
func (PinMetadata) FactorType() Type                { return TypePin }
func (KioskMetadata) FactorType() Type              { return TypeKiosk }
func (SmartCardMetadata) FactorType() Type          { return TypeSmartCard }
func (CryptohomeRecoveryMetadata) FactorType() Type { return TypeCryptohomeRecovery }
func (LegacyFingerprintMetadata) FactorType() Type  { return TypeLegacyFingerprint }
func (FingerprintMetadata) FactorType() Type        { return TypeFingerprint }

// Metadata describes a configured factor.
type Metadata struct {
	Common CommonMetadata
	Typed  TypedMetadata
}

// Factor is a configured factor of a user. Username is the obfuscated
// username of the owner; State is the persisted auth block state.
type Factor struct {
	Type     Type
	Label    string
	Username string
	Metadata Metadata
	State    *authblock.State
}
