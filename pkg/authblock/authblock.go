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

// Package authblock turns user secrets into key material. Each auth block
// implements one derivation strategy tied to a hardware capability and
// produces KeyBlobs, which are never persisted, and a State, which is.
package authblock

import (
	"context"
	"fmt"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/challenge"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

// Type identifies an auth block implementation.
type Type uint8

const (
	TypePinWeaver Type = iota + 1
	TypeChallengeCredential
	TypeDoubleWrappedCompat
	TypeTpmBoundToPcr
	TypeTpmNotBoundToPcr
	TypeScrypt
	TypeCryptohomeRecovery
	TypeTpmEcc
	TypeFingerprint
)

var typeNames = map[Type]string{
	TypePinWeaver:           "pinweaver",
	TypeChallengeCredential: "challenge-credential",
	TypeDoubleWrappedCompat: "double-wrapped-compat",
	TypeTpmBoundToPcr:       "tpm-bound-to-pcr",
	TypeTpmNotBoundToPcr:    "tpm-not-bound-to-pcr",
	TypeScrypt:              "scrypt",
	TypeCryptohomeRecovery:  "cryptohome-recovery",
	TypeTpmEcc:              "tpm-ecc",
	TypeFingerprint:         "fingerprint",
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
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("authblock: unknown type %q", s)
}

// ChallengeCredentialInput selects the key used by the challenge
// credential block.
type ChallengeCredentialInput struct {
	Account string
	KeyInfo challenge.KeyInfo
}

// RecoveryInput carries the mediator material of the recovery block.
// MediatorPubKey is needed by Create and Response by Derive.
type RecoveryInput struct {
	MediatorPubKey []byte
	Response       []byte
}

// AuthInput is the caller supplied input of Create and Derive. It is never
// persisted.
type AuthInput struct {
	UserInput           mo.Option[[]byte]
	ObfuscatedUsername  mo.Option[string]
	ResetSecret         mo.Option[[]byte]
	ResetSeed           mo.Option[[]byte]
	ResetSalt           mo.Option[[]byte]
	RateLimiterLabel    mo.Option[uint64]
	LockedToSingleUser  mo.Option[bool]
	ChallengeCredential mo.Option[ChallengeCredentialInput]
	Recovery            mo.Option[RecoveryInput]
}

// username returns the obfuscated username, treating empty as absent.
func (in AuthInput) username() (string, bool) {
	u, ok := in.ObfuscatedUsername.Get()
	return u, ok && u != ""
}

func (in AuthInput) userInput() ([]byte, bool) {
	b, ok := in.UserInput.Get()
	return b, ok && len(b) > 0
}

// KeyBlobs is the key material produced by Create and Derive.
type KeyBlobs struct {
	VkkKey           []byte
	VkkIV            []byte
	ChapsIV          []byte
	ResetSecret      mo.Option[[]byte]
	RateLimiterLabel mo.Option[uint64]
}

// Clear zeroes the key material.
func (k *KeyBlobs) Clear() {
	if k == nil {
		return
	}
	secure.Zero(k.VkkKey)
	secure.Zero(k.VkkIV)
	secure.Zero(k.ChapsIV)
	if rs, ok := k.ResetSecret.Get(); ok {
		secure.Zero(rs)
	}
}

// AuthBlock is one derivation strategy. Create and Derive may block on
// hardware and biometrics calls.
type AuthBlock interface {
	// Create enrolls a new credential. On error both results are nil.
	Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error)

	// Derive rebuilds the KeyBlobs of a created credential. Each call is
	// one attempt against any hardware rate limit.
	Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error)

	// PrepareForRemoval releases hardware resources held by state. A
	// resource that is already gone is not an error.
	PrepareForRemoval(ctx context.Context, state *State) error
}
