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
	"context"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
)

// PasswordDriver drives knowledge factors derived by the TPM or scrypt
// blocks.
type PasswordDriver struct {
	typedDriver
	noDelay
	noExpiration
	env *Env
}

func newPasswordDriver(env *Env) *PasswordDriver {
	return &PasswordDriver{typedDriver: typedDriver{TypePassword, LabelAritySingle}, env: env}
}

func (d *PasswordDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	if hasKiosk(configured) {
		return false
	}
	_, err := d.BlockType(ctx)
	return err == nil
}

func (d *PasswordDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return d.env.creationBlockType(ctx, false, false, false)
}

func (d *PasswordDriver) NeedsResetSecret() bool { return false }
func (d *PasswordDriver) NeedsRateLimiter() bool { return false }

// KioskDriver drives the single passwordless factor of a kiosk account.
type KioskDriver struct {
	typedDriver
	noDelay
	noExpiration
	env *Env
}

func newKioskDriver(env *Env) *KioskDriver {
	return &KioskDriver{typedDriver: typedDriver{TypeKiosk, LabelAritySingle}, env: env}
}

// IsSupported allows a kiosk factor only on a user with no other factors.
func (d *KioskDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	for _, t := range configured {
		if t != TypeKiosk {
			return false
		}
	}
	_, err := d.BlockType(ctx)
	return err == nil
}

func (d *KioskDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return d.env.creationBlockType(ctx, false, false, false)
}

func (d *KioskDriver) NeedsResetSecret() bool { return false }
func (d *KioskDriver) NeedsRateLimiter() bool { return false }

// SmartCardDriver drives factors backed by a challenge-response key.
type SmartCardDriver struct {
	typedDriver
	noDelay
	noExpiration
	env *Env
}

func newSmartCardDriver(env *Env) *SmartCardDriver {
	return &SmartCardDriver{typedDriver: typedDriver{TypeSmartCard, LabelAritySingle}, env: env}
}

// IsSupported holds on any storage when a key challenge service is
// available.
func (d *SmartCardDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	return d.env.blockSupported(ctx, authblock.TypeChallengeCredential)
}

func (d *SmartCardDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return d.env.creationBlockType(ctx, false, false, true)
}

func (d *SmartCardDriver) NeedsResetSecret() bool { return false }
func (d *SmartCardDriver) NeedsRateLimiter() bool { return false }

// CryptohomeRecoveryDriver drives mediator assisted recovery factors.
type CryptohomeRecoveryDriver struct {
	typedDriver
	noDelay
	noExpiration
	env *Env
}

func newCryptohomeRecoveryDriver(env *Env) *CryptohomeRecoveryDriver {
	return &CryptohomeRecoveryDriver{typedDriver: typedDriver{TypeCryptohomeRecovery, LabelAritySingle}, env: env}
}

func (d *CryptohomeRecoveryDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	if hasKiosk(configured) || !ussOnly(storage) {
		return false
	}
	return d.env.blockSupported(ctx, authblock.TypeCryptohomeRecovery)
}

func (d *CryptohomeRecoveryDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return d.env.creationBlockType(ctx, false, true, false)
}

func (d *CryptohomeRecoveryDriver) NeedsResetSecret() bool { return false }
func (d *CryptohomeRecoveryDriver) NeedsRateLimiter() bool { return false }

// LegacyFingerprintDriver describes fingerprints matched by the
// biometrics daemon alone. They only unlock a running session and can
// never be added as a factor.
type LegacyFingerprintDriver struct {
	typedDriver
	noDelay
	noExpiration
}

func newLegacyFingerprintDriver() *LegacyFingerprintDriver {
	return &LegacyFingerprintDriver{typedDriver: typedDriver{TypeLegacyFingerprint, LabelArityNone}}
}

func (d *LegacyFingerprintDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	return false
}

func (d *LegacyFingerprintDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return 0, invalidArgument(locNoBlockType, "legacy fingerprints have no auth block")
}

func (d *LegacyFingerprintDriver) NeedsResetSecret() bool { return false }
func (d *LegacyFingerprintDriver) NeedsRateLimiter() bool { return false }
