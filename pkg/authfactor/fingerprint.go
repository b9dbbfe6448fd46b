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
	"time"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// FingerprintDriver drives fingerprints whose secret is released by a
// PinWeaver leaf. All fingerprints of a user share one rate limiter leaf,
// so delay and expiration are per user.
type FingerprintDriver struct {
	typedDriver
	env *Env
}

func newFingerprintDriver(env *Env) *FingerprintDriver {
	return &FingerprintDriver{typedDriver: typedDriver{TypeFingerprint, LabelArityMultiple}, env: env}
}

func (d *FingerprintDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	if hasKiosk(configured) || !ussOnly(storage) {
		return false
	}
	return d.env.blockSupported(ctx, authblock.TypeFingerprint)
}

func (d *FingerprintDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return d.env.fixedBlockType(ctx, authblock.TypeFingerprint)
}

func (d *FingerprintDriver) NeedsResetSecret() bool      { return false }
func (d *FingerprintDriver) NeedsRateLimiter() bool      { return true }
func (d *FingerprintDriver) IsDelaySupported() bool      { return true }
func (d *FingerprintDriver) IsExpirationSupported() bool { return true }

type fingerprintLocs struct {
	wrongType, noUsername, lookup, missing status.Location
}

var (
	fpDelayLocs  = fingerprintLocs{locFpDelayWrongType, locFpDelayNoUsername, locFpDelayLookupFailed, locFpDelayMissingLabel}
	fpExpiryLocs = fingerprintLocs{locFpExpiryWrongType, locFpExpiryNoUsername, locFpExpiryLookupFailed, locFpExpiryMissingLabel}
)

// rateLimiterLabel resolves the rate limiter leaf of the factor's owner.
func (d *FingerprintDriver) rateLimiterLabel(ctx context.Context, f *Factor, locs fingerprintLocs) (uint64, error) {
	if f == nil || f.Type != TypeFingerprint {
		return 0, invalidArgument(locs.wrongType, "not a fingerprint factor")
	}
	if f.Username == "" {
		return 0, invalidArgument(locs.noUsername, "fingerprint factor without owner")
	}
	if d.env.RateLimiters == nil {
		return 0, invalidArgument(locs.lookup, "no rate limiter lookup")
	}
	label, err := d.env.RateLimiters.RateLimiterLabel(ctx, f.Username)
	if err != nil {
		return 0, status.Wrap(locs.lookup, err)
	}
	l, ok := label.Get()
	if !ok {
		return 0, invalidArgument(locs.missing, "user has no rate limiter")
	}
	return l, nil
}

func (d *FingerprintDriver) GetFactorDelay(ctx context.Context, f *Factor) (time.Duration, error) {
	if f == nil || f.Type != TypeFingerprint {
		return 0, invalidArgument(locFpDelayWrongType, "not a fingerprint factor")
	}
	if _, ok := stateAs[*authblock.FingerprintState](f); !ok {
		return 0, invalidArgument(locFpDelayWrongState, "fingerprint factor without fingerprint state")
	}
	label, err := d.rateLimiterLabel(ctx, f, fpDelayLocs)
	if err != nil {
		return 0, err
	}
	if d.env.LE == nil {
		return 0, invalidArgument(locFpDelayReadFailed, "no credential manager")
	}
	secs, err := d.env.LE.GetDelayInSeconds(ctx, label)
	if err != nil {
		return 0, status.Wrap(locFpDelayReadFailed, err)
	}
	return delaySeconds(secs), nil
}

// GetTimeUntilExpiration returns InfiniteDelay for a leaf that never
// expires.
func (d *FingerprintDriver) GetTimeUntilExpiration(ctx context.Context, f *Factor) (time.Duration, error) {
	label, err := d.rateLimiterLabel(ctx, f, fpExpiryLocs)
	if err != nil {
		return 0, err
	}
	if d.env.LE == nil {
		return 0, invalidArgument(locFpExpiryReadFailed, "no credential manager")
	}
	secs, err := d.env.LE.GetExpirationInSeconds(ctx, label)
	if err != nil {
		return 0, status.Wrap(locFpExpiryReadFailed, err)
	}
	s, ok := secs.Get()
	if !ok {
		return InfiniteDelay, nil
	}
	return time.Duration(s) * time.Second, nil
}
