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
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// Driver holds the type specific rules of one factor type. Drivers are
// created once by the DriverManager and are safe for concurrent use.
type Driver interface {
	Type() Type

	// IsSupported reports whether a new factor of this type can be added
	// to a user whose factors live in storage and who already has the
	// configured factor types.
	IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool

	// BlockType selects the auth block that creates factors of this type.
	BlockType(ctx context.Context) (authblock.Type, error)

	NeedsResetSecret() bool
	NeedsRateLimiter() bool
	LabelArity() LabelArity

	IsDelaySupported() bool
	// GetFactorDelay returns how long the factor is locked out. Zero means
	// it can be used now and InfiniteDelay that it needs a reset.
	GetFactorDelay(ctx context.Context, f *Factor) (time.Duration, error)

	IsExpirationSupported() bool
	GetTimeUntilExpiration(ctx context.Context, f *Factor) (time.Duration, error)

	// ConvertToWire returns None when the metadata does not belong to
	// this type.
	ConvertToWire(f *Factor) mo.Option[WireFactor]
}

// RateLimiterLookup finds the biometrics rate limiter leaf of a user.
type RateLimiterLookup interface {
	RateLimiterLabel(ctx context.Context, username string) (mo.Option[uint64], error)
}

// Env is what the drivers need to answer their questions. Nil fields make
// the factors that need them unsupported.
type Env struct {
	Utility      *authblock.Utility
	LE           lecredential.CredentialManager
	RateLimiters RateLimiterLookup
}

func (e *Env) blockSupported(ctx context.Context, t authblock.Type) bool {
	if e.Utility == nil {
		return false
	}
	return e.Utility.Generic().IsSupported(ctx, t) == nil
}

// fixedBlockType returns t when the dispatcher can build it.
func (e *Env) fixedBlockType(ctx context.Context, t authblock.Type) (authblock.Type, error) {
	if e.Utility == nil {
		return 0, invalidArgument(locBlockTypeNoDispatcher, "no auth block dispatcher")
	}
	if err := e.Utility.Generic().IsSupported(ctx, t); err != nil {
		return 0, status.New(locBlockTypeUnsupported).WithKind(status.KindHardware).Wrap(err)
	}
	return t, nil
}

func (e *Env) creationBlockType(ctx context.Context, isLE, isRecovery, isChallenge bool) (authblock.Type, error) {
	if e.Utility == nil {
		return 0, invalidArgument(locBlockTypeNoDispatcher, "no auth block dispatcher")
	}
	t, err := e.Utility.GetAuthBlockTypeForCreation(ctx, isLE, isRecovery, isChallenge)
	if err != nil {
		return 0, status.Wrap(locBlockTypeSelect, err)
	}
	return t, nil
}

func hasKiosk(configured []Type) bool {
	return lo.Contains(configured, TypeKiosk)
}

// ussOnly reports whether every factor of the user lives in the user
// secret stash.
func ussOnly(storage []StorageType) bool {
	s := lo.Uniq(storage)
	return len(s) == 1 && s[0] == StorageUserSecretStash
}

// stateAs returns the auth block state variant of f as T.
func stateAs[T authblock.StateVariant](f *Factor) (T, bool) {
	var zero T
	if f.State == nil || f.State.Variant == nil {
		return zero, false
	}
	v, ok := f.State.Variant.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// delaySeconds maps a hardware delay to a duration.
func delaySeconds(secs uint32) time.Duration {
	if secs == lecredential.InfiniteDelay {
		return InfiniteDelay
	}
	return time.Duration(secs) * time.Second
}

// noDelay is embedded by drivers whose factors are never throttled.
type noDelay struct{}

func (noDelay) IsDelaySupported() bool { return false }

func (noDelay) GetFactorDelay(ctx context.Context, f *Factor) (time.Duration, error) {
	return 0, invalidArgument(locDelayUnsupported, fmt.Sprintf("%s factors have no delay", f.Type))
}

// noExpiration is embedded by drivers whose factors never expire.
type noExpiration struct{}

func (noExpiration) IsExpirationSupported() bool { return false }

func (noExpiration) GetTimeUntilExpiration(ctx context.Context, f *Factor) (time.Duration, error) {
	return 0, invalidArgument(locExpiryUnsupported, fmt.Sprintf("%s factors do not expire", f.Type))
}

// typedDriver implements the identity and wire conversion shared by every
// real driver.
type typedDriver struct {
	typ   Type
	arity LabelArity
}

func (d typedDriver) Type() Type             { return d.typ }
func (d typedDriver) LabelArity() LabelArity { return d.arity }

func (d typedDriver) ConvertToWire(f *Factor) mo.Option[WireFactor] {
	if f == nil || f.Metadata.Typed == nil || f.Metadata.Typed.FactorType() != d.typ {
		return mo.None[WireFactor]()
	}
	return mo.Some(toWire(f))
}
