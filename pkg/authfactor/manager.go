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
	"slices"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
)

// nullDriver answers for types without a driver. It supports nothing.
type nullDriver struct {
	noDelay
	noExpiration
}

func (nullDriver) Type() Type             { return TypeUnspecified }
func (nullDriver) LabelArity() LabelArity { return LabelArityNone }
func (nullDriver) NeedsResetSecret() bool { return false }
func (nullDriver) NeedsRateLimiter() bool { return false }

func (nullDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	return false
}

func (nullDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return 0, invalidArgument(locNoBlockType, "factor type has no driver")
}

func (nullDriver) ConvertToWire(f *Factor) mo.Option[WireFactor] {
	return mo.None[WireFactor]()
}

// DriverManager owns one driver per factor type.
type DriverManager struct {
	null    Driver
	drivers map[Type]Driver
}

// NewDriverManager builds the drivers over env. The manager is read-only
// after construction.
func NewDriverManager(env Env) *DriverManager {
	e := &env
	drivers := []Driver{
		newPasswordDriver(e),
		newPinDriver(e),
		newKioskDriver(e),
		newSmartCardDriver(e),
		newCryptohomeRecoveryDriver(e),
		newLegacyFingerprintDriver(),
		newFingerprintDriver(e),
	}
	return &DriverManager{
		null: nullDriver{},
		drivers: lo.SliceToMap(drivers, func(d Driver) (Type, Driver) {
			return d.Type(), d
		}),
	}
}

// GetDriver never fails; unknown types get a driver that supports nothing.
func (m *DriverManager) GetDriver(t Type) Driver {
	if d, ok := m.drivers[t]; ok {
		return d
	}
	return m.null
}

// SupportedTypes lists, in type order, the factor types that can be added
// to a user with the given storage and configured factors.
func (m *DriverManager) SupportedTypes(ctx context.Context, storage []StorageType, configured []Type) []Type {
	types := lo.Keys(m.drivers)
	slices.Sort(types)
	return lo.Filter(types, func(t Type, _ int) bool {
		return m.drivers[t].IsSupported(ctx, storage, configured)
	})
}
