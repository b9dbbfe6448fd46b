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

// PinDriver drives low entropy factors protected by a PinWeaver leaf.
type PinDriver struct {
	typedDriver
	noExpiration
	env *Env
}

func newPinDriver(env *Env) *PinDriver {
	return &PinDriver{typedDriver: typedDriver{TypePin, LabelAritySingle}, env: env}
}

// IsSupported rejects PINs on kiosk users.
func (d *PinDriver) IsSupported(ctx context.Context, storage []StorageType, configured []Type) bool {
	if hasKiosk(configured) {
		return false
	}
	return d.env.blockSupported(ctx, authblock.TypePinWeaver)
}

func (d *PinDriver) BlockType(ctx context.Context) (authblock.Type, error) {
	return d.env.creationBlockType(ctx, true, false, false)
}

func (d *PinDriver) NeedsResetSecret() bool { return true }
func (d *PinDriver) NeedsRateLimiter() bool { return false }
func (d *PinDriver) IsDelaySupported() bool { return true }

func (d *PinDriver) GetFactorDelay(ctx context.Context, f *Factor) (time.Duration, error) {
	if f == nil || f.Type != TypePin {
		return 0, invalidArgument(locPinDelayWrongType, "not a pin factor")
	}
	st, ok := stateAs[*authblock.PinWeaverState](f)
	if !ok {
		return 0, invalidArgument(locPinDelayWrongState, "pin factor without pinweaver state")
	}
	if st.LELabel == 0 {
		return 0, invalidArgument(locPinDelayMissingLabel, "pinweaver state without label")
	}
	if d.env.LE == nil {
		return 0, invalidArgument(locPinDelayReadFailed, "no credential manager")
	}
	secs, err := d.env.LE.GetDelayInSeconds(ctx, st.LELabel)
	if err != nil {
		return 0, status.Wrap(locPinDelayReadFailed, err)
	}
	return delaySeconds(secs), nil
}
