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
	"context"

	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// DoubleWrappedCompatAuthBlock reads keysets that were wrapped both by
// scrypt and by the TPM. New credentials are never created with it.
type DoubleWrappedCompatAuthBlock struct {
	scrypt *ScryptAuthBlock
	tpm    *TpmNotBoundToPcrAuthBlock
	logger *logging.Logger
}

// NewDoubleWrappedCompatAuthBlock returns a block deriving through the
// scrypt and TPM not bound blocks.
func NewDoubleWrappedCompatAuthBlock(scrypt *ScryptAuthBlock, tpm *TpmNotBoundToPcrAuthBlock, deps *Deps) *DoubleWrappedCompatAuthBlock {
	return &DoubleWrappedCompatAuthBlock{
		scrypt: scrypt,
		tpm:    tpm,
		logger: deps.logger().With("auth_block", TypeDoubleWrappedCompat.String()),
	}
}

// IsDoubleWrappedCompatSupported requires the TPM path to be usable.
func IsDoubleWrappedCompatSupported(ctx context.Context, d *Deps) error {
	return IsTpmNotBoundToPcrSupported(ctx, d)
}

// Create always fails.
func (b *DoubleWrappedCompatAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	return nil, nil, callerError(locDoubleWrappedCreate, "double wrapped keysets cannot be created")
}

// Derive tries the scrypt wrapping first and falls back to the TPM.
func (b *DoubleWrappedCompatAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	dw, ok := variantAs[*DoubleWrappedCompatState](state)
	if !ok {
		return nil, callerError(locDoubleWrappedWrongState, "not a double wrapped state")
	}
	blobs, err := b.scrypt.Derive(ctx, in, &State{Type: TypeScrypt, Variant: &dw.Scrypt})
	if err == nil {
		return blobs, nil
	}
	b.logger.Debug("scrypt derivation failed, trying tpm", "error", err)

	blobs, tpmErr := b.tpm.derive(ctx, in, &dw.Tpm)
	if tpmErr != nil {
		return nil, status.Wrap(locDoubleWrappedTpmDerive, tpmErr)
	}
	return blobs, nil
}

func (b *DoubleWrappedCompatAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	if _, ok := variantAs[*DoubleWrappedCompatState](state); !ok {
		return callerError(locDoubleWrappedWrongState, "not a double wrapped state")
	}
	return nil
}
