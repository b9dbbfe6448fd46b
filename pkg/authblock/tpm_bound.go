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
	"fmt"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

// TpmBoundToPcrAuthBlock seals a random vault keyset key to the TPM under
// an auth value derived from the password, bound to the boot state.
type TpmBoundToPcrAuthBlock struct {
	hw     hwsec.CryptohomeFrontend
	params ScryptParams
	deps   *Deps
	logger *logging.Logger
}

// NewTpmBoundToPcrAuthBlock returns a block sealing with hw.
func NewTpmBoundToPcrAuthBlock(hw hwsec.CryptohomeFrontend, deps *Deps) *TpmBoundToPcrAuthBlock {
	return &TpmBoundToPcrAuthBlock{
		hw:     hw,
		params: deps.scrypt(),
		deps:   deps,
		logger: deps.logger().With("auth_block", TypeTpmBoundToPcr.String()),
	}
}

// IsTpmBoundToPcrSupported requires a ready TPM that supports sealing.
func IsTpmBoundToPcrSupported(ctx context.Context, d *Deps) error {
	return tpmCapabilities(ctx, d.Hwsec, true, false)
}

func (b *TpmBoundToPcrAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	userInput, ok := in.userInput()
	if !ok {
		return nil, nil, callerError(locTpmNoUserInput, "missing user input")
	}
	username, ok := in.username()
	if !ok {
		return nil, nil, callerError(locTpmNoUsername, "missing obfuscated username")
	}

	random, err := randomBytes(b.deps.random(), saltSize+aesKeySize)
	if err != nil {
		return nil, nil, cryptoError(locTpmRandom, err)
	}
	rnd := split(random, []int{saltSize, aesKeySize})
	salt, vkkKey := rnd[0], rnd[1]

	secrets, err := deriveSecretsScrypt(b.params, userInput, salt, passBlobSize, aesBlockSize)
	if err != nil {
		return nil, nil, cryptoError(locTpmScrypt, err)
	}
	passBlob, vkkIV := secrets[0], secrets[1]
	defer secure.Zero(passBlob)

	var authValue []byte
	err = withTPMRetry(func() error {
		var err error
		authValue, err = b.hw.GetAuthValue(ctx, passBlob)
		return err
	})
	if err != nil {
		return nil, nil, hwsecError(locTpmAuthValue, err)
	}
	defer secure.Zero(authValue)

	tpmKey, extendedTpmKey, err := sealToPcr(ctx, b.hw, username, authValue, vkkKey)
	if err != nil {
		return nil, nil, err
	}

	blobs := &KeyBlobs{
		VkkKey:  vkkKey,
		VkkIV:   vkkIV,
		ChapsIV: secure.Clone(vkkIV),
	}
	state := &State{Type: TypeTpmBoundToPcr, Variant: &TpmBoundToPcrState{
		ScryptDerived:    true,
		Salt:             salt,
		TpmKey:           tpmKey,
		ExtendedTpmKey:   extendedTpmKey,
		TpmPublicKeyHash: pubkeyHash(ctx, b.hw, b.logger),
	}}
	return blobs, state, nil
}

func (b *TpmBoundToPcrAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	tpm, ok := variantAs[*TpmBoundToPcrState](state)
	if !ok {
		return nil, callerError(locTpmWrongState, "not a tpm-bound-to-pcr state")
	}
	if !tpm.ScryptDerived {
		return nil, cryptoError(locTpmNotScryptDerived, fmt.Errorf("state is not scrypt derived"))
	}
	if len(tpm.Salt) == 0 || len(tpm.TpmKey) == 0 || len(tpm.ExtendedTpmKey) == 0 {
		return nil, cryptoError(locTpmMalformedState, fmt.Errorf("tpm-bound-to-pcr state is incomplete"))
	}
	userInput, ok := in.userInput()
	if !ok {
		return nil, callerError(locTpmNoUserInput, "missing user input")
	}
	if err := checkTPMReadiness(ctx, b.hw, tpm.TpmPublicKeyHash); err != nil {
		return nil, err
	}

	sealed := tpm.TpmKey
	if in.LockedToSingleUser.OrElse(false) {
		sealed = tpm.ExtendedTpmKey
	}
	vkkKey, vkkIV, err := unsealWithPassBlob(ctx, b.hw, b.params, userInput, tpm.Salt, sealed, tpm.TpmPublicKeyHash,
		func(passBlob []byte) ([]byte, error) { return b.hw.GetAuthValue(ctx, passBlob) })
	if err != nil {
		return nil, err
	}
	return &KeyBlobs{VkkKey: vkkKey, VkkIV: vkkIV, ChapsIV: secure.Clone(vkkIV)}, nil
}

// PrepareForRemoval is a no-op; sealed blobs hold no TPM resources.
func (b *TpmBoundToPcrAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	if _, ok := variantAs[*TpmBoundToPcrState](state); !ok {
		return callerError(locTpmWrongState, "not a tpm-bound-to-pcr state")
	}
	return nil
}
