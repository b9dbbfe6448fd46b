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

// defaultAuthValueRounds is how many times the pass blob is run through
// the ECC auth value derivation.
const defaultAuthValueRounds = 5

// TpmEccAuthBlock is the TPM bound block using an ECC storage key and a
// chained auth value derivation.
type TpmEccAuthBlock struct {
	hw     hwsec.CryptohomeFrontend
	params ScryptParams
	deps   *Deps
	logger *logging.Logger
}

// NewTpmEccAuthBlock returns a block sealing with hw.
func NewTpmEccAuthBlock(hw hwsec.CryptohomeFrontend, deps *Deps) *TpmEccAuthBlock {
	return &TpmEccAuthBlock{
		hw:     hw,
		params: deps.scrypt(),
		deps:   deps,
		logger: deps.logger().With("auth_block", TypeTpmEcc.String()),
	}
}

// IsTpmEccSupported requires a ready TPM with sealing and ECC support.
func IsTpmEccSupported(ctx context.Context, d *Deps) error {
	return tpmCapabilities(ctx, d.Hwsec, true, true)
}

func (b *TpmEccAuthBlock) eccAuthValue(ctx context.Context, passBlob []byte, rounds uint32) ([]byte, error) {
	auth := secure.Clone(passBlob)
	for i := uint32(0); i < rounds; i++ {
		var next []byte
		err := withTPMRetry(func() error {
			var err error
			next, err = b.hw.GetECCAuthValue(ctx, auth)
			return err
		})
		secure.Zero(auth)
		if err != nil {
			return nil, err
		}
		auth = next
	}
	return auth, nil
}

func (b *TpmEccAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
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

	authValue, err := b.eccAuthValue(ctx, passBlob, defaultAuthValueRounds)
	if err != nil {
		return nil, nil, hwsecError(locTpmEccAuthValue, err)
	}
	defer secure.Zero(authValue)

	sealed, extended, err := sealToPcr(ctx, b.hw, username, authValue, vkkKey)
	if err != nil {
		return nil, nil, err
	}

	blobs := &KeyBlobs{VkkKey: vkkKey, VkkIV: vkkIV, ChapsIV: secure.Clone(vkkIV)}
	state := &State{Type: TypeTpmEcc, Variant: &TpmEccState{
		Salt:                salt,
		AuthValueRounds:     defaultAuthValueRounds,
		SealedHvkkm:         sealed,
		ExtendedSealedHvkkm: extended,
		TpmPublicKeyHash:    pubkeyHash(ctx, b.hw, b.logger),
	}}
	return blobs, state, nil
}

func (b *TpmEccAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	ecc, ok := variantAs[*TpmEccState](state)
	if !ok {
		return nil, callerError(locTpmWrongState, "not a tpm-ecc state")
	}
	if len(ecc.Salt) == 0 || len(ecc.SealedHvkkm) == 0 || len(ecc.ExtendedSealedHvkkm) == 0 {
		return nil, cryptoError(locTpmMalformedState, fmt.Errorf("tpm-ecc state is incomplete"))
	}
	if ecc.AuthValueRounds == 0 {
		return nil, cryptoError(locTpmEccBadRounds, fmt.Errorf("auth value rounds is zero"))
	}
	userInput, ok := in.userInput()
	if !ok {
		return nil, callerError(locTpmNoUserInput, "missing user input")
	}
	if err := checkTPMReadiness(ctx, b.hw, ecc.TpmPublicKeyHash); err != nil {
		return nil, err
	}

	sealed := ecc.SealedHvkkm
	if in.LockedToSingleUser.OrElse(false) {
		sealed = ecc.ExtendedSealedHvkkm
	}
	vkkKey, vkkIV, err := unsealWithPassBlob(ctx, b.hw, b.params, userInput, ecc.Salt, sealed, ecc.TpmPublicKeyHash,
		func(passBlob []byte) ([]byte, error) { return b.eccAuthValue(ctx, passBlob, ecc.AuthValueRounds) })
	if err != nil {
		return nil, err
	}
	return &KeyBlobs{VkkKey: vkkKey, VkkIV: vkkIV, ChapsIV: secure.Clone(vkkIV)}, nil
}

// PrepareForRemoval is a no-op; sealed blobs hold no TPM resources.
func (b *TpmEccAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	if _, ok := variantAs[*TpmEccState](state); !ok {
		return callerError(locTpmWrongState, "not a tpm-ecc state")
	}
	return nil
}
