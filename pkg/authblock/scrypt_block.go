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

	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

const scryptVerifierLabel = "authblock-scrypt-verifier"

// ScryptAuthBlock derives the keys from the password alone. It is the
// fallback when no TPM path is available.
type ScryptAuthBlock struct {
	params ScryptParams
	deps   *Deps
}

// NewScryptAuthBlock returns a block using the work factors of deps.
func NewScryptAuthBlock(deps *Deps) *ScryptAuthBlock {
	return &ScryptAuthBlock{params: deps.scrypt(), deps: deps}
}

// IsScryptSupported always succeeds.
func IsScryptSupported(ctx context.Context, d *Deps) error {
	return nil
}

// newScryptState derives KeyBlobs from passkey under fresh salts.
func newScryptState(deps *Deps, params ScryptParams, passkey []byte) (*KeyBlobs, *ScryptState, error) {
	random, err := randomBytes(deps.random(), 2*saltSize)
	if err != nil {
		return nil, nil, cryptoError(locScryptRandom, err)
	}
	salts := split(random, []int{saltSize, saltSize})
	st := &ScryptState{Salt: salts[0], ChapsSalt: salts[1], N: params.N, R: params.R, P: params.P}
	blobs, err := deriveScrypt(st, passkey)
	if err != nil {
		return nil, nil, err
	}
	st.Verifier = hmacSHA256(blobs.VkkKey, []byte(scryptVerifierLabel))
	return blobs, st, nil
}

// deriveScrypt rebuilds the KeyBlobs of st.
func deriveScrypt(st *ScryptState, passkey []byte) (*KeyBlobs, error) {
	params := ScryptParams{N: st.N, R: st.R, P: st.P}
	if len(st.Salt) == 0 || len(st.ChapsSalt) == 0 {
		return nil, cryptoError(locScryptMalformed, fmt.Errorf("scrypt state is missing a salt"))
	}
	if err := params.Validate(); err != nil {
		return nil, cryptoError(locScryptMalformed, err)
	}
	vkk, err := deriveSecretsScrypt(params, passkey, st.Salt, aesKeySize, aesBlockSize)
	if err != nil {
		return nil, cryptoError(locScryptDerive, err)
	}
	chaps, err := deriveSecretsScrypt(params, passkey, st.ChapsSalt, aesBlockSize)
	if err != nil {
		zeroAll(vkk)
		return nil, cryptoError(locScryptDerive, err)
	}
	blobs := &KeyBlobs{VkkKey: vkk[0], VkkIV: vkk[1], ChapsIV: chaps[0]}
	if len(st.Verifier) > 0 && !secure.Equal(st.Verifier, hmacSHA256(blobs.VkkKey, []byte(scryptVerifierLabel))) {
		blobs.Clear()
		return nil, status.New(locScryptDerive).
			WithKind(status.KindCrypto).
			WithCode(status.CryptoErrorOther).
			WithActions(status.ActionAuth).
			Wrap(fmt.Errorf("scrypt verifier mismatch"))
	}
	return blobs, nil
}

func (b *ScryptAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	userInput, ok := in.userInput()
	if !ok {
		return nil, nil, callerError(locScryptNoUserInput, "missing user input")
	}
	blobs, st, err := newScryptState(b.deps, b.params, userInput)
	if err != nil {
		return nil, nil, err
	}
	return blobs, &State{Type: TypeScrypt, Variant: st}, nil
}

func (b *ScryptAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	st, ok := variantAs[*ScryptState](state)
	if !ok {
		return nil, callerError(locScryptWrongState, "not a scrypt state")
	}
	userInput, ok := in.userInput()
	if !ok {
		return nil, callerError(locScryptNoUserInput, "missing user input")
	}
	return deriveScrypt(st, userInput)
}

func (b *ScryptAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	if _, ok := variantAs[*ScryptState](state); !ok {
		return callerError(locScryptWrongState, "not a scrypt state")
	}
	return nil
}

