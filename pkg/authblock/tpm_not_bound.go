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

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// TpmNotBoundToPcrAuthBlock wraps a random seed with a password derived
// key and then with the TPM storage key, without any PCR binding.
type TpmNotBoundToPcrAuthBlock struct {
	hw     hwsec.CryptohomeFrontend
	params ScryptParams
	deps   *Deps
	logger *logging.Logger
}

// NewTpmNotBoundToPcrAuthBlock returns a block wrapping with hw.
func NewTpmNotBoundToPcrAuthBlock(hw hwsec.CryptohomeFrontend, deps *Deps) *TpmNotBoundToPcrAuthBlock {
	return &TpmNotBoundToPcrAuthBlock{
		hw:     hw,
		params: deps.scrypt(),
		deps:   deps,
		logger: deps.logger().With("auth_block", TypeTpmNotBoundToPcr.String()),
	}
}

// IsTpmNotBoundToPcrSupported requires a ready TPM.
func IsTpmNotBoundToPcrSupported(ctx context.Context, d *Deps) error {
	return tpmCapabilities(ctx, d.Hwsec, false, false)
}

// notBoundSecrets are derived from the password: the key that wraps the
// seed, the key that is mixed with it and the IV.
func notBoundSecrets(params ScryptParams, userInput, salt []byte) (aesKey, kdfKey, iv []byte, err error) {
	parts, err := deriveSecretsScrypt(params, userInput, salt, aesKeySize, aesKeySize, aesBlockSize)
	if err != nil {
		return nil, nil, nil, err
	}
	return parts[0], parts[1], parts[2], nil
}

func (b *TpmNotBoundToPcrAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	userInput, ok := in.userInput()
	if !ok {
		return nil, nil, callerError(locTpmNoUserInput, "missing user input")
	}

	random, err := randomBytes(b.deps.random(), saltSize+aesKeySize+chacha20poly1305.NonceSize)
	if err != nil {
		return nil, nil, cryptoError(locTpmRandom, err)
	}
	rnd := split(random, []int{saltSize, aesKeySize, chacha20poly1305.NonceSize})
	salt, seed, nonce := rnd[0], rnd[1], rnd[2]
	defer secure.Zero(seed)

	aesKey, kdfKey, vkkIV, err := notBoundSecrets(b.params, userInput, salt)
	if err != nil {
		return nil, nil, cryptoError(locTpmScrypt, err)
	}
	defer secure.Zero(aesKey)
	defer secure.Zero(kdfKey)

	aead, err := chacha20poly1305.New(aesKey)
	if err != nil {
		return nil, nil, cryptoError(locTpmScrypt, err)
	}
	inner := aead.Seal(secure.Clone(nonce), nonce, seed, nil)

	var tpmKey []byte
	err = withTPMRetry(func() error {
		var err error
		tpmKey, err = b.hw.Encrypt(ctx, inner)
		return err
	})
	if err != nil {
		return nil, nil, hwsecError(locTpmEncrypt, err)
	}

	blobs := &KeyBlobs{
		VkkKey:  hmacSHA256(kdfKey, seed),
		VkkIV:   vkkIV,
		ChapsIV: secure.Clone(vkkIV),
	}
	state := &State{Type: TypeTpmNotBoundToPcr, Variant: &TpmNotBoundToPcrState{
		ScryptDerived:    true,
		Salt:             salt,
		TpmKey:           tpmKey,
		TpmPublicKeyHash: pubkeyHash(ctx, b.hw, b.logger),
	}}
	return blobs, state, nil
}

func (b *TpmNotBoundToPcrAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	tpm, ok := variantAs[*TpmNotBoundToPcrState](state)
	if !ok {
		return nil, callerError(locTpmWrongState, "not a tpm-not-bound-to-pcr state")
	}
	return b.derive(ctx, in, tpm)
}

func (b *TpmNotBoundToPcrAuthBlock) derive(ctx context.Context, in AuthInput, tpm *TpmNotBoundToPcrState) (*KeyBlobs, error) {
	if !tpm.ScryptDerived {
		return nil, cryptoError(locTpmNotScryptDerived, fmt.Errorf("state is not scrypt derived"))
	}
	if len(tpm.Salt) == 0 || len(tpm.TpmKey) == 0 {
		return nil, cryptoError(locTpmMalformedState, fmt.Errorf("tpm-not-bound-to-pcr state is incomplete"))
	}
	userInput, ok := in.userInput()
	if !ok {
		return nil, callerError(locTpmNoUserInput, "missing user input")
	}
	if err := checkTPMReadiness(ctx, b.hw, tpm.TpmPublicKeyHash); err != nil {
		return nil, err
	}

	var (
		g                  errgroup.Group
		aesKey, kdfKey, iv []byte
		scryptErr          error
		inner              []byte
		decryptErr         error
	)
	g.Go(func() error {
		aesKey, kdfKey, iv, scryptErr = notBoundSecrets(b.params, userInput, tpm.Salt)
		return scryptErr
	})
	g.Go(func() error {
		decryptErr = withTPMRetry(func() error {
			var err error
			inner, err = b.hw.Decrypt(ctx, tpm.TpmKey)
			return err
		})
		return decryptErr
	})
	_ = g.Wait()
	if scryptErr != nil {
		return nil, cryptoError(locTpmScrypt, scryptErr)
	}
	defer secure.Zero(aesKey)
	defer secure.Zero(kdfKey)
	if decryptErr != nil {
		if len(tpm.TpmPublicKeyHash) == 0 {
			return nil, status.New(locTpmNoPublicKeyHash).
				WithKind(status.KindHardware).
				WithCode(status.CryptoErrorNoPublicKeyHash).
				Wrap(hwsecError(locTpmDecrypt, decryptErr))
		}
		return nil, hwsecError(locTpmDecrypt, decryptErr)
	}

	aead, err := chacha20poly1305.New(aesKey)
	if err != nil {
		return nil, cryptoError(locTpmDecrypt, err)
	}
	if len(inner) < aead.NonceSize() {
		return nil, cryptoError(locTpmMalformedState, fmt.Errorf("wrapped seed too short"))
	}
	seed, err := aead.Open(nil, inner[:aead.NonceSize()], inner[aead.NonceSize():], nil)
	if err != nil {
		return nil, status.New(locTpmDecrypt).
			WithKind(status.KindCrypto).
			WithCode(status.CryptoErrorTPMCrypto).
			WithActions(status.ActionAuth).
			Wrap(err)
	}
	defer secure.Zero(seed)

	return &KeyBlobs{VkkKey: hmacSHA256(kdfKey, seed), VkkIV: iv, ChapsIV: secure.Clone(iv)}, nil
}

// PrepareForRemoval is a no-op; the wrapped seed holds no TPM resources.
func (b *TpmNotBoundToPcrAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	if _, ok := variantAs[*TpmNotBoundToPcrState](state); !ok {
		return callerError(locTpmWrongState, "not a tpm-not-bound-to-pcr state")
	}
	return nil
}
