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

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/recovery"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

const recoveryKDFInfo = "authblock-cryptohome-recovery"

// CryptohomeRecoveryAuthBlock derives the keys from a recovery secret whose
// mediator share can only be released by the recovery mediator.
type CryptohomeRecoveryAuthBlock struct {
	hw   hwsec.CryptohomeFrontend
	deps *Deps
}

// NewCryptohomeRecoveryAuthBlock returns a block that wraps its device
// secrets with hw.
func NewCryptohomeRecoveryAuthBlock(hw hwsec.CryptohomeFrontend, deps *Deps) *CryptohomeRecoveryAuthBlock {
	return &CryptohomeRecoveryAuthBlock{hw: hw, deps: deps}
}

// IsCryptohomeRecoverySupported requires a ready TPM to wrap the channel
// key and the destination share.
func IsCryptohomeRecoverySupported(ctx context.Context, d *Deps) error {
	if err := tpmCapabilities(ctx, d.Hwsec, false, false); err != nil {
		return status.Wrap(locRecoveryUnsupported, err)
	}
	return nil
}

// NewRecoveryRequest builds the request sent to the mediator for state.
func NewRecoveryRequest(state *State, obfuscatedUsername string) (recovery.Request, error) {
	rs, ok := variantAs[*CryptohomeRecoveryState](state)
	if !ok {
		return recovery.Request{}, callerError(locRecoveryWrongState, "not a recovery state")
	}
	return recovery.Request{
		HSMPayload:    rs.HSMPayload,
		ChannelPubKey: rs.ChannelPubKey,
		Metadata:      recovery.OnboardingMetadata{ObfuscatedUsername: obfuscatedUsername},
	}, nil
}

func recoveryKeyBlobs(secret, salt []byte) (*KeyBlobs, error) {
	parts, err := deriveSecretsHKDF(secret, salt, recoveryKDFInfo, aesKeySize, aesBlockSize, aesBlockSize)
	if err != nil {
		return nil, cryptoError(locRecoveryDerive, err)
	}
	return &KeyBlobs{VkkKey: parts[0], VkkIV: parts[1], ChapsIV: parts[2]}, nil
}

func recoveryFatal(loc status.Location, err error, actions ...status.Action) *status.Error {
	return status.New(loc).
		WithKind(status.KindCrypto).
		WithCode(status.CryptoErrorRecoveryFatal).
		WithActions(actions...).
		Wrap(err)
}

func (b *CryptohomeRecoveryAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	ri, ok := in.Recovery.Get()
	if !ok || len(ri.MediatorPubKey) == 0 {
		return nil, nil, callerError(locRecoveryNoInput, "missing mediator public key")
	}
	username, ok := in.username()
	if !ok {
		return nil, nil, callerError(locRecoveryNoUsername, "missing obfuscated username")
	}

	secrets, err := recovery.Generate(b.deps.random(), ri.MediatorPubKey, recovery.OnboardingMetadata{ObfuscatedUsername: username})
	if err != nil {
		return nil, nil, recoveryFatal(locRecoveryGenerate, err, status.ActionDevCheckUnexpectedState)
	}
	defer secrets.Clear()

	encChannel, err := b.hw.Encrypt(ctx, secrets.ChannelPrivKey)
	if err != nil {
		return nil, nil, hwsecError(locRecoveryWrap, err)
	}
	encShare, err := b.hw.Encrypt(ctx, secrets.DestinationShare)
	if err != nil {
		return nil, nil, hwsecError(locRecoveryWrap, err)
	}
	salt, err := randomBytes(b.deps.random(), saltSize)
	if err != nil {
		return nil, nil, cryptoError(locRecoveryGenerate, err)
	}

	blobs, err := recoveryKeyBlobs(secrets.RecoverySecret, salt)
	if err != nil {
		return nil, nil, err
	}
	state := &State{Type: TypeCryptohomeRecovery, Variant: &CryptohomeRecoveryState{
		HSMPayload:                secrets.HSMPayload,
		ChannelPubKey:             secrets.ChannelPubKey,
		EncryptedChannelPrivKey:   encChannel,
		EncryptedDestinationShare: encShare,
		Salt:                      salt,
	}}
	return blobs, state, nil
}

func (b *CryptohomeRecoveryAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	rs, ok := variantAs[*CryptohomeRecoveryState](state)
	if !ok {
		return nil, callerError(locRecoveryWrongState, "not a recovery state")
	}
	ri, ok := in.Recovery.Get()
	if !ok || len(ri.Response) == 0 {
		return nil, callerError(locRecoveryNoResponse, "missing mediator response")
	}

	channelPriv, err := b.hw.Decrypt(ctx, rs.EncryptedChannelPrivKey)
	if err != nil {
		return nil, hwsecError(locRecoveryUnwrap, err)
	}
	defer secure.Zero(channelPriv)
	share, err := b.hw.Decrypt(ctx, rs.EncryptedDestinationShare)
	if err != nil {
		return nil, hwsecError(locRecoveryUnwrap, err)
	}
	defer secure.Zero(share)

	secret, err := recovery.Recover(channelPriv, ri.Response, share)
	if err != nil {
		return nil, recoveryFatal(locRecoveryRecover, err, status.ActionAuth)
	}
	defer secure.Zero(secret)
	return recoveryKeyBlobs(secret, rs.Salt)
}

func (b *CryptohomeRecoveryAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	if _, ok := variantAs[*CryptohomeRecoveryState](state); !ok {
		return callerError(locRecoveryWrongState, "not a recovery state")
	}
	return nil
}
