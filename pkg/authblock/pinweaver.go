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
	"errors"
	"fmt"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

const pinWeaverKDFInfo = "authblock-pinweaver-le-secret"

// PinWeaverAuthBlock protects a PIN with a rate limited credential leaf.
type PinWeaverAuthBlock struct {
	le       lecredential.CredentialManager
	schedule lecredential.DelaySchedule
	deps     *Deps
	logger   *logging.Logger
}

// NewPinWeaverAuthBlock returns a block using le with the default delay
// schedule.
func NewPinWeaverAuthBlock(le lecredential.CredentialManager, deps *Deps) *PinWeaverAuthBlock {
	return &PinWeaverAuthBlock{
		le:       le,
		schedule: lecredential.DefaultDelaySchedule(),
		deps:     deps,
		logger:   deps.logger().With("auth_block", TypePinWeaver.String()),
	}
}

// IsPinWeaverSupported requires an enabled PinWeaver frontend.
func IsPinWeaverSupported(ctx context.Context, d *Deps) error {
	if d.LE == nil || d.PinWeaver == nil {
		return unsupported(locPinWeaverUnsupported, "no credential manager")
	}
	enabled, err := d.PinWeaver.IsEnabled(ctx)
	if err != nil {
		return hwsecError(locPinWeaverCapabilityFailed, err)
	}
	if !enabled {
		return unsupported(locPinWeaverUnsupported, "pinweaver disabled")
	}
	return nil
}

// unsupported reports a missing capability.
func unsupported(loc status.Location, msg string) *status.Error {
	return status.New(loc).
		WithKind(status.KindHardware).
		WithCode(status.CryptoErrorOther).
		Wrap(errors.New(msg))
}

// leSecrets splits the PIN into the secret checked by the leaf and the key
// that is mixed with the leaf's high entropy secret.
func leSecrets(pin, salt []byte) (leSecret, kdfKey []byte, err error) {
	parts, err := deriveSecretsHKDF(pin, salt, pinWeaverKDFInfo, aesKeySize, aesKeySize)
	if err != nil {
		return nil, nil, err
	}
	return parts[0], parts[1], nil
}

func (b *PinWeaverAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	pin, ok := in.userInput()
	if !ok {
		return nil, nil, callerError(locPinWeaverNoUserInput, "missing user input")
	}
	if _, ok := in.username(); !ok {
		return nil, nil, callerError(locPinWeaverNoUsername, "missing obfuscated username")
	}

	// An explicit reset secret wins. Otherwise derive one from the seed with
	// a fresh salt that is stored in the state. Without either a random
	// secret is generated and handed back in the key blobs.
	var resetSecret, resetSalt []byte
	if rs, ok := in.ResetSecret.Get(); ok && len(rs) > 0 {
		resetSecret = secure.Clone(rs)
	} else if seed, ok := in.ResetSeed.Get(); ok && len(seed) > 0 {
		salt, err := randomBytes(b.deps.random(), resetSaltSize)
		if err != nil {
			return nil, nil, cryptoError(locPinWeaverResetSeedSalt, err)
		}
		resetSalt = salt
		resetSecret = ResetSecretFromSeed(seed, salt)
	} else {
		rs, err := randomBytes(b.deps.random(), resetSaltSize)
		if err != nil {
			return nil, nil, cryptoError(locPinWeaverResetSecret, err)
		}
		resetSecret = rs
	}

	random, err := randomBytes(b.deps.random(), saltSize+heSecretSize+2*aesBlockSize)
	if err != nil {
		return nil, nil, cryptoError(locPinWeaverRandom, err)
	}
	rnd := split(random, []int{saltSize, heSecretSize, aesBlockSize, aesBlockSize})
	salt, heSecret, fekIV, chapsIV := rnd[0], rnd[1], rnd[2], rnd[3]
	defer secure.Zero(heSecret)

	leSecret, kdfKey, err := leSecrets(pin, salt)
	if err != nil {
		return nil, nil, cryptoError(locPinWeaverDerive, err)
	}
	defer secure.Zero(leSecret)
	defer secure.Zero(kdfKey)

	label, err := b.le.InsertCredential(ctx, lecredential.InsertRequest{
		LowEntropySecret:  leSecret,
		HighEntropySecret: heSecret,
		ResetSecret:       resetSecret,
		DelaySchedule:     b.schedule,
	})
	if err != nil {
		secure.Zero(resetSecret)
		return nil, nil, leError(locPinWeaverInsert, err)
	}
	b.logger.Debug("inserted pin credential", "label", label)

	blobs := &KeyBlobs{
		VkkKey:      hmacSHA256(kdfKey, heSecret),
		VkkIV:       secure.Clone(fekIV),
		ChapsIV:     secure.Clone(chapsIV),
		ResetSecret: mo.Some(resetSecret),
	}
	state := &State{Type: TypePinWeaver, Variant: &PinWeaverState{
		LELabel:   label,
		Salt:      salt,
		ChapsIV:   chapsIV,
		FekIV:     fekIV,
		ResetSalt: resetSalt,
	}}
	return blobs, state, nil
}

func (b *PinWeaverAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	pw, ok := variantAs[*PinWeaverState](state)
	if !ok {
		return nil, callerError(locPinWeaverWrongState, "not a pinweaver state")
	}
	if len(pw.Salt) == 0 || len(pw.FekIV) == 0 || len(pw.ChapsIV) == 0 {
		return nil, cryptoError(locPinWeaverDeriveBadState, fmt.Errorf("incomplete pinweaver state for label %d", pw.LELabel))
	}
	pin, ok := in.userInput()
	if !ok {
		return nil, callerError(locPinWeaverDeriveNoInput, "missing user input")
	}

	leSecret, kdfKey, err := leSecrets(pin, pw.Salt)
	if err != nil {
		return nil, cryptoError(locPinWeaverDerive, err)
	}
	defer secure.Zero(leSecret)
	defer secure.Zero(kdfKey)

	heSecret, resetSecret, err := b.le.CheckCredential(ctx, pw.LELabel, leSecret)
	if err != nil {
		return nil, leError(locPinWeaverCheck, err)
	}
	defer secure.Zero(heSecret)

	blobs := &KeyBlobs{
		VkkKey:  hmacSHA256(kdfKey, heSecret),
		VkkIV:   secure.Clone(pw.FekIV),
		ChapsIV: secure.Clone(pw.ChapsIV),
	}
	if len(resetSecret) > 0 {
		blobs.ResetSecret = mo.Some(resetSecret)
	}
	return blobs, nil
}

func (b *PinWeaverAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	pw, ok := variantAs[*PinWeaverState](state)
	if !ok {
		return callerError(locPinWeaverWrongState, "not a pinweaver state")
	}
	if err := b.le.RemoveCredential(ctx, pw.LELabel); err != nil {
		if isLEInvalidLabel(err) {
			b.logger.Warn("pin credential already removed", "label", pw.LELabel)
			return nil
		}
		return status.Wrap(locPinWeaverRemove, err)
	}
	return nil
}

// IsLocked reports whether the credential behind state is locked out.
func (b *PinWeaverAuthBlock) IsLocked(ctx context.Context, state *State) (bool, error) {
	pw, ok := variantAs[*PinWeaverState](state)
	if !ok {
		return false, callerError(locPinWeaverWrongState, "not a pinweaver state")
	}
	locked, err := b.le.IsLocked(ctx, pw.LELabel)
	if err != nil {
		return false, status.Wrap(locPinWeaverIsLocked, err)
	}
	return locked, nil
}
