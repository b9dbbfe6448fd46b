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
	"bytes"
	"context"
	"crypto/sha256"

	"github.com/jeremyhahn/go-authblock/pkg/challenge"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

const challengeSize = 32

// ChallengeCredentialAuthBlock uses the signature of a random challenge by
// a caller held key as the scrypt passkey.
type ChallengeCredentialAuthBlock struct {
	svc    challenge.KeyChallengeService
	params ScryptParams
	deps   *Deps
}

// NewChallengeCredentialAuthBlock returns a block using svc.
func NewChallengeCredentialAuthBlock(svc challenge.KeyChallengeService, deps *Deps) *ChallengeCredentialAuthBlock {
	return &ChallengeCredentialAuthBlock{svc: svc, params: deps.scrypt(), deps: deps}
}

// IsChallengeCredentialSupported requires a key challenge service.
func IsChallengeCredentialSupported(ctx context.Context, d *Deps) error {
	if d.Challenge == nil {
		return unsupported(locChallengeUnsupported, "no key challenge service")
	}
	return nil
}

func challengeAccount(in AuthInput, cc ChallengeCredentialInput) string {
	if cc.Account != "" {
		return cc.Account
	}
	u, _ := in.username()
	return u
}

// passkey signs msg and hashes the signature.
func (b *ChallengeCredentialAuthBlock) passkey(ctx context.Context, account string, spki, msg []byte, alg challenge.Algorithm) ([]byte, error) {
	sig, err := b.svc.ChallengeSignature(ctx, account, spki, msg, alg)
	if err != nil {
		return nil, status.New(locChallengeSign).
			WithKind(status.KindHardware).
			WithCode(status.CryptoErrorOther).
			WithActions(status.ActionRetry).
			Wrap(err)
	}
	if err := challenge.Verify(spki, alg, msg, sig); err != nil {
		return nil, status.New(locChallengeVerify).
			WithKind(status.KindCrypto).
			WithCode(status.CryptoErrorOther).
			WithActions(status.ActionAuth).
			Wrap(err)
	}
	sum := sha256.Sum256(sig)
	return sum[:], nil
}

func (b *ChallengeCredentialAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	cc, ok := in.ChallengeCredential.Get()
	if !ok || len(cc.KeyInfo.PublicKeySPKI) == 0 {
		return nil, nil, callerError(locChallengeNoInput, "missing challenge credential input")
	}
	if _, ok := in.username(); !ok {
		return nil, nil, callerError(locChallengeNoUsername, "missing obfuscated username")
	}
	alg, err := cc.KeyInfo.ChooseAlgorithm()
	if err != nil {
		return nil, nil, status.New(locChallengeAlgorithm).
			WithKind(status.KindCaller).
			WithCode(status.CryptoErrorOther).
			WithActions(status.ActionDevCheckUnexpectedState).
			Wrap(err)
	}
	msg, err := randomBytes(b.deps.random(), challengeSize)
	if err != nil {
		return nil, nil, cryptoError(locChallengeRandom, err)
	}

	passkey, err := b.passkey(ctx, challengeAccount(in, cc), cc.KeyInfo.PublicKeySPKI, msg, alg)
	if err != nil {
		return nil, nil, err
	}
	defer secure.Zero(passkey)

	blobs, st, err := newScryptState(b.deps, b.params, passkey)
	if err != nil {
		return nil, nil, status.Wrap(locChallengeScrypt, err)
	}
	state := &State{Type: TypeChallengeCredential, Variant: &ChallengeCredentialState{
		Scrypt:        *st,
		Challenge:     msg,
		PublicKeySPKI: secure.Clone(cc.KeyInfo.PublicKeySPKI),
		Algorithm:     alg,
	}}
	return blobs, state, nil
}

func (b *ChallengeCredentialAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	cs, ok := variantAs[*ChallengeCredentialState](state)
	if !ok {
		return nil, callerError(locChallengeWrongState, "not a challenge credential state")
	}
	cc, ok := in.ChallengeCredential.Get()
	if !ok {
		return nil, callerError(locChallengeNoInput, "missing challenge credential input")
	}
	if len(cc.KeyInfo.PublicKeySPKI) > 0 && !bytes.Equal(cc.KeyInfo.PublicKeySPKI, cs.PublicKeySPKI) {
		return nil, callerError(locChallengeKeyMismatch, "challenge key does not match the credential")
	}

	passkey, err := b.passkey(ctx, challengeAccount(in, cc), cs.PublicKeySPKI, cs.Challenge, cs.Algorithm)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(passkey)

	blobs, err := deriveScrypt(&cs.Scrypt, passkey)
	if err != nil {
		return nil, status.Wrap(locChallengeScrypt, err)
	}
	return blobs, nil
}

func (b *ChallengeCredentialAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	if _, ok := variantAs[*ChallengeCredentialState](state); !ok {
		return callerError(locChallengeWrongState, "not a challenge credential state")
	}
	return nil
}
