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
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-authblock/pkg/challenge"
)

// stateVersion is the version of the persisted envelope.
const stateVersion = 1

var (
	ErrStateVersion = errors.New("authblock: unsupported state version")
	ErrStateType    = errors.New("authblock: state type not registered")
	ErrStateEmpty   = errors.New("authblock: empty state")
)

// StateVariant is implemented by the per-block state types.
type StateVariant interface {
	isAuthBlockState()
}

// State is the persisted result of Create. Type is stored next to the
// variant so the block that produced it never has to be inferred.
type State struct {
	Type    Type
	Variant StateVariant
}

type PinWeaverState struct {
	LELabel   uint64 `cbor:"1,keyasint"`
	Salt      []byte `cbor:"2,keyasint"`
	ChapsIV   []byte `cbor:"3,keyasint"`
	FekIV     []byte `cbor:"4,keyasint"`
	ResetSalt []byte `cbor:"5,keyasint,omitempty"`
}

type FingerprintState struct {
	TemplateID     string `cbor:"1,keyasint"`
	GSCSecretLabel uint64 `cbor:"2,keyasint"`
}

type TpmBoundToPcrState struct {
	ScryptDerived    bool   `cbor:"1,keyasint"`
	Salt             []byte `cbor:"2,keyasint"`
	TpmKey           []byte `cbor:"3,keyasint"`
	ExtendedTpmKey   []byte `cbor:"4,keyasint"`
	TpmPublicKeyHash []byte `cbor:"5,keyasint,omitempty"`
}

type TpmNotBoundToPcrState struct {
	ScryptDerived    bool   `cbor:"1,keyasint"`
	Salt             []byte `cbor:"2,keyasint"`
	TpmKey           []byte `cbor:"3,keyasint"`
	TpmPublicKeyHash []byte `cbor:"4,keyasint,omitempty"`
}

type TpmEccState struct {
	Salt                []byte `cbor:"1,keyasint"`
	AuthValueRounds     uint32 `cbor:"2,keyasint"`
	SealedHvkkm         []byte `cbor:"3,keyasint"`
	ExtendedSealedHvkkm []byte `cbor:"4,keyasint"`
	TpmPublicKeyHash    []byte `cbor:"5,keyasint,omitempty"`
}

// ScryptState carries its work factors so that changing the defaults does
// not strand existing credentials.
type ScryptState struct {
	Salt      []byte `cbor:"1,keyasint"`
	ChapsSalt []byte `cbor:"2,keyasint"`
	N         int    `cbor:"3,keyasint"`
	R         int    `cbor:"4,keyasint"`
	P         int    `cbor:"5,keyasint"`

	// Verifier detects a wrong passkey before the keys are used.
	Verifier []byte `cbor:"6,keyasint,omitempty"`
}

type ChallengeCredentialState struct {
	Scrypt        ScryptState         `cbor:"1,keyasint"`
	Challenge     []byte              `cbor:"2,keyasint"`
	PublicKeySPKI []byte              `cbor:"3,keyasint"`
	Algorithm     challenge.Algorithm `cbor:"4,keyasint"`
}

// DoubleWrappedCompatState is found on keysets wrapped both by scrypt and
// by the TPM. It is never created.
type DoubleWrappedCompatState struct {
	Scrypt ScryptState           `cbor:"1,keyasint"`
	Tpm    TpmNotBoundToPcrState `cbor:"2,keyasint"`
}

type CryptohomeRecoveryState struct {
	HSMPayload                []byte `cbor:"1,keyasint"`
	ChannelPubKey             []byte `cbor:"2,keyasint"`
	EncryptedChannelPrivKey   []byte `cbor:"3,keyasint"`
	EncryptedDestinationShare []byte `cbor:"4,keyasint"`
	Salt                      []byte `cbor:"5,keyasint"`
}

func (*PinWeaverState) isAuthBlockState()           {}
func (*FingerprintState) isAuthBlockState()         {}
func (*TpmBoundToPcrState) isAuthBlockState()       {}
func (*TpmNotBoundToPcrState) isAuthBlockState()    {}
func (*TpmEccState) isAuthBlockState()              {}
func (*ScryptState) isAuthBlockState()              {}
func (*ChallengeCredentialState) isAuthBlockState() {}
func (*DoubleWrappedCompatState) isAuthBlockState() {}
func (*CryptohomeRecoveryState) isAuthBlockState()  {}

// variantAs returns the variant of s as T.
func variantAs[T StateVariant](s *State) (T, bool) {
	var zero T
	if s == nil || s.Variant == nil {
		return zero, false
	}
	v, ok := s.Variant.(T)
	return v, ok
}

type envelope struct {
	Version uint8           `cbor:"1,keyasint"`
	Type    Type            `cbor:"2,keyasint"`
	Payload cbor.RawMessage `cbor:"3,keyasint"`
}

// EncodeState serializes s for persistence.
func EncodeState(s *State) ([]byte, error) {
	if s == nil || s.Variant == nil {
		return nil, ErrStateEmpty
	}
	payload, err := cbor.Marshal(s.Variant)
	if err != nil {
		return nil, fmt.Errorf("authblock: encode %s state: %w", s.Type, err)
	}
	return cbor.Marshal(envelope{Version: stateVersion, Type: s.Type, Payload: payload})
}

// decodeState parses an envelope. newState returns an empty variant for a
// registered type.
func decodeState(b []byte, newState func(Type) (StateVariant, bool)) (*State, error) {
	if len(b) == 0 {
		return nil, ErrStateEmpty
	}
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("authblock: decode state envelope: %w", err)
	}
	if env.Version != stateVersion {
		return nil, fmt.Errorf("%w: %d", ErrStateVersion, env.Version)
	}
	v, ok := newState(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateType, env.Type)
	}
	if err := cbor.Unmarshal(env.Payload, v); err != nil {
		return nil, fmt.Errorf("authblock: decode %s state: %w", env.Type, err)
	}
	return &State{Type: env.Type, Variant: v}, nil
}
