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
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authblock/pkg/status"
)

func TestNewGenericPanicsOnDuplicates(t *testing.T) {
	scrypt := DefaultDescriptors()[5]
	require.Equal(t, TypeScrypt, scrypt.Type)

	assert.Panics(t, func() { NewGeneric(nil, scrypt, scrypt) })

	aliased := scrypt
	aliased.Type = Type(200)
	assert.Panics(t, func() { NewGeneric(nil, scrypt, aliased) })

	assert.NotPanics(t, func() { NewGeneric(nil) })
}

func TestGenericUnregisteredType(t *testing.T) {
	ctx := context.Background()
	g := NewGeneric(&Deps{}, DefaultDescriptors()[5])

	assert.Equal(t, []Type{TypeScrypt}, g.Types())
	assert.Nil(t, g.GetAuthBlockWithType(TypePinWeaver, AuthInput{}))

	err := g.IsSupported(ctx, TypePinWeaver)
	require.Error(t, err)
	assert.True(t, status.IsCallerError(err))
	assert.True(t, status.ContainsAction(err, status.ActionDevCheckUnexpectedState))

	// A registered but unusable type is not a caller error.
	g = NewGeneric(&Deps{})
	err = g.IsSupported(ctx, TypeTpmEcc)
	require.Error(t, err)
	assert.False(t, status.IsCallerError(err))
	assert.NoError(t, g.IsSupported(ctx, TypeScrypt))
}

func TestGetAuthBlockTypeFromState(t *testing.T) {
	g := NewGeneric(&Deps{})
	assert.True(t, g.GetAuthBlockTypeFromState(nil).IsAbsent())
	assert.True(t, g.GetAuthBlockTypeFromState(&State{Type: TypeScrypt}).IsAbsent())
	assert.Equal(t, mo.Some(TypeScrypt), g.GetAuthBlockTypeFromState(&State{Variant: &ScryptState{}}))

	// A discriminant that disagrees with the payload is rejected.
	assert.True(t, g.GetAuthBlockTypeFromState(&State{Type: TypePinWeaver, Variant: &ScryptState{}}).IsAbsent())

	only := NewGeneric(&Deps{}, DefaultDescriptors()[0])
	assert.True(t, only.GetAuthBlockTypeFromState(&State{Variant: &ScryptState{}}).IsAbsent())
}

func TestStateCodec(t *testing.T) {
	g := NewGeneric(&Deps{})
	state := &State{Type: TypeScrypt, Variant: &ScryptState{
		Salt: []byte("salt-salt-salt-1"), ChapsSalt: []byte("salt-salt-salt-2"), N: 16, R: 1, P: 1,
	}}
	b, err := EncodeState(state)
	require.NoError(t, err)
	decoded, err := g.DecodeState(b)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)

	_, err = EncodeState(nil)
	assert.ErrorIs(t, err, ErrStateEmpty)
	_, err = g.DecodeState(nil)
	assert.ErrorIs(t, err, ErrStateEmpty)
	_, err = g.DecodeState([]byte{0xff, 0x00})
	assert.Error(t, err)

	var env envelope
	require.NoError(t, cbor.Unmarshal(b, &env))

	future := env
	future.Version = stateVersion + 1
	fb, err := cbor.Marshal(future)
	require.NoError(t, err)
	_, err = g.DecodeState(fb)
	assert.ErrorIs(t, err, ErrStateVersion)

	unknown := env
	unknown.Type = Type(99)
	ub, err := cbor.Marshal(unknown)
	require.NoError(t, err)
	_, err = g.DecodeState(ub)
	assert.ErrorIs(t, err, ErrStateType)

	only := NewGeneric(&Deps{}, DefaultDescriptors()[0])
	_, err = only.DecodeState(b)
	assert.ErrorIs(t, err, ErrStateType)
}
