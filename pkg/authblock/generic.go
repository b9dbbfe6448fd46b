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
	"reflect"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// Descriptor registers one auth block with the dispatcher.
type Descriptor struct {
	Type Type

	// NewState returns an empty state of the block. Its Go type identifies
	// the block when a state is looked up.
	NewState func() StateVariant

	// IsSupported checks the capabilities the block needs. It must not
	// change any hardware or persisted state.
	IsSupported func(ctx context.Context, d *Deps) error

	// New builds the block, or returns nil when a collaborator it needs is
	// missing.
	New func(in AuthInput, d *Deps) AuthBlock
}

// DefaultDescriptors returns every auth block of this package.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Type:        TypePinWeaver,
			NewState:    func() StateVariant { return &PinWeaverState{} },
			IsSupported: IsPinWeaverSupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.LE == nil {
					return nil
				}
				return NewPinWeaverAuthBlock(d.LE, d)
			},
		},
		{
			Type:        TypeChallengeCredential,
			NewState:    func() StateVariant { return &ChallengeCredentialState{} },
			IsSupported: IsChallengeCredentialSupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.Challenge == nil {
					return nil
				}
				return NewChallengeCredentialAuthBlock(d.Challenge, d)
			},
		},
		{
			Type:        TypeDoubleWrappedCompat,
			NewState:    func() StateVariant { return &DoubleWrappedCompatState{} },
			IsSupported: IsDoubleWrappedCompatSupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.Hwsec == nil {
					return nil
				}
				return NewDoubleWrappedCompatAuthBlock(NewScryptAuthBlock(d), NewTpmNotBoundToPcrAuthBlock(d.Hwsec, d), d)
			},
		},
		{
			Type:        TypeTpmBoundToPcr,
			NewState:    func() StateVariant { return &TpmBoundToPcrState{} },
			IsSupported: IsTpmBoundToPcrSupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.Hwsec == nil {
					return nil
				}
				return NewTpmBoundToPcrAuthBlock(d.Hwsec, d)
			},
		},
		{
			Type:        TypeTpmNotBoundToPcr,
			NewState:    func() StateVariant { return &TpmNotBoundToPcrState{} },
			IsSupported: IsTpmNotBoundToPcrSupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.Hwsec == nil {
					return nil
				}
				return NewTpmNotBoundToPcrAuthBlock(d.Hwsec, d)
			},
		},
		{
			Type:        TypeScrypt,
			NewState:    func() StateVariant { return &ScryptState{} },
			IsSupported: IsScryptSupported,
			New:         func(_ AuthInput, d *Deps) AuthBlock { return NewScryptAuthBlock(d) },
		},
		{
			Type:        TypeCryptohomeRecovery,
			NewState:    func() StateVariant { return &CryptohomeRecoveryState{} },
			IsSupported: IsCryptohomeRecoverySupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.Hwsec == nil {
					return nil
				}
				return NewCryptohomeRecoveryAuthBlock(d.Hwsec, d)
			},
		},
		{
			Type:        TypeTpmEcc,
			NewState:    func() StateVariant { return &TpmEccState{} },
			IsSupported: IsTpmEccSupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.Hwsec == nil {
					return nil
				}
				return NewTpmEccAuthBlock(d.Hwsec, d)
			},
		},
		{
			Type:        TypeFingerprint,
			NewState:    func() StateVariant { return &FingerprintState{} },
			IsSupported: IsFingerprintSupported,
			New: func(_ AuthInput, d *Deps) AuthBlock {
				if d.LE == nil || d.Biometrics == nil {
					return nil
				}
				return NewFingerprintAuthBlock(d.LE, d.Biometrics, d)
			},
		},
	}
}

// Generic dispatches to auth blocks by type or by persisted state.
type Generic struct {
	deps        *Deps
	descriptors []Descriptor
	byState     map[reflect.Type]Type
}

// NewGeneric builds the dispatcher. With no descriptors it registers
// DefaultDescriptors. It panics when two descriptors share a type or a
// state type, since the state lookup would be ambiguous.
func NewGeneric(deps *Deps, descriptors ...Descriptor) *Generic {
	if deps == nil {
		deps = &Deps{}
	}
	if len(descriptors) == 0 {
		descriptors = DefaultDescriptors()
	}
	g := &Generic{
		deps:        deps,
		descriptors: descriptors,
		byState:     make(map[reflect.Type]Type, len(descriptors)),
	}
	seen := make(map[Type]bool, len(descriptors))
	for _, d := range descriptors {
		if seen[d.Type] {
			panic(fmt.Sprintf("authblock: duplicate descriptor for %s", d.Type))
		}
		seen[d.Type] = true
		st := reflect.TypeOf(d.NewState())
		if prev, ok := g.byState[st]; ok {
			panic(fmt.Sprintf("authblock: %s and %s share state type %s", prev, d.Type, st))
		}
		g.byState[st] = d.Type
	}
	return g
}

// Deps returns the collaborators handed to the blocks.
func (g *Generic) Deps() *Deps {
	return g.deps
}

// Types lists the registered types in registration order.
func (g *Generic) Types() []Type {
	types := make([]Type, len(g.descriptors))
	for i, d := range g.descriptors {
		types[i] = d.Type
	}
	return types
}

func (g *Generic) descriptor(t Type) (Descriptor, bool) {
	for _, d := range g.descriptors {
		if d.Type == t {
			return d, true
		}
	}
	return Descriptor{}, false
}

// IsSupported reports whether blocks of type t can be used. An unregistered
// type fails with a caller error distinct from an unsupported one.
func (g *Generic) IsSupported(ctx context.Context, t Type) error {
	d, ok := g.descriptor(t)
	if !ok {
		return callerError(locGenericTypeNotFound, fmt.Sprintf("auth block type %s not registered", t))
	}
	return status.Wrap(locGenericUnsupported, d.IsSupported(ctx, g.deps))
}

// GetAuthBlockWithType builds the block of type t, or returns nil when t is
// not registered or the block cannot be built.
func (g *Generic) GetAuthBlockWithType(t Type, in AuthInput) AuthBlock {
	d, ok := g.descriptor(t)
	if !ok {
		return nil
	}
	return d.New(in, g.deps)
}

// GetAuthBlockTypeFromState returns the type whose state type matches the
// variant of s. A discriminant that disagrees with the variant is treated
// as no match.
func (g *Generic) GetAuthBlockTypeFromState(s *State) mo.Option[Type] {
	if s == nil || s.Variant == nil {
		return mo.None[Type]()
	}
	t, ok := g.byState[reflect.TypeOf(s.Variant)]
	if !ok || (s.Type != 0 && s.Type != t) {
		return mo.None[Type]()
	}
	return mo.Some(t)
}

// DecodeState parses a state produced by EncodeState.
func (g *Generic) DecodeState(b []byte) (*State, error) {
	return decodeState(b, func(t Type) (StateVariant, bool) {
		d, ok := g.descriptor(t)
		if !ok {
			return nil, false
		}
		return d.NewState(), true
	})
}
