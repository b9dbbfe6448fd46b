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

package authfactor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/biometrics"
	swbio "github.com/jeremyhahn/go-authblock/pkg/biometrics/software"
	"github.com/jeremyhahn/go-authblock/pkg/challenge"
	swhwsec "github.com/jeremyhahn/go-authblock/pkg/hwsec/software"
	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
	"github.com/jeremyhahn/go-authblock/pkg/lecredential/mocks"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/pinweaver"
	"github.com/jeremyhahn/go-authblock/pkg/status"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

const testUser = "u1"

var locTestDelayRead = status.NewLocation(905001, "TestDelayRead")

var (
	ussOnlyStorage = []StorageType{StorageUserSecretStash}
	vkStorage      = []StorageType{StorageVaultKeyset}
	mixedStorage   = []StorageType{StorageVaultKeyset, StorageUserSecretStash}
)

type lookupFunc func(ctx context.Context, username string) (mo.Option[uint64], error)

func (f lookupFunc) RateLimiterLabel(ctx context.Context, username string) (mo.Option[uint64], error) {
	return f(ctx, username)
}

func staticLookup(label uint64) RateLimiterLookup {
	return lookupFunc(func(context.Context, string) (mo.Option[uint64], error) {
		return mo.Some(label), nil
	})
}

// newDeps wires every collaborator with software backends.
func newDeps(t *testing.T) (*authblock.Deps, *lecredential.Manager) {
	t.Helper()
	logger := logging.Discard()

	hw, err := swhwsec.New()
	require.NoError(t, err)
	pw, err := pinweaver.New(storage.NewMemory(), pinweaver.WithLogger(logger))
	require.NoError(t, err)
	le := lecredential.New(pw, lecredential.WithLogger(logger))
	t.Cleanup(le.Close)

	proc := swbio.New(pw.PairingKey(authblock.FingerprintAuthChannel))
	bio := biometrics.NewService(proc, biometrics.WithServiceLogger(logger))

	svc := challenge.NewSoftwareService()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = svc.AddKey(priv)
	require.NoError(t, err)

	return &authblock.Deps{
		Hwsec:      hw,
		PinWeaver:  pw,
		LE:         le,
		Biometrics: bio,
		Challenge:  svc,
		Scrypt:     authblock.ScryptParams{N: 16, R: 1, P: 1},
		Logger:     logger,
	}, le
}

func newManager(t *testing.T, deps *authblock.Deps, le lecredential.CredentialManager, lookup RateLimiterLookup) *DriverManager {
	t.Helper()
	u := authblock.NewUtility(authblock.NewGeneric(deps), authblock.WithUtilityLogger(logging.Discard()))
	t.Cleanup(u.Close)
	return NewDriverManager(Env{Utility: u, LE: le, RateLimiters: lookup})
}

func assertDevCheck(t *testing.T, err error, loc status.Location) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, status.ContainsAction(err, status.ActionDevCheckUnexpectedState), "%v", err)
	assert.Contains(t, status.Locations(err), loc)
}

func TestGetDriverNeverFails(t *testing.T) {
	m := NewDriverManager(Env{})
	for _, typ := range []Type{TypeUnspecified, Type(42)} {
		d := m.GetDriver(typ)
		require.NotNil(t, d)
		assert.Equal(t, TypeUnspecified, d.Type())
		assert.False(t, d.IsSupported(context.Background(), ussOnlyStorage, nil))
		assert.False(t, d.NeedsResetSecret())
		assert.False(t, d.NeedsRateLimiter())
		assert.False(t, d.IsDelaySupported())
		assert.True(t, d.ConvertToWire(&Factor{Type: typ}).IsAbsent())

		_, err := d.BlockType(context.Background())
		assertDevCheck(t, err, locNoBlockType)
		_, err = d.GetFactorDelay(context.Background(), &Factor{Type: typ})
		assertDevCheck(t, err, locDelayUnsupported)
	}
}

func TestDriverTypes(t *testing.T) {
	m := NewDriverManager(Env{})
	for typ := TypePassword; typ <= TypeFingerprint; typ++ {
		assert.Equal(t, typ, m.GetDriver(typ).Type(), typ.String())
	}
}

func TestDriverCapabilities(t *testing.T) {
	m := NewDriverManager(Env{})
	tests := []struct {
		typ                  Type
		resetSecret, limiter bool
		delay, expiration    bool
		arity                LabelArity
	}{
		{TypePassword, false, false, false, false, LabelAritySingle},
		{TypePin, true, false, true, false, LabelAritySingle},
		{TypeKiosk, false, false, false, false, LabelAritySingle},
		{TypeSmartCard, false, false, false, false, LabelAritySingle},
		{TypeCryptohomeRecovery, false, false, false, false, LabelAritySingle},
		{TypeLegacyFingerprint, false, false, false, false, LabelArityNone},
		{TypeFingerprint, false, true, true, true, LabelArityMultiple},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			d := m.GetDriver(tt.typ)
			assert.Equal(t, tt.resetSecret, d.NeedsResetSecret())
			assert.Equal(t, tt.limiter, d.NeedsRateLimiter())
			assert.Equal(t, tt.delay, d.IsDelaySupported())
			assert.Equal(t, tt.expiration, d.IsExpirationSupported())
			assert.Equal(t, tt.arity, d.LabelArity())
		})
	}
}

func TestIsSupportedRules(t *testing.T) {
	deps, le := newDeps(t)
	m := newManager(t, deps, le, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		typ        Type
		storage    []StorageType
		configured []Type
		want       bool
	}{
		{"password", TypePassword, vkStorage, nil, true},
		{"password with kiosk", TypePassword, vkStorage, []Type{TypeKiosk}, false},
		{"pin", TypePin, ussOnlyStorage, []Type{TypePassword}, true},
		{"pin with kiosk", TypePin, ussOnlyStorage, []Type{TypeKiosk}, false},
		{"kiosk alone", TypeKiosk, ussOnlyStorage, nil, true},
		{"kiosk next to kiosk", TypeKiosk, ussOnlyStorage, []Type{TypeKiosk}, true},
		{"kiosk with password", TypeKiosk, ussOnlyStorage, []Type{TypePassword}, false},
		{"smart card on vault keysets", TypeSmartCard, vkStorage, nil, true},
		{"smart card on uss", TypeSmartCard, ussOnlyStorage, []Type{TypePassword}, true},
		{"recovery on uss", TypeCryptohomeRecovery, ussOnlyStorage, []Type{TypePassword}, true},
		{"recovery on vault keysets", TypeCryptohomeRecovery, vkStorage, nil, false},
		{"recovery on mixed storage", TypeCryptohomeRecovery, mixedStorage, nil, false},
		{"recovery without storage", TypeCryptohomeRecovery, nil, nil, false},
		{"recovery with kiosk", TypeCryptohomeRecovery, ussOnlyStorage, []Type{TypeKiosk}, false},
		{"fingerprint on uss", TypeFingerprint, ussOnlyStorage, []Type{TypePassword}, true},
		{"fingerprint on vault keysets", TypeFingerprint, vkStorage, nil, false},
		{"fingerprint with kiosk", TypeFingerprint, ussOnlyStorage, []Type{TypeKiosk}, false},
		{"legacy fingerprint", TypeLegacyFingerprint, ussOnlyStorage, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.GetDriver(tt.typ).IsSupported(ctx, tt.storage, tt.configured)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsSupportedFollowsHardware(t *testing.T) {
	ctx := context.Background()

	t.Run("no challenge service", func(t *testing.T) {
		deps, le := newDeps(t)
		deps.Challenge = nil
		m := newManager(t, deps, le, nil)
		assert.False(t, m.GetDriver(TypeSmartCard).IsSupported(ctx, vkStorage, nil))
	})

	t.Run("pinweaver disabled", func(t *testing.T) {
		deps, le := newDeps(t)
		pw, err := pinweaver.New(storage.NewMemory(), pinweaver.WithEnabled(false), pinweaver.WithLogger(logging.Discard()))
		require.NoError(t, err)
		deps.PinWeaver = pw
		m := newManager(t, deps, le, nil)
		assert.False(t, m.GetDriver(TypePin).IsSupported(ctx, ussOnlyStorage, nil))
	})

	t.Run("no biometrics", func(t *testing.T) {
		deps, le := newDeps(t)
		deps.Biometrics = nil
		m := newManager(t, deps, le, nil)
		assert.False(t, m.GetDriver(TypeFingerprint).IsSupported(ctx, ussOnlyStorage, nil))
		_, err := m.GetDriver(TypeFingerprint).BlockType(ctx)
		require.Error(t, err)
		assert.Contains(t, status.Locations(err), locBlockTypeUnsupported)
	})

	t.Run("no dispatcher", func(t *testing.T) {
		m := NewDriverManager(Env{})
		for typ := TypePassword; typ <= TypeFingerprint; typ++ {
			assert.False(t, m.GetDriver(typ).IsSupported(ctx, ussOnlyStorage, nil), typ.String())
		}
	})
}

func TestSupportedTypes(t *testing.T) {
	deps, le := newDeps(t)
	m := newManager(t, deps, le, nil)
	ctx := context.Background()

	assert.Equal(t,
		[]Type{TypePassword, TypePin, TypeKiosk, TypeSmartCard, TypeCryptohomeRecovery, TypeFingerprint},
		m.SupportedTypes(ctx, ussOnlyStorage, nil))
	assert.Equal(t,
		[]Type{TypePassword, TypePin, TypeSmartCard},
		m.SupportedTypes(ctx, vkStorage, []Type{TypePassword}))
	assert.Equal(t,
		[]Type{TypeKiosk, TypeSmartCard},
		m.SupportedTypes(ctx, ussOnlyStorage, []Type{TypeKiosk}))
}

func TestBlockType(t *testing.T) {
	deps, le := newDeps(t)
	m := newManager(t, deps, le, nil)
	ctx := context.Background()

	tests := []struct {
		typ  Type
		want authblock.Type
	}{
		{TypePassword, authblock.TypeTpmEcc},
		{TypeKiosk, authblock.TypeTpmEcc},
		{TypePin, authblock.TypePinWeaver},
		{TypeSmartCard, authblock.TypeChallengeCredential},
		{TypeCryptohomeRecovery, authblock.TypeCryptohomeRecovery},
		{TypeFingerprint, authblock.TypeFingerprint},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := m.GetDriver(tt.typ).BlockType(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := m.GetDriver(TypeLegacyFingerprint).BlockType(ctx)
	assertDevCheck(t, err, locNoBlockType)
}

func pinFactor(label uint64) *Factor {
	return &Factor{
		Type:     TypePin,
		Label:    "pin",
		Username: testUser,
		Metadata: Metadata{Typed: PinMetadata{}},
		State:    &authblock.State{Type: authblock.TypePinWeaver, Variant: &authblock.PinWeaverState{LELabel: label}},
	}
}

func TestPinDelay(t *testing.T) {
	ctx := context.Background()
	le := &mocks.MockCredentialManager{}
	m := NewDriverManager(Env{LE: le})
	d := m.GetDriver(TypePin)

	le.GetDelayInSecondsFunc = func(ctx context.Context, label uint64) (uint32, error) {
		return 30, nil
	}
	delay, err := d.GetFactorDelay(ctx, pinFactor(7))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, delay)

	le.GetDelayInSecondsFunc = func(ctx context.Context, label uint64) (uint32, error) {
		return math.MaxUint32, nil
	}
	delay, err = d.GetFactorDelay(ctx, pinFactor(7))
	require.NoError(t, err)
	assert.Equal(t, InfiniteDelay, delay)

	cause := status.New(locTestDelayRead).
		WithKind(status.KindHardwareCredential).
		WithActions(status.ActionRetry).
		Wrap(errors.New("comm"))
	le.GetDelayInSecondsFunc = func(ctx context.Context, label uint64) (uint32, error) {
		return 0, cause
	}
	_, err = d.GetFactorDelay(ctx, pinFactor(7))
	require.Error(t, err)
	assert.Contains(t, status.Locations(err), locPinDelayReadFailed)
	assert.True(t, status.ContainsAction(err, status.ActionRetry))
}

func TestPinDelayRejectsMalformedFactors(t *testing.T) {
	ctx := context.Background()
	le := &mocks.MockCredentialManager{}
	d := NewDriverManager(Env{LE: le}).GetDriver(TypePin)

	wrongType := pinFactor(7)
	wrongType.Type = TypePassword
	_, err := d.GetFactorDelay(ctx, wrongType)
	assertDevCheck(t, err, locPinDelayWrongType)

	wrongState := pinFactor(7)
	wrongState.State = &authblock.State{Type: authblock.TypeScrypt, Variant: &authblock.ScryptState{}}
	_, err = d.GetFactorDelay(ctx, wrongState)
	assertDevCheck(t, err, locPinDelayWrongState)

	noState := pinFactor(7)
	noState.State = nil
	_, err = d.GetFactorDelay(ctx, noState)
	assertDevCheck(t, err, locPinDelayWrongState)

	_, err = d.GetFactorDelay(ctx, pinFactor(0))
	assertDevCheck(t, err, locPinDelayMissingLabel)
}

func TestPinDelayTracksLockout(t *testing.T) {
	deps, le := newDeps(t)
	m := newManager(t, deps, le, nil)
	ctx := context.Background()

	block := authblock.NewPinWeaverAuthBlock(le, deps)
	in := authblock.AuthInput{
		UserInput:          mo.Some([]byte("1234")),
		ObfuscatedUsername: mo.Some(testUser),
	}
	blobs, state, err := block.Create(ctx, in)
	require.NoError(t, err)
	blobs.Clear()

	f := pinFactor(0)
	f.State = state
	delay, err := m.GetDriver(TypePin).GetFactorDelay(ctx, f)
	require.NoError(t, err)
	assert.Zero(t, delay)

	wrong := in
	wrong.UserInput = mo.Some([]byte("0000"))
	for range 5 {
		_, err := block.Derive(ctx, wrong, state)
		require.Error(t, err)
	}
	delay, err = m.GetDriver(TypePin).GetFactorDelay(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, InfiniteDelay, delay)
}

func fingerprintFactor() *Factor {
	return &Factor{
		Type:     TypeFingerprint,
		Label:    "fp-1",
		Username: testUser,
		Metadata: Metadata{Typed: FingerprintMetadata{}},
		State:    &authblock.State{Type: authblock.TypeFingerprint, Variant: &authblock.FingerprintState{TemplateID: "t1", GSCSecretLabel: 3}},
	}
}

func TestFingerprintDelayUsesRateLimiter(t *testing.T) {
	ctx := context.Background()
	le := &mocks.MockCredentialManager{}
	var asked []uint64
	le.GetDelayInSecondsFunc = func(ctx context.Context, label uint64) (uint32, error) {
		asked = append(asked, label)
		return 10, nil
	}
	d := NewDriverManager(Env{LE: le, RateLimiters: staticLookup(9)}).GetDriver(TypeFingerprint)

	delay, err := d.GetFactorDelay(ctx, fingerprintFactor())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, delay)
	assert.Equal(t, []uint64{9}, asked, "delay must come from the rate limiter leaf")
}

func TestFingerprintDelayErrors(t *testing.T) {
	ctx := context.Background()
	le := &mocks.MockCredentialManager{}
	none := lookupFunc(func(context.Context, string) (mo.Option[uint64], error) {
		return mo.None[uint64](), nil
	})

	d := NewDriverManager(Env{LE: le, RateLimiters: staticLookup(9)}).GetDriver(TypeFingerprint)
	_, err := d.GetFactorDelay(ctx, pinFactor(7))
	assertDevCheck(t, err, locFpDelayWrongType)

	wrongState := fingerprintFactor()
	wrongState.State = pinFactor(7).State
	_, err = d.GetFactorDelay(ctx, wrongState)
	assertDevCheck(t, err, locFpDelayWrongState)

	noUser := fingerprintFactor()
	noUser.Username = ""
	_, err = d.GetFactorDelay(ctx, noUser)
	assertDevCheck(t, err, locFpDelayNoUsername)

	d = NewDriverManager(Env{LE: le, RateLimiters: none}).GetDriver(TypeFingerprint)
	_, err = d.GetFactorDelay(ctx, fingerprintFactor())
	assertDevCheck(t, err, locFpDelayMissingLabel)

	d = NewDriverManager(Env{LE: le}).GetDriver(TypeFingerprint)
	_, err = d.GetFactorDelay(ctx, fingerprintFactor())
	assertDevCheck(t, err, locFpDelayLookupFailed)
}

func TestFingerprintExpiration(t *testing.T) {
	ctx := context.Background()
	le := &mocks.MockCredentialManager{}
	d := NewDriverManager(Env{LE: le, RateLimiters: staticLookup(9)}).GetDriver(TypeFingerprint)

	le.GetExpirationInSecondsFunc = func(ctx context.Context, label uint64) (mo.Option[uint32], error) {
		return mo.Some[uint32](120), nil
	}
	left, err := d.GetTimeUntilExpiration(ctx, fingerprintFactor())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, left)

	le.GetExpirationInSecondsFunc = func(ctx context.Context, label uint64) (mo.Option[uint32], error) {
		return mo.None[uint32](), nil
	}
	left, err = d.GetTimeUntilExpiration(ctx, fingerprintFactor())
	require.NoError(t, err)
	assert.Equal(t, InfiniteDelay, left)

	_, err = NewDriverManager(Env{LE: le}).GetDriver(TypePin).GetTimeUntilExpiration(ctx, pinFactor(7))
	assertDevCheck(t, err, locExpiryUnsupported)
}

func TestParseType(t *testing.T) {
	for typ := TypePassword; typ <= TypeFingerprint; typ++ {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("unspecified")
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = ParseType("retina")
	assert.ErrorIs(t, err, ErrUnknownType)
}
