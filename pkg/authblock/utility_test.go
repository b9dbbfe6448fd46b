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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authblock/pkg/audit"
	swhwsec "github.com/jeremyhahn/go-authblock/pkg/hwsec/software"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/sequence"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

func newTestUtility(t *testing.T, e *testEnv, opts ...UtilityOption) *Utility {
	t.Helper()
	opts = append([]UtilityOption{WithUtilityLogger(logging.Discard())}, opts...)
	u := NewUtility(e.generic, opts...)
	t.Cleanup(u.Close)
	return u
}

func TestAsyncCallbacksRunOnSequence(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	runner := sequence.New()
	defer runner.Close()
	u := newTestUtility(t, e, WithSequence(runner))

	release := make(chan struct{})
	require.NoError(t, runner.Post(func() { <-release }))

	var called atomic.Bool
	var (
		gotErr   error
		gotBlobs *KeyBlobs
		gotState *State
	)
	u.CreateKeyBlobsWithAuthBlockAsync(ctx, TypeScrypt, passwordInput(testPass), func(err error, blobs *KeyBlobs, state *State) {
		gotErr, gotBlobs, gotState = err, blobs, state
		called.Store(true)
	})

	assert.Never(t, called.Load, 100*time.Millisecond, 10*time.Millisecond)
	close(release)
	require.Eventually(t, called.Load, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, gotErr)
	require.NotNil(t, gotState)

	var (
		wg      sync.WaitGroup
		derived *KeyBlobs
	)
	wg.Add(1)
	u.DeriveKeyBlobsWithAuthBlockAsync(ctx, TypeScrypt, passwordInput(testPass), gotState, func(err error, blobs *KeyBlobs) {
		defer wg.Done()
		assert.NoError(t, err)
		derived = blobs
	})
	wg.Wait()
	assertSameKeys(t, gotBlobs, derived)
}

func TestAsyncCreateFailureHasNoOutputs(t *testing.T) {
	e := newTestEnv(t)
	u := newTestUtility(t, e)

	done := make(chan struct{})
	u.CreateKeyBlobsWithAuthBlockAsync(context.Background(), TypePinWeaver, AuthInput{}, func(err error, blobs *KeyBlobs, state *State) {
		defer close(done)
		assert.Error(t, err)
		assert.Nil(t, blobs)
		assert.Nil(t, state)
	})
	<-done
}

// partialBlock reports success without a state.
type partialBlock struct{ *ScryptAuthBlock }

func (partialBlock) Create(context.Context, AuthInput) (*KeyBlobs, *State, error) {
	return &KeyBlobs{VkkKey: []byte("k")}, nil, nil
}

func TestCreateWithoutStateIsAnError(t *testing.T) {
	e := newTestEnv(t)
	d := DefaultDescriptors()[5]
	d.New = func(_ AuthInput, deps *Deps) AuthBlock { return partialBlock{NewScryptAuthBlock(deps)} }
	u := NewUtility(NewGeneric(e.deps, d), WithUtilityLogger(logging.Discard()))
	defer u.Close()

	blobs, state, err := u.CreateKeyBlobsWithAuthBlock(context.Background(), TypeScrypt, passwordInput(testPass))
	require.Error(t, err)
	assert.Nil(t, blobs)
	assert.Nil(t, state)
	assert.True(t, status.ContainsAction(err, status.ActionDevCheckUnexpectedState))
}

func TestDeriveChecksStateType(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	u := newTestUtility(t, e)

	_, state, err := u.CreateKeyBlobsWithAuthBlock(ctx, TypeScrypt, passwordInput(testPass))
	require.NoError(t, err)

	_, err = u.DeriveKeyBlobsWithAuthBlock(ctx, TypeTpmEcc, passwordInput(testPass), state)
	require.Error(t, err)
	assert.True(t, status.IsCallerError(err))

	_, err = u.DeriveKeyBlobsWithAuthBlock(ctx, TypeScrypt, passwordInput(testPass), nil)
	assert.True(t, status.IsCallerError(err))

	_, err = u.DeriveKeyBlobsWithAuthBlock(ctx, TypeScrypt, passwordInput(wrongSecret), state)
	require.Error(t, err)
	assert.True(t, status.ContainsAction(err, status.ActionAuth))
}

func TestUtilityAudit(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	mem := audit.NewMemoryAdapter()
	u := newTestUtility(t, e, WithUtilityAuditor(mem))

	_, state, err := u.CreateKeyBlobsWithAuthBlock(ctx, TypeScrypt, passwordInput(testPass))
	require.NoError(t, err)
	_, err = u.DeriveKeyBlobsWithAuthBlock(ctx, TypeScrypt, passwordInput(wrongSecret), state)
	require.Error(t, err)

	creates := mem.Events(audit.EventAuthBlockCreate)
	require.Len(t, creates, 1)
	assert.Equal(t, testUser, creates[0].Principal)
	assert.Equal(t, audit.OutcomeSuccess, creates[0].Outcome)

	derives := mem.Events(audit.EventAuthBlockDerive)
	require.Len(t, derives, 1)
	assert.Equal(t, audit.OutcomeFailure, derives[0].Outcome)
	assert.NotEmpty(t, derives[0].Locations)
}

func TestPrepareAuthBlockForRemoval(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	u := newTestUtility(t, e)

	_, state, err := u.CreateKeyBlobsWithAuthBlock(ctx, TypePinWeaver, passwordInput(testPIN))
	require.NoError(t, err)
	require.NoError(t, u.PrepareAuthBlockForRemoval(ctx, state))
	labels, err := e.pw.Labels()
	require.NoError(t, err)
	assert.Empty(t, labels)

	assert.True(t, status.IsCallerError(u.PrepareAuthBlockForRemoval(ctx, &State{})))
}

// Removal only sees the persisted state, never the input used to create it.
func TestPrepareAuthBlockForRemovalEveryType(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	u := newTestUtility(t, e)

	states := map[Type]*State{
		TypeDoubleWrappedCompat: {Type: TypeDoubleWrappedCompat, Variant: &DoubleWrappedCompatState{}},
	}
	creators := map[Type]AuthInput{
		TypePinWeaver:           passwordInput(testPIN),
		TypeChallengeCredential: e.challengeInput(),
		TypeTpmBoundToPcr:       passwordInput(testPass),
		TypeTpmNotBoundToPcr:    passwordInput(testPass),
		TypeScrypt:              passwordInput(testPass),
		TypeCryptohomeRecovery:  e.recoveryCreateInput(),
		TypeTpmEcc:              passwordInput(testPass),
	}
	for typ, in := range creators {
		_, state, err := u.CreateKeyBlobsWithAuthBlock(ctx, typ, in)
		require.NoError(t, err, typ.String())
		states[typ] = state
	}

	rl := e.insertRateLimiter(t)
	token := e.enroll(t)
	_, state, err := u.CreateKeyBlobsWithAuthBlock(ctx, TypeFingerprint, fingerprintInput(rl))
	token.Terminate()
	require.NoError(t, err)
	states[TypeFingerprint] = state

	for _, typ := range e.generic.Types() {
		state, ok := states[typ]
		require.True(t, ok, "no state for %s", typ)
		assert.NoError(t, u.PrepareAuthBlockForRemoval(ctx, state), typ.String())
	}

	// Only the rate limiter leaf is left.
	labels, err := e.pw.Labels()
	require.NoError(t, err)
	assert.Equal(t, []uint64{rl}, labels)
}

func TestGetAuthBlockTypeForCreation(t *testing.T) {
	ctx := context.Background()

	t.Run("full hardware", func(t *testing.T) {
		u := newTestUtility(t, newTestEnv(t))
		tests := []struct {
			le, recovery, challenge bool
			want                    Type
		}{
			{true, false, false, TypePinWeaver},
			{false, true, false, TypeCryptohomeRecovery},
			{false, false, true, TypeChallengeCredential},
			{false, false, false, TypeTpmEcc},
		}
		for _, tt := range tests {
			got, err := u.GetAuthBlockTypeForCreation(ctx, tt.le, tt.recovery, tt.challenge)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		}
	})

	t.Run("fallbacks", func(t *testing.T) {
		e := newTestEnv(t)
		noECC, err := swhwsec.New(swhwsec.WithECC(false))
		require.NoError(t, err)
		e.deps.Hwsec = noECC
		u := newTestUtility(t, e)
		got, err := u.GetAuthBlockTypeForCreation(ctx, false, false, false)
		require.NoError(t, err)
		assert.Equal(t, TypeTpmBoundToPcr, got)

		noSealing, err := swhwsec.New(swhwsec.WithECC(false), swhwsec.WithSealing(false))
		require.NoError(t, err)
		e.deps.Hwsec = noSealing
		got, err = u.GetAuthBlockTypeForCreation(ctx, false, false, false)
		require.NoError(t, err)
		assert.Equal(t, TypeTpmNotBoundToPcr, got)

		e.deps.Hwsec = nil
		got, err = u.GetAuthBlockTypeForCreation(ctx, false, false, false)
		require.NoError(t, err)
		assert.Equal(t, TypeScrypt, got)

		e.deps.LE = nil
		_, err = u.GetAuthBlockTypeForCreation(ctx, true, false, false)
		require.Error(t, err)
	})
}

func TestSupportedTypes(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	u := newTestUtility(t, e)
	assert.Equal(t, []Type{
		TypePinWeaver, TypeChallengeCredential, TypeDoubleWrappedCompat, TypeTpmBoundToPcr,
		TypeTpmNotBoundToPcr, TypeScrypt, TypeCryptohomeRecovery, TypeTpmEcc, TypeFingerprint,
	}, u.SupportedTypes(ctx))

	e.deps.Hwsec = nil
	e.deps.Challenge = nil
	assert.Equal(t, []Type{TypePinWeaver, TypeScrypt, TypeFingerprint}, u.SupportedTypes(ctx))
}

func TestDoubleWrappedFallsBackToTpm(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	u := newTestUtility(t, e)

	scryptBlobs, scryptState, err := NewScryptAuthBlock(e.deps).Create(ctx, passwordInput(testPass))
	require.NoError(t, err)
	tpmBlobs, tpmState, err := NewTpmNotBoundToPcrAuthBlock(e.hw, e.deps).Create(ctx, passwordInput(testPass))
	require.NoError(t, err)

	dw := &DoubleWrappedCompatState{
		Scrypt: *scryptState.Variant.(*ScryptState),
		Tpm:    *tpmState.Variant.(*TpmNotBoundToPcrState),
	}
	state := &State{Type: TypeDoubleWrappedCompat, Variant: dw}

	blobs, err := u.DeriveKeyBlobsWithAuthBlock(ctx, TypeDoubleWrappedCompat, passwordInput(testPass), state)
	require.NoError(t, err)
	assertSameKeys(t, scryptBlobs, blobs)

	dw.Scrypt.Salt = []byte("a different salt")
	blobs, err = u.DeriveKeyBlobsWithAuthBlock(ctx, TypeDoubleWrappedCompat, passwordInput(testPass), state)
	require.NoError(t, err)
	assertSameKeys(t, tpmBlobs, blobs)

	_, err = u.DeriveKeyBlobsWithAuthBlock(ctx, TypeDoubleWrappedCompat, passwordInput(wrongSecret), state)
	require.Error(t, err)
	assert.True(t, status.ContainsAction(err, status.ActionAuth))

	_, _, err = u.CreateKeyBlobsWithAuthBlock(ctx, TypeDoubleWrappedCompat, AuthInput{
		UserInput: mo.Some([]byte(testPass)),
	})
	assert.True(t, status.IsCallerError(err))
}
