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

package pinweaver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
	"github.com/jeremyhahn/go-authblock/pkg/storage/mocks"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFrontend(t *testing.T, store storage.Backend) (*Frontend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f, err := New(store, WithClock(clock.Now), WithLogger(logging.Discard()))
	require.NoError(t, err)
	return f, clock
}

func insertPIN(t *testing.T, f *Frontend, sched hwsec.DelaySchedule) uint64 {
	t.Helper()
	label, err := f.InsertLeaf(context.Background(), hwsec.InsertLeafRequest{
		LowEntropySecret:  []byte("1234"),
		HighEntropySecret: []byte("high-entropy-secret"),
		ResetSecret:       []byte("reset-secret"),
		DelaySchedule:     sched,
	})
	require.NoError(t, err)
	return label
}

func codeOf(t *testing.T, err error) hwsec.Code {
	t.Helper()
	require.Error(t, err)
	code, ok := hwsec.CodeOf(err)
	require.True(t, ok, "not an hwsec error: %v", err)
	return code
}

func TestInsertAndCheck(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontend(t, storage.NewMemory())

	label := insertPIN(t, f, hwsec.DelaySchedule{5: hwsec.InfiniteDelay})
	assert.NotZero(t, label)

	reply, err := f.CheckLeaf(ctx, label, []byte("1234"))
	require.NoError(t, err)
	assert.Equal(t, []byte("high-entropy-secret"), reply.HighEntropySecret)
	assert.Equal(t, []byte("reset-secret"), reply.ResetSecret)

	second := insertPIN(t, f, hwsec.DelaySchedule{5: hwsec.InfiniteDelay})
	assert.NotEqual(t, label, second)

	labels, err := f.Labels()
	require.NoError(t, err)
	assert.Equal(t, []uint64{label, second}, labels)
}

func TestInsertRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontend(t, storage.NewMemory())

	_, err := f.InsertLeaf(ctx, hwsec.InsertLeafRequest{
		LowEntropySecret:  []byte("1"),
		HighEntropySecret: []byte("2"),
		ResetSecret:       []byte("3"),
		DelaySchedule:     hwsec.DelaySchedule{3: 60, 5: 10},
	})
	assert.Equal(t, hwsec.CodeInvalidArgument, codeOf(t, err))

	_, err = f.InsertLeaf(ctx, hwsec.InsertLeafRequest{DelaySchedule: hwsec.DelaySchedule{5: 1}})
	assert.Equal(t, hwsec.CodeInvalidArgument, codeOf(t, err))
}

func TestWrongSecretCountsUntilLockout(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontend(t, storage.NewMemory())
	label := insertPIN(t, f, hwsec.DelaySchedule{5: hwsec.InfiniteDelay})

	for i := uint32(1); i <= 4; i++ {
		_, err := f.CheckLeaf(ctx, label, []byte("0000"))
		assert.Equal(t, hwsec.CodeInvalidLESecret, codeOf(t, err))

		attempts, err := f.GetWrongAuthAttempts(ctx, label)
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
	}

	_, err := f.CheckLeaf(ctx, label, []byte("0000"))
	assert.Equal(t, hwsec.CodeTooManyAttempts, codeOf(t, err))

	// The correct secret no longer works
	_, err = f.CheckLeaf(ctx, label, []byte("1234"))
	assert.Equal(t, hwsec.CodeTooManyAttempts, codeOf(t, err))

	delay, err := f.GetDelayInSeconds(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, hwsec.InfiniteDelay, delay)

	// Checks while locked are not counted
	attempts, err := f.GetWrongAuthAttempts(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), attempts)

	err = f.ResetLeaf(ctx, label, []byte("wrong-reset"), false)
	assert.Equal(t, hwsec.CodeInvalidResetSecret, codeOf(t, err))

	require.NoError(t, f.ResetLeaf(ctx, label, []byte("reset-secret"), false))
	_, err = f.CheckLeaf(ctx, label, []byte("1234"))
	assert.NoError(t, err)
}

func TestSuccessClearsCounter(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontend(t, storage.NewMemory())
	label := insertPIN(t, f, hwsec.DelaySchedule{5: hwsec.InfiniteDelay})

	_, _ = f.CheckLeaf(ctx, label, []byte("bad"))
	_, _ = f.CheckLeaf(ctx, label, []byte("bad"))
	_, err := f.CheckLeaf(ctx, label, []byte("1234"))
	require.NoError(t, err)

	attempts, err := f.GetWrongAuthAttempts(ctx, label)
	require.NoError(t, err)
	assert.Zero(t, attempts)
}

func TestFiniteDelayWindow(t *testing.T) {
	ctx := context.Background()
	f, clock := newTestFrontend(t, storage.NewMemory())
	label := insertPIN(t, f, hwsec.DelaySchedule{2: 30, 4: hwsec.InfiniteDelay})

	_, _ = f.CheckLeaf(ctx, label, []byte("bad"))
	_, err := f.CheckLeaf(ctx, label, []byte("bad"))
	assert.Equal(t, hwsec.CodeInvalidLESecret, codeOf(t, err))

	delay, err := f.GetDelayInSeconds(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), delay)

	_, err = f.CheckLeaf(ctx, label, []byte("1234"))
	assert.Equal(t, hwsec.CodeTooManyAttempts, codeOf(t, err))
	assert.True(t, hwsec.IsRetriable(err))
	var he *hwsec.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, uint32(30), he.Delay)

	clock.Advance(10 * time.Second)
	delay, err = f.GetDelayInSeconds(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), delay)

	clock.Advance(21 * time.Second)
	_, err = f.CheckLeaf(ctx, label, []byte("1234"))
	assert.NoError(t, err)
}

func TestCorruptedLeafIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	f, _ := newTestFrontend(t, store)
	first := insertPIN(t, f, hwsec.DelaySchedule{5: hwsec.InfiniteDelay})
	second := insertPIN(t, f, hwsec.DelaySchedule{5: hwsec.InfiniteDelay})

	raw, err := store.Get(leafKey(first))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, store.Put(leafKey(first), raw, nil))

	_, err = f.CheckLeaf(ctx, first, []byte("1234"))
	assert.Equal(t, hwsec.CodeHashTree, codeOf(t, err))

	_, err = f.CheckLeaf(ctx, second, []byte("1234"))
	assert.NoError(t, err)

	// A corrupted leaf can still be removed
	require.NoError(t, f.RemoveLeaf(ctx, first))
}

func TestPartialInsert(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockBackend()
	f, _ := newTestFrontend(t, store)
	store.PutFunc = func(key string, _ []byte) error {
		if key == keyIndex {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.InsertLeaf(ctx, hwsec.InsertLeafRequest{
		LowEntropySecret:  []byte("1234"),
		HighEntropySecret: []byte("he"),
		ResetSecret:       []byte("rs"),
		DelaySchedule:     hwsec.DelaySchedule{5: hwsec.InfiniteDelay},
	})
	assert.Equal(t, hwsec.CodePartialInsert, codeOf(t, err))
	var he *hwsec.Error
	require.ErrorAs(t, err, &he)
	orphan := he.Label
	assert.NotZero(t, orphan)

	// The orphaned leaf is not usable but can be rolled back
	_, err = f.CheckLeaf(ctx, orphan, []byte("1234"))
	assert.Equal(t, hwsec.CodeInvalidLabel, codeOf(t, err))

	store.PutFunc = nil
	require.NoError(t, f.RemoveLeaf(ctx, orphan))
	err = f.RemoveLeaf(ctx, orphan)
	assert.Equal(t, hwsec.CodeInvalidLabel, codeOf(t, err))
}

func TestRemoveUnknownLabel(t *testing.T) {
	f, _ := newTestFrontend(t, storage.NewMemory())
	err := f.RemoveLeaf(context.Background(), 99)
	assert.Equal(t, hwsec.CodeInvalidLabel, codeOf(t, err))
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	f, _ := newTestFrontend(t, store)
	label := insertPIN(t, f, hwsec.DelaySchedule{5: hwsec.InfiniteDelay})
	_, _ = f.CheckLeaf(ctx, label, []byte("bad"))

	reopened, _ := newTestFrontend(t, store)
	attempts, err := reopened.GetWrongAuthAttempts(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), attempts)

	_, err = reopened.CheckLeaf(ctx, label, []byte("1234"))
	assert.NoError(t, err)
}

func TestExpiration(t *testing.T) {
	ctx := context.Background()
	f, clock := newTestFrontend(t, storage.NewMemory())
	label, err := f.InsertLeaf(ctx, hwsec.InsertLeafRequest{
		LowEntropySecret:  []byte("1234"),
		HighEntropySecret: []byte("he"),
		ResetSecret:       []byte("rs"),
		DelaySchedule:     hwsec.DelaySchedule{5: hwsec.InfiniteDelay},
		Expiration:        time.Hour,
	})
	require.NoError(t, err)

	exp, err := f.GetExpirationInSeconds(ctx, label)
	require.NoError(t, err)
	assert.Equal(t, uint32(3600), exp.MustGet())

	clock.Advance(2 * time.Hour)
	_, err = f.CheckLeaf(ctx, label, []byte("1234"))
	assert.Equal(t, hwsec.CodeExpired, codeOf(t, err))

	require.NoError(t, f.ResetLeaf(ctx, label, []byte("rs"), true))
	_, err = f.CheckLeaf(ctx, label, []byte("1234"))
	assert.NoError(t, err)
}

func TestBiometricsAuth(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrontend(t, storage.NewMemory())
	label, err := f.InsertRateLimiter(ctx, hwsec.InsertRateLimiterRequest{
		AuthChannel:   0,
		ResetSecret:   []byte("rs"),
		DelaySchedule: hwsec.DelaySchedule{5: hwsec.InfiniteDelay},
	})
	require.NoError(t, err)

	clientNonce := []byte("client-nonce-0123456789abcdef012")
	first, err := f.StartBiometricsAuth(ctx, 0, label, clientNonce)
	require.NoError(t, err)
	assert.Len(t, first.ServerNonce, nonceSize)
	assert.Len(t, first.IV, ivSize)

	nonces := append(append([]byte{}, clientNonce...), first.ServerNonce...)
	secret, err := EncryptSessionSecret(f.PairingKey(0), nonces, first.IV, first.EncryptedHESecret)
	require.NoError(t, err)
	assert.Len(t, secret, sha256.Size)

	second, err := f.StartBiometricsAuth(ctx, 0, label, clientNonce)
	require.NoError(t, err)
	assert.NotEqual(t, first.ServerNonce, second.ServerNonce)
	assert.NotEqual(t, first.EncryptedHESecret, second.EncryptedHESecret)

	nonces = append(append([]byte{}, clientNonce...), second.ServerNonce...)
	again, err := EncryptSessionSecret(f.PairingKey(0), nonces, second.IV, second.EncryptedHESecret)
	require.NoError(t, err)
	assert.Equal(t, secret, again, "label seed is stable across sessions")

	attempts, err := f.GetWrongAuthAttempts(ctx, label)
	require.NoError(t, err)
	assert.Zero(t, attempts)

	_, err = f.StartBiometricsAuth(ctx, 1, label, clientNonce)
	assert.Equal(t, hwsec.CodeInvalidMetadata, codeOf(t, err))

	// Rate limiter leaves cannot be checked with a PIN
	_, err = f.CheckLeaf(ctx, label, []byte("x"))
	assert.Equal(t, hwsec.CodeInvalidMetadata, codeOf(t, err))

	assert.False(t, hmac.Equal(f.PairingKey(0), f.PairingKey(1)))
}
