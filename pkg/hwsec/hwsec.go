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

// Package hwsec defines the narrow interfaces to the hardware security
// frontends used by auth blocks: the sealing frontend (TPM or software) and
// the PinWeaver low-entropy credential frontend.
package hwsec

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/mo"
)

// InfiniteDelay is the delay value that locks a leaf permanently.
const InfiniteDelay uint32 = math.MaxUint32

// DelaySchedule maps a wrong attempt count to the delay in seconds that
// applies once that many wrong attempts were made.
type DelaySchedule map[uint32]uint32

// Validate checks that the schedule is non-empty and that delays never
// decrease as the attempt count grows.
func (d DelaySchedule) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("delay schedule is empty")
	}
	attempts := d.sortedAttempts()
	if attempts[0] == 0 {
		return fmt.Errorf("delay schedule entry at zero attempts")
	}
	for i := 1; i < len(attempts); i++ {
		if d[attempts[i]] < d[attempts[i-1]] {
			return fmt.Errorf("delay schedule decreases at %d attempts (%d < %d)",
				attempts[i], d[attempts[i]], d[attempts[i-1]])
		}
	}
	return nil
}

// DelayFor returns the delay that applies after attempts wrong attempts.
func (d DelaySchedule) DelayFor(attempts uint32) uint32 {
	var delay uint32
	for _, a := range d.sortedAttempts() {
		if a > attempts {
			break
		}
		delay = d[a]
	}
	return delay
}

// LockoutThreshold returns the attempt count that locks the leaf
// permanently, if any.
func (d DelaySchedule) LockoutThreshold() (uint32, bool) {
	for _, a := range d.sortedAttempts() {
		if d[a] == InfiniteDelay {
			return a, true
		}
	}
	return 0, false
}

// Clone returns a copy of the schedule.
func (d DelaySchedule) Clone() DelaySchedule {
	out := make(DelaySchedule, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d DelaySchedule) sortedAttempts() []uint32 {
	keys := make([]uint32, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// InsertLeafRequest describes a new low-entropy credential leaf.
type InsertLeafRequest struct {
	LowEntropySecret  []byte
	HighEntropySecret []byte
	ResetSecret       []byte
	DelaySchedule     DelaySchedule
	// Expiration is zero for leaves that never expire.
	Expiration time.Duration
}

// InsertRateLimiterRequest describes a biometrics rate-limiter leaf.
type InsertRateLimiterRequest struct {
	AuthChannel   uint8
	ResetSecret   []byte
	DelaySchedule DelaySchedule
	Expiration    time.Duration
}

// CheckLeafReply is returned by a successful CheckLeaf.
type CheckLeafReply struct {
	HighEntropySecret []byte
	ResetSecret       []byte
}

// StartBiometricsAuthReply carries the hardware-domain nonce material for a
// biometrics session.
type StartBiometricsAuthReply struct {
	ServerNonce       []byte
	IV                []byte
	EncryptedHESecret []byte
}

// PinWeaverFrontend is the low-level interface to the low-entropy credential
// store. Every method is a potential suspension point.
type PinWeaverFrontend interface {
	IsEnabled(ctx context.Context) (bool, error)
	IsBiometricsEnabled(ctx context.Context) (bool, error)
	InsertLeaf(ctx context.Context, req InsertLeafRequest) (uint64, error)
	CheckLeaf(ctx context.Context, label uint64, lowEntropySecret []byte) (*CheckLeafReply, error)
	ResetLeaf(ctx context.Context, label uint64, resetSecret []byte, strongReset bool) error
	RemoveLeaf(ctx context.Context, label uint64) error
	InsertRateLimiter(ctx context.Context, req InsertRateLimiterRequest) (uint64, error)
	StartBiometricsAuth(ctx context.Context, authChannel uint8, label uint64, clientNonce []byte) (*StartBiometricsAuthReply, error)
	GetDelayInSeconds(ctx context.Context, label uint64) (uint32, error)
	GetWrongAuthAttempts(ctx context.Context, label uint64) (uint32, error)
	GetExpirationInSeconds(ctx context.Context, label uint64) (mo.Option[uint32], error)
}

// PreloadedData is a sealed object loaded ahead of the unseal call.
type PreloadedData interface {
	Close() error
}

// CryptohomeFrontend is the sealing interface used by the TPM-backed auth
// blocks.
type CryptohomeFrontend interface {
	IsReady(ctx context.Context) (bool, error)
	IsSealingSupported(ctx context.Context) (bool, error)
	IsECCSupported(ctx context.Context) (bool, error)

	// GetPubkeyHash identifies the storage key. It changes when the TPM is
	// cleared.
	GetPubkeyHash(ctx context.Context) ([]byte, error)

	// GetAuthValue and GetECCAuthValue turn a pass blob into an auth value
	// through a key that never leaves the hardware.
	GetAuthValue(ctx context.Context, passBlob []byte) ([]byte, error)
	GetECCAuthValue(ctx context.Context, passBlob []byte) ([]byte, error)

	// SealWithCurrentUser seals data to authValue and to the current boot
	// state. When user is set the policy is the state after that user has
	// locked the device to a single user session.
	SealWithCurrentUser(ctx context.Context, user mo.Option[string], authValue, data []byte) ([]byte, error)
	PreloadSealedData(ctx context.Context, sealed []byte) (PreloadedData, error)
	UnsealWithCurrentUser(ctx context.Context, preload PreloadedData, sealed, authValue []byte) ([]byte, error)

	// Encrypt and Decrypt wrap data with the storage key without any PCR
	// binding.
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}
