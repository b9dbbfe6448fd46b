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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-authblock/pkg/audit"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/metrics"
	"github.com/jeremyhahn/go-authblock/pkg/sequence"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// CreateCallback receives the outcome of a create. On error both outputs
// are nil.
type CreateCallback func(err error, blobs *KeyBlobs, state *State)

// DeriveCallback receives the outcome of a derive. On error blobs is nil.
type DeriveCallback func(err error, blobs *KeyBlobs)

// Utility is the entry point the credential flows call into. Block work runs
// on its own goroutine and callbacks are posted to the owner sequence, so
// callers observe results in the order the work completes and never
// concurrently with each other.
type Utility struct {
	generic *Generic
	seq     *sequence.Runner
	ownsSeq bool
	logger  *logging.Logger
	auditor audit.Adapter

	wg sync.WaitGroup
}

// UtilityOption configures a Utility.
type UtilityOption func(*Utility)

// WithSequence posts callbacks to r instead of a private runner.
func WithSequence(r *sequence.Runner) UtilityOption {
	return func(u *Utility) { u.seq = r }
}

// WithUtilityLogger sets the logger.
func WithUtilityLogger(l *logging.Logger) UtilityOption {
	return func(u *Utility) { u.logger = l }
}

// WithUtilityAuditor sets the audit adapter.
func WithUtilityAuditor(a audit.Adapter) UtilityOption {
	return func(u *Utility) { u.auditor = a }
}

// NewUtility creates a Utility over g.
func NewUtility(g *Generic, opts ...UtilityOption) *Utility {
	u := &Utility{generic: g}
	for _, opt := range opts {
		opt(u)
	}
	if u.seq == nil {
		u.seq = sequence.New()
		u.ownsSeq = true
	}
	if u.logger == nil {
		u.logger = g.Deps().logger()
	}
	u.logger = u.logger.With("component", "authblock")
	return u
}

// Generic returns the dispatcher.
func (u *Utility) Generic() *Generic {
	return u.generic
}

// Close waits for in-flight work and its callbacks. A runner passed with
// WithSequence is left open.
func (u *Utility) Close() {
	u.wg.Wait()
	if u.ownsSeq {
		u.seq.Close()
		return
	}
	_ = u.seq.Flush()
}

// CreateKeyBlobsWithAuthBlockAsync creates key blobs and a state with the
// block of type t. cb runs on the owner sequence.
func (u *Utility) CreateKeyBlobsWithAuthBlockAsync(ctx context.Context, t Type, in AuthInput, cb CreateCallback) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		blobs, state, err := u.CreateKeyBlobsWithAuthBlock(ctx, t, in)
		u.post(func() { cb(err, blobs, state) })
	}()
}

// DeriveKeyBlobsWithAuthBlockAsync derives the key blobs of state with the
// block of type t. cb runs on the owner sequence.
func (u *Utility) DeriveKeyBlobsWithAuthBlockAsync(ctx context.Context, t Type, in AuthInput, state *State, cb DeriveCallback) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		blobs, err := u.DeriveKeyBlobsWithAuthBlock(ctx, t, in, state)
		u.post(func() { cb(err, blobs) })
	}()
}

func (u *Utility) post(fn func()) {
	if err := u.seq.Post(fn); err != nil {
		// The owner has gone away. Run inline so the callback is never lost.
		u.logger.Warn("sequence closed, running callback inline", "error", err)
		fn()
	}
}

// CreateKeyBlobsWithAuthBlock is the synchronous form of
// CreateKeyBlobsWithAuthBlockAsync.
func (u *Utility) CreateKeyBlobsWithAuthBlock(ctx context.Context, t Type, in AuthInput) (*KeyBlobs, *State, error) {
	start := time.Now()
	blobs, state, err := u.create(ctx, t, in)
	if err != nil {
		blobs.Clear()
		blobs, state = nil, nil
	}
	u.record(ctx, metrics.OpCreate, audit.EventAuthBlockCreate, t, in, err, start)
	return blobs, state, err
}

func (u *Utility) create(ctx context.Context, t Type, in AuthInput) (*KeyBlobs, *State, error) {
	block := u.generic.GetAuthBlockWithType(t, in)
	if block == nil {
		return nil, nil, callerError(locUtilityCreate, fmt.Sprintf("no auth block for type %s", t))
	}
	blobs, state, err := block.Create(ctx, in)
	if err != nil {
		return nil, nil, status.Wrap(locUtilityCreate, err)
	}
	if blobs == nil || state == nil {
		return nil, nil, status.New(locUtilityPartialResult).
			WithKind(status.KindCrypto).
			WithCode(status.CryptoErrorOther).
			WithActions(status.ActionDevCheckUnexpectedState).
			Wrap(fmt.Errorf("%s create returned no result", t))
	}
	if state.Type == 0 {
		state.Type = t
	}
	return blobs, state, nil
}

// DeriveKeyBlobsWithAuthBlock is the synchronous form of
// DeriveKeyBlobsWithAuthBlockAsync.
func (u *Utility) DeriveKeyBlobsWithAuthBlock(ctx context.Context, t Type, in AuthInput, state *State) (*KeyBlobs, error) {
	start := time.Now()
	blobs, err := u.derive(ctx, t, in, state)
	if err != nil {
		blobs.Clear()
		blobs = nil
	}
	u.record(ctx, metrics.OpDerive, audit.EventAuthBlockDerive, t, in, err, start)
	return blobs, err
}

func (u *Utility) derive(ctx context.Context, t Type, in AuthInput, state *State) (*KeyBlobs, error) {
	if state == nil || state.Variant == nil {
		return nil, callerError(locUtilityDerive, "no auth block state")
	}
	stateType, ok := u.generic.GetAuthBlockTypeFromState(state).Get()
	if !ok {
		return nil, callerError(locGenericStateUnknown, "auth block state not registered")
	}
	if stateType != t {
		return nil, callerError(locGenericStateMismatch,
			fmt.Sprintf("state is %s, requested %s", stateType, t))
	}
	block := u.generic.GetAuthBlockWithType(t, in)
	if block == nil {
		return nil, callerError(locUtilityDerive, fmt.Sprintf("no auth block for type %s", t))
	}
	blobs, err := block.Derive(ctx, in, state)
	if err != nil {
		return nil, status.Wrap(locUtilityDerive, err)
	}
	return blobs, nil
}

// PrepareAuthBlockForRemoval releases the hardware held by state.
func (u *Utility) PrepareAuthBlockForRemoval(ctx context.Context, state *State) error {
	start := time.Now()
	t, ok := u.generic.GetAuthBlockTypeFromState(state).Get()
	if !ok {
		return callerError(locUtilityRemove, "auth block state not registered")
	}
	var err error
	if block := u.generic.GetAuthBlockWithType(t, AuthInput{}); block == nil {
		err = callerError(locUtilityRemove, fmt.Sprintf("no auth block for type %s", t))
	} else {
		err = status.Wrap(locUtilityRemove, block.PrepareForRemoval(ctx, state))
	}
	metrics.RecordOperation(metrics.OpPrepareForRemoval, t.String(), err, time.Since(start).Seconds())
	return err
}

// GetAuthBlockTypeForCreation picks the block for a new factor. Low-entropy
// factors need PinWeaver, recovery and challenge factors their own blocks,
// everything else the strongest sealing the device supports.
func (u *Utility) GetAuthBlockTypeForCreation(ctx context.Context, isLE, isRecovery, isChallenge bool) (Type, error) {
	var candidates []Type
	switch {
	case isLE:
		candidates = []Type{TypePinWeaver}
	case isRecovery:
		candidates = []Type{TypeCryptohomeRecovery}
	case isChallenge:
		candidates = []Type{TypeChallengeCredential}
	default:
		candidates = []Type{TypeTpmEcc, TypeTpmBoundToPcr, TypeTpmNotBoundToPcr, TypeScrypt}
	}
	var errs []error
	for _, t := range candidates {
		err := u.generic.IsSupported(ctx, t)
		if err == nil {
			return t, nil
		}
		errs = append(errs, err)
	}
	return 0, status.New(locUtilityNoCreationType).
		WithKind(status.KindHardware).
		WithCode(status.CryptoErrorOther).
		Wrap(errors.Join(errs...))
}

// SupportedTypes checks every registered type concurrently and returns the
// supported ones in registration order.
func (u *Utility) SupportedTypes(ctx context.Context) []Type {
	types := u.generic.Types()
	supported := make([]bool, len(types))
	var g errgroup.Group
	for i, t := range types {
		g.Go(func() error {
			supported[i] = u.generic.IsSupported(ctx, t) == nil
			return nil
		})
	}
	_ = g.Wait()

	var out []Type
	for i, t := range types {
		if supported[i] {
			out = append(out, t)
		}
	}
	return out
}

func (u *Utility) record(ctx context.Context, op string, ev audit.EventType, t Type, in AuthInput, err error, start time.Time) {
	metrics.RecordOperation(op, t.String(), err, time.Since(start).Seconds())
	sev := audit.SeverityInfo
	if err != nil {
		sev = audit.SeverityWarn
		u.logger.Debug("auth block operation failed", "op", op, "type", t, "error", err)
	}
	user, _ := in.username()
	audit.Record(ctx, u.auditor, u.logger, audit.NewEvent(ev, sev, user, t.String(), err))
}
