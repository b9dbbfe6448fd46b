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

package keyset

import (
	"context"
	"errors"
	"time"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/audit"
	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/authfactor"
	"github.com/jeremyhahn/go-authblock/pkg/metrics"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// Authenticate derives the key blobs of a factor and unwraps the vault.
// Input carries the user secret or the challenge and recovery inputs.
//
// A successful non low-entropy factor also adds a reset seed to users that
// lack one and resets the wrong attempt counters of the user's PIN and
// rate limiter leaves.
func (m *Manager) Authenticate(ctx context.Context, username, label string, in authblock.AuthInput) (*Vault, error) {
	if err := validName(username, label); err != nil {
		return nil, callerError(locAuthInvalidLabel, err)
	}
	unlock := m.lock(username)
	defer unlock()

	start := time.Now()
	ft, vault, err := m.authenticate(ctx, username, label, in)
	ev := audit.EventAuthSuccess
	if err != nil {
		ev = audit.EventAuthFailure
	}
	m.record(ctx, metrics.OpAuthenticate, ev, username, label, ft, err, start)
	return vault, err
}

func (m *Manager) authenticate(ctx context.Context, username, label string, in authblock.AuthInput) (authfactor.Type, *Vault, error) {
	rec, err := m.store.getRecord(username, label)
	if err != nil {
		return authfactor.TypeUnspecified, nil, storeError(locAuthLoad, err)
	}
	user, err := m.store.getUser(username)
	if err != nil {
		return rec.FactorType, nil, storeError(locAuthLoadUser, err)
	}
	state, err := m.utility.Generic().DecodeState(rec.State)
	if err != nil {
		return rec.FactorType, nil, cryptoError(locAuthDecodeState, err, status.ActionDevCheckUnexpectedState)
	}

	in.ObfuscatedUsername = mo.Some(username)
	if user.RateLimiterLabel != 0 && state.Type == authblock.TypeFingerprint {
		in.RateLimiterLabel = mo.Some(user.RateLimiterLabel)
	}
	blobs, err := m.utility.DeriveKeyBlobsWithAuthBlock(ctx, state.Type, in, state)
	if err != nil {
		return rec.FactorType, nil, status.Wrap(locAuthDerive, err)
	}
	defer blobs.Clear()

	key, err := open(blobs.VkkKey, infoVaultKey, rec.WrappedVaultKey, factorAD(username, label))
	if err != nil {
		return rec.FactorType, nil, cryptoError(locAuthUnwrap, err, status.ActionAuth)
	}
	vault := &Vault{username: username, key: key}
	if len(user.WrappedResetSeed) > 0 {
		seed, err := open(key, infoResetSeed, user.WrappedResetSeed, []byte(username))
		if err != nil {
			vault.Clear()
			return rec.FactorType, nil, cryptoError(locAuthUnwrapResetSeed, err, status.ActionDevCheckUnexpectedState)
		}
		vault.resetSeed = seed
	}

	if !isLowEntropy(state.Type) {
		m.addResetSeedIfMissing(vault, user, label)
		m.resetLECredentials(ctx, vault, user)
	}
	return rec.FactorType, vault, nil
}

// isLowEntropy reports whether t is guarded by a PinWeaver leaf.
func isLowEntropy(t authblock.Type) bool {
	return t == authblock.TypePinWeaver || t == authblock.TypeFingerprint
}

// addResetSeedIfMissing gives users created before reset seeds existed a
// seed so that PIN factors can be added. Legacy SmartUnlock factors never
// trigger it.
func (m *Manager) addResetSeedIfMissing(vault *Vault, user *userRecord, label string) bool {
	if vault.HasResetSeed() || label == SmartUnlockLabel {
		return false
	}
	seed, err := m.randomBytes(resetSeedSize)
	if err != nil {
		m.logger.Warn("failed to generate reset seed", "user", vault.username, "error", err)
		return false
	}
	wrapped, err := seal(m.random, vault.key, infoResetSeed, seed, []byte(vault.username))
	if err != nil {
		secure.Zero(seed)
		m.logger.Warn("failed to wrap reset seed", "user", vault.username, "error", err)
		return false
	}
	user.WrappedResetSeed = wrapped
	if err := m.store.putUser(vault.username, user); err != nil {
		user.WrappedResetSeed = nil
		secure.Zero(seed)
		m.logger.Warn("failed to save reset seed", "user", vault.username, "error", err)
		return false
	}
	vault.resetSeed = seed
	m.logger.Info("reset seed added", "user", vault.username)
	return true
}

// resetLECredentials clears the wrong attempt counters of the user's PIN
// leaves and rate limiter. Failures are logged; the authentication that
// triggered the reset has already succeeded.
func (m *Manager) resetLECredentials(ctx context.Context, vault *Vault, user *userRecord) {
	if !vault.HasResetSeed() || m.le == nil {
		return
	}
	records, err := m.store.records(vault.username)
	if err != nil {
		m.logger.Warn("failed to list factors for credential reset", "user", vault.username, "error", err)
		return
	}
	for _, r := range records {
		if r.FactorType != authfactor.TypePin {
			continue
		}
		state, err := m.utility.Generic().DecodeState(r.State)
		if err != nil {
			m.logger.Warn("skipping undecodable pin factor", "label", r.Label, "error", err)
			continue
		}
		pw, ok := state.Variant.(*authblock.PinWeaverState)
		if !ok || len(pw.ResetSalt) == 0 {
			continue
		}
		m.resetLeaf(ctx, pw.LELabel, authblock.ResetSecretFromSeed(vault.resetSeed, pw.ResetSalt), false)
	}
	if user.RateLimiterLabel != 0 && len(user.RateLimiterResetSalt) > 0 {
		m.resetLeaf(ctx, user.RateLimiterLabel, authblock.ResetSecretFromSeed(vault.resetSeed, user.RateLimiterResetSalt), true)
	}
}

func (m *Manager) resetLeaf(ctx context.Context, label uint64, secret []byte, strong bool) {
	defer secure.Zero(secret)
	attempts, err := m.le.GetWrongAuthAttempts(ctx, label)
	if err != nil {
		m.logger.Warn("failed to read wrong attempts", "label", label, "error", err)
		return
	}
	if attempts == 0 && !strong {
		return
	}
	if err := m.le.ResetCredential(ctx, label, secret, strong); err != nil {
		m.logger.Warn("failed to reset credential", "label", label, "error", err)
	}
}

// RemoveFactor releases the hardware resources of a factor and deletes its
// record. The record is kept when the release fails so removal can be
// retried. Removing the last factor removes the user.
func (m *Manager) RemoveFactor(ctx context.Context, username, label string) error {
	if err := validName(username, label); err != nil {
		return callerError(locRemoveInvalidLabel, err)
	}
	unlock := m.lock(username)
	defer unlock()

	start := time.Now()
	ft, err := m.remove(ctx, username, label)
	m.record(ctx, metrics.OpRemoveFactor, audit.EventFactorRemove, username, label, ft, err, start)
	return err
}

func (m *Manager) remove(ctx context.Context, username, label string) (authfactor.Type, error) {
	rec, err := m.store.getRecord(username, label)
	if err != nil {
		return authfactor.TypeUnspecified, storeError(locRemoveLoad, err)
	}
	state, err := m.utility.Generic().DecodeState(rec.State)
	if err != nil {
		return rec.FactorType, cryptoError(locRemoveDecodeState, err, status.ActionDevCheckUnexpectedState)
	}
	if state.Type == authblock.TypeFingerprint {
		m.deleteBiometricsRecord(ctx, username, state)
	}
	if err := m.utility.PrepareAuthBlockForRemoval(ctx, state); err != nil {
		return rec.FactorType, status.Wrap(locRemovePrepare, err)
	}
	if err := m.store.deleteRecord(username, label); err != nil {
		return rec.FactorType, storeError(locRemoveDelete, err)
	}
	metrics.AddFactorCount(rec.FactorType.String(), -1)

	remaining, err := m.store.records(username)
	if err == nil && len(remaining) == 0 {
		m.removeUser(ctx, username)
	}
	return rec.FactorType, nil
}

type biometricsRecordDeleter interface {
	DeleteRecord(ctx context.Context, username string, state *authblock.State) error
}

func (m *Manager) deleteBiometricsRecord(ctx context.Context, username string, state *authblock.State) {
	block := m.utility.Generic().GetAuthBlockWithType(authblock.TypeFingerprint, authblock.AuthInput{})
	d, ok := block.(biometricsRecordDeleter)
	if !ok {
		return
	}
	if err := d.DeleteRecord(ctx, username, state); err != nil {
		m.logger.Warn("failed to delete biometrics record", "user", username, "error", err)
	}
}

// removeUser drops the shared state of a user without factors.
func (m *Manager) removeUser(ctx context.Context, username string) {
	user, err := m.store.getUser(username)
	if errors.Is(err, ErrUserNotFound) {
		return
	}
	if err == nil && user.RateLimiterLabel != 0 {
		if rerr := m.le.RemoveCredential(ctx, user.RateLimiterLabel); rerr != nil {
			m.logger.Warn("failed to remove rate limiter", "label", user.RateLimiterLabel, "error", rerr)
			metrics.RecordOrphanedHardware(metrics.OpRemoveFactor)
		}
	}
	if err := m.store.deleteUser(username); err != nil {
		m.logger.Warn("failed to delete user record", "user", username, "error", err)
	}
}
