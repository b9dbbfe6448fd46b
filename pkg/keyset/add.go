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
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/audit"
	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/authfactor"
	"github.com/jeremyhahn/go-authblock/pkg/metrics"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// AddRequest describes a new factor. Input carries the user secret or the
// challenge and recovery inputs; the manager fills in the username, reset
// material and rate limiter label.
type AddRequest struct {
	Label    string
	Type     authfactor.Type
	Input    authblock.AuthInput
	Metadata authfactor.Metadata
	KeyData  *KeyData

	// Clobber replaces an existing factor with the same label.
	Clobber bool
}

// AddInitialFactor creates the vault of a user without factors and
// protects it with the first factor.
func (m *Manager) AddInitialFactor(ctx context.Context, username string, req AddRequest) (*Vault, error) {
	if err := validName(username, req.Label); err != nil {
		return nil, callerError(locAddInvalidLabel, err)
	}
	unlock := m.lock(username)
	defer unlock()

	start := time.Now()
	vault, err := m.addInitial(ctx, username, req)
	m.record(ctx, metrics.OpAddFactor, audit.EventFactorAdd, username, req.Label, req.Type, err, start)
	return vault, err
}

func (m *Manager) addInitial(ctx context.Context, username string, req AddRequest) (*Vault, error) {
	records, err := m.store.records(username)
	if err != nil {
		return nil, storeError(locAddLoad, err)
	}
	if len(records) > 0 {
		return nil, callerError(locAddUserExists, fmt.Errorf("%w: %s", ErrUserExists, username))
	}

	key, err := m.randomBytes(vaultKeySize)
	if err != nil {
		return nil, cryptoError(locAddRandom, err)
	}
	seed, err := m.randomBytes(resetSeedSize)
	if err != nil {
		return nil, cryptoError(locAddRandom, err)
	}
	vault := &Vault{username: username, key: key, resetSeed: seed}
	wrapped, err := seal(m.random, key, infoResetSeed, seed, []byte(username))
	if err != nil {
		vault.Clear()
		return nil, cryptoError(locAddWrap, err)
	}
	user := &userRecord{WrappedResetSeed: wrapped}
	if err := m.store.putUser(username, user); err != nil {
		vault.Clear()
		return nil, storeError(locAddInitialSave, err)
	}
	if err := m.add(ctx, vault, user, records, req); err != nil {
		if derr := m.store.deleteUser(username); derr != nil {
			m.logger.Warn("failed to delete user record after failed add", "user", username, "error", derr)
		}
		vault.Clear()
		return nil, err
	}
	return vault, nil
}

// AddFactor adds a factor to the user the vault belongs to.
func (m *Manager) AddFactor(ctx context.Context, vault *Vault, req AddRequest) error {
	if vault == nil || len(vault.key) == 0 {
		return callerError(locAddUserMissing, fmt.Errorf("%w: no vault", ErrUserNotFound))
	}
	username := vault.username
	if err := validName(username, req.Label); err != nil {
		return callerError(locAddInvalidLabel, err)
	}
	unlock := m.lock(username)
	defer unlock()

	start := time.Now()
	err := m.addExisting(ctx, vault, req)
	m.record(ctx, metrics.OpAddFactor, audit.EventFactorAdd, username, req.Label, req.Type, err, start)
	return err
}

func (m *Manager) addExisting(ctx context.Context, vault *Vault, req AddRequest) error {
	user, err := m.store.getUser(vault.username)
	if err != nil {
		return storeError(locAddUserMissing, err)
	}
	records, err := m.store.records(vault.username)
	if err != nil {
		return storeError(locAddLoad, err)
	}
	return m.add(ctx, vault, user, records, req)
}

// add creates the auth block state of a new factor and saves its record.
// The caller holds the user lock.
func (m *Manager) add(ctx context.Context, vault *Vault, user *userRecord, records []*record, req AddRequest) error {
	username := vault.username
	var replaced *record
	others := records[:0:0]
	for _, r := range records {
		if r.Label == req.Label {
			replaced = r
			continue
		}
		others = append(others, r)
	}
	if replaced != nil && !req.Clobber {
		return status.New(locAddLabelExists).
			WithKind(status.KindCaller).
			WithCode(status.CryptoErrorOther).
			Wrap(fmt.Errorf("%w: %s", ErrLabelExists, req.Label))
	}

	driver := m.drivers.GetDriver(req.Type)
	if !driver.IsSupported(ctx, m.storageTypes, configuredTypes(others)) {
		return callerError(locAddUnsupported, fmt.Errorf("factor type %s cannot be added", req.Type))
	}
	blockType, err := driver.BlockType(ctx)
	if err != nil {
		return status.Wrap(locAddBlockType, err)
	}

	in := req.Input
	in.ObfuscatedUsername = mo.Some(username)
	var resetSalt []byte
	if driver.NeedsResetSecret() || driver.NeedsRateLimiter() {
		if !vault.HasResetSeed() {
			return callerError(locAddNoResetSeed, ErrNoResetSeed)
		}
	}
	if driver.NeedsResetSecret() {
		in.ResetSeed = mo.Some(vault.resetSeed)
	}
	if driver.NeedsRateLimiter() {
		label, err := m.ensureRateLimiter(ctx, vault, user)
		if err != nil {
			return err
		}
		if resetSalt, err = m.randomBytes(resetSaltSize); err != nil {
			return cryptoError(locAddRandom, err)
		}
		in.RateLimiterLabel = mo.Some(label)
		in.ResetSecret = mo.Some(authblock.ResetSecretFromSeed(vault.resetSeed, resetSalt))
	}

	blobs, state, err := m.utility.CreateKeyBlobsWithAuthBlock(ctx, blockType, in)
	if err != nil {
		return status.Wrap(locAddCreate, err)
	}
	defer blobs.Clear()

	rec := &record{
		Version:    recordVersion,
		Label:      req.Label,
		FactorType: req.Type,
		KeyData:    req.KeyData,
		Metadata:   toMetadataRecord(req.Metadata),
		ResetSalt:  resetSalt,
		CreatedAt:  m.now().Unix(),
	}
	if rec.State, err = authblock.EncodeState(state); err == nil {
		rec.WrappedVaultKey, err = seal(m.random, blobs.VkkKey, infoVaultKey, vault.key, factorAD(username, req.Label))
	}
	if err != nil {
		return m.rollback(ctx, username, req.Label, state, cryptoError(locAddWrap, err))
	}
	if err := m.store.putRecord(username, rec); err != nil {
		return m.rollback(ctx, username, req.Label, state, storeError(locAddSave, err))
	}
	if !m.enableKeyData {
		if err := m.resaveWithoutKeyData(username, req.Label); err != nil {
			m.logger.Warn("failed to drop key data from record", "user", username, "label", req.Label, "error", err)
		}
	}

	metrics.AddFactorCount(req.Type.String(), 1)
	if replaced != nil {
		metrics.AddFactorCount(replaced.FactorType.String(), -1)
		m.releaseReplaced(ctx, username, replaced)
	}
	m.logger.Debug("factor added", "user", username, "label", req.Label, "type", req.Type, "auth_block", blockType)
	return nil
}

// resaveWithoutKeyData reloads a freshly saved record and saves it again
// with its key data cleared.
func (m *Manager) resaveWithoutKeyData(username, label string) error {
	r, err := m.store.getRecord(username, label)
	if err != nil {
		return storeError(locAddKeyData, err)
	}
	r.KeyData = nil
	if err := m.store.putRecord(username, r); err != nil {
		return storeError(locAddKeyData, err)
	}
	return nil
}

// rollback releases the hardware resources of a factor whose record could
// not be saved.
func (m *Manager) rollback(ctx context.Context, username, label string, state *authblock.State, cause *status.Error) error {
	if err := m.utility.PrepareAuthBlockForRemoval(ctx, state); err != nil {
		m.logger.Warn("failed to release credential of unsaved factor", "user", username, "label", label, "error", err)
		metrics.RecordOrphanedHardware(metrics.OpAddFactor)
		audit.Record(ctx, m.auditor, m.logger,
			audit.NewEvent(audit.EventOrphanedHardware, audit.SeverityError, username, "factor:"+label, err))
		cause.WithActions(status.ActionCleanupOrphanedHardware)
	}
	return cause
}

// releaseReplaced frees the hardware resources of a clobbered factor. The
// new record is already saved, so failures are only logged.
func (m *Manager) releaseReplaced(ctx context.Context, username string, old *record) {
	state, err := m.utility.Generic().DecodeState(old.State)
	if err == nil {
		err = m.utility.PrepareAuthBlockForRemoval(ctx, state)
	}
	if err != nil {
		m.logger.Warn("failed to release replaced factor", "user", username, "label", old.Label, "error", err)
		metrics.RecordOrphanedHardware(metrics.OpAddFactor)
	}
}

// ensureRateLimiter provisions the biometrics rate limiter leaf of a user
// on first use.
func (m *Manager) ensureRateLimiter(ctx context.Context, vault *Vault, user *userRecord) (uint64, error) {
	if user.RateLimiterLabel != 0 {
		return user.RateLimiterLabel, nil
	}
	salt, err := m.randomBytes(resetSaltSize)
	if err != nil {
		return 0, cryptoError(locAddRandom, err)
	}
	secret := authblock.ResetSecretFromSeed(vault.resetSeed, salt)
	defer secure.Zero(secret)
	label, err := m.le.InsertRateLimiter(ctx, authblock.FingerprintAuthChannel, secret, m.rateLimiterSchedule, m.rateLimiterExpiration)
	if err != nil {
		return 0, status.Wrap(locAddRateLimiter, err)
	}
	user.RateLimiterLabel = label
	user.RateLimiterResetSalt = salt
	if err := m.store.putUser(vault.username, user); err != nil {
		user.RateLimiterLabel, user.RateLimiterResetSalt = 0, nil
		if rerr := m.le.RemoveCredential(ctx, label); rerr != nil {
			m.logger.Warn("failed to remove unsaved rate limiter", "label", label, "error", rerr)
			return 0, storeError(locAddRateLimiter, err).WithActions(status.ActionCleanupOrphanedHardware)
		}
		return 0, storeError(locAddRateLimiter, err)
	}
	m.logger.Debug("rate limiter provisioned", "user", vault.username, "label", label)
	return label, nil
}
