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

	"github.com/samber/mo"

	"github.com/jeremyhahn/go-authblock/pkg/biometrics"
	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/metrics"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// FingerprintAuthChannel is the PinWeaver auth channel of the fingerprint
// sensor.
const FingerprintAuthChannel uint8 = 0

// FingerprintAuthBlock binds a biometrics record to a credential leaf whose
// low entropy secret only the biometrics daemon can produce.
type FingerprintAuthBlock struct {
	le     lecredential.CredentialManager
	bio    BiometricsService
	deps   *Deps
	logger *logging.Logger
}

// NewFingerprintAuthBlock returns a block using le and bio.
func NewFingerprintAuthBlock(le lecredential.CredentialManager, bio BiometricsService, deps *Deps) *FingerprintAuthBlock {
	return &FingerprintAuthBlock{
		le:     le,
		bio:    bio,
		deps:   deps,
		logger: deps.logger().With("auth_block", TypeFingerprint.String()),
	}
}

// IsFingerprintSupported requires biometrics support in PinWeaver and a
// ready biometrics daemon.
func IsFingerprintSupported(ctx context.Context, d *Deps) error {
	if d.LE == nil || d.PinWeaver == nil || d.Biometrics == nil {
		return unsupported(locFingerprintUnsupported, "missing biometrics collaborators")
	}
	enabled, err := d.PinWeaver.IsBiometricsEnabled(ctx)
	if err != nil {
		return hwsecError(locPinWeaverCapabilityFailed, err)
	}
	if !enabled {
		return unsupported(locFingerprintUnsupported, "pinweaver biometrics disabled")
	}
	if !d.Biometrics.IsReady() {
		return unsupported(locFingerprintUnsupported, "biometrics daemon not ready")
	}
	return nil
}

type fingerprintPhase int

const (
	phaseTakeNonce fingerprintPhase = iota
	phaseStartBiometricsAuth
	phaseCreateCredential
	phaseInsertCredential
	phaseDone
)

func (p fingerprintPhase) String() string {
	switch p {
	case phaseTakeNonce:
		return "take-nonce"
	case phaseStartBiometricsAuth:
		return "start-biometrics-auth"
	case phaseCreateCredential:
		return "create-credential"
	case phaseInsertCredential:
		return "insert-credential"
	default:
		return "done"
	}
}

// fingerprintCreate is one in-flight Create. Each phase consumes the
// output of the previous one and the phases never overlap.
type fingerprintCreate struct {
	block            *FingerprintAuthBlock
	username         string
	resetSecret      []byte
	rateLimiterLabel uint64

	phase    fingerprintPhase
	nonce    []byte
	reply    *lecredential.BiometricsAuthReply
	output   *biometrics.OperationOutput
	heSecret []byte
	label    uint64
}

func (op *fingerprintCreate) run(ctx context.Context) error {
	for op.phase != phaseDone {
		if err := op.step(ctx); err != nil {
			op.block.logger.Debug("fingerprint create failed", "phase", op.phase.String())
			return err
		}
		op.phase++
	}
	return nil
}

func (op *fingerprintCreate) step(ctx context.Context) error {
	b := op.block
	switch op.phase {
	case phaseTakeNonce:
		nonce, err := b.bio.TakeNonce(biometrics.SessionEnroll, op.username)
		if err != nil {
			return status.Wrap(locFingerprintTakeNonce, err)
		}
		op.nonce = nonce
	case phaseStartBiometricsAuth:
		reply, err := b.le.StartBiometricsAuth(ctx, FingerprintAuthChannel, op.rateLimiterLabel, op.nonce)
		if err != nil {
			return status.Wrap(locFingerprintStartAuth, err)
		}
		op.reply = reply
	case phaseCreateCredential:
		out, err := b.bio.CreateCredential(ctx, op.username, biometrics.OperationInput{
			Nonce:              op.reply.ServerNonce,
			EncryptedLabelSeed: op.reply.EncryptedHESecret,
			IV:                 op.reply.IV,
		})
		if err != nil {
			return status.Wrap(locFingerprintCreateCred, err)
		}
		op.output = out
	case phaseInsertCredential:
		return op.insert(ctx)
	}
	return nil
}

func (op *fingerprintCreate) insert(ctx context.Context) error {
	b := op.block
	heSecret, err := randomBytes(b.deps.random(), heSecretSize)
	if err != nil {
		return cryptoError(locFingerprintRandom, err)
	}
	label, err := b.le.InsertCredential(ctx, lecredential.InsertRequest{
		LowEntropySecret:  op.output.AuthPin,
		HighEntropySecret: heSecret,
		ResetSecret:       op.resetSecret,
		DelaySchedule:     lecredential.DefaultDelaySchedule(),
	})
	if err != nil {
		secure.Zero(heSecret)
		e := status.New(locFingerprintInsert).WithKind(status.KindBackingStore).Wrap(err)
		// The daemon already holds a record nothing will reference.
		if derr := b.bio.DeleteCredential(ctx, op.username, op.output.RecordID); derr != nil {
			b.logger.Warn("failed to delete biometrics record after insert failure",
				"record_id", op.output.RecordID, "error", derr)
			e.WithActions(status.ActionCleanupOrphanedHardware)
			metrics.RecordOrphanedHardware(metrics.OpCreate)
		}
		return e
	}
	op.label = label
	op.heSecret = heSecret
	return nil
}

func (b *FingerprintAuthBlock) Create(ctx context.Context, in AuthInput) (*KeyBlobs, *State, error) {
	username, ok := in.username()
	if !ok {
		return nil, nil, callerError(locFingerprintNoUsername, "missing obfuscated username")
	}
	resetSecret, ok := in.ResetSecret.Get()
	if !ok || len(resetSecret) == 0 {
		return nil, nil, callerError(locFingerprintNoResetSecret, "missing reset secret")
	}
	rateLimiterLabel, ok := in.RateLimiterLabel.Get()
	if !ok {
		return nil, nil, callerError(locFingerprintNoRateLimiter, "missing rate limiter label")
	}

	op := &fingerprintCreate{
		block:            b,
		username:         username,
		resetSecret:      resetSecret,
		rateLimiterLabel: rateLimiterLabel,
	}
	if err := op.run(ctx); err != nil {
		return nil, nil, err
	}
	defer secure.Zero(op.heSecret)

	blobs := &KeyBlobs{
		VkkKey:      hmacSHA256(op.heSecret, op.output.AuthSecret),
		ResetSecret: mo.Some(secure.Clone(resetSecret)),
	}
	state := &State{Type: TypeFingerprint, Variant: &FingerprintState{
		TemplateID:     op.output.RecordID,
		GSCSecretLabel: op.label,
	}}
	return blobs, state, nil
}

// Derive matches the scan of an open authenticate session and checks the
// resulting auth pin against the credential leaf.
func (b *FingerprintAuthBlock) Derive(ctx context.Context, in AuthInput, state *State) (*KeyBlobs, error) {
	fp, ok := variantAs[*FingerprintState](state)
	if !ok {
		return nil, callerError(locFingerprintWrongState, "not a fingerprint state")
	}
	rateLimiterLabel, ok := in.RateLimiterLabel.Get()
	if !ok {
		return nil, callerError(locFingerprintDeriveNoLabel, "missing rate limiter label")
	}

	nonce, err := b.bio.TakeNonce(biometrics.SessionAuthenticate, "")
	if err != nil {
		return nil, status.Wrap(locFingerprintDeriveTakeNonce, err)
	}
	reply, err := b.le.StartBiometricsAuth(ctx, FingerprintAuthChannel, rateLimiterLabel, nonce)
	if err != nil {
		return nil, status.Wrap(locFingerprintDeriveStartAuth, err)
	}
	out, err := b.bio.MatchCredential(ctx, biometrics.OperationInput{
		Nonce:              reply.ServerNonce,
		EncryptedLabelSeed: reply.EncryptedHESecret,
		IV:                 reply.IV,
	})
	if err != nil {
		return nil, status.Wrap(locFingerprintMatch, err)
	}
	if out.RecordID != fp.TemplateID {
		return nil, status.New(locFingerprintWrongTemplate).
			WithKind(status.KindBiometrics).
			WithCode(status.BiometricsErrorMatchFailed).
			WithActions(status.ActionAuth).
			Wrap(fmt.Errorf("scan matched record %s", out.RecordID))
	}

	heSecret, resetSecret, err := b.le.CheckCredential(ctx, fp.GSCSecretLabel, out.AuthPin)
	if err != nil {
		return nil, leError(locFingerprintCheck, err)
	}
	defer secure.Zero(heSecret)

	blobs := &KeyBlobs{VkkKey: hmacSHA256(heSecret, out.AuthSecret)}
	if len(resetSecret) > 0 {
		blobs.ResetSecret = mo.Some(resetSecret)
	}
	return blobs, nil
}

func (b *FingerprintAuthBlock) PrepareForRemoval(ctx context.Context, state *State) error {
	fp, ok := variantAs[*FingerprintState](state)
	if !ok {
		return callerError(locFingerprintWrongState, "not a fingerprint state")
	}
	if err := b.le.RemoveCredential(ctx, fp.GSCSecretLabel); err != nil {
		if isLEInvalidLabel(err) {
			b.logger.Warn("fingerprint credential already removed", "label", fp.GSCSecretLabel)
			return nil
		}
		return status.Wrap(locFingerprintRemove, err)
	}
	return nil
}

// DeleteRecord removes the biometrics record of state from the daemon.
func (b *FingerprintAuthBlock) DeleteRecord(ctx context.Context, username string, state *State) error {
	fp, ok := variantAs[*FingerprintState](state)
	if !ok {
		return callerError(locFingerprintWrongState, "not a fingerprint state")
	}
	return status.Wrap(locFingerprintDeleteRecord, b.bio.DeleteCredential(ctx, username, fp.TemplateID))
}
