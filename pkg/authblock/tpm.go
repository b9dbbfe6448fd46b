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

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// tpmMaxRetries bounds retries of retriable TPM failures.
const tpmMaxRetries = 3

// withTPMRetry runs fn until it succeeds, fails with a non-retriable error
// or runs out of attempts.
func withTPMRetry(fn func() error) error {
	var err error
	for i := 0; i < tpmMaxRetries; i++ {
		if err = fn(); err == nil || !hwsec.IsRetriable(err) {
			return err
		}
	}
	return err
}

// tpmCapabilities checks readiness and the optional sealing and ECC
// features without touching any state.
func tpmCapabilities(ctx context.Context, hw hwsec.CryptohomeFrontend, sealing, ecc bool) error {
	if hw == nil {
		return unsupported(locTpmUnsupported, "no tpm frontend")
	}
	ready, err := hw.IsReady(ctx)
	if err != nil {
		return hwsecError(locTpmCapabilityFailed, err)
	}
	if !ready {
		return unsupported(locTpmUnsupported, "tpm not ready")
	}
	if sealing {
		ok, err := hw.IsSealingSupported(ctx)
		if err != nil {
			return hwsecError(locTpmCapabilityFailed, err)
		}
		if !ok {
			return unsupported(locTpmUnsupported, "sealing not supported")
		}
	}
	if ecc {
		ok, err := hw.IsECCSupported(ctx)
		if err != nil {
			return hwsecError(locTpmCapabilityFailed, err)
		}
		if !ok {
			return unsupported(locTpmUnsupported, "ecc not supported")
		}
	}
	return nil
}

// checkTPMReadiness fails when the TPM is not ready or when it was cleared
// since the state was created.
func checkTPMReadiness(ctx context.Context, hw hwsec.CryptohomeFrontend, storedHash []byte) error {
	ready, err := hw.IsReady(ctx)
	if err != nil {
		return hwsecError(locTpmNotReady, err)
	}
	if !ready {
		return status.New(locTpmNotReady).
			WithKind(status.KindHardware).
			WithCode(status.CryptoErrorTPMComm).
			WithActions(status.ActionRetry).
			Wrap(hwsec.ErrNotReady)
	}
	if len(storedHash) == 0 {
		return nil
	}
	current, err := hw.GetPubkeyHash(ctx)
	if err != nil {
		return hwsecError(locTpmPubkeyHash, err)
	}
	if !secure.Equal(current, storedHash) {
		return status.New(locTpmPubkeyMismatch).
			WithKind(status.KindHardware).
			WithCode(status.CryptoErrorTPMFatal).
			WithActions(status.ActionPowerwash).
			Wrap(errors.New("tpm public key hash changed"))
	}
	return nil
}

// pubkeyHash is recorded to detect a TPM clear. Failing to read it is not
// fatal; the state is resaved on the next successful login.
func pubkeyHash(ctx context.Context, hw hwsec.CryptohomeFrontend, logger *logging.Logger) []byte {
	hash, err := hw.GetPubkeyHash(ctx)
	if err != nil {
		logger.Warn("failed to read tpm public key hash", "error", err)
		return nil
	}
	return hash
}

// sealToPcr seals data twice: to the current boot state and to the state
// after username locked the device to a single user.
func sealToPcr(ctx context.Context, hw hwsec.CryptohomeFrontend, username string, authValue, data []byte) (sealed, extended []byte, err error) {
	sealed, err = hw.SealWithCurrentUser(ctx, mo.None[string](), authValue, data)
	if err != nil {
		return nil, nil, hwsecError(locTpmSeal, err)
	}
	extended, err = hw.SealWithCurrentUser(ctx, mo.Some(username), authValue, data)
	if err != nil {
		return nil, nil, hwsecError(locTpmSealExtended, err)
	}
	return sealed, extended, nil
}

// unsealWithPassBlob derives the pass blob and preloads the sealed data in
// parallel, then unseals with the auth value returned by authValue.
func unsealWithPassBlob(
	ctx context.Context,
	hw hwsec.CryptohomeFrontend,
	params ScryptParams,
	userInput, salt, sealed, storedHash []byte,
	authValue func(passBlob []byte) ([]byte, error),
) (vkkKey, vkkIV []byte, err error) {
	var (
		g          errgroup.Group
		secrets    [][]byte
		scryptErr  error
		preload    hwsec.PreloadedData
		preloadErr error
	)
	g.Go(func() error {
		secrets, scryptErr = deriveSecretsScrypt(params, userInput, salt, passBlobSize, aesBlockSize)
		return scryptErr
	})
	g.Go(func() error {
		preloadErr = withTPMRetry(func() error {
			var err error
			preload, err = hw.PreloadSealedData(ctx, sealed)
			return err
		})
		return preloadErr
	})
	_ = g.Wait()
	if preload != nil {
		defer preload.Close()
	}
	if scryptErr != nil {
		return nil, nil, cryptoError(locTpmScrypt, scryptErr)
	}
	passBlob, iv := secrets[0], secrets[1]
	defer secure.Zero(passBlob)
	if preloadErr != nil {
		secure.Zero(iv)
		return nil, nil, hwsecError(locTpmPreload, preloadErr)
	}

	err = withTPMRetry(func() error {
		auth, err := authValue(passBlob)
		if err != nil {
			return err
		}
		defer secure.Zero(auth)
		vkkKey, err = hw.UnsealWithCurrentUser(ctx, preload, sealed, auth)
		return err
	})
	if err != nil {
		secure.Zero(iv)
		if len(storedHash) == 0 {
			return nil, nil, status.New(locTpmNoPublicKeyHash).
				WithKind(status.KindHardware).
				WithCode(status.CryptoErrorNoPublicKeyHash).
				Wrap(hwsecError(locTpmUnseal, err))
		}
		return nil, nil, hwsecError(locTpmUnseal, err)
	}
	return vkkKey, iv, nil
}
