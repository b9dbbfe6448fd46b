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
	"crypto/rand"
	"io"

	"github.com/jeremyhahn/go-authblock/pkg/biometrics"
	"github.com/jeremyhahn/go-authblock/pkg/challenge"
	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
)

// BiometricsService is the part of biometrics.Service used by the
// fingerprint block.
type BiometricsService interface {
	IsReady() bool
	TakeNonce(kind biometrics.SessionKind, username string) ([]byte, error)
	CreateCredential(ctx context.Context, username string, in biometrics.OperationInput) (*biometrics.OperationOutput, error)
	MatchCredential(ctx context.Context, in biometrics.OperationInput) (*biometrics.OperationOutput, error)
	DeleteCredential(ctx context.Context, username, recordID string) error
}

// Deps holds every collaborator an auth block may need. The registration
// table hands each block only the fields it uses. Nil collaborators make
// the blocks that need them unsupported.
type Deps struct {
	Hwsec      hwsec.CryptohomeFrontend
	PinWeaver  hwsec.PinWeaverFrontend
	LE         lecredential.CredentialManager
	Biometrics BiometricsService
	Challenge  challenge.KeyChallengeService
	Scrypt     ScryptParams
	Random     io.Reader
	Logger     *logging.Logger
}

func (d *Deps) random() io.Reader {
	if d.Random == nil {
		return rand.Reader
	}
	return d.Random
}

func (d *Deps) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.DefaultLogger()
	}
	return d.Logger
}

func (d *Deps) scrypt() ScryptParams {
	if d.Scrypt == (ScryptParams{}) {
		return DefaultScryptParams()
	}
	return d.Scrypt
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
