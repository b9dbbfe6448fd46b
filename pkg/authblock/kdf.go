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
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"

	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

const (
	saltSize      = 16
	aesKeySize    = 32
	aesBlockSize  = 16
	passBlobSize  = 32
	heSecretSize  = 32
	resetSaltSize = 32
)

// ScryptParams are the scrypt work factors used for new credentials.
type ScryptParams struct {
	N int `yaml:"n"`
	R int `yaml:"r"`
	P int `yaml:"p"`
}

// DefaultScryptParams matches the libscrypt defaults.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 1 << 14, R: 8, P: 1}
}

// Validate checks that the parameters are accepted by scrypt.
func (p ScryptParams) Validate() error {
	if p.N <= 1 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("authblock: scrypt N must be a power of two greater than 1, got %d", p.N)
	}
	if p.R <= 0 || p.P <= 0 {
		return fmt.Errorf("authblock: scrypt r and p must be positive, got r=%d p=%d", p.R, p.P)
	}
	return nil
}

// deriveSecretsScrypt runs scrypt once and splits the output into secrets
// of the given sizes.
func deriveSecretsScrypt(params ScryptParams, passkey, salt []byte, sizes ...int) ([][]byte, error) {
	total := 0
	for _, n := range sizes {
		total += n
	}
	out, err := scrypt.Key(passkey, salt, params.N, params.R, params.P, total)
	if err != nil {
		return nil, fmt.Errorf("authblock: scrypt: %w", err)
	}
	return split(out, sizes), nil
}

// deriveSecretsHKDF expands secret into secrets of the given sizes.
func deriveSecretsHKDF(secret, salt []byte, info string, sizes ...int) ([][]byte, error) {
	total := 0
	for _, n := range sizes {
		total += n
	}
	out := make([]byte, total)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("authblock: hkdf: %w", err)
	}
	return split(out, sizes), nil
}

func split(b []byte, sizes []int) [][]byte {
	parts := make([][]byte, len(sizes))
	off := 0
	for i, n := range sizes {
		parts[i] = b[off : off+n : off+n]
		off += n
	}
	return parts
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ResetSecretFromSeed derives the reset secret of an LE credential from the
// user's reset seed and the credential's salt.
func ResetSecretFromSeed(resetSeed, resetSalt []byte) []byte {
	return hmacSHA256(resetSeed, resetSalt)
}

func zeroAll(parts [][]byte) {
	for _, p := range parts {
		secure.Zero(p)
	}
}
