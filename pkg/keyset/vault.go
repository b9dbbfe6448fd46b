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
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

const (
	vaultKeySize  = 32
	resetSeedSize = 32
	resetSaltSize = 32

	infoVaultKey  = "keyset vault key wrapping"
	infoResetSeed = "keyset reset seed wrapping"
)

// Vault is the unwrapped key material of a user. It is returned by
// AddInitialFactor and Authenticate and authorizes AddFactor.
type Vault struct {
	username  string
	key       []byte
	resetSeed []byte
}

func (v *Vault) Username() string { return v.username }

// Key returns a copy of the vault key.
func (v *Vault) Key() []byte { return secure.Clone(v.key) }

func (v *Vault) HasResetSeed() bool { return len(v.resetSeed) > 0 }

// Clear zeroes the key material. The vault is unusable afterwards.
func (v *Vault) Clear() {
	if v == nil {
		return
	}
	secure.Zero(v.key)
	secure.Zero(v.resetSeed)
	v.key, v.resetSeed = nil, nil
}

func wrappingKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// seal encrypts plaintext under a key derived from secret. The output is
// nonce || ciphertext.
func seal(random io.Reader, secret []byte, info string, plaintext, ad []byte) ([]byte, error) {
	key, err := wrappingKey(secret, info)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func open(secret []byte, info string, sealed, ad []byte) ([]byte, error) {
	key, err := wrappingKey(secret, info)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed blob too short", ErrCorruptRecord)
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, ad)
}

func factorAD(username, label string) []byte {
	return []byte(username + "\x00" + label)
}
