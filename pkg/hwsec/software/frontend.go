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

// Package software implements hwsec.CryptohomeFrontend without a TPM. Keys
// derive from a root secret held in memory and the boot state is modeled by
// a single user PCR. It backs devices without a TPM and the test suites.
package software

import (
	"context"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/mo"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

const rootSize = 32

// Frontend is a software sealing frontend.
type Frontend struct {
	mu               sync.RWMutex
	root             []byte
	userPCR          []byte
	ready            bool
	sealingSupported bool
	eccSupported     bool
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithRoot sets the root secret. Two frontends with the same root can open
// each other's blobs.
func WithRoot(root []byte) Option {
	return func(f *Frontend) { f.root = secure.Clone(root) }
}

// WithECC toggles ECC support.
func WithECC(enabled bool) Option {
	return func(f *Frontend) { f.eccSupported = enabled }
}

// WithSealing toggles sealing support.
func WithSealing(enabled bool) Option {
	return func(f *Frontend) { f.sealingSupported = enabled }
}

// New creates a ready frontend with a random root unless WithRoot is given.
func New(opts ...Option) (*Frontend, error) {
	f := &Frontend{
		userPCR:          make([]byte, sha256.Size),
		ready:            true,
		sealingSupported: true,
		eccSupported:     true,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.root == nil {
		root, err := secure.Random(rootSize)
		if err != nil {
			return nil, err
		}
		f.root = root
	}
	if len(f.root) != rootSize {
		return nil, fmt.Errorf("software hwsec: root must be %d bytes", rootSize)
	}
	return f, nil
}

// SetReady toggles readiness.
func (f *Frontend) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

// Clear replaces the root secret, as a TPM clear would.
func (f *Frontend) Clear() error {
	root, err := secure.Random(rootSize)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	secure.Zero(f.root)
	f.root = root
	return nil
}

// ExtendUserPCR records that username locked the device to a single user.
func (f *Frontend) ExtendUserPCR(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userPCR = extend(f.userPCR, username)
}

// ResetUserPCR models a reboot.
func (f *Frontend) ResetUserPCR() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userPCR = make([]byte, sha256.Size)
}

func extend(pcr []byte, username string) []byte {
	userDigest := sha256.Sum256([]byte(username))
	h := sha256.New()
	h.Write(pcr)
	h.Write(userDigest[:])
	return h.Sum(nil)
}

func (f *Frontend) IsReady(ctx context.Context) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ready, nil
}

func (f *Frontend) IsSealingSupported(ctx context.Context) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sealingSupported, nil
}

func (f *Frontend) IsECCSupported(ctx context.Context) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.eccSupported, nil
}

func (f *Frontend) GetPubkeyHash(ctx context.Context) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkReady(); err != nil {
		return nil, err
	}
	pub, err := f.deriveLocked("storage-key-public", nil)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(pub)
	return sum[:], nil
}

func (f *Frontend) GetAuthValue(ctx context.Context, passBlob []byte) ([]byte, error) {
	return f.authValue("rsa-auth-value", passBlob)
}

func (f *Frontend) GetECCAuthValue(ctx context.Context, passBlob []byte) ([]byte, error) {
	f.mu.RLock()
	ecc := f.eccSupported
	f.mu.RUnlock()
	if !ecc {
		return nil, hwsec.NewError(hwsec.CodeNotSupported, hwsec.RetryNone, "ecc")
	}
	return f.authValue("ecc-auth-value", passBlob)
}

func (f *Frontend) authValue(purpose string, passBlob []byte) ([]byte, error) {
	if len(passBlob) == 0 {
		return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "empty pass blob")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkReady(); err != nil {
		return nil, err
	}
	key, err := f.deriveLocked(purpose, nil)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(passBlob)
	return mac.Sum(nil), nil
}

// sealedBlob is the serialized form of a sealed object.
type sealedBlob struct {
	Policy     []byte `cbor:"1,keyasint"`
	Salt       []byte `cbor:"2,keyasint"`
	Nonce      []byte `cbor:"3,keyasint"`
	Ciphertext []byte `cbor:"4,keyasint"`
}

type preloaded struct {
	blob *sealedBlob
}

func (p *preloaded) Close() error { return nil }

func (f *Frontend) SealWithCurrentUser(ctx context.Context, user mo.Option[string], authValue, data []byte) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkReady(); err != nil {
		return nil, err
	}
	if !f.sealingSupported {
		return nil, hwsec.NewError(hwsec.CodeNotSupported, hwsec.RetryNone, "sealing")
	}

	policy := secure.Clone(f.userPCR)
	if name, ok := user.Get(); ok {
		policy = extend(policy, name)
	}
	salt, err := secure.Random(16)
	if err != nil {
		return nil, err
	}
	aead, err := f.sealingAEADLocked(salt, policy, authValue)
	if err != nil {
		return nil, err
	}
	nonce, err := secure.Random(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	blob := sealedBlob{
		Policy:     policy,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, data, policy),
	}
	return cbor.Marshal(blob)
}

func (f *Frontend) PreloadSealedData(ctx context.Context, sealed []byte) (hwsec.PreloadedData, error) {
	blob, err := decodeSealed(sealed)
	if err != nil {
		return nil, err
	}
	return &preloaded{blob: blob}, nil
}

func (f *Frontend) UnsealWithCurrentUser(ctx context.Context, preload hwsec.PreloadedData, sealed, authValue []byte) ([]byte, error) {
	var blob *sealedBlob
	if p, ok := preload.(*preloaded); ok && p != nil {
		blob = p.blob
	} else {
		var err error
		if blob, err = decodeSealed(sealed); err != nil {
			return nil, err
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkReady(); err != nil {
		return nil, err
	}
	if !secure.Equal(blob.Policy, f.userPCR) {
		return nil, hwsec.NewError(hwsec.CodePolicyMismatch, hwsec.RetryNone, "user pcr")
	}
	aead, err := f.sealingAEADLocked(blob.Salt, blob.Policy, authValue)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, blob.Policy)
	if err != nil {
		return nil, hwsec.NewError(hwsec.CodeAuthFailed, hwsec.RetryNone, "unseal")
	}
	return plain, nil
}

func decodeSealed(sealed []byte) (*sealedBlob, error) {
	var blob sealedBlob
	if err := cbor.Unmarshal(sealed, &blob); err != nil {
		return nil, hwsec.Errorf(hwsec.CodeInvalidArgument, hwsec.RetryNone, "decode sealed blob: %w", err)
	}
	if len(blob.Nonce) != chacha20poly1305.NonceSize || len(blob.Policy) != sha256.Size {
		return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "malformed sealed blob")
	}
	return &blob, nil
}

type wrappedBlob struct {
	Nonce      []byte `cbor:"1,keyasint"`
	Ciphertext []byte `cbor:"2,keyasint"`
}

func (f *Frontend) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkReady(); err != nil {
		return nil, err
	}
	aead, err := f.wrapAEADLocked()
	if err != nil {
		return nil, err
	}
	nonce, err := secure.Random(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(wrappedBlob{Nonce: nonce, Ciphertext: aead.Seal(nil, nonce, plaintext, nil)})
}

func (f *Frontend) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	var blob wrappedBlob
	if err := cbor.Unmarshal(ciphertext, &blob); err != nil || len(blob.Nonce) != chacha20poly1305.NonceSize {
		return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "malformed wrapped blob")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkReady(); err != nil {
		return nil, err
	}
	aead, err := f.wrapAEADLocked()
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, hwsec.NewError(hwsec.CodeAuthFailed, hwsec.RetryNone, "decrypt")
	}
	return plain, nil
}

func (f *Frontend) checkReady() error {
	if !f.ready {
		return hwsec.NewError(hwsec.CodeNotReady, hwsec.RetryLater, "software frontend")
	}
	return nil
}

func (f *Frontend) deriveLocked(purpose string, salt []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, f.root, salt, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("software hwsec: derive %s: %w", purpose, err)
	}
	return key, nil
}

func (f *Frontend) sealingAEADLocked(salt, policy, authValue []byte) (cipher.AEAD, error) {
	key, err := f.deriveLocked("seal", secure.Concat(salt, policy, authValue))
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

func (f *Frontend) wrapAEADLocked() (cipher.AEAD, error) {
	key, err := f.deriveLocked("storage-key-wrap", nil)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

// Verify interface compliance at compile time
var _ hwsec.CryptohomeFrontend = (*Frontend)(nil)
