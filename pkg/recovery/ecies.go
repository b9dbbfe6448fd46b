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

package recovery

import (
	"crypto/ecdh"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Envelope format:
//
//	[ephemeral_public_key (32) || nonce (12) || ciphertext || tag (16)]
const (
	keySize      = 32
	envelopeInfo = "authblock-recovery-ecies"
)

var (
	ErrInvalidKey      = errors.New("recovery: invalid X25519 key")
	ErrInvalidEnvelope = errors.New("recovery: invalid envelope")
	ErrDecrypt         = errors.New("recovery: envelope authentication failed")
)

// GenerateKey generates a new X25519 key pair.
func GenerateKey(random io.Reader) (*ecdh.PrivateKey, error) {
	priv, err := ecdh.X25519().GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("recovery: generate X25519 key: %w", err)
	}
	return priv, nil
}

// ParsePrivateKey parses a raw 32 byte X25519 private key.
func ParsePrivateKey(b []byte) (*ecdh.PrivateKey, error) {
	if len(b) != keySize {
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrInvalidKey, len(b))
	}
	return ecdh.X25519().NewPrivateKey(b)
}

// ParsePublicKey parses a raw 32 byte X25519 public key.
func ParsePublicKey(b []byte) (*ecdh.PublicKey, error) {
	if len(b) != keySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrInvalidKey, len(b))
	}
	pub, err := ecdh.X25519().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

func envelopeKey(shared, ephemeral, recipient []byte) ([]byte, error) {
	salt := make([]byte, 0, 2*keySize)
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(envelopeInfo)), key); err != nil {
		return nil, fmt.Errorf("recovery: derive envelope key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext to recipient with an ephemeral X25519 key. aad is
// authenticated but not encrypted.
func Seal(random io.Reader, recipient *ecdh.PublicKey, plaintext, aad []byte) ([]byte, error) {
	if recipient == nil {
		return nil, fmt.Errorf("%w: nil recipient", ErrInvalidKey)
	}
	ephemeral, err := GenerateKey(random)
	if err != nil {
		return nil, err
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("recovery: key agreement: %w", err)
	}
	ephemeralPub := ephemeral.PublicKey().Bytes()
	key, err := envelopeKey(shared, ephemeralPub, recipient.Bytes())
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, fmt.Errorf("recovery: generate nonce: %w", err)
	}

	out := make([]byte, 0, keySize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// Open decrypts an envelope produced by Seal.
func Open(priv *ecdh.PrivateKey, envelope, aad []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidKey)
	}
	if len(envelope) < keySize+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidEnvelope, len(envelope))
	}
	ephemeralPub, err := ParsePublicKey(envelope[:keySize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	shared, err := priv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	key, err := envelopeKey(shared, envelope[:keySize], priv.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := envelope[keySize : keySize+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, envelope[keySize+aead.NonceSize():], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
