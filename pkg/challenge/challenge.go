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

// Package challenge implements the key challenge service used by the
// challenge-response auth block. A caller-held key (a smart card, for
// example) signs a challenge and the signature becomes the passkey, so the
// signing algorithm must be deterministic.
package challenge

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnsupportedAlgorithm indicates the algorithm is unknown or not
	// deterministic.
	ErrUnsupportedAlgorithm = errors.New("challenge: unsupported signature algorithm")

	// ErrKeyMismatch indicates the public key does not match the algorithm.
	ErrKeyMismatch = errors.New("challenge: public key does not match algorithm")

	// ErrUnknownKey indicates the service holds no key for the public key.
	ErrUnknownKey = errors.New("challenge: unknown key")

	// ErrVerification indicates the signature did not verify.
	ErrVerification = errors.New("challenge: signature verification failed")
)

// Algorithm is a deterministic signature algorithm.
type Algorithm uint8

const (
	AlgorithmUnknown Algorithm = iota
	AlgorithmRSASSAPKCS1v15SHA1
	AlgorithmRSASSAPKCS1v15SHA256
	AlgorithmRSASSAPKCS1v15SHA384
	AlgorithmRSASSAPKCS1v15SHA512
	AlgorithmEd25519
)

// preference lists algorithms from most to least preferred.
var preference = []Algorithm{
	AlgorithmRSASSAPKCS1v15SHA256,
	AlgorithmRSASSAPKCS1v15SHA384,
	AlgorithmRSASSAPKCS1v15SHA512,
	AlgorithmEd25519,
	AlgorithmRSASSAPKCS1v15SHA1,
}

func (a Algorithm) String() string {
	switch a {
	case AlgorithmRSASSAPKCS1v15SHA1:
		return "rsassa-pkcs1-v1_5-sha1"
	case AlgorithmRSASSAPKCS1v15SHA256:
		return "rsassa-pkcs1-v1_5-sha256"
	case AlgorithmRSASSAPKCS1v15SHA384:
		return "rsassa-pkcs1-v1_5-sha384"
	case AlgorithmRSASSAPKCS1v15SHA512:
		return "rsassa-pkcs1-v1_5-sha512"
	case AlgorithmEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Hash returns the digest used by the algorithm. Ed25519 signs the message
// directly and returns zero.
func (a Algorithm) Hash() (crypto.Hash, error) {
	switch a {
	case AlgorithmRSASSAPKCS1v15SHA1:
		return crypto.SHA1, nil
	case AlgorithmRSASSAPKCS1v15SHA256:
		return crypto.SHA256, nil
	case AlgorithmRSASSAPKCS1v15SHA384:
		return crypto.SHA384, nil
	case AlgorithmRSASSAPKCS1v15SHA512:
		return crypto.SHA512, nil
	case AlgorithmEd25519:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, a)
	}
}

func (a Algorithm) matches(pub crypto.PublicKey) bool {
	switch pub.(type) {
	case *rsa.PublicKey:
		return a >= AlgorithmRSASSAPKCS1v15SHA1 && a <= AlgorithmRSASSAPKCS1v15SHA512
	case ed25519.PublicKey:
		return a == AlgorithmEd25519
	default:
		return false
	}
}

// KeyInfo describes a challenge key by its DER encoded SubjectPublicKeyInfo
// and the algorithms it accepts.
type KeyInfo struct {
	PublicKeySPKI []byte
	Algorithms    []Algorithm
}

// ChooseAlgorithm picks the preferred algorithm supported by the key.
func (k KeyInfo) ChooseAlgorithm() (Algorithm, error) {
	for _, alg := range preference {
		if slices.Contains(k.Algorithms, alg) {
			return alg, nil
		}
	}
	return AlgorithmUnknown, ErrUnsupportedAlgorithm
}

// KeyChallengeService asks the holder of a key to sign a challenge.
type KeyChallengeService interface {
	ChallengeSignature(ctx context.Context, account string, publicKeySPKI []byte, challenge []byte, alg Algorithm) ([]byte, error)
}

// Verify checks signature over message with the DER encoded public key.
func Verify(publicKeySPKI []byte, alg Algorithm, message, signature []byte) error {
	pub, err := x509.ParsePKIXPublicKey(publicKeySPKI)
	if err != nil {
		return fmt.Errorf("challenge: parse public key: %w", err)
	}
	if !alg.matches(pub) {
		return fmt.Errorf("%w: %s with %T", ErrKeyMismatch, alg, pub)
	}
	hash, err := alg.Hash()
	if err != nil {
		return err
	}
	switch key := pub.(type) {
	case *rsa.PublicKey:
		h := hash.New()
		h.Write(message)
		if err := rsa.VerifyPKCS1v15(key, hash, h.Sum(nil), signature); err != nil {
			return ErrVerification
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(key, message, signature) {
			return ErrVerification
		}
	}
	return nil
}

// Sign produces a deterministic signature over message with signer.
func Sign(signer crypto.Signer, alg Algorithm, message []byte) ([]byte, error) {
	if !alg.matches(signer.Public()) {
		return nil, fmt.Errorf("%w: %s with %T", ErrKeyMismatch, alg, signer.Public())
	}
	hash, err := alg.Hash()
	if err != nil {
		return nil, err
	}
	if hash == 0 {
		return signer.Sign(rand.Reader, message, crypto.Hash(0))
	}
	h := hash.New()
	h.Write(message)
	return signer.Sign(rand.Reader, h.Sum(nil), hash)
}
