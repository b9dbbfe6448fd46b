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

package challenge

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"sync"
)

// SoftwareService is a KeyChallengeService holding keys in memory.
type SoftwareService struct {
	mu   sync.RWMutex
	keys map[string]crypto.Signer
}

// NewSoftwareService returns an empty service.
func NewSoftwareService() *SoftwareService {
	return &SoftwareService{keys: make(map[string]crypto.Signer)}
}

// AddKey registers signer and returns its KeyInfo. Only RSA and Ed25519
// keys are accepted.
func (s *SoftwareService) AddKey(signer crypto.Signer) (KeyInfo, error) {
	spki, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return KeyInfo{}, fmt.Errorf("challenge: marshal public key: %w", err)
	}
	var algs []Algorithm
	for _, alg := range preference {
		if alg.matches(signer.Public()) {
			algs = append(algs, alg)
		}
	}
	if len(algs) == 0 {
		return KeyInfo{}, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, signer.Public())
	}

	s.mu.Lock()
	s.keys[string(spki)] = signer
	s.mu.Unlock()
	return KeyInfo{PublicKeySPKI: spki, Algorithms: algs}, nil
}

// RemoveKey forgets the key, simulating a removed smart card.
func (s *SoftwareService) RemoveKey(publicKeySPKI []byte) {
	s.mu.Lock()
	delete(s.keys, string(publicKeySPKI))
	s.mu.Unlock()
}

func (s *SoftwareService) ChallengeSignature(ctx context.Context, account string, publicKeySPKI []byte, challenge []byte, alg Algorithm) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	signer, ok := s.keys[string(publicKeySPKI)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}
	return Sign(signer, alg, challenge)
}
