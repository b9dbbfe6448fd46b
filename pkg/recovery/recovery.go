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

// Package recovery implements the client and mediator sides of cryptohome
// recovery. At creation the recovery secret is split into a destination
// share kept on the device and a mediator share sealed to the mediator. To
// recover, the mediator opens its share and returns it over a channel key
// that only this device can decrypt.
package recovery

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

const (
	shareSize   = 32
	secretSize  = 32
	secretInfo  = "authblock-recovery-secret"
	responseAAD = "authblock-recovery-response"
)

// OnboardingMetadata is sealed with the mediator share and checked by the
// mediator before it releases the share.
type OnboardingMetadata struct {
	ObfuscatedUsername string `cbor:"1,keyasint"`
	RecoveryID         string `cbor:"2,keyasint"`
}

type hsmPlaintext struct {
	MediatorShare []byte             `cbor:"1,keyasint"`
	Metadata      OnboardingMetadata `cbor:"2,keyasint"`
}

// Secrets is the result of Generate. ChannelPrivKey and DestinationShare
// must be wrapped by the caller before they are persisted.
type Secrets struct {
	HSMPayload       []byte
	ChannelPubKey    []byte
	ChannelPrivKey   []byte
	DestinationShare []byte
	RecoverySecret   []byte
}

// Clear zeroes the secret fields.
func (s *Secrets) Clear() {
	secure.Zero(s.ChannelPrivKey)
	secure.Zero(s.DestinationShare)
	secure.Zero(s.RecoverySecret)
}

// Request is what the device sends to the mediator.
type Request struct {
	HSMPayload    []byte             `cbor:"1,keyasint"`
	ChannelPubKey []byte             `cbor:"2,keyasint"`
	Metadata      OnboardingMetadata `cbor:"3,keyasint"`
}

func combine(mediatorShare, destinationShare []byte) ([]byte, error) {
	secret := make([]byte, secretSize)
	ikm := secure.Concat(mediatorShare, destinationShare)
	defer secure.Zero(ikm)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(secretInfo)), secret); err != nil {
		return nil, fmt.Errorf("recovery: derive secret: %w", err)
	}
	return secret, nil
}

// Generate creates a recovery secret for meta whose mediator share is
// sealed to mediatorPubKey.
func Generate(random io.Reader, mediatorPubKey []byte, meta OnboardingMetadata) (*Secrets, error) {
	mediatorPub, err := ParsePublicKey(mediatorPubKey)
	if err != nil {
		return nil, err
	}
	mediatorShare := make([]byte, shareSize)
	destinationShare := make([]byte, shareSize)
	if _, err := io.ReadFull(random, mediatorShare); err != nil {
		return nil, fmt.Errorf("recovery: generate share: %w", err)
	}
	defer secure.Zero(mediatorShare)
	if _, err := io.ReadFull(random, destinationShare); err != nil {
		return nil, fmt.Errorf("recovery: generate share: %w", err)
	}

	channel, err := GenerateKey(random)
	if err != nil {
		return nil, err
	}
	channelPub := channel.PublicKey().Bytes()

	plain, err := cbor.Marshal(hsmPlaintext{MediatorShare: mediatorShare, Metadata: meta})
	if err != nil {
		return nil, fmt.Errorf("recovery: encode payload: %w", err)
	}
	defer secure.Zero(plain)
	payload, err := Seal(random, mediatorPub, plain, channelPub)
	if err != nil {
		return nil, err
	}

	secret, err := combine(mediatorShare, destinationShare)
	if err != nil {
		return nil, err
	}
	return &Secrets{
		HSMPayload:       payload,
		ChannelPubKey:    channelPub,
		ChannelPrivKey:   channel.Bytes(),
		DestinationShare: destinationShare,
		RecoverySecret:   secret,
	}, nil
}

// Recover opens the mediator response with the channel key and rebuilds the
// recovery secret.
func Recover(channelPrivKey, response, destinationShare []byte) ([]byte, error) {
	channel, err := ParsePrivateKey(channelPrivKey)
	if err != nil {
		return nil, err
	}
	mediatorShare, err := Open(channel, response, []byte(responseAAD))
	if err != nil {
		return nil, err
	}
	defer secure.Zero(mediatorShare)
	return combine(mediatorShare, destinationShare)
}

// Mediator holds the mediator key. In production the mediator is a remote
// service; this implementation runs in process.
type Mediator struct {
	priv   *ecdh.PrivateKey
	random io.Reader
}

// NewMediator creates a mediator with a fresh key.
func NewMediator(random io.Reader) (*Mediator, error) {
	priv, err := GenerateKey(random)
	if err != nil {
		return nil, err
	}
	return &Mediator{priv: priv, random: random}, nil
}

// NewMediatorFromKey loads a mediator from a raw private key.
func NewMediatorFromKey(random io.Reader, key []byte) (*Mediator, error) {
	priv, err := ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &Mediator{priv: priv, random: random}, nil
}

// PublicKey returns the raw mediator public key.
func (m *Mediator) PublicKey() []byte {
	return m.priv.PublicKey().Bytes()
}

// PrivateKey returns the raw mediator private key.
func (m *Mediator) PrivateKey() []byte {
	return m.priv.Bytes()
}

// Mediate opens the payload of req and returns the mediator share sealed to
// the request's channel key.
func (m *Mediator) Mediate(req Request) ([]byte, error) {
	channelPub, err := ParsePublicKey(req.ChannelPubKey)
	if err != nil {
		return nil, err
	}
	plain, err := Open(m.priv, req.HSMPayload, req.ChannelPubKey)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(plain)

	var hsm hsmPlaintext
	if err := cbor.Unmarshal(plain, &hsm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	defer secure.Zero(hsm.MediatorShare)
	if hsm.Metadata != req.Metadata {
		return nil, fmt.Errorf("recovery: onboarding metadata mismatch")
	}
	return Seal(m.random, channelPub, hsm.MediatorShare, []byte(responseAAD))
}
