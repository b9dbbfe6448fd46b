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
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	priv, err := GenerateKey(rand.Reader)
	require.NoError(t, err)

	envelope, err := Seal(rand.Reader, priv.PublicKey(), []byte("share"), []byte("aad"))
	require.NoError(t, err)

	plain, err := Open(priv, envelope, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("share"), plain)

	_, err = Open(priv, envelope, []byte("other"))
	assert.ErrorIs(t, err, ErrDecrypt)

	other, err := GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = Open(other, envelope, []byte("aad"))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Open(priv, envelope[:10], nil)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestParseKeys(t *testing.T) {
	_, err := ParsePublicKey(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParsePrivateKey(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRecoveryRoundTrip(t *testing.T) {
	mediator, err := NewMediator(rand.Reader)
	require.NoError(t, err)
	meta := OnboardingMetadata{ObfuscatedUsername: "user-hash", RecoveryID: "rid"}

	secrets, err := Generate(rand.Reader, mediator.PublicKey(), meta)
	require.NoError(t, err)
	require.Len(t, secrets.RecoverySecret, secretSize)

	response, err := mediator.Mediate(Request{
		HSMPayload:    secrets.HSMPayload,
		ChannelPubKey: secrets.ChannelPubKey,
		Metadata:      meta,
	})
	require.NoError(t, err)

	secret, err := Recover(secrets.ChannelPrivKey, response, secrets.DestinationShare)
	require.NoError(t, err)
	assert.Equal(t, secrets.RecoverySecret, secret)
}

func TestMediateRejectsWrongMetadata(t *testing.T) {
	mediator, err := NewMediator(rand.Reader)
	require.NoError(t, err)
	secrets, err := Generate(rand.Reader, mediator.PublicKey(), OnboardingMetadata{ObfuscatedUsername: "a"})
	require.NoError(t, err)

	_, err = mediator.Mediate(Request{
		HSMPayload:    secrets.HSMPayload,
		ChannelPubKey: secrets.ChannelPubKey,
		Metadata:      OnboardingMetadata{ObfuscatedUsername: "b"},
	})
	assert.Error(t, err)
}

func TestMediateRejectsSwappedChannel(t *testing.T) {
	mediator, err := NewMediator(rand.Reader)
	require.NoError(t, err)
	secrets, err := Generate(rand.Reader, mediator.PublicKey(), OnboardingMetadata{})
	require.NoError(t, err)
	attacker, err := GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = mediator.Mediate(Request{
		HSMPayload:    secrets.HSMPayload,
		ChannelPubKey: attacker.PublicKey().Bytes(),
	})
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestRecoverWrongDestinationShare(t *testing.T) {
	mediator, err := NewMediator(rand.Reader)
	require.NoError(t, err)
	secrets, err := Generate(rand.Reader, mediator.PublicKey(), OnboardingMetadata{})
	require.NoError(t, err)
	response, err := mediator.Mediate(Request{HSMPayload: secrets.HSMPayload, ChannelPubKey: secrets.ChannelPubKey})
	require.NoError(t, err)

	secret, err := Recover(secrets.ChannelPrivKey, response, make([]byte, shareSize))
	require.NoError(t, err)
	assert.NotEqual(t, secrets.RecoverySecret, secret)
}

func TestMediatorFromKey(t *testing.T) {
	m1, err := NewMediator(rand.Reader)
	require.NoError(t, err)
	m2, err := NewMediatorFromKey(rand.Reader, m1.PrivateKey())
	require.NoError(t, err)
	assert.Equal(t, m1.PublicKey(), m2.PublicKey())
}
