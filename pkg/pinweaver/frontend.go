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

// Package pinweaver implements hwsec.PinWeaverFrontend in software.
//
// Each credential is a leaf persisted in a storage.Backend. A leaf holds the
// MAC of its low-entropy secret, its encrypted high-entropy and reset secrets,
// its delay schedule and its wrong attempt counter. Every leaf record carries
// an HMAC under a device key, so a tampered or corrupted leaf fails with
// hwsec.CodeHashTree for that label only.
//
// Layout in the backend:
//
//	device_secret      root secret all leaf keys derive from
//	next_label         next label to allocate
//	index              CBOR list of committed labels
//	leaves/<label>     leaf record
package pinweaver

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/mo"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

const (
	keyDeviceSecret = "device_secret"
	keyNextLabel    = "next_label"
	keyIndex        = "index"
	leafDir         = "leaves/"

	secretSize = 32
	nonceSize  = 32
	ivSize     = aes.BlockSize
)

type leafKind uint8

const (
	kindCredential leafKind = iota + 1
	kindRateLimiter
)

type leaf struct {
	Label          uint64            `cbor:"1,keyasint"`
	Kind           leafKind          `cbor:"2,keyasint"`
	LowSecretMAC   []byte            `cbor:"3,keyasint,omitempty"`
	SealedSecrets  []byte            `cbor:"4,keyasint"`
	SecretsNonce   []byte            `cbor:"5,keyasint"`
	Schedule       map[uint32]uint32 `cbor:"6,keyasint"`
	Attempts       uint32            `cbor:"7,keyasint"`
	LastFailure    int64             `cbor:"8,keyasint,omitempty"`
	ExpiresAt      int64             `cbor:"9,keyasint,omitempty"`
	ExpirationSecs int64             `cbor:"10,keyasint,omitempty"`
	AuthChannel    uint8             `cbor:"11,keyasint,omitempty"`
}

type leafSecrets struct {
	HighEntropySecret []byte `cbor:"1,keyasint"`
	ResetSecret       []byte `cbor:"2,keyasint"`
}

type leafRecord struct {
	Leaf []byte `cbor:"1,keyasint"`
	MAC  []byte `cbor:"2,keyasint"`
}

// Frontend is a software PinWeaver frontend.
type Frontend struct {
	mu         sync.Mutex
	store      storage.Backend
	now        func() time.Time
	logger     *logging.Logger
	macKey     []byte
	secretKey  []byte
	pairingKey []byte
	enabled    bool
	biometrics bool
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Frontend) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Frontend) { f.logger = l }
}

// WithEnabled toggles whether the frontend reports itself as enabled.
func WithEnabled(enabled bool) Option {
	return func(f *Frontend) { f.enabled = enabled }
}

// WithBiometrics toggles biometrics rate-limiter support.
func WithBiometrics(enabled bool) Option {
	return func(f *Frontend) { f.biometrics = enabled }
}

// New opens the leaf store in store, creating the device secret on first use.
func New(store storage.Backend, opts ...Option) (*Frontend, error) {
	f := &Frontend{
		store:      store,
		now:        time.Now,
		enabled:    true,
		biometrics: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.DefaultLogger()
	}

	root, err := store.Get(keyDeviceSecret)
	if errors.Is(err, storage.ErrNotFound) {
		if root, err = secure.Random(secretSize); err != nil {
			return nil, err
		}
		if err := store.Put(keyDeviceSecret, root, storage.DefaultOptions()); err != nil {
			return nil, fmt.Errorf("pinweaver: persist device secret: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("pinweaver: load device secret: %w", err)
	}
	defer secure.Zero(root)

	if f.macKey, err = derive(root, "leaf-mac"); err != nil {
		return nil, err
	}
	if f.secretKey, err = derive(root, "leaf-secrets"); err != nil {
		return nil, err
	}
	if f.pairingKey, err = derive(root, "biometrics-pairing"); err != nil {
		return nil, err
	}
	return f, nil
}

func derive(root []byte, purpose string) ([]byte, error) {
	key := make([]byte, secretSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("pinweaver: derive %s: %w", purpose, err)
	}
	return key, nil
}

// PairingKey returns the key shared with the biometrics daemon on channel.
func (f *Frontend) PairingKey(channel uint8) []byte {
	mac := hmac.New(sha256.New, f.pairingKey)
	mac.Write([]byte{channel})
	return mac.Sum(nil)
}

func (f *Frontend) IsEnabled(ctx context.Context) (bool, error) {
	return f.enabled, nil
}

func (f *Frontend) IsBiometricsEnabled(ctx context.Context) (bool, error) {
	return f.enabled && f.biometrics, nil
}

// InsertLeaf allocates a label and writes a credential leaf. The leaf is
// written before the index; if the index update fails the error carries
// CodePartialInsert and the allocated label.
func (f *Frontend) InsertLeaf(ctx context.Context, req hwsec.InsertLeafRequest) (uint64, error) {
	if len(req.LowEntropySecret) == 0 || len(req.HighEntropySecret) == 0 || len(req.ResetSecret) == 0 {
		return 0, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "missing secret")
	}
	if err := req.DelaySchedule.Validate(); err != nil {
		return 0, hwsec.Errorf(hwsec.CodeInvalidArgument, hwsec.RetryNone, "%w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l := &leaf{
		Kind:     kindCredential,
		Schedule: req.DelaySchedule.Clone(),
	}
	return f.insertLocked(l, req.LowEntropySecret, leafSecrets{
		HighEntropySecret: secure.Clone(req.HighEntropySecret),
		ResetSecret:       secure.Clone(req.ResetSecret),
	}, req.Expiration)
}

// InsertRateLimiter writes a biometrics rate-limiter leaf.
func (f *Frontend) InsertRateLimiter(ctx context.Context, req hwsec.InsertRateLimiterRequest) (uint64, error) {
	if !f.biometrics {
		return 0, hwsec.NewError(hwsec.CodeNotSupported, hwsec.RetryNone, "biometrics")
	}
	if len(req.ResetSecret) == 0 {
		return 0, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "missing reset secret")
	}
	if err := req.DelaySchedule.Validate(); err != nil {
		return 0, hwsec.Errorf(hwsec.CodeInvalidArgument, hwsec.RetryNone, "%w", err)
	}
	he, err := secure.Random(secretSize)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l := &leaf{
		Kind:        kindRateLimiter,
		Schedule:    req.DelaySchedule.Clone(),
		AuthChannel: req.AuthChannel,
	}
	return f.insertLocked(l, nil, leafSecrets{
		HighEntropySecret: he,
		ResetSecret:       secure.Clone(req.ResetSecret),
	}, req.Expiration)
}

func (f *Frontend) insertLocked(l *leaf, low []byte, secrets leafSecrets, expiration time.Duration) (uint64, error) {
	label, err := f.allocateLabelLocked()
	if err != nil {
		return 0, err
	}
	l.Label = label
	if low != nil {
		l.LowSecretMAC = f.lowSecretMAC(label, low)
	}
	if expiration > 0 {
		l.ExpirationSecs = int64(expiration / time.Second)
		l.ExpiresAt = f.now().Add(expiration).UnixNano()
	}
	if err := f.sealSecrets(l, secrets); err != nil {
		return 0, err
	}
	if err := f.writeLeafLocked(l); err != nil {
		return 0, err
	}

	index, err := f.loadIndexLocked()
	if err == nil {
		index = append(index, label)
		err = f.saveIndexLocked(index)
	}
	if err != nil {
		f.logger.Warn("pinweaver: leaf written but index not updated", "label", label, "error", err)
		return 0, &hwsec.Error{
			Code:  hwsec.CodePartialInsert,
			Retry: hwsec.RetryNone,
			Msg:   "index update failed for label " + strconv.FormatUint(label, 10),
			Label: label,
			Err:   err,
		}
	}
	f.logger.Debug("pinweaver: leaf inserted", "label", label, "kind", l.Kind)
	return label, nil
}

func (f *Frontend) allocateLabelLocked() (uint64, error) {
	next := uint64(1)
	raw, err := f.store.Get(keyNextLabel)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, hwsec.NewError(hwsec.CodeHashTree, hwsec.RetryNone, "corrupt label counter")
		}
		next = binary.BigEndian.Uint64(raw)
	case !errors.Is(err, storage.ErrNotFound):
		return 0, hwsec.Errorf(hwsec.CodeComm, hwsec.RetryLater, "read label counter: %w", err)
	}
	if next == 0 {
		return 0, hwsec.NewError(hwsec.CodeNoFreeLabel, hwsec.RetryNone, "label space exhausted")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next+1)
	if err := f.store.Put(keyNextLabel, buf, storage.DefaultOptions()); err != nil {
		return 0, hwsec.Errorf(hwsec.CodeComm, hwsec.RetryLater, "write label counter: %w", err)
	}
	return next, nil
}

// CheckLeaf validates lowEntropySecret against the leaf. A wrong secret is
// counted durably before the error is returned.
func (f *Frontend) CheckLeaf(ctx context.Context, label uint64, lowEntropySecret []byte) (*hwsec.CheckLeafReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, err := f.loadCommittedLeafLocked(label)
	if err != nil {
		return nil, err
	}
	if l.Kind != kindCredential {
		return nil, hwsec.NewError(hwsec.CodeInvalidMetadata, hwsec.RetryNone, "not a credential leaf")
	}
	if err := f.checkUsableLocked(l); err != nil {
		return nil, err
	}

	if !hmac.Equal(l.LowSecretMAC, f.lowSecretMAC(label, lowEntropySecret)) {
		l.Attempts++
		l.LastFailure = f.now().UnixNano()
		if err := f.writeLeafLocked(l); err != nil {
			return nil, err
		}
		if hwsec.DelaySchedule(l.Schedule).DelayFor(l.Attempts) == hwsec.InfiniteDelay {
			f.logger.Warn("pinweaver: leaf locked out", "label", label, "attempts", l.Attempts)
			return nil, hwsec.NewError(hwsec.CodeTooManyAttempts, hwsec.RetryNone, "locked out")
		}
		return nil, hwsec.NewError(hwsec.CodeInvalidLESecret, hwsec.RetryNone, "")
	}

	if l.Attempts != 0 {
		l.Attempts = 0
		l.LastFailure = 0
		if err := f.writeLeafLocked(l); err != nil {
			return nil, err
		}
	}
	secrets, err := f.openSecrets(l)
	if err != nil {
		return nil, err
	}
	return &hwsec.CheckLeafReply{
		HighEntropySecret: secrets.HighEntropySecret,
		ResetSecret:       secrets.ResetSecret,
	}, nil
}

// checkUsableLocked fails if the leaf is expired or inside a delay window.
func (f *Frontend) checkUsableLocked(l *leaf) error {
	now := f.now()
	if l.ExpiresAt != 0 && !now.Before(time.Unix(0, l.ExpiresAt)) {
		return hwsec.NewError(hwsec.CodeExpired, hwsec.RetryNone, "")
	}
	if remaining := f.remainingDelay(l, now); remaining != 0 {
		if remaining == hwsec.InfiniteDelay {
			return hwsec.NewError(hwsec.CodeTooManyAttempts, hwsec.RetryNone, "locked out")
		}
		err := hwsec.Errorf(hwsec.CodeTooManyAttempts, hwsec.RetryLater, "retry in %ds", remaining)
		err.Delay = remaining
		return err
	}
	return nil
}

func (f *Frontend) remainingDelay(l *leaf, now time.Time) uint32 {
	delay := hwsec.DelaySchedule(l.Schedule).DelayFor(l.Attempts)
	if delay == 0 || delay == hwsec.InfiniteDelay {
		return delay
	}
	ready := time.Unix(0, l.LastFailure).Add(time.Duration(delay) * time.Second)
	if !now.Before(ready) {
		return 0
	}
	secs := ready.Sub(now) / time.Second
	if ready.Sub(now)%time.Second != 0 {
		secs++
	}
	return uint32(secs)
}

// ResetLeaf clears the attempt counter if resetSecret matches. A strong reset
// also renews the expiration.
func (f *Frontend) ResetLeaf(ctx context.Context, label uint64, resetSecret []byte, strongReset bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, err := f.loadCommittedLeafLocked(label)
	if err != nil {
		return err
	}
	secrets, err := f.openSecrets(l)
	if err != nil {
		return err
	}
	if !secure.Equal(secrets.ResetSecret, resetSecret) {
		return hwsec.NewError(hwsec.CodeInvalidResetSecret, hwsec.RetryNone, "")
	}
	l.Attempts = 0
	l.LastFailure = 0
	if strongReset && l.ExpirationSecs > 0 {
		l.ExpiresAt = f.now().Add(time.Duration(l.ExpirationSecs) * time.Second).UnixNano()
	}
	return f.writeLeafLocked(l)
}

// RemoveLeaf deletes the leaf and drops it from the index. Leaves left
// behind by a partial insert can be removed too.
func (f *Frontend) RemoveLeaf(ctx context.Context, label uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.loadLeafLocked(label); err != nil {
		code, _ := hwsec.CodeOf(err)
		if code != hwsec.CodeHashTree {
			return err
		}
	}
	if err := f.store.Delete(leafKey(label)); err != nil {
		return hwsec.Errorf(hwsec.CodeComm, hwsec.RetryLater, "delete leaf: %w", err)
	}
	index, err := f.loadIndexLocked()
	if err != nil {
		return err
	}
	if i := slices.Index(index, label); i >= 0 {
		index = slices.Delete(index, i, i+1)
		return f.saveIndexLocked(index)
	}
	return nil
}

// StartBiometricsAuth returns the label seed of the rate-limiter leaf
// encrypted under a key bound to the channel's pairing key and both nonces.
// The attempt counter is not touched.
func (f *Frontend) StartBiometricsAuth(ctx context.Context, authChannel uint8, label uint64, clientNonce []byte) (*hwsec.StartBiometricsAuthReply, error) {
	if len(clientNonce) == 0 {
		return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "empty client nonce")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l, err := f.loadCommittedLeafLocked(label)
	if err != nil {
		return nil, err
	}
	if l.Kind != kindRateLimiter || l.AuthChannel != authChannel {
		return nil, hwsec.NewError(hwsec.CodeInvalidMetadata, hwsec.RetryNone, "not a rate limiter for channel")
	}
	if err := f.checkUsableLocked(l); err != nil {
		return nil, err
	}
	secrets, err := f.openSecrets(l)
	if err != nil {
		return nil, err
	}

	serverNonce, err := secure.Random(nonceSize)
	if err != nil {
		return nil, err
	}
	iv, err := secure.Random(ivSize)
	if err != nil {
		return nil, err
	}
	nonces := secure.Concat(clientNonce, serverNonce)

	encrypted, err := EncryptSessionSecret(f.PairingKey(authChannel), nonces, iv, secrets.HighEntropySecret)
	if err != nil {
		return nil, err
	}
	return &hwsec.StartBiometricsAuthReply{
		ServerNonce:       serverNonce,
		IV:                iv,
		EncryptedHESecret: encrypted,
	}, nil
}

// EncryptSessionSecret encrypts a session secret under the key derived from
// pairingKey and both nonces. The same call decrypts.
func EncryptSessionSecret(pairingKey, nonces, iv, data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, pairingKey)
	mac.Write(nonces)
	block, err := aes.NewCipher(mac.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("pinweaver: session cipher: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

func (f *Frontend) GetDelayInSeconds(ctx context.Context, label uint64) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, err := f.loadCommittedLeafLocked(label)
	if err != nil {
		return 0, err
	}
	return f.remainingDelay(l, f.now()), nil
}

func (f *Frontend) GetWrongAuthAttempts(ctx context.Context, label uint64) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, err := f.loadCommittedLeafLocked(label)
	if err != nil {
		return 0, err
	}
	return l.Attempts, nil
}

func (f *Frontend) GetExpirationInSeconds(ctx context.Context, label uint64) (mo.Option[uint32], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, err := f.loadCommittedLeafLocked(label)
	if err != nil {
		return mo.None[uint32](), err
	}
	if l.ExpiresAt == 0 {
		return mo.None[uint32](), nil
	}
	remaining := time.Unix(0, l.ExpiresAt).Sub(f.now())
	if remaining <= 0 {
		return mo.Some[uint32](0), nil
	}
	return mo.Some(uint32(remaining / time.Second)), nil
}

// Labels returns the committed labels.
func (f *Frontend) Labels() ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadIndexLocked()
}

func leafKey(label uint64) string {
	return leafDir + strconv.FormatUint(label, 10)
}

func (f *Frontend) lowSecretMAC(label uint64, low []byte) []byte {
	mac := hmac.New(sha256.New, f.macKey)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], label)
	mac.Write([]byte("low-entropy-secret"))
	mac.Write(buf[:])
	mac.Write(low)
	return mac.Sum(nil)
}

func (f *Frontend) recordMAC(label uint64, body []byte) []byte {
	mac := hmac.New(sha256.New, f.macKey)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], label)
	mac.Write([]byte("leaf"))
	mac.Write(buf[:])
	mac.Write(body)
	return mac.Sum(nil)
}

func (f *Frontend) sealSecrets(l *leaf, s leafSecrets) error {
	plain, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("pinweaver: encode secrets: %w", err)
	}
	defer secure.Zero(plain)
	aead, err := chacha20poly1305.New(f.secretKey)
	if err != nil {
		return err
	}
	nonce, err := secure.Random(aead.NonceSize())
	if err != nil {
		return err
	}
	var ad [8]byte
	binary.BigEndian.PutUint64(ad[:], l.Label)
	l.SecretsNonce = nonce
	l.SealedSecrets = aead.Seal(nil, nonce, plain, ad[:])
	return nil
}

func (f *Frontend) openSecrets(l *leaf) (*leafSecrets, error) {
	aead, err := chacha20poly1305.New(f.secretKey)
	if err != nil {
		return nil, err
	}
	var ad [8]byte
	binary.BigEndian.PutUint64(ad[:], l.Label)
	plain, err := aead.Open(nil, l.SecretsNonce, l.SealedSecrets, ad[:])
	if err != nil {
		return nil, hwsec.NewError(hwsec.CodeHashTree, hwsec.RetryNone, "leaf secrets unreadable")
	}
	defer secure.Zero(plain)
	var s leafSecrets
	if err := cbor.Unmarshal(plain, &s); err != nil {
		return nil, hwsec.NewError(hwsec.CodeHashTree, hwsec.RetryNone, "leaf secrets malformed")
	}
	return &s, nil
}

func (f *Frontend) writeLeafLocked(l *leaf) error {
	body, err := cbor.Marshal(l)
	if err != nil {
		return fmt.Errorf("pinweaver: encode leaf: %w", err)
	}
	rec, err := cbor.Marshal(leafRecord{Leaf: body, MAC: f.recordMAC(l.Label, body)})
	if err != nil {
		return fmt.Errorf("pinweaver: encode leaf record: %w", err)
	}
	if err := f.store.Put(leafKey(l.Label), rec, storage.DefaultOptions()); err != nil {
		return hwsec.Errorf(hwsec.CodeComm, hwsec.RetryLater, "write leaf %d: %w", l.Label, err)
	}
	return nil
}

func (f *Frontend) loadLeafLocked(label uint64) (*leaf, error) {
	raw, err := f.store.Get(leafKey(label))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, hwsec.Errorf(hwsec.CodeInvalidLabel, hwsec.RetryNone, "label %d", label)
	}
	if err != nil {
		return nil, hwsec.Errorf(hwsec.CodeComm, hwsec.RetryLater, "read leaf %d: %w", label, err)
	}
	var rec leafRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return nil, hwsec.Errorf(hwsec.CodeHashTree, hwsec.RetryNone, "leaf %d undecodable", label)
	}
	if !hmac.Equal(rec.MAC, f.recordMAC(label, rec.Leaf)) {
		return nil, hwsec.Errorf(hwsec.CodeHashTree, hwsec.RetryNone, "leaf %d mac mismatch", label)
	}
	var l leaf
	if err := cbor.Unmarshal(rec.Leaf, &l); err != nil || l.Label != label {
		return nil, hwsec.Errorf(hwsec.CodeHashTree, hwsec.RetryNone, "leaf %d malformed", label)
	}
	return &l, nil
}

func (f *Frontend) loadCommittedLeafLocked(label uint64) (*leaf, error) {
	index, err := f.loadIndexLocked()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(index, label) {
		return nil, hwsec.Errorf(hwsec.CodeInvalidLabel, hwsec.RetryNone, "label %d", label)
	}
	return f.loadLeafLocked(label)
}

func (f *Frontend) loadIndexLocked() ([]uint64, error) {
	raw, err := f.store.Get(keyIndex)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, hwsec.Errorf(hwsec.CodeComm, hwsec.RetryLater, "read index: %w", err)
	}
	var index []uint64
	if err := cbor.Unmarshal(raw, &index); err != nil {
		return nil, hwsec.NewError(hwsec.CodeHashTree, hwsec.RetryNone, "index undecodable")
	}
	return index, nil
}

func (f *Frontend) saveIndexLocked(index []uint64) error {
	raw, err := cbor.Marshal(index)
	if err != nil {
		return fmt.Errorf("pinweaver: encode index: %w", err)
	}
	if err := f.store.Put(keyIndex, raw, storage.DefaultOptions()); err != nil {
		return hwsec.Errorf(hwsec.CodeComm, hwsec.RetryLater, "write index: %w", err)
	}
	return nil
}

// Verify interface compliance at compile time
var _ hwsec.PinWeaverFrontend = (*Frontend)(nil)
