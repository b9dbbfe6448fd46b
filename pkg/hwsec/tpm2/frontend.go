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

// Package tpm2 implements the hwsec sealing frontend on a TPM 2.0 device.
//
// Sealed objects are keyed-hash objects under a transient ECC storage root
// key. Their policy binds them to the user PCR; the auth value is bound
// by encrypting the payload under a key derived from it before sealing.
// Auth values are computed with ECDH against a primary key that never
// leaves the TPM.
package tpm2

import (
	"context"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/samber/mo"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
)

// DefaultUserPCR is the PCR extended when a user session locks the device
// to a single user.
const DefaultUserPCR = 23

var (
	ErrClosed = errors.New("tpm2: frontend closed")

	authValueUnique    = []byte("authblock-auth-value")
	eccAuthValueUnique = []byte("authblock-ecc-auth-value")
)

var sealTemplate = tpm2.TPMTPublic{
	Type:    tpm2.TPMAlgKeyedHash,
	NameAlg: tpm2.TPMAlgSHA256,
	ObjectAttributes: tpm2.TPMAObject{
		FixedTPM:    true,
		FixedParent: true,
	},
	Parameters: tpm2.NewTPMUPublicParms(
		tpm2.TPMAlgKeyedHash,
		&tpm2.TPMSKeyedHashParms{
			Scheme: tpm2.TPMTKeyedHashScheme{
				Scheme: tpm2.TPMAlgNull,
			},
		},
	),
}

func ecdhTemplate(unique []byte) tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgECC,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			Decrypt:             true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgECC,
			&tpm2.TPMSECCParms{
				Symmetric: tpm2.TPMTSymDefObject{
					Algorithm: tpm2.TPMAlgNull,
				},
				Scheme: tpm2.TPMTECCScheme{
					Scheme: tpm2.TPMAlgNull,
				},
				CurveID: tpm2.TPMECCNistP256,
				KDF: tpm2.TPMTKDFScheme{
					Scheme: tpm2.TPMAlgNull,
				},
			},
		),
		Unique: tpm2.NewTPMUPublicID(
			tpm2.TPMAlgECC,
			&tpm2.TPMSECCPoint{
				X: tpm2.TPM2BECCParameter{Buffer: unique},
			},
		),
	}
}

type primaryKey struct {
	handle tpm2.TPMHandle
	name   tpm2.TPM2BName
	public []byte
}

func (k *primaryKey) authHandle() tpm2.AuthHandle {
	return tpm2.AuthHandle{
		Handle: k.handle,
		Name:   k.name,
		Auth:   tpm2.PasswordAuth(nil),
	}
}

// Frontend is a hwsec.CryptohomeFrontend backed by a TPM.
type Frontend struct {
	mu      sync.Mutex
	tpm     transport.TPMCloser
	logger  *logging.Logger
	userPCR uint
	srk     *primaryKey
}

type Option func(*Frontend)

func WithLogger(l *logging.Logger) Option {
	return func(f *Frontend) { f.logger = l }
}

// WithUserPCR selects the PCR that holds the current user measurement.
func WithUserPCR(pcr uint) Option {
	return func(f *Frontend) { f.userPCR = pcr }
}

// Open opens the TPM character device at path.
func Open(path string, opts ...Option) (*Frontend, error) {
	conn, err := transport.OpenTPM(path)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to open TPM device: %w", err)
	}
	f, err := New(conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return f, nil
}

// New creates the storage root key on tpm. The frontend owns tpm and
// closes it in Close.
func New(tpm transport.TPMCloser, opts ...Option) (*Frontend, error) {
	f := &Frontend{
		tpm:     tpm,
		userPCR: DefaultUserPCR,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.DefaultLogger()
	}
	srk, err := f.createPrimary(tpm2.ECCSRKTemplate)
	if err != nil {
		return nil, translate(err, "create storage root key")
	}
	f.srk = srk
	f.logger.Debug("tpm2 frontend ready", "srk", fmt.Sprintf("0x%x", srk.handle))
	return f, nil
}

// Close flushes the storage root key and closes the TPM.
func (f *Frontend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return nil
	}
	if f.srk != nil {
		f.flush(f.srk.handle)
	}
	err := f.tpm.Close()
	f.tpm = nil
	return err
}

func (f *Frontend) flush(h tpm2.TPMHandle) {
	if _, err := (tpm2.FlushContext{FlushHandle: h}).Execute(f.tpm); err != nil {
		f.logger.Warn("failed to flush handle", "handle", fmt.Sprintf("0x%x", h), "error", err)
	}
}

func (f *Frontend) createPrimary(template tpm2.TPMTPublic) (*primaryKey, error) {
	resp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHOwner,
		InPublic:      tpm2.New2B(template),
	}.Execute(f.tpm)
	if err != nil {
		return nil, err
	}
	return &primaryKey{
		handle: resp.ObjectHandle,
		name:   resp.Name,
		public: tpm2.Marshal(resp.OutPublic),
	}, nil
}

func (f *Frontend) IsReady(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tpm != nil, nil
}

func (f *Frontend) IsSealingSupported(ctx context.Context) (bool, error) {
	return f.IsReady(ctx)
}

func (f *Frontend) IsECCSupported(ctx context.Context) (bool, error) {
	return f.IsReady(ctx)
}

func (f *Frontend) GetPubkeyHash(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return nil, notReady()
	}
	sum := sha256.Sum256(f.srk.public)
	return sum[:], nil
}

func (f *Frontend) GetAuthValue(ctx context.Context, passBlob []byte) ([]byte, error) {
	return f.authValue(authValueUnique, passBlob)
}

func (f *Frontend) GetECCAuthValue(ctx context.Context, passBlob []byte) ([]byte, error) {
	return f.authValue(eccAuthValueUnique, passBlob)
}

// authValue multiplies a point derived from passBlob by the private part of
// a TPM primary key and hashes the shared x coordinate. The primary is
// recreated from its template on every call and flushed before returning,
// so only the storage root key stays resident.
func (f *Frontend) authValue(unique, passBlob []byte) ([]byte, error) {
	if len(passBlob) == 0 {
		return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "empty pass blob")
	}
	point, err := passBlobPoint(passBlob)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return nil, notReady()
	}
	key, err := f.createPrimary(ecdhTemplate(unique))
	if err != nil {
		return nil, translate(err, "create auth value key")
	}
	defer f.flush(key.handle)

	resp, err := tpm2.ECDHZGen{
		KeyHandle: key.authHandle(),
		InPoint:   tpm2.New2B(*point),
	}.Execute(f.tpm)
	if err != nil {
		return nil, translate(err, "ecdh")
	}
	out, err := resp.OutPoint.Contents()
	if err != nil {
		return nil, hwsec.Errorf(hwsec.CodeUnknown, hwsec.RetryNone, "ecdh output: %v", err)
	}
	h := sha256.New()
	h.Write(unique)
	h.Write(out.X.Buffer)
	return h.Sum(nil), nil
}

// passBlobPoint maps passBlob to a P-256 point with a known discrete log.
func passBlobPoint(passBlob []byte) (*tpm2.TPMSECCPoint, error) {
	var ctr [4]byte
	for i := uint32(0); i < 16; i++ {
		binary.BigEndian.PutUint32(ctr[:], i)
		h := sha256.New()
		h.Write(ctr[:])
		h.Write(passBlob)
		priv, err := ecdh.P256().NewPrivateKey(h.Sum(nil))
		if err != nil {
			continue
		}
		// Uncompressed encoding: 0x04 || X || Y.
		pub := priv.PublicKey().Bytes()
		return &tpm2.TPMSECCPoint{
			X: tpm2.TPM2BECCParameter{Buffer: pub[1:33]},
			Y: tpm2.TPM2BECCParameter{Buffer: pub[33:]},
		}, nil
	}
	return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "pass blob does not map to a point")
}

type sealedBlob struct {
	Public     []byte `cbor:"1,keyasint"`
	Private    []byte `cbor:"2,keyasint"`
	Salt       []byte `cbor:"3,keyasint"`
	Nonce      []byte `cbor:"4,keyasint"`
	Ciphertext []byte `cbor:"5,keyasint"`
}

type loadedObject struct {
	f      *Frontend
	handle tpm2.TPMHandle
	name   tpm2.TPM2BName
	blob   *sealedBlob
	once   sync.Once
}

func (o *loadedObject) Close() error {
	o.once.Do(func() {
		o.f.mu.Lock()
		defer o.f.mu.Unlock()
		if o.f.tpm != nil {
			o.f.flush(o.handle)
		}
	})
	return nil
}

// SealWithCurrentUser encrypts data under authValue and seals the key to
// the user PCR. When user is set the policy expects the PCR after user has
// been extended into it.
func (f *Frontend) SealWithCurrentUser(ctx context.Context, user mo.Option[string], authValue, data []byte) ([]byte, error) {
	salt, err := secure.Random(16)
	if err != nil {
		return nil, err
	}
	key, err := secure.Random(chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(key)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return nil, notReady()
	}
	pcr, err := f.readUserPCR()
	if err != nil {
		return nil, err
	}
	if name, ok := user.Get(); ok {
		pcr = extend(pcr, name)
	}
	policy, err := f.pcrPolicyDigest(pcr)
	if err != nil {
		return nil, err
	}
	template := sealTemplate
	template.AuthPolicy = tpm2.TPM2BDigest{Buffer: policy}
	pub, priv, err := f.create(template, key)
	if err != nil {
		return nil, err
	}

	aead, err := payloadAEAD(key, salt, authValue)
	if err != nil {
		return nil, err
	}
	nonce, err := secure.Random(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(sealedBlob{
		Public:     pub,
		Private:    priv,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, data, pub),
	})
}

func (f *Frontend) PreloadSealedData(ctx context.Context, sealed []byte) (hwsec.PreloadedData, error) {
	blob, err := decodeSealed(sealed)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return nil, notReady()
	}
	return f.load(blob)
}

func (f *Frontend) UnsealWithCurrentUser(ctx context.Context, preload hwsec.PreloadedData, sealed, authValue []byte) ([]byte, error) {
	obj, ok := preload.(*loadedObject)
	if !ok || obj == nil {
		blob, err := decodeSealed(sealed)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		if f.tpm == nil {
			f.mu.Unlock()
			return nil, notReady()
		}
		obj, err = f.load(blob)
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		defer func() { _ = obj.Close() }()
	}

	f.mu.Lock()
	key, err := f.unsealPolicy(obj)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer secure.Zero(key)

	aead, err := payloadAEAD(key, obj.blob.Salt, authValue)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, obj.blob.Nonce, obj.blob.Ciphertext, obj.blob.Public)
	if err != nil {
		return nil, hwsec.NewError(hwsec.CodeAuthFailed, hwsec.RetryNone, "unseal")
	}
	return plain, nil
}

// Encrypt wraps plaintext under a key sealed without policy.
func (f *Frontend) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	key, err := secure.Random(chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(key)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return nil, notReady()
	}
	template := sealTemplate
	template.ObjectAttributes.UserWithAuth = true
	pub, priv, err := f.create(template, key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := secure.Random(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(sealedBlob{
		Public:     pub,
		Private:    priv,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, pub),
	})
}

func (f *Frontend) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	blob, err := decodeSealed(ciphertext)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return nil, notReady()
	}
	obj, err := f.load(blob)
	if err != nil {
		return nil, err
	}
	defer f.flush(obj.handle)

	resp, err := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: obj.handle,
			Name:   obj.name,
			Auth:   tpm2.PasswordAuth(nil),
		},
	}.Execute(f.tpm)
	if err != nil {
		return nil, translate(err, "unseal wrapping key")
	}
	key := resp.OutData.Buffer
	defer secure.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, blob.Public)
	if err != nil {
		return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "wrapped blob does not authenticate")
	}
	return plain, nil
}

// ExtendUserPCR measures username into the user PCR, locking sealed
// objects to that user until the next reboot.
func (f *Frontend) ExtendUserPCR(username string) error {
	digest := sha256.Sum256([]byte(username))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpm == nil {
		return notReady()
	}
	_, err := tpm2.PCRExtend{
		PCRHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMHandle(f.userPCR),
			Auth:   tpm2.PasswordAuth(nil),
		},
		Digests: tpm2.TPMLDigestValues{
			Digests: []tpm2.TPMTHA{
				{
					HashAlg: tpm2.TPMAlgSHA256,
					Digest:  digest[:],
				},
			},
		},
	}.Execute(f.tpm)
	if err != nil {
		return translate(err, "extend user pcr")
	}
	return nil
}

// create must be called with f.mu held.
func (f *Frontend) create(template tpm2.TPMTPublic, secret []byte) (pub, priv []byte, err error) {
	resp, err := tpm2.Create{
		ParentHandle: f.srk.authHandle(),
		InPublic:     tpm2.New2B(template),
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(
					&tpm2.TPM2BSensitiveData{
						Buffer: secret,
					},
				),
			},
		},
	}.Execute(f.tpm)
	if err != nil {
		return nil, nil, translate(err, "create sealed object")
	}
	return tpm2.Marshal(resp.OutPublic), tpm2.Marshal(resp.OutPrivate), nil
}

// load must be called with f.mu held.
func (f *Frontend) load(blob *sealedBlob) (*loadedObject, error) {
	pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](blob.Public)
	if err != nil {
		return nil, hwsec.Errorf(hwsec.CodeInvalidArgument, hwsec.RetryNone, "sealed public area: %v", err)
	}
	priv, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](blob.Private)
	if err != nil {
		return nil, hwsec.Errorf(hwsec.CodeInvalidArgument, hwsec.RetryNone, "sealed private area: %v", err)
	}
	resp, err := tpm2.Load{
		ParentHandle: f.srk.authHandle(),
		InPublic:     *pub,
		InPrivate:    *priv,
	}.Execute(f.tpm)
	if err != nil {
		return nil, translate(err, "load sealed object")
	}
	return &loadedObject{f: f, handle: resp.ObjectHandle, name: resp.Name, blob: blob}, nil
}

// unsealPolicy must be called with f.mu held.
func (f *Frontend) unsealPolicy(obj *loadedObject) ([]byte, error) {
	if f.tpm == nil {
		return nil, notReady()
	}
	pcr, err := f.readUserPCR()
	if err != nil {
		return nil, err
	}
	session, closer, err := tpm2.PolicySession(f.tpm, tpm2.TPMAlgSHA256, 16)
	if err != nil {
		return nil, translate(err, "start policy session")
	}
	defer func() {
		if err := closer(); err != nil {
			f.logger.Warn("failed to close policy session", "error", err)
		}
	}()
	if err := f.policyPCR(session, pcr); err != nil {
		return nil, err
	}
	resp, err := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: obj.handle,
			Name:   obj.name,
			Auth:   session,
		},
	}.Execute(f.tpm)
	if err != nil {
		return nil, translate(err, "unseal")
	}
	return resp.OutData.Buffer, nil
}

func (f *Frontend) pcrSelection() tpm2.TPMLPCRSelection {
	return tpm2.TPMLPCRSelection{
		PCRSelections: []tpm2.TPMSPCRSelection{{
			Hash:      tpm2.TPMAlgSHA256,
			PCRSelect: tpm2.PCClientCompatible.PCRs(f.userPCR),
		}},
	}
}

func (f *Frontend) readUserPCR() ([]byte, error) {
	resp, err := tpm2.PCRRead{
		PCRSelectionIn: f.pcrSelection(),
	}.Execute(f.tpm)
	if err != nil {
		return nil, translate(err, "read user pcr")
	}
	if len(resp.PCRValues.Digests) != 1 {
		return nil, hwsec.NewError(hwsec.CodeUnknown, hwsec.RetryNone, "user pcr not allocated")
	}
	return resp.PCRValues.Digests[0].Buffer, nil
}

func (f *Frontend) policyPCR(session tpm2.Session, pcr []byte) error {
	digest := sha256.Sum256(pcr)
	_, err := tpm2.PolicyPCR{
		PolicySession: session.Handle(),
		Pcrs:          f.pcrSelection(),
		PcrDigest:     tpm2.TPM2BDigest{Buffer: digest[:]},
	}.Execute(f.tpm)
	if err != nil {
		return translate(err, "policy pcr")
	}
	return nil
}

// pcrPolicyDigest computes the policy digest for pcr in a trial session.
func (f *Frontend) pcrPolicyDigest(pcr []byte) ([]byte, error) {
	trial, closer, err := tpm2.PolicySession(f.tpm, tpm2.TPMAlgSHA256, 16, tpm2.Trial())
	if err != nil {
		return nil, translate(err, "start trial session")
	}
	defer func() {
		if err := closer(); err != nil {
			f.logger.Warn("failed to close trial session", "error", err)
		}
	}()
	if err := f.policyPCR(trial, pcr); err != nil {
		return nil, err
	}
	resp, err := tpm2.PolicyGetDigest{
		PolicySession: trial.Handle(),
	}.Execute(f.tpm)
	if err != nil {
		return nil, translate(err, "policy digest")
	}
	return resp.PolicyDigest.Buffer, nil
}

func extend(pcr []byte, username string) []byte {
	digest := sha256.Sum256([]byte(username))
	h := sha256.New()
	h.Write(pcr)
	h.Write(digest[:])
	return h.Sum(nil)
}

func payloadAEAD(key, salt, authValue []byte) (cipher.AEAD, error) {
	r := hkdf.New(sha256.New, secure.Concat(key, authValue), salt, []byte("authblock tpm2 payload"))
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, err
	}
	defer secure.Zero(derived)
	return chacha20poly1305.NewX(derived)
}

func decodeSealed(sealed []byte) (*sealedBlob, error) {
	var blob sealedBlob
	if err := cbor.Unmarshal(sealed, &blob); err != nil {
		return nil, hwsec.Errorf(hwsec.CodeInvalidArgument, hwsec.RetryNone, "decode sealed blob: %v", err)
	}
	if len(blob.Public) == 0 || len(blob.Private) == 0 || len(blob.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, hwsec.NewError(hwsec.CodeInvalidArgument, hwsec.RetryNone, "malformed sealed blob")
	}
	return &blob, nil
}

func notReady() error {
	return hwsec.NewError(hwsec.CodeNotReady, hwsec.RetryLater, "tpm closed")
}

// translate maps TPM response codes onto hwsec codes.
func translate(err error, op string) error {
	switch {
	case errors.Is(err, tpm2.TPMRCPolicyFail), errors.Is(err, tpm2.TPMRCValue):
		return hwsec.Errorf(hwsec.CodePolicyMismatch, hwsec.RetryNone, "%s: %v", op, err)
	case errors.Is(err, tpm2.TPMRCAuthFail), errors.Is(err, tpm2.TPMRCBadAuth):
		return hwsec.Errorf(hwsec.CodeAuthFailed, hwsec.RetryNone, "%s: %v", op, err)
	case errors.Is(err, tpm2.TPMRCLockout):
		return hwsec.Errorf(hwsec.CodeDefendLock, hwsec.RetryLater, "%s: %v", op, err)
	case errors.Is(err, tpm2.TPMRCRetry), errors.Is(err, tpm2.TPMRCYielded), errors.Is(err, tpm2.TPMRCTesting):
		return hwsec.Errorf(hwsec.CodeComm, hwsec.RetryCommunication, "%s: %v", op, err)
	case errors.Is(err, tpm2.TPMRCInitialize), errors.Is(err, tpm2.TPMRCReboot):
		return hwsec.Errorf(hwsec.CodeReboot, hwsec.RetryReboot, "%s: %v", op, err)
	}
	var rc tpm2.TPMRC
	if errors.As(err, &rc) {
		return hwsec.Errorf(hwsec.CodeUnknown, hwsec.RetryNone, "%s: %v", op, err)
	}
	return hwsec.Errorf(hwsec.CodeComm, hwsec.RetryCommunication, "%s: %v", op, err)
}

var _ hwsec.CryptohomeFrontend = (*Frontend)(nil)
