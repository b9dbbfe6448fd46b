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
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-authblock/pkg/authfactor"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

const recordVersion = 1

// Storage layout below the manager's prefix:
//
//	users/<user>/meta            userRecord
//	users/<user>/factors/<label> record
const (
	usersDir   = "users"
	metaKey    = "meta"
	factorsDir = "factors"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validLabel(label string) error {
	if !namePattern.MatchString(label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

func validUser(username string) error {
	if !namePattern.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, username)
	}
	return nil
}

func validName(username, label string) error {
	if err := validUser(username); err != nil {
		return err
	}
	return validLabel(label)
}

// KeyData is the legacy descriptor stored next to a factor.
type KeyData struct {
	Label      string `cbor:"1,keyasint"`
	Type       string `cbor:"2,keyasint,omitempty"`
	LowEntropy bool   `cbor:"3,keyasint,omitempty"`
}

type metadataRecord struct {
	ChromeOSVersion string                   `cbor:"1,keyasint,omitempty"`
	ChromeVersion   string                   `cbor:"2,keyasint,omitempty"`
	LockoutPolicy   authfactor.LockoutPolicy `cbor:"3,keyasint,omitempty"`
	PublicKeySPKI   []byte                   `cbor:"4,keyasint,omitempty"`
	MediatorPubKey  []byte                   `cbor:"5,keyasint,omitempty"`
	WasMigrated     bool                     `cbor:"6,keyasint,omitempty"`
}

// record is one persisted factor.
type record struct {
	Version         uint8           `cbor:"1,keyasint"`
	Label           string          `cbor:"2,keyasint"`
	FactorType      authfactor.Type `cbor:"3,keyasint"`
	State           []byte          `cbor:"4,keyasint"`
	WrappedVaultKey []byte          `cbor:"5,keyasint"`
	KeyData         *KeyData        `cbor:"6,keyasint,omitempty"`
	Metadata        metadataRecord  `cbor:"7,keyasint"`
	ResetSalt       []byte          `cbor:"8,keyasint,omitempty"`
	CreatedAt       int64           `cbor:"9,keyasint"`
}

// userRecord holds what the factors of a user share.
type userRecord struct {
	WrappedResetSeed     []byte `cbor:"1,keyasint,omitempty"`
	RateLimiterLabel     uint64 `cbor:"2,keyasint,omitempty"`
	RateLimiterResetSalt []byte `cbor:"3,keyasint,omitempty"`
}

func toMetadataRecord(md authfactor.Metadata) metadataRecord {
	r := metadataRecord{
		ChromeOSVersion: md.Common.ChromeOSVersionLastUpdated,
		ChromeVersion:   md.Common.ChromeVersionLastUpdated,
		LockoutPolicy:   md.Common.LockoutPolicy,
	}
	switch t := md.Typed.(type) {
	case authfactor.SmartCardMetadata:
		r.PublicKeySPKI = t.PublicKeySPKI
	case authfactor.CryptohomeRecoveryMetadata:
		r.MediatorPubKey = t.MediatorPubKey
	case authfactor.FingerprintMetadata:
		r.WasMigrated = t.WasMigrated
	}
	return r
}

func (r metadataRecord) metadata(t authfactor.Type) authfactor.Metadata {
	md := authfactor.Metadata{
		Common: authfactor.CommonMetadata{
			ChromeOSVersionLastUpdated: r.ChromeOSVersion,
			ChromeVersionLastUpdated:   r.ChromeVersion,
			LockoutPolicy:              r.LockoutPolicy,
		},
	}
	switch t {
	case authfactor.TypePassword:
		md.Typed = authfactor.PasswordMetadata{}
	case authfactor.TypePin:
		md.Typed = authfactor.PinMetadata{}
	case authfactor.TypeKiosk:
		md.Typed = authfactor.KioskMetadata{}
	case authfactor.TypeSmartCard:
		md.Typed = authfactor.SmartCardMetadata{PublicKeySPKI: r.PublicKeySPKI}
	case authfactor.TypeCryptohomeRecovery:
		md.Typed = authfactor.CryptohomeRecoveryMetadata{MediatorPubKey: r.MediatorPubKey}
	case authfactor.TypeLegacyFingerprint:
		md.Typed = authfactor.LegacyFingerprintMetadata{}
	case authfactor.TypeFingerprint:
		md.Typed = authfactor.FingerprintMetadata{WasMigrated: r.WasMigrated}
	}
	return md
}

// store reads and writes records of one backend.
type store struct {
	backend storage.Backend
}

func userDir(username string) string {
	return usersDir + "/" + username
}

func recordKey(username, label string) string {
	return userDir(username) + "/" + factorsDir + "/" + label
}

func userKey(username string) string {
	return userDir(username) + "/" + metaKey
}

func (s *store) put(key string, v any) error {
	b, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	return s.backend.Put(key, b, storage.DefaultOptions())
}

func (s *store) getRecord(username, label string) (*record, error) {
	b, err := s.backend.Get(recordKey(username, label))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrFactorNotFound, username, label)
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := cbor.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrCorruptRecord, username, label, err)
	}
	if r.Version != recordVersion || r.Label != label {
		return nil, fmt.Errorf("%w: %s/%s: version %d label %q", ErrCorruptRecord, username, label, r.Version, r.Label)
	}
	return &r, nil
}

func (s *store) putRecord(username string, r *record) error {
	return s.put(recordKey(username, r.Label), r)
}

func (s *store) deleteRecord(username, label string) error {
	return s.backend.Delete(recordKey(username, label))
}

// records returns the factors of username sorted by label.
func (s *store) records(username string) ([]*record, error) {
	labels, err := storage.ListIDs(s.backend, userDir(username)+"/"+factorsDir, "")
	if err != nil {
		return nil, err
	}
	slices.Sort(labels)
	out := make([]*record, 0, len(labels))
	for _, label := range labels {
		r, err := s.getRecord(username, label)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *store) getUser(username string) (*userRecord, error) {
	b, err := s.backend.Get(userKey(username))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	var u userRecord
	if err := cbor.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, username, err)
	}
	return &u, nil
}

func (s *store) putUser(username string, u *userRecord) error {
	return s.put(userKey(username), u)
}

func (s *store) deleteUser(username string) error {
	err := s.backend.Delete(userKey(username))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
