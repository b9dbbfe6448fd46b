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

package authfactor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireFactor is the form of a factor handed to clients. It never carries
// auth block state.
type WireFactor struct {
	Type        string                   `cbor:"1,keyasint" json:"type"`
	Label       string                   `cbor:"2,keyasint" json:"label"`
	Common      WireCommonMetadata       `cbor:"3,keyasint" json:"common_metadata"`
	SmartCard   *WireSmartCardMetadata   `cbor:"4,keyasint,omitempty" json:"smart_card_metadata,omitempty"`
	Recovery    *WireRecoveryMetadata    `cbor:"5,keyasint,omitempty" json:"cryptohome_recovery_metadata,omitempty"`
	Fingerprint *WireFingerprintMetadata `cbor:"6,keyasint,omitempty" json:"fingerprint_metadata,omitempty"`
}

type WireCommonMetadata struct {
	ChromeOSVersionLastUpdated string `cbor:"1,keyasint,omitempty" json:"chromeos_version_last_updated,omitempty"`
	ChromeVersionLastUpdated   string `cbor:"2,keyasint,omitempty" json:"chrome_version_last_updated,omitempty"`
	LockoutPolicy              string `cbor:"3,keyasint" json:"lockout_policy"`
}

type WireSmartCardMetadata struct {
	PublicKeySPKI []byte `cbor:"1,keyasint" json:"public_key_spki_der"`
}

type WireRecoveryMetadata struct {
	MediatorPubKey []byte `cbor:"1,keyasint,omitempty" json:"mediator_pub_key,omitempty"`
}

type WireFingerprintMetadata struct {
	WasMigrated bool `cbor:"1,keyasint" json:"was_migrated"`
}

func toWire(f *Factor) WireFactor {
	w := WireFactor{
		Type:  f.Type.String(),
		Label: f.Label,
		Common: WireCommonMetadata{
			ChromeOSVersionLastUpdated: f.Metadata.Common.ChromeOSVersionLastUpdated,
			ChromeVersionLastUpdated:   f.Metadata.Common.ChromeVersionLastUpdated,
			LockoutPolicy:              f.Metadata.Common.LockoutPolicy.String(),
		},
	}
	switch md := f.Metadata.Typed.(type) {
	case SmartCardMetadata:
		w.SmartCard = &WireSmartCardMetadata{PublicKeySPKI: md.PublicKeySPKI}
	case CryptohomeRecoveryMetadata:
		w.Recovery = &WireRecoveryMetadata{MediatorPubKey: md.MediatorPubKey}
	case FingerprintMetadata:
		w.Fingerprint = &WireFingerprintMetadata{WasMigrated: md.WasMigrated}
	}
	return w
}

// MarshalWire encodes w as CBOR.
func MarshalWire(w WireFactor) ([]byte, error) {
	return cbor.Marshal(w)
}

// UnmarshalWire decodes a factor produced by MarshalWire.
func UnmarshalWire(b []byte) (WireFactor, error) {
	var w WireFactor
	if err := cbor.Unmarshal(b, &w); err != nil {
		return WireFactor{}, fmt.Errorf("%w: %v", ErrWireDecode, err)
	}
	if _, err := ParseType(w.Type); err != nil {
		return WireFactor{}, fmt.Errorf("%w: %v", ErrWireDecode, err)
	}
	return w, nil
}
