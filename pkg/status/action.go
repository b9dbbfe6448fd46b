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

package status

import (
	"strings"
)

// Action is a recommendation attached to an error for the caller or the
// user.
type Action uint32

const (
	// ActionDevCheckUnexpectedState marks a caller bug. Never retried.
	ActionDevCheckUnexpectedState Action = 1 << iota
	// ActionRetry means the operation may succeed if repeated.
	ActionRetry
	// ActionReboot recommends a reboot to recover the hardware.
	ActionReboot
	// ActionAuth means the supplied credential was wrong.
	ActionAuth
	// ActionLeLockedOut means the low-entropy credential is locked out.
	ActionLeLockedOut
	// ActionPowerwash recommends resetting the device.
	ActionPowerwash
	// ActionDeleteVault recommends recreating the user vault.
	ActionDeleteVault
	// ActionFatal marks an unrecoverable error.
	ActionFatal
	// ActionDevBypass means a developer-mode bypass applies.
	ActionDevBypass
	// ActionCleanupOrphanedHardware means a hardware resource was created
	// but is not referenced by any persisted record.
	ActionCleanupOrphanedHardware
)

var actionNames = map[Action]string{
	ActionDevCheckUnexpectedState: "DevCheckUnexpectedState",
	ActionRetry:                   "Retry",
	ActionReboot:                  "Reboot",
	ActionAuth:                    "Auth",
	ActionLeLockedOut:             "LeLockedOut",
	ActionPowerwash:               "Powerwash",
	ActionDeleteVault:             "DeleteVault",
	ActionFatal:                   "Fatal",
	ActionDevBypass:               "DevBypass",
	ActionCleanupOrphanedHardware: "CleanupOrphanedHardware",
}

// String implements fmt.Stringer.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "Unknown"
}

// ActionSet is a set of actions.
type ActionSet uint32

// NewActionSet builds a set from the given actions.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s |= ActionSet(a)
	}
	return s
}

// Has reports whether a is in the set.
func (s ActionSet) Has(a Action) bool {
	return s&ActionSet(a) != 0
}

// Union returns the union of both sets.
func (s ActionSet) Union(o ActionSet) ActionSet {
	return s | o
}

// Empty reports whether the set has no actions.
func (s ActionSet) Empty() bool {
	return s == 0
}

// Actions lists the members in bit order.
func (s ActionSet) Actions() []Action {
	var out []Action
	for bit := Action(1); bit != 0 && bit <= ActionCleanupOrphanedHardware; bit <<= 1 {
		if s.Has(bit) {
			out = append(out, bit)
		}
	}
	return out
}

// String implements fmt.Stringer.
func (s ActionSet) String() string {
	actions := s.Actions()
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}
