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

// Package status implements the error chain returned by every auth-block
// operation.
//
// Each link of the chain carries a unique Location, a set of recommended
// Actions, an optional Kind and an optional family Code (LECredError,
// CryptoError, ...). Links wrap the error produced by the layer below, so the
// full chain is available through errors.Is, errors.As and the helpers in this
// package:
//
//	err := status.New(locCheckFailed).
//		WithActions(status.ActionAuth).
//		WithCode(status.LECredErrorInvalidSecret).
//		Wrap(frontendErr)
//
//	if status.ContainsAction(err, status.ActionLeLockedOut) {
//		...
//	}
package status

import (
	"fmt"
	"sync"
)

// Location identifies the place in the code that produced a link of a
// status chain. IDs are unique across the process.
type Location struct {
	ID   int
	Name string
}

var (
	locationsMu sync.Mutex
	locations   = make(map[int]string)
)

// NewLocation registers a location. It panics if id was already registered,
// so collisions surface at package initialization.
func NewLocation(id int, name string) Location {
	locationsMu.Lock()
	defer locationsMu.Unlock()
	if prev, ok := locations[id]; ok {
		panic(fmt.Sprintf("status: location %d registered twice (%s, %s)", id, prev, name))
	}
	locations[id] = name
	return Location{ID: id, Name: name}
}

// String implements fmt.Stringer.
func (l Location) String() string {
	return fmt.Sprintf("%s(%d)", l.Name, l.ID)
}
