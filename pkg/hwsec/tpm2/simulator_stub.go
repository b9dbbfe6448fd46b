//go:build !tpm_simulator

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

package tpm2

import "errors"

var ErrSimulatorNotAvailable = errors.New("tpm2: simulator support not compiled (build with -tags tpm_simulator)")

func OpenSimulator(opts ...Option) (*Frontend, error) {
	return nil, ErrSimulatorNotAvailable
}
