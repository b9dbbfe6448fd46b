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

package storage

import (
	"strings"
)

// Prefixed scopes a backend to keys under prefix. It lets the leaf store and
// the factor records share one backend without colliding.
type Prefixed struct {
	backend Backend
	prefix  string
}

// NewPrefixed returns a view of backend rooted at prefix. A trailing "/" is
// added when missing.
func NewPrefixed(backend Backend, prefix string) *Prefixed {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Prefixed{backend: backend, prefix: prefix}
}

func (p *Prefixed) Get(key string) ([]byte, error) {
	return p.backend.Get(p.prefix + key)
}

func (p *Prefixed) Put(key string, value []byte, opts *Options) error {
	if key == "" {
		return ErrInvalidKey
	}
	return p.backend.Put(p.prefix+key, value, opts)
}

func (p *Prefixed) Delete(key string) error {
	return p.backend.Delete(p.prefix + key)
}

// List returns matching keys with the view prefix stripped.
func (p *Prefixed) List(prefix string) ([]string, error) {
	keys, err := p.backend.List(p.prefix + prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix))
	}
	return out, nil
}

func (p *Prefixed) Exists(key string) (bool, error) {
	return p.backend.Exists(p.prefix + key)
}

// Close is a no-op. The underlying backend is owned by the caller.
func (p *Prefixed) Close() error {
	return nil
}

// ListIDs lists the keys under dir, strips dir and suffix and returns the
// remaining IDs. Nested keys are skipped.
func ListIDs(backend Backend, dir, suffix string) ([]string, error) {
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	keys, err := backend.List(dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, dir)
		if !strings.HasSuffix(id, suffix) {
			continue
		}
		id = strings.TrimSuffix(id, suffix)
		if id != "" && !strings.Contains(id, "/") {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
