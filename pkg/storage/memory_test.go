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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutAndGet(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	value := []byte("leaf")
	require.NoError(t, backend.Put("leaves/1", value, nil))

	// Mutating the caller's slice must not change the stored copy
	value[0] = 'X'

	got, err := backend.Get("leaves/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("leaf"), got)

	got[0] = 'Y'
	again, err := backend.Get("leaves/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("leaf"), again)
}

func TestMemoryBackend_NotFound(t *testing.T) {
	backend := NewMemory()

	_, err := backend.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, backend.Delete("missing"), ErrNotFound)

	ok, err := backend.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_EmptyKey(t *testing.T) {
	backend := NewMemory()
	assert.ErrorIs(t, backend.Put("", []byte("x"), nil), ErrInvalidKey)
}

func TestMemoryBackend_ListSorted(t *testing.T) {
	backend := NewMemory()
	for _, k := range []string{"users/b", "users/a", "leaves/1"} {
		require.NoError(t, backend.Put(k, []byte("v"), DefaultOptions()))
	}

	keys, err := backend.List("users/")
	require.NoError(t, err)
	assert.Equal(t, []string{"users/a", "users/b"}, keys)

	all, err := backend.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryBackend_Closed(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	_, err := backend.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, backend.Put("k", nil, nil), ErrClosed)
	_, err = backend.List("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = backend.Exists("k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPrefixed(t *testing.T) {
	backend := NewMemory()
	leaves := NewPrefixed(backend, "pinweaver")
	records := NewPrefixed(backend, "keysets/")

	require.NoError(t, leaves.Put("leaves/1", []byte("a"), nil))
	require.NoError(t, records.Put("u1/password.factor", []byte("b"), nil))

	ok, err := backend.Exists("pinweaver/leaves/1")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := leaves.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"leaves/1"}, keys)

	_, err = records.Get("leaves/1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, leaves.Delete("leaves/1"))
	assert.ErrorIs(t, leaves.Put("", nil, nil), ErrInvalidKey)
	assert.NoError(t, leaves.Close())
}

func TestListIDs(t *testing.T) {
	backend := NewMemory()
	for _, k := range []string{
		"u1/password.factor",
		"u1/pin.factor",
		"u1/user.meta",
		"u1/nested/x.factor",
		"u2/other.factor",
	} {
		require.NoError(t, backend.Put(k, []byte("v"), nil))
	}

	ids, err := ListIDs(backend, "u1", ".factor")
	require.NoError(t, err)
	assert.Equal(t, []string{"password", "pin"}, ids)
}

func TestMemoryBackend_WipesValues(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Put("leaves/1", []byte("secret-1"), nil))
	require.NoError(t, backend.Put("leaves/2", []byte("secret-2"), nil))
	require.NoError(t, backend.Put("leaves/3", []byte("secret-3"), nil))
	assert.Equal(t, 3, backend.Len())

	overwritten := backend.data["leaves/1"]
	require.NoError(t, backend.Put("leaves/1", []byte("replaced"), nil))
	assert.Equal(t, make([]byte, 8), overwritten)

	deleted := backend.data["leaves/2"]
	require.NoError(t, backend.Delete("leaves/2"))
	assert.Equal(t, make([]byte, 8), deleted)
	assert.Equal(t, 2, backend.Len())

	kept := backend.data["leaves/3"]
	require.NoError(t, backend.Close())
	assert.Equal(t, make([]byte, 8), kept)
}
