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

package file

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authblock/pkg/storage"
)

func newMemFileStorage(t *testing.T) (*FileStorage, afero.Fs) {
	t.Helper()
	afs := afero.NewMemMapFs()
	store, err := NewWithFs(afs, "/var/lib/authblock")
	require.NoError(t, err)
	return store, afs
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := NewWithFs(afero.NewMemMapFs(), "")
	assert.Error(t, err)
}

func TestFileStorage_PutGetDelete(t *testing.T) {
	store, afs := newMemFileStorage(t)

	require.NoError(t, store.Put("u1/password.factor", []byte("record"), nil))

	got, err := store.Get("u1/password.factor")
	require.NoError(t, err)
	assert.Equal(t, []byte("record"), got)

	// No temporary file survives a successful write
	exists, err := afero.Exists(afs, "/var/lib/authblock/u1/password.factor.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err := store.Exists("u1/password.factor")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete("u1/password.factor"))
	_, err = store.Get("u1/password.factor")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete("u1/password.factor"), storage.ErrNotFound)
}

func TestFileStorage_Overwrite(t *testing.T) {
	store, _ := newMemFileStorage(t)
	require.NoError(t, store.Put("leaves/3", []byte("v1"), nil))
	require.NoError(t, store.Put("leaves/3", []byte("v2"), storage.DefaultOptions()))

	got, err := store.Get("leaves/3")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestFileStorage_List(t *testing.T) {
	store, afs := newMemFileStorage(t)
	for _, k := range []string{"leaves/2", "leaves/1", "root"} {
		require.NoError(t, store.Put(k, []byte("x"), nil))
	}
	// Stray temporary files from an interrupted write are ignored
	require.NoError(t, afero.WriteFile(afs, "/var/lib/authblock/leaves/9.tmp", []byte("x"), 0600))

	keys, err := store.List("leaves/")
	require.NoError(t, err)
	assert.Equal(t, []string{"leaves/1", "leaves/2"}, keys)

	all, err := store.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"leaves/1", "leaves/2", "root"}, all)
}

func TestFileStorage_InvalidKeys(t *testing.T) {
	store, _ := newMemFileStorage(t)
	for _, key := range []string{"", "../escape", "a/../../b", "/abs", "nul\x00", "x.tmp"} {
		t.Run(key, func(t *testing.T) {
			err := store.Put(key, []byte("x"), nil)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
			_, err = store.Get(key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
		})
	}
}

func TestFileStorage_ReadOnlyFs(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/ro", 0700))
	_, err := NewWithFs(afero.NewReadOnlyFs(base), "/ro")
	assert.Error(t, err)
}
