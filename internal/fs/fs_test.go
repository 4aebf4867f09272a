package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "sub", "db")

	require.NoError(t, WriteFileAtomic(Default, name, []byte("v1")))
	require.NoError(t, WriteFileAtomic(Default, name, []byte("v2")))

	data, err := ReadFile(Default, name)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.False(t, Exists(Default, name+".tmp"))
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "x")

	require.NoError(t, RemoveIfExists(Default, name))
	require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	require.NoError(t, RemoveIfExists(Default, name))
	assert.False(t, Exists(Default, name))
}

func TestFaultyFS(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)

	t.Run("FailAfterBytes", func(t *testing.T) {
		ffs.AddRule("limited", Fault{FailAfterBytes: 4})
		f, err := ffs.OpenFile(filepath.Join(dir, "limited"), os.O_CREATE|os.O_RDWR, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("abc"))
		require.NoError(t, err)
		_, err = f.Write([]byte("de"))
		assert.ErrorIs(t, err, ErrInjected)
	})

	t.Run("FailOnSync", func(t *testing.T) {
		ffs.AddRule("nosync", Fault{FailAfterBytes: -1, FailOnSync: true})
		err := WriteFileAtomic(ffs, filepath.Join(dir, "nosync"), []byte("x"))
		assert.ErrorIs(t, err, ErrInjected)
		assert.False(t, Exists(ffs, filepath.Join(dir, "nosync")))
	})

	t.Run("FailOnRemove", func(t *testing.T) {
		name := filepath.Join(dir, "keep")
		require.NoError(t, os.WriteFile(name, nil, 0o644))
		ffs.AddRule("keep", Fault{FailAfterBytes: -1, FailOnRemove: true})
		assert.ErrorIs(t, ffs.Remove(name), ErrInjected)
		assert.True(t, Exists(ffs, name))

		ffs.ClearRules()
		assert.NoError(t, ffs.Remove(name))
	})
}
